package notification

import "sync"

// Recorder is an in-memory channel that keeps every notification it receives.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records n
func (r *Recorder) Send(n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Name identifies the recorder in manager listings
func (r *Recorder) Name() string {
	return "recorder"
}

// Close implements NotificationChannel
func (r *Recorder) Close() error {
	return nil
}

// Sent returns a copy of the recorded notifications in send order
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
