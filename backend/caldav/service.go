package caldav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/emersion/go-webdav"
	"go.opentelemetry.io/otel/attribute"

	"caldavtasks/backend"
	"caldavtasks/internal/notification"
	"caldavtasks/internal/tracing"
	"caldavtasks/internal/utils"
)

// Notifier receives user-facing notifications about failed requests.
type Notifier interface {
	Send(n notification.Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Send(notification.Notification) error { return nil }

// Service implements the host-facing task operations on top of a CalDAV server.
// It owns its connection cache; every method returns failures as *HandledError.
type Service struct {
	dial     Dialer
	cache    *Cache
	notifier Notifier
	logger   *utils.Logger
	product  string
}

// Option configures a Service
type Option func(*Service)

// WithDialer sets the transport used to reach the server
func WithDialer(d Dialer) Option {
	return func(s *Service) {
		s.dial = d
	}
}

// WithHTTPClient uses the go-webdav transport over the given base client
func WithHTTPClient(c webdav.HTTPClient) Option {
	return func(s *Service) {
		s.dial = DialWebDAV(c)
	}
}

// WithCache sets the connection cache, e.g. to share it between services
func WithCache(c *Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithNotifier sets the sink for user-facing error notifications
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLogger sets the logger
func WithLogger(l *utils.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithProductName sets the X-Requested-With header value
func WithProductName(name string) Option {
	return func(s *Service) {
		s.product = name
	}
}

// NewService creates a Service. Without options it talks to servers through
// go-webdav over http.DefaultClient and drops notifications.
func NewService(opts ...Option) *Service {
	s := &Service{
		dial:     DialWebDAV(nil),
		cache:    NewCache(),
		notifier: nopNotifier{},
		logger:   utils.GetLogger(),
		product:  DefaultProductName,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache.logger = s.logger
	return s
}

// Reset forgets every cached connection and calendar
func (s *Service) Reset() {
	s.cache.Reset()
}

// GetOpenTasks returns the tasks of the configured calendar that have no COMPLETED property
func (s *Service) GetOpenTasks(ctx context.Context, cfg Config) (_ []backend.Task, err error) {
	ctx, span := tracing.StartSpan(ctx, "caldav.get_open_tasks", spanAttrs(cfg)...)
	defer func() { tracing.End(span, err) }()

	tasks, err := s.tasks(ctx, cfg, true)
	if err != nil {
		return nil, handle(err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrResults, len(tasks)))
	return tasks, nil
}

// SearchOpenTasks returns open tasks whose summary contains text (case-sensitive)
func (s *Service) SearchOpenTasks(ctx context.Context, text string, cfg Config) (_ []backend.SearchResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "caldav.search_open_tasks", spanAttrs(cfg)...)
	defer func() { tracing.End(span, err) }()

	tasks, err := s.tasks(ctx, cfg, true)
	if err != nil {
		return nil, handle(err)
	}

	results := []backend.SearchResult{}
	for _, t := range tasks {
		if strings.Contains(t.Summary, text) {
			results = append(results, backend.NewSearchResult(t))
		}
	}
	span.SetAttributes(attribute.Int(tracing.AttrResults, len(results)))
	return results, nil
}

// GetByID returns the task with the given UID. Numeric ids are formatted in decimal.
func (s *Service) GetByID(ctx context.Context, id any, cfg Config) (_ *backend.Task, err error) {
	ctx, span := tracing.StartSpan(ctx, "caldav.get_by_id", spanAttrs(cfg)...)
	defer func() { tracing.End(span, err) }()

	uid, err := FormatID(id)
	if err != nil {
		return nil, handle(err)
	}
	span.SetAttributes(attribute.String(tracing.AttrTaskID, uid))

	conn, cal, err := s.calendar(ctx, cfg)
	if err != nil {
		return nil, handle(err)
	}

	objs, err := conn.Conn().QueryCalendar(ctx, cal, NewCalendarQuery(FindByUIDFilter(uid)))
	if err != nil {
		return nil, handle(s.notify(networkError("query", err)))
	}
	if len(objs) == 0 {
		return nil, handle(s.notify(fmt.Errorf("%w: %s", ErrIssueNotFound, uid)))
	}

	task, err := MapTask(objs[0])
	if err != nil {
		return nil, handle(err)
	}
	return &task, nil
}

// GetByIDs returns every task, open or not, whose UID is in ids
func (s *Service) GetByIDs(ctx context.Context, ids []string, cfg Config) (_ []backend.Task, err error) {
	ctx, span := tracing.StartSpan(ctx, "caldav.get_by_ids", spanAttrs(cfg)...)
	defer func() { tracing.End(span, err) }()

	tasks, err := s.tasks(ctx, cfg, false)
	if err != nil {
		return nil, handle(err)
	}
	found := backend.FilterByIDs(tasks, ids)
	span.SetAttributes(attribute.Int(tracing.AttrResults, len(found)))
	return found, nil
}

// spanAttrs never includes credentials
func spanAttrs(cfg Config) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(tracing.AttrServer, cfg.ServerURL),
		attribute.String(tracing.AttrCalendar, cfg.CalendarName),
	}
}

func (s *Service) tasks(ctx context.Context, cfg Config, filterOpen bool) ([]backend.Task, error) {
	conn, cal, err := s.calendar(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objs, err := conn.Conn().QueryCalendar(ctx, cal, NewCalendarQuery(OpenTodosFilter(filterOpen)))
	if err != nil {
		return nil, s.notify(networkError("query", err))
	}
	s.logger.Debug("caldav: %d todos in %s (open only: %v)", len(objs), cal.URL, filterOpen)

	return MapTasks(objs)
}

func (s *Service) calendar(ctx context.Context, cfg Config) (*Connection, Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, Calendar{}, err
	}

	decorate := CredentialDecorator(s.product, cfg.Username, cfg.Password)
	conn, err := s.cache.Connection(ctx, cfg, s.dial, decorate)
	if err != nil {
		return nil, Calendar{}, s.notify(err)
	}

	cal, err := conn.Calendar(ctx, cfg.CalendarName)
	if err != nil {
		return nil, Calendar{}, s.notify(err)
	}
	return conn, cal, nil
}

// notify sends the user notification matching err's kind and marks err as notified.
// Cancelled requests are not reported to the user.
func (s *Service) notify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var typ notification.NotificationType
	var title string
	switch {
	case errors.Is(err, ErrNetwork):
		typ, title = notification.NotifyNetworkError, "CalDAV network error"
	case errors.Is(err, ErrCalendarNotFound):
		typ, title = notification.NotifyCalendarNotFound, "CalDAV calendar not found"
	case errors.Is(err, ErrIssueNotFound):
		typ, title = notification.NotifyIssueNotFound, "CalDAV task not found"
	default:
		return err
	}

	n := notification.New(typ, notification.SeverityError, title, err.Error())
	if sendErr := s.notifier.Send(n); sendErr != nil {
		s.logger.Warn("failed to send notification: %v", sendErr)
	}
	return &notifiedError{err: err}
}

// FormatID turns a host-supplied task id into the UID string used on the server.
// Integers and whole floats are written in decimal; fractional floats are rejected.
func FormatID(id any) (string, error) {
	switch v := id.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported task id type %T", id)
	}
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("invalid task id %v", f)
	}
	if f != math.Trunc(f) {
		return "", fmt.Errorf("task id %v is not a whole number", f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
