package caldav_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/emersion/go-ical"
	dav "github.com/emersion/go-webdav/caldav"

	"caldavtasks/backend/caldav"
	"caldavtasks/internal/testutil"
)

// =============================================================================
// Fake CalDAV transport
// =============================================================================

type fakeTodo struct {
	uid       string
	completed bool
	data      string
}

// fakeServer counts every transport call so tests can assert on round-trips.
type fakeServer struct {
	mu         sync.Mutex
	calendars  []caldav.Calendar
	todos      map[string][]fakeTodo // calendar URL -> todos
	dials      int
	connects   int
	finds      int
	queries    int
	lastQuery  *dav.CalendarQuery
	decorators []caldav.RequestDecorator

	connectErr error
	findErr    error
	queryErr   error
	gate       chan struct{} // when set, Connect blocks until it is closed
	findGate   chan struct{} // when set, FindCalendars blocks until it is closed
}

func newFakeServer() *fakeServer {
	return &fakeServer{todos: make(map[string][]fakeTodo)}
}

func (f *fakeServer) addCalendar(url, displayName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calendars = append(f.calendars, caldav.Calendar{URL: url, DisplayName: displayName})
}

func (f *fakeServer) addTodo(calURL, uid, summary string, completed bool, extra ...string) {
	if completed {
		extra = append(extra, "COMPLETED:20230102T000000Z")
	}
	f.addRaw(calURL, fakeTodo{uid: uid, completed: completed, data: testutil.TaskICS(uid, summary, extra...)})
}

func (f *fakeServer) addRaw(calURL string, todo fakeTodo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.todos[calURL] = append(f.todos[calURL], todo)
}

func (f *fakeServer) counts() (dials, connects, finds, queries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials, f.connects, f.finds, f.queries
}

func (f *fakeServer) Dial(cfg caldav.Config, decorate caldav.RequestDecorator) (caldav.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	f.decorators = append(f.decorators, decorate)
	return &fakeConn{srv: f}, nil
}

type fakeConn struct {
	srv *fakeServer
}

func (c *fakeConn) Connect(ctx context.Context) error {
	if c.srv.gate != nil {
		<-c.srv.gate
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.connects++
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.srv.connectErr
}

func (c *fakeConn) FindCalendars(ctx context.Context) ([]caldav.Calendar, error) {
	if c.srv.findGate != nil {
		<-c.srv.findGate
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.finds++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.srv.findErr != nil {
		return nil, c.srv.findErr
	}
	return append([]caldav.Calendar(nil), c.srv.calendars...), nil
}

// QueryCalendar evaluates the COMPLETED is-not-defined and UID text-match
// filters the way a server would.
func (c *fakeConn) QueryCalendar(ctx context.Context, cal caldav.Calendar, query *dav.CalendarQuery) ([]caldav.Object, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.queries++
	c.srv.lastQuery = query
	if c.srv.queryErr != nil {
		return nil, c.srv.queryErr
	}

	var openOnly bool
	var uid *string
	for _, todoFilter := range query.CompFilter.Comps {
		for _, pf := range todoFilter.Props {
			switch {
			case pf.Name == "COMPLETED" && pf.IsNotDefined:
				openOnly = true
			case pf.Name == "UID" && pf.TextMatch != nil:
				uid = &pf.TextMatch.Text
			}
		}
	}

	var objs []caldav.Object
	for _, todo := range c.srv.todos[cal.URL] {
		if openOnly && todo.completed {
			continue
		}
		if uid != nil && todo.uid != *uid {
			continue
		}
		url := cal.URL + todo.uid + ".ics"
		data, err := ical.NewDecoder(strings.NewReader(todo.data)).Decode()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", url, err)
		}
		objs = append(objs, caldav.Object{URL: url, Data: data})
	}
	return objs, nil
}
