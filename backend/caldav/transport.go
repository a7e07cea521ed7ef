package caldav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// Calendar is a calendar collection found in the user's calendar home.
// URL is the server-assigned href; DisplayName may be empty.
type Calendar struct {
	URL         string
	DisplayName string
}

// Object is a calendar resource returned by a calendar-query: its resource URL
// and the iCalendar payload as decoded by the transport. Data is not
// validated; checking it is left to MapTask.
type Object struct {
	URL  string
	Data *ical.Calendar
}

// Conn is an authenticated session with a CalDAV server.
type Conn interface {
	// Connect performs the CalDAV capability handshake.
	Connect(ctx context.Context) error
	// FindCalendars enumerates the calendars of the first calendar home.
	FindCalendars(ctx context.Context) ([]Calendar, error)
	// QueryCalendar runs a calendar-query REPORT against cal.
	QueryCalendar(ctx context.Context, cal Calendar, query *caldav.CalendarQuery) ([]Object, error)
}

// Dialer constructs a Conn whose every outgoing request passes through decorate.
type Dialer func(cfg Config, decorate RequestDecorator) (Conn, error)

// RequestDecorator is invoked on each outgoing request before it is sent.
type RequestDecorator func(req *http.Request)

// CredentialDecorator identifies the client and authenticates with HTTP Basic auth.
func CredentialDecorator(product, username, password string) RequestDecorator {
	return func(req *http.Request) {
		req.Header.Set("X-Requested-With", product)
		req.SetBasicAuth(username, password)
	}
}

// decoratedClient applies a RequestDecorator in front of a base HTTP client.
type decoratedClient struct {
	base     webdav.HTTPClient
	decorate RequestDecorator
}

// NewDecoratedClient wraps base so that decorate runs on a clone of every request.
func NewDecoratedClient(base webdav.HTTPClient, decorate RequestDecorator) webdav.HTTPClient {
	if base == nil {
		base = http.DefaultClient
	}
	return &decoratedClient{base: base, decorate: decorate}
}

// Do implements webdav.HTTPClient
func (c *decoratedClient) Do(req *http.Request) (*http.Response, error) {
	if c.decorate != nil {
		req = req.Clone(req.Context())
		c.decorate(req)
	}
	return c.base.Do(req)
}

// webdavConn implements Conn on top of go-webdav's CalDAV client
type webdavConn struct {
	client  *caldav.Client
	baseURL *url.URL
	home    string
}

// DialWebDAV returns a Dialer backed by go-webdav using httpClient as the base
// client. A nil httpClient means http.DefaultClient.
func DialWebDAV(httpClient webdav.HTTPClient) Dialer {
	return func(cfg Config, decorate RequestDecorator) (Conn, error) {
		base, err := url.Parse(cfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("invalid server url %q: %w", cfg.ServerURL, err)
		}

		client, err := caldav.NewClient(NewDecoratedClient(httpClient, decorate), cfg.ServerURL)
		if err != nil {
			return nil, err
		}

		return &webdavConn{client: client, baseURL: base}, nil
	}
}

// Connect discovers the current user principal and its calendar home set
func (c *webdavConn) Connect(ctx context.Context) error {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("find current user principal: %w", err)
	}

	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return fmt.Errorf("find calendar home set: %w", err)
	}
	if home == "" {
		return fmt.Errorf("server does not advertise a calendar home for %s", principal)
	}

	c.home = home
	return nil
}

// FindCalendars lists the calendars in the calendar home found by Connect
func (c *webdavConn) FindCalendars(ctx context.Context) ([]Calendar, error) {
	if c.home == "" {
		return nil, fmt.Errorf("not connected")
	}

	cals, err := c.client.FindCalendars(ctx, c.home)
	if err != nil {
		return nil, err
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{URL: cal.Path, DisplayName: cal.Name})
	}
	return result, nil
}

// QueryCalendar runs the query and hands back each decoded calendar as is
func (c *webdavConn) QueryCalendar(ctx context.Context, cal Calendar, query *caldav.CalendarQuery) ([]Object, error) {
	objs, err := c.client.QueryCalendar(ctx, cal.URL, query)
	if err != nil {
		return nil, err
	}

	result := make([]Object, 0, len(objs))
	for _, obj := range objs {
		result = append(result, Object{URL: c.resolve(obj.Path), Data: obj.Data})
	}
	return result, nil
}

// resolve turns a server href into an absolute URL
func (c *webdavConn) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.baseURL.ResolveReference(ref).String()
}
