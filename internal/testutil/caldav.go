package testutil

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
)

// =============================================================================
// CalDAV Mock Server for Tests
// =============================================================================

// CalDAVServer is an in-process CalDAV server that answers the discovery
// PROPFINDs and calendar-query REPORTs a task client issues.
type CalDAVServer struct {
	server   *httptest.Server
	username string
	password string

	mu        sync.Mutex
	calendars []*mockCalendar
	requests  []*http.Request
}

type mockCalendar struct {
	slug        string
	displayName string
	uids        []string
	objects     map[string]string // uid -> iCalendar text
}

var textMatchRe = regexp.MustCompile(`text-match[^>]*>([^<]*)<`)

// NewCalDAVServer starts a server requiring the given Basic credentials.
// An empty username disables authentication.
func NewCalDAVServer(username, password string) *CalDAVServer {
	m := &CalDAVServer{username: username, password: password}
	m.server = httptest.NewServer(http.HandlerFunc(m.handler))
	return m
}

// Close shuts the server down
func (m *CalDAVServer) Close() {
	m.server.Close()
}

// URL returns the CalDAV endpoint to configure as server_url
func (m *CalDAVServer) URL() string {
	return m.server.URL + "/dav/"
}

// Client returns an HTTP client for the server
func (m *CalDAVServer) Client() *http.Client {
	return m.server.Client()
}

// CalendarURL returns the absolute URL of the calendar collection slug
func (m *CalDAVServer) CalendarURL(slug string) string {
	return m.server.URL + m.calendarPath(slug)
}

// AddCalendar adds a calendar collection. An empty displayName leaves the
// displayname property out of PROPFIND responses.
func (m *CalDAVServer) AddCalendar(slug, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendars = append(m.calendars, &mockCalendar{
		slug:        slug,
		displayName: displayName,
		objects:     make(map[string]string),
	})
}

// AddObject stores a raw iCalendar object under uid in calendar slug
func (m *CalDAVServer) AddObject(slug, uid, ics string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cal := range m.calendars {
		if cal.slug == slug {
			if _, ok := cal.objects[uid]; !ok {
				cal.uids = append(cal.uids, uid)
			}
			cal.objects[uid] = ics
			return
		}
	}
}

// AddTask stores a VTODO built by TaskICS
func (m *CalDAVServer) AddTask(slug, uid, summary string, completed bool) {
	var extra []string
	if completed {
		extra = append(extra, "COMPLETED:20230102T000000Z", "STATUS:COMPLETED")
	}
	m.AddObject(slug, uid, TaskICS(uid, summary, extra...))
}

// RequestCount returns the number of requests served
func (m *CalDAVServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastHeader returns header name of the most recent request
func (m *CalDAVServer) LastHeader(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ""
	}
	return m.requests[len(m.requests)-1].Header.Get(name)
}

// TaskICS renders a minimal VCALENDAR holding one VTODO. extra lines are
// inserted into the VTODO verbatim.
func TaskICS(uid, summary string, extra ...string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//caldavtasks//test//EN",
		"BEGIN:VTODO",
		"UID:" + uid,
		"DTSTAMP:20230101T000000Z",
		"LAST-MODIFIED:20230101T000000Z",
		"SUMMARY:" + summary,
	}
	lines = append(lines, extra...)
	lines = append(lines, "END:VTODO", "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

func (m *CalDAVServer) principalPath() string {
	return fmt.Sprintf("/dav/principals/%s/", m.username)
}

func (m *CalDAVServer) homePath() string {
	return fmt.Sprintf("/dav/calendars/%s/", m.username)
}

func (m *CalDAVServer) calendarPath(slug string) string {
	return m.homePath() + slug + "/"
}

func (m *CalDAVServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r.Clone(r.Context()))
	m.mu.Unlock()

	if m.username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != m.username || pass != m.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	body, _ := io.ReadAll(r.Body)

	switch r.Method {
	case "PROPFIND":
		m.handlePropfind(w, r.URL.Path)
	case "REPORT":
		m.handleReport(w, r.URL.Path, string(body))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *CalDAVServer) handlePropfind(w http.ResponseWriter, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	switch path {
	case m.homePath():
		writeResponse(&buf, path, `<d:resourcetype><d:collection/></d:resourcetype>`)
		for _, cal := range m.calendars {
			props := `<d:resourcetype><d:collection/><cal:calendar/></d:resourcetype>`
			if cal.displayName != "" {
				props += "<d:displayname>" + escape(cal.displayName) + "</d:displayname>"
			}
			writeResponse(&buf, m.calendarPath(cal.slug), props)
		}
	case m.principalPath():
		writeResponse(&buf, path, `<cal:calendar-home-set><d:href>`+m.homePath()+`</d:href></cal:calendar-home-set>`)
	default:
		writeResponse(&buf, path, `<d:current-user-principal><d:href>`+m.principalPath()+`</d:href></d:current-user-principal>`)
	}
	writeMultiStatus(w, &buf)
}

// handleReport applies the two filters a task client sends: COMPLETED
// is-not-defined and a UID text-match.
func (m *CalDAVServer) handleReport(w http.ResponseWriter, path, query string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cal *mockCalendar
	for _, c := range m.calendars {
		if m.calendarPath(c.slug) == path {
			cal = c
		}
	}
	if cal == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	openOnly := strings.Contains(query, "is-not-defined")
	var uid string
	if match := textMatchRe.FindStringSubmatch(query); match != nil {
		uid = match[1]
	}

	var buf bytes.Buffer
	for _, id := range cal.uids {
		ics := cal.objects[id]
		if openOnly && strings.Contains(ics, "\nCOMPLETED:") {
			continue
		}
		if uid != "" && id != uid {
			continue
		}
		writeResponse(&buf, path+id+".ics",
			`<d:getetag>"`+id+`-etag"</d:getetag><cal:calendar-data>`+escape(ics)+`</cal:calendar-data>`)
	}
	writeMultiStatus(w, &buf)
}

func writeResponse(buf *bytes.Buffer, href, props string) {
	fmt.Fprintf(buf, `<d:response><d:href>%s</d:href><d:propstat><d:prop>%s</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`, href, props)
}

func writeMultiStatus(w http.ResponseWriter, responses *bytes.Buffer) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">`)
	_, _ = w.Write(responses.Bytes())
	_, _ = io.WriteString(w, `</d:multistatus>`)
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
