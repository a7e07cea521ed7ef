package caldav

import (
	"context"
	"fmt"
	"strings"
)

// Calendar returns the calendar called name, enumerating the calendar home on
// the first request for that name.
func (c *Connection) Calendar(ctx context.Context, name string) (Calendar, error) {
	if cal, ok := c.cachedCalendar(name); ok {
		c.logger.Debug("caldav: calendar %q cached at %s", name, cal.URL)
		return cal, nil
	}

	return shared(ctx, &c.group, name, "find calendars", func(ctx context.Context) (Calendar, error) {
		if cal, ok := c.cachedCalendar(name); ok {
			return cal, nil
		}

		cals, err := c.conn.FindCalendars(ctx)
		if err != nil {
			return Calendar{}, networkError("find calendars", err)
		}
		c.logger.Debug("caldav: looking up calendar %q among %d", name, len(cals))

		cal, ok := MatchCalendar(cals, name)
		if !ok {
			return Calendar{}, fmt.Errorf("%w: %s", ErrCalendarNotFound, name)
		}

		c.mu.Lock()
		c.calendars[name] = cal
		c.mu.Unlock()
		return cal, nil
	})
}

func (c *Connection) cachedCalendar(name string) (Calendar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cal, ok := c.calendars[name]
	return cal, ok
}

// MatchCalendar returns the first calendar whose name equals name.
func MatchCalendar(cals []Calendar, name string) (Calendar, bool) {
	for _, cal := range cals {
		if CalendarName(cal) == name {
			return cal, true
		}
	}
	return Calendar{}, false
}

// CalendarName is the display name, or the last path segment of the calendar
// URL when the server did not send one.
func CalendarName(cal Calendar) string {
	if cal.DisplayName != "" {
		return cal.DisplayName
	}
	return lastPathSegment(cal.URL)
}

// lastPathSegment strips one trailing slash and returns what follows the last slash
func lastPathSegment(u string) string {
	u = strings.TrimSuffix(u, "/")
	return u[strings.LastIndex(u, "/")+1:]
}
