package caldav

import (
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// OpenTodosFilter selects the VTODOs of a calendar. With filterOpen only todos
// without a COMPLETED property match.
func OpenTodosFilter(filterOpen bool) caldav.CompFilter {
	todo := caldav.CompFilter{Name: ical.CompToDo}
	if filterOpen {
		todo.Props = []caldav.PropFilter{{
			Name:         ical.PropCompleted,
			IsNotDefined: true,
		}}
	}
	return calendarFilter(todo)
}

// FindByUIDFilter selects the VTODO whose UID matches uid.
func FindByUIDFilter(uid string) caldav.CompFilter {
	todo := caldav.CompFilter{
		Name: ical.CompToDo,
		Props: []caldav.PropFilter{{
			Name:      ical.PropUID,
			TextMatch: &caldav.TextMatch{Text: uid},
		}},
	}
	return calendarFilter(todo)
}

func calendarFilter(todo caldav.CompFilter) caldav.CompFilter {
	return caldav.CompFilter{
		Name:  ical.CompCalendar,
		Comps: []caldav.CompFilter{todo},
	}
}

// NewCalendarQuery wraps filter into a calendar-query asking for full calendar data.
func NewCalendarQuery(filter caldav.CompFilter) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: filter,
	}
}
