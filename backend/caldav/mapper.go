package caldav

import (
	"time"

	"github.com/emersion/go-ical"

	"caldavtasks/backend"
)

// MapTask converts a calendar object holding a VTODO into a backend.Task.
// UID and LAST-MODIFIED are required; their absence yields ErrMalformedTask.
// No other RFC 5545 rule is enforced, so DTSTAMP or PRODID may be missing.
func MapTask(obj Object) (backend.Task, error) {
	if obj.Data == nil || obj.Data.Component == nil {
		return backend.Task{}, malformed("%s: no calendar data", obj.URL)
	}

	todo := firstChild(obj.Data.Component, ical.CompToDo)
	if todo == nil {
		return backend.Task{}, malformed("%s: no VTODO component", obj.URL)
	}

	uid := todo.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		return backend.Task{}, malformed("%s: missing UID", obj.URL)
	}

	modified := todo.Props.Get(ical.PropLastModified)
	if modified == nil {
		return backend.Task{}, malformed("%s: missing LAST-MODIFIED", obj.URL)
	}
	lastModified, err := modified.DateTime(time.UTC)
	if err != nil {
		return backend.Task{}, malformed("%s: LAST-MODIFIED: %v", obj.URL, err)
	}

	summary, err := todo.Props.Text(ical.PropSummary)
	if err != nil {
		return backend.Task{}, malformed("%s: SUMMARY: %v", obj.URL, err)
	}
	note, err := todo.Props.Text(ical.PropDescription)
	if err != nil {
		return backend.Task{}, malformed("%s: DESCRIPTION: %v", obj.URL, err)
	}

	labels, err := categories(todo)
	if err != nil {
		return backend.Task{}, malformed("%s: CATEGORIES: %v", obj.URL, err)
	}

	return backend.Task{
		ID:           uid.Value,
		Completed:    todo.Props.Get(ical.PropCompleted) != nil,
		ItemURL:      obj.URL,
		Summary:      summary,
		Due:          rawValue(todo, ical.PropDue),
		Start:        rawValue(todo, ical.PropDateTimeStart),
		LastModified: lastModified.Unix(),
		Labels:       labels,
		Note:         note,
	}, nil
}

// MapTasks maps every object, stopping at the first malformed one.
func MapTasks(objs []Object) ([]backend.Task, error) {
	tasks := make([]backend.Task, 0, len(objs))
	for _, obj := range objs {
		t, err := MapTask(obj)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func firstChild(comp *ical.Component, name string) *ical.Component {
	for _, child := range comp.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// categories flattens every CATEGORIES occurrence, each possibly multi-valued,
// preserving encounter order.
func categories(todo *ical.Component) ([]string, error) {
	labels := []string{}
	for _, prop := range todo.Props.Values(ical.PropCategories) {
		values, err := prop.TextList()
		if err != nil {
			return nil, err
		}
		labels = append(labels, values...)
	}
	return labels, nil
}

func rawValue(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}
