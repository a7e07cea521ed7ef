package backend

// IssueType tags search results produced by the CalDAV provider.
const IssueType = "CALDAV"

// Task is a VTODO normalized for the issue-tracking host.
type Task struct {
	ID           string   `json:"id"`
	Completed    bool     `json:"completed"`
	ItemURL      string   `json:"item_url"`
	Summary      string   `json:"summary"`
	Due          string   `json:"due"`
	Start        string   `json:"start"`
	LastModified int64    `json:"last_modified"`
	Labels       []string `json:"labels"`
	Note         string   `json:"note"`
}

// SearchResult is the presentation projection of a task returned by search.
type SearchResult struct {
	Title     string `json:"title"`
	IssueType string `json:"issueType"`
	IssueData Task   `json:"issueData"`
}

// NewSearchResult projects a task into a search result.
func NewSearchResult(t Task) SearchResult {
	return SearchResult{
		Title:     t.Summary,
		IssueType: IssueType,
		IssueData: t,
	}
}

// FilterByIDs keeps the tasks whose ID is a member of ids, preserving task order.
func FilterByIDs(tasks []Task, ids []string) []Task {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	result := []Task{}
	for _, t := range tasks {
		if _, ok := wanted[t.ID]; ok {
			result = append(result, t)
		}
	}
	return result
}
