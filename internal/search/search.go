package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCase      ResultType = "case"
	ResultMilestone ResultType = "milestone"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	CaseID  string     `json:"caseId"`
}

// Query describes a search request. AllowedCaseIDs scopes every hit to cases
// the requesting broker can see; an empty list yields no results.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	AllowedCaseIDs []string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CaseRecord is the data we index for a case.
type CaseRecord struct {
	ID         string `json:"id"`
	ClientName string `json:"clientName"`
	Status     string `json:"status"`
	CaseID     string `json:"caseId"`
}

// MilestoneRecord is the data we index for a milestone.
type MilestoneRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CaseID      string `json:"caseId"`
}
