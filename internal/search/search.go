package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSOP       ResultType = "sop"
	ResultKnowledge ResultType = "knowledge_item"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Category string     `json:"category,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// Query describes a search request. OrgID is mandatory; every backend
// filters by it so one organization can never see another's rows.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	OrgID      string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SOPRecord is the data we index for a published SOP.
type SOPRecord struct {
	ID       string `json:"id"`
	OrgID    string `json:"orgId"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Purpose  string `json:"purpose"`
	StepText string `json:"stepText"`
	Status   string `json:"status"`
}

// KnowledgeRecord is the data we index for a knowledge checklist item.
type KnowledgeRecord struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Status      string `json:"status"`
}
