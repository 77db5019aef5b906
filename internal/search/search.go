package search

// Kind identifies the kind of interaction in a search result.
type Kind string

const (
	KindComment  Kind = "comment"
	KindQuestion Kind = "question"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	Section  string `json:"section"`
	Author   string `json:"author"`
	Snippet  string `json:"snippet"`
	Answered bool   `json:"answered,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterKind    Kind // empty = both kinds
	FilterSection string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over interactions.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push interactions into a search index.
type Indexer interface {
	IndexInteraction(rec InteractionRecord) error
	DeleteInteraction(id string) error
}

// InteractionRecord is the data we index for a comment or question.
// Comments leave Answer empty; questions carry it once one is set.
type InteractionRecord struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Section  string `json:"section"`
	Author   string `json:"author"`
	Content  string `json:"content"`
	Answer   string `json:"answer"`
	Answered bool   `json:"answered"`
}
