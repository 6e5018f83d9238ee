package chat

// Request is the body of POST /chat.
type Request struct {
	Question       string `json:"question" validate:"required,max=2000"`
	ModuleContext  string `json:"module_context,omitempty" validate:"max=128"`
	ChapterContext string `json:"chapter_context,omitempty" validate:"max=128"`
	// SelectedText is text the reader highlighted on the page. It widens retrieval only.
	SelectedText string `json:"selected_text,omitempty" validate:"max=4000"`
}

// Response is the body of a successful POST /chat.
type Response struct {
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources"`
	Confidence     float64  `json:"confidence"`
	GroundedInBook bool     `json:"grounded_in_book"`
	Timestamp      string   `json:"timestamp"`
	Degraded       bool     `json:"degraded,omitempty"`
	QueryID        string   `json:"query_id"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query         string `json:"query" validate:"required,max=2000"`
	ModuleFilter  string `json:"module_filter,omitempty" validate:"max=128"`
	ChapterFilter string `json:"chapter_filter,omitempty" validate:"max=128"`
	Limit         int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

// ContentResponse is the full text of one chunk, returned by GET /content/{id}.
type ContentResponse struct {
	ID       string `json:"id"`
	DocPath  string `json:"doc_path"`
	Title    string `json:"title"`
	Module   string `json:"module"`
	Chapter  string `json:"chapter"`
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// SearchResult is one ranked chunk returned by POST /search.
type SearchResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Module    string  `json:"module"`
	Chapter   string  `json:"chapter"`
	Relevance float64 `json:"relevance"`
}
