package http

import (
	"github.com/fyrsmithlabs/ingestd/internal/docstore"
	"github.com/fyrsmithlabs/ingestd/internal/filter"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Services   map[string]string `json:"services"`
	Namespaces []string          `json:"namespaces,omitempty"`
}

// ErrorResponse carries an error and, for ingest and indexing failures,
// the partial result.
type ErrorResponse struct {
	Error  string `json:"error"`
	Result any    `json:"result,omitempty"`
}

// DocumentListResponse is the response body for GET /api/v1/documents.
type DocumentListResponse struct {
	Documents []docstore.FileInfo `json:"documents"`
	Count     int                 `json:"count"`
}

// IndexTablesRequest is the request body for POST /api/v1/tables/index.
type IndexTablesRequest struct {
	Namespace     string   `json:"namespace"`
	ChunkSize     int      `json:"chunk_size"`
	LimitPerTable int      `json:"limit_per_table"`
	ExcludeTables []string `json:"exclude_tables"`
}

// IndexTableRequest is the request body for POST /api/v1/tables/:name/index.
type IndexTableRequest struct {
	Namespace string `json:"namespace"`
	ChunkSize int    `json:"chunk_size"`
	Limit     int    `json:"limit"`
}

// TablesResponse is the response body for GET /api/v1/tables.
type TablesResponse struct {
	Tables []string `json:"tables"`
	Count  int      `json:"count"`
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Text          string   `json:"text"`
	TopK          int      `json:"top_k"`
	Namespaces    []string `json:"namespaces"`
	AllNamespaces bool     `json:"all_namespaces"`
	Project       string   `json:"project"`
	Labels        []string `json:"labels"`
	Components    []string `json:"components"`
	Source        string   `json:"source"`
	Strategy      string   `json:"strategy"`
}

func (q QueryRequest) toRequest() (retrieval.Request, error) {
	var strategy filter.Strategy
	if q.Strategy != "" {
		st, err := filter.ParseStrategy(q.Strategy)
		if err != nil {
			return retrieval.Request{}, err
		}
		strategy = st
	}
	return retrieval.Request{
		Text:             q.Text,
		TopK:             q.TopK,
		Namespaces:       q.Namespaces,
		AllNamespaces:    q.AllNamespaces,
		Project:          q.Project,
		Labels:           q.Labels,
		Components:       q.Components,
		RestrictToSource: q.Source,
		Strategy:         strategy,
	}, nil
}

// QueryResponse is the response body for POST /api/v1/query.
type QueryResponse struct {
	Status       string            `json:"status"`
	Chunks       []retrieval.Chunk `json:"matches"`
	TotalResults int               `json:"total_results"`
	Queried      []string          `json:"queried"`
	Failures     []string          `json:"failed_namespaces,omitempty"`
}

// AnswerRequest is the request body for POST /api/v1/answer.
type AnswerRequest struct {
	QueryRequest
	Question   string `json:"question"`
	IncludeSQL bool   `json:"include_sql"`
}
