package repository

import (
	"context"
	"encoding/json"
)

// SearchRequest is the body of a _search call.
type SearchRequest struct {
	Query       map[string]any   `json:"query,omitempty"`
	Sort        []map[string]any `json:"sort,omitempty"`
	Size        int              `json:"size"`
	SearchAfter []any            `json:"search_after,omitempty"`
	Routing     string           `json:"-"`
}

// Hit is one search result.
type Hit struct {
	Index   string          `json:"_index"`
	ID      string          `json:"_id"`
	Routing string          `json:"_routing,omitempty"`
	Source  json.RawMessage `json:"_source"`
	Sort    []any           `json:"sort,omitempty"`
}

// SearchResponse holds the hits of a _search call.
type SearchResponse struct {
	Total int64
	Hits  []Hit
}

// IndexRequest writes one document. An empty ID lets the store assign one;
// a non-empty ID overwrites any existing document with that id.
type IndexRequest struct {
	ID      string
	Routing string
	Body    any
	Refresh bool
}

// IndexResponse acknowledges an index call.
type IndexResponse struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
}

// DeleteByQueryRequest removes every document matching Query.
type DeleteByQueryRequest struct {
	Query   map[string]any
	Routing string
	Refresh bool
	// ProceedOnConflicts skips version conflicts instead of aborting.
	ProceedOnConflicts bool
	// Slices lets the store parallelise the delete ("auto" or a count).
	Slices string
}

// DeleteByQueryResponse reports what a delete_by_query removed.
type DeleteByQueryResponse struct {
	Deleted          int64             `json:"deleted"`
	VersionConflicts int64             `json:"version_conflicts"`
	Failures         []json.RawMessage `json:"failures,omitempty"`
}

// Searcher runs queries.
type Searcher interface {
	Search(ctx context.Context, index string, req *SearchRequest) (*SearchResponse, error)
}

// Indexer writes single documents.
type Indexer interface {
	Index(ctx context.Context, index string, req *IndexRequest) (*IndexResponse, error)
}

// DocumentStore is the document capability the log services need.
type DocumentStore interface {
	Searcher
	Indexer
	DeleteByQuery(ctx context.Context, index string, req *DeleteByQueryRequest) (*DeleteByQueryResponse, error)
	Count(ctx context.Context, index string, query map[string]any) (int64, error)
	Refresh(ctx context.Context, index string) error
}

// IndexAdmin manages indices and templates.
type IndexAdmin interface {
	Ping(ctx context.Context) error
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, body map[string]any) error
	DeleteIndex(ctx context.Context, index string) error
	PutIndexTemplate(ctx context.Context, name string, body map[string]any) error
	DeleteIndexTemplate(ctx context.Context, name string) (bool, error)
	DeleteLegacyTemplate(ctx context.Context, name string) (bool, error)
}
