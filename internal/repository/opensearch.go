package repository

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenSearchConfig holds connection settings for the document store.
type OpenSearchConfig struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
	Insecure bool
	// RetryCount retries transport failures; 0 disables retries so the
	// ingestion breaker sees the first failure.
	RetryCount int
}

// OpenSearchRepository talks to an OpenSearch-compatible REST API.
// A single instance is safe to share between goroutines.
type OpenSearchRepository struct {
	client *resty.Client
}

// NewOpenSearchRepository creates a client for the configured cluster.
// Parameters:
//   - cfg: connection settings.
// Returns:
//   - *OpenSearchRepository: repository bound to cfg.BaseURL.
func NewOpenSearchRepository(cfg *OpenSearchConfig) *OpenSearchRepository {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if cfg.User != "" || cfg.Password != "" {
		client.SetBasicAuth(cfg.User, cfg.Password)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Insecure {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed dev clusters
	}
	if cfg.RetryCount > 0 {
		client.SetRetryCount(cfg.RetryCount)
	}
	return &OpenSearchRepository{client: client}
}

type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

type searchBody struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Ping checks that the cluster answers and accepts the credentials.
func (r *OpenSearchRepository) Ping(ctx context.Context) error {
	resp, err := r.client.R().SetContext(ctx).Get("/")
	return r.check(ctx, "ping", "", resp, err)
}

// Search runs a query against index.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - index: index name.
//   - req: query, sort, size and optional search_after key.
// Returns:
//   - *SearchResponse: hits in store order.
//   - error: typed store error on failure.
func (r *OpenSearchRepository) Search(ctx context.Context, index string, req *SearchRequest) (*SearchResponse, error) {
	var body searchBody
	request := r.client.R().SetContext(ctx).SetBody(req).SetResult(&body)
	if req.Routing != "" {
		request.SetQueryParam("routing", req.Routing)
	}
	resp, err := request.Post(indexPath(index, "_search"))
	if err := r.check(ctx, "search", index, resp, err); err != nil {
		return nil, err
	}
	return &SearchResponse{Total: body.Hits.Total.Value, Hits: body.Hits.Hits}, nil
}

// Index writes one document.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - index: index name.
//   - req: document body, optional id (upsert) and routing key.
// Returns:
//   - *IndexResponse: id and result reported by the store.
//   - error: typed store error on failure.
func (r *OpenSearchRepository) Index(ctx context.Context, index string, req *IndexRequest) (*IndexResponse, error) {
	var out IndexResponse
	request := r.client.R().SetContext(ctx).SetBody(req.Body).SetResult(&out)
	if req.Routing != "" {
		request.SetQueryParam("routing", req.Routing)
	}
	if req.Refresh {
		request.SetQueryParam("refresh", "true")
	}

	var (
		resp *resty.Response
		err  error
	)
	if req.ID != "" {
		resp, err = request.Put(indexPath(index, "_doc", req.ID))
	} else {
		resp, err = request.Post(indexPath(index, "_doc"))
	}
	if err := r.check(ctx, "index", index, resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteByQuery removes every document matching req.Query.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - index: index name.
//   - req: query plus conflict, slicing and refresh options.
// Returns:
//   - *DeleteByQueryResponse: deleted and conflict counts.
//   - error: typed store error on failure.
func (r *OpenSearchRepository) DeleteByQuery(ctx context.Context, index string, req *DeleteByQueryRequest) (*DeleteByQueryResponse, error) {
	var out DeleteByQueryResponse
	request := r.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"query": req.Query}).
		SetResult(&out)
	if req.ProceedOnConflicts {
		request.SetQueryParam("conflicts", "proceed")
	}
	if req.Slices != "" {
		request.SetQueryParam("slices", req.Slices)
	}
	if req.Routing != "" {
		request.SetQueryParam("routing", req.Routing)
	}
	request.SetQueryParam("refresh", strconv.FormatBool(req.Refresh))

	resp, err := request.Post(indexPath(index, "_delete_by_query"))
	if err := r.check(ctx, "delete_by_query", index, resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Count returns the number of documents matching query.
func (r *OpenSearchRepository) Count(ctx context.Context, index string, query map[string]any) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	body := map[string]any{}
	if query != nil {
		body["query"] = query
	}
	resp, err := r.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post(indexPath(index, "_count"))
	if err := r.check(ctx, "count", index, resp, err); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Refresh makes recent writes visible to search.
func (r *OpenSearchRepository) Refresh(ctx context.Context, index string) error {
	resp, err := r.client.R().SetContext(ctx).Post(indexPath(index, "_refresh"))
	return r.check(ctx, "refresh", index, resp, err)
}

// IndexExists reports whether index exists.
func (r *OpenSearchRepository) IndexExists(ctx context.Context, index string) (bool, error) {
	resp, err := r.client.R().SetContext(ctx).Head(indexPath(index))
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if err := r.check(ctx, "indices.exists", index, resp, err); err != nil {
		return false, err
	}
	return true, nil
}

// CreateIndex creates index with the given settings/mappings body.
func (r *OpenSearchRepository) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	request := r.client.R().SetContext(ctx)
	if body != nil {
		request.SetBody(body)
	}
	resp, err := request.Put(indexPath(index))
	return r.check(ctx, "indices.create", index, resp, err)
}

// DeleteIndex deletes index.
func (r *OpenSearchRepository) DeleteIndex(ctx context.Context, index string) error {
	resp, err := r.client.R().SetContext(ctx).Delete(indexPath(index))
	return r.check(ctx, "indices.delete", index, resp, err)
}

// PutIndexTemplate installs a composable index template.
func (r *OpenSearchRepository) PutIndexTemplate(ctx context.Context, name string, body map[string]any) error {
	resp, err := r.client.R().SetContext(ctx).SetBody(body).Put("/_index_template/" + url.PathEscape(name))
	return r.check(ctx, "indices.put_index_template", "", resp, err)
}

// DeleteIndexTemplate removes a composable template; false if it did not exist.
func (r *OpenSearchRepository) DeleteIndexTemplate(ctx context.Context, name string) (bool, error) {
	return r.deleteTemplate(ctx, "/_index_template/"+url.PathEscape(name), "indices.delete_index_template")
}

// DeleteLegacyTemplate removes a legacy (_template) template; false if it did not exist.
func (r *OpenSearchRepository) DeleteLegacyTemplate(ctx context.Context, name string) (bool, error) {
	return r.deleteTemplate(ctx, "/_template/"+url.PathEscape(name), "indices.delete_template")
}

func (r *OpenSearchRepository) deleteTemplate(ctx context.Context, path, op string) (bool, error) {
	resp, err := r.client.R().SetContext(ctx).Delete(path)
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if err := r.check(ctx, op, "", resp, err); err != nil {
		return false, err
	}
	return true, nil
}

// check maps transport and HTTP failures onto the typed errors. Only a
// cancelled or expired caller context passes through untyped; a client
// timeout means the store did not answer and is a connection failure.
func (r *OpenSearchRepository) check(ctx context.Context, op, index string, resp *resty.Response, err error) error {
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return err
		}
		var jsonErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &jsonErr) || errors.As(err, &typeErr) {
			return newQueryError(op, 0, "malformed response", err)
		}
		return newConnectionError(op, err)
	}
	if resp == nil {
		return newConnectionError(op, fmt.Errorf("no response"))
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}

	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)
	reason := body.Error.Reason
	if reason == "" {
		reason = fmt.Sprintf("HTTP %d", status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newAuthError(op, status)
	case status == http.StatusNotFound && (body.Error.Type == "index_not_found_exception" || index != ""):
		return newIndexNotFoundError(op, index)
	case status == http.StatusBadRequest:
		return newQueryError(op, status, reason, nil)
	case status >= 500:
		return newConnectionError(op, fmt.Errorf("HTTP %d: %s", status, reason))
	default:
		return &StoreError{Op: op, Status: status, Message: reason}
	}
}

func indexPath(index string, parts ...string) string {
	path := "/" + url.PathEscape(index)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}
