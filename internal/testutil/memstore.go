// Package testutil provides an in-memory document store for tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/repository"
)

// Operation names accepted by Calls and FailWith.
const (
	OpSearch        = "search"
	OpIndex         = "index"
	OpDeleteByQuery = "delete_by_query"
	OpCount         = "count"
	OpRefresh       = "refresh"
)

type storedDoc struct {
	id      string
	routing string
	source  map[string]any
}

type memIndex struct {
	docs  map[string]*storedDoc
	body  map[string]any
	order []string
}

// MemStore implements repository.DocumentStore and repository.IndexAdmin
// in memory. It evaluates the query subset the services emit: bool
// (filter, must, should, must_not, minimum_should_match), term, terms,
// range, exists, ids, nested, match_all and simple_query_string.
//
// Indexing into a missing index creates it, as the real store does.
// Searching a missing index fails with *repository.IndexNotFoundError.
type MemStore struct {
	mu        sync.Mutex
	indices   map[string]*memIndex
	templates map[string]map[string]any
	calls     map[string]int
	failures  map[string]error
	nextID    int
	pingErr   error
}

var (
	_ repository.DocumentStore = (*MemStore)(nil)
	_ repository.IndexAdmin    = (*MemStore)(nil)
)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		indices:   make(map[string]*memIndex),
		templates: make(map[string]map[string]any),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
}

// FailWith makes every later call of op return err. A nil err clears it.
func (m *MemStore) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// SetPingError controls the result of Ping.
func (m *MemStore) SetPingError(err error) {
	m.mu.Lock()
	m.pingErr = err
	m.mu.Unlock()
}

// Calls returns how many times op was invoked, failed calls included.
func (m *MemStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores source under id directly, bypassing call counting.
func (m *MemStore) Put(index, id string, source any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(index, id, "", toMap(source))
}

// Get returns the stored source of id, or nil.
func (m *MemStore) Get(index, id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indices[index]
	if !ok {
		return nil
	}
	if doc, ok := idx.docs[id]; ok {
		return toMap(doc.source)
	}
	return nil
}

// Len returns the number of documents in index.
func (m *MemStore) Len(index string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indices[index]; ok {
		return len(idx.docs)
	}
	return 0
}

// Sources returns every stored source in index in insertion order.
func (m *MemStore) Sources(index string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indices[index]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(idx.docs))
	for _, id := range idx.order {
		if doc, ok := idx.docs[id]; ok {
			out = append(out, toMap(doc.source))
		}
	}
	return out
}

// Templates returns the names of stored index templates.
func (m *MemStore) Templates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MemStore) begin(op string) error {
	m.calls[op]++
	return m.failures[op]
}

func (m *MemStore) put(index, id, routing string, source map[string]any) string {
	idx := m.indices[index]
	if idx == nil {
		idx = &memIndex{docs: make(map[string]*storedDoc)}
		m.indices[index] = idx
	}
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("mem-%08d", m.nextID)
	}
	result := "updated"
	if _, exists := idx.docs[id]; !exists {
		idx.order = append(idx.order, id)
		result = "created"
	}
	idx.docs[id] = &storedDoc{id: id, routing: routing, source: source}
	return result
}

func (m *MemStore) Search(ctx context.Context, index string, req *repository.SearchRequest) (*repository.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpSearch); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, ok := m.indices[index]
	if !ok {
		return nil, indexNotFound("search", index)
	}

	query := toMap(req.Query)
	var matched []*storedDoc
	for _, id := range idx.order {
		doc, ok := idx.docs[id]
		if !ok {
			continue
		}
		if req.Routing != "" && doc.routing != "" && doc.routing != req.Routing {
			continue
		}
		if query == nil || matches(query, doc) {
			matched = append(matched, doc)
		}
	}

	sortSpec := parseSort(req.Sort)
	sort.SliceStable(matched, func(i, j int) bool {
		return compareKeys(sortKey(matched[i], sortSpec), sortKey(matched[j], sortSpec), sortSpec) < 0
	})

	resp := &repository.SearchResponse{Total: int64(len(matched))}
	after := toSlice(req.SearchAfter)
	for _, doc := range matched {
		key := sortKey(doc, sortSpec)
		if len(after) > 0 && compareKeys(key, after, sortSpec) <= 0 {
			continue
		}
		if req.Size > 0 && len(resp.Hits) >= req.Size {
			break
		}
		if req.Size == 0 {
			break
		}
		src, err := json.Marshal(doc.source)
		if err != nil {
			return nil, err
		}
		hit := repository.Hit{Index: index, ID: doc.id, Routing: doc.routing, Source: src}
		if len(sortSpec) > 0 {
			hit.Sort = key
		}
		resp.Hits = append(resp.Hits, hit)
	}
	return resp, nil
}

func (m *MemStore) Index(ctx context.Context, index string, req *repository.IndexRequest) (*repository.IndexResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpIndex); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := toMap(req.Body)
	if src == nil {
		return nil, &repository.QueryError{StoreError: repository.StoreError{Op: "index", Status: 400, Message: "document body must be an object"}}
	}
	id := req.ID
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("mem-%08d", m.nextID)
	}
	result := m.put(index, id, req.Routing, src)
	return &repository.IndexResponse{ID: id, Result: result}, nil
}

func (m *MemStore) DeleteByQuery(ctx context.Context, index string, req *repository.DeleteByQueryRequest) (*repository.DeleteByQueryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpDeleteByQuery); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, ok := m.indices[index]
	if !ok {
		return nil, indexNotFound("delete_by_query", index)
	}
	query := toMap(req.Query)
	resp := &repository.DeleteByQueryResponse{}
	kept := idx.order[:0]
	for _, id := range idx.order {
		doc, ok := idx.docs[id]
		if !ok {
			continue
		}
		routed := req.Routing == "" || doc.routing == "" || doc.routing == req.Routing
		if routed && (query == nil || matches(query, doc)) {
			delete(idx.docs, id)
			resp.Deleted++
			continue
		}
		kept = append(kept, id)
	}
	idx.order = kept
	return resp, nil
}

func (m *MemStore) Count(ctx context.Context, index string, query map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpCount); err != nil {
		return 0, err
	}
	idx, ok := m.indices[index]
	if !ok {
		return 0, indexNotFound("count", index)
	}
	q := toMap(query)
	var n int64
	for _, doc := range idx.docs {
		if q == nil || matches(q, doc) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) Refresh(ctx context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpRefresh); err != nil {
		return err
	}
	if _, ok := m.indices[index]; !ok {
		return indexNotFound("refresh", index)
	}
	return nil
}

func (m *MemStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *MemStore) IndexExists(ctx context.Context, index string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indices[index]
	return ok, nil
}

func (m *MemStore) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[index]; ok {
		return &repository.QueryError{StoreError: repository.StoreError{Op: "create index", Status: 400, Message: "resource_already_exists_exception"}}
	}
	m.indices[index] = &memIndex{docs: make(map[string]*storedDoc), body: body}
	return nil
}

func (m *MemStore) DeleteIndex(ctx context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[index]; !ok {
		return indexNotFound("delete index", index)
	}
	delete(m.indices, index)
	return nil
}

func (m *MemStore) PutIndexTemplate(ctx context.Context, name string, body map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[name] = body
	return nil
}

func (m *MemStore) DeleteIndexTemplate(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[name]; !ok {
		return false, nil
	}
	delete(m.templates, name)
	return true, nil
}

func (m *MemStore) DeleteLegacyTemplate(ctx context.Context, name string) (bool, error) {
	return m.DeleteIndexTemplate(ctx, "legacy:"+name)
}

func indexNotFound(op, index string) error {
	return &repository.IndexNotFoundError{
		StoreError: repository.StoreError{Op: op, Status: 404, Message: fmt.Sprintf("index '%s' does not exist", index)},
		Index:      index,
	}
}

// --- query evaluation ---

func matches(q map[string]any, doc *storedDoc) bool {
	for kind, body := range q {
		if !matchClause(kind, body, doc) {
			return false
		}
	}
	return true
}

func matchClause(kind string, body any, doc *storedDoc) bool {
	switch kind {
	case "match_all":
		return true
	case "bool":
		return matchBool(toMap(body), doc)
	case "term":
		for field, v := range toMap(body) {
			if inner, ok := v.(map[string]any); ok {
				v = inner["value"]
			}
			if !fieldEquals(doc, field, []any{v}) {
				return false
			}
		}
		return true
	case "terms":
		for field, v := range toMap(body) {
			if !fieldEquals(doc, field, toSlice(v)) {
				return false
			}
		}
		return true
	case "ids":
		for _, v := range toSlice(toMap(body)["values"]) {
			if fmt.Sprint(v) == doc.id {
				return true
			}
		}
		return false
	case "exists":
		field, _ := toMap(body)["field"].(string)
		vals := lookup(doc.source, field)
		for _, v := range vals {
			if v != nil {
				return true
			}
		}
		return false
	case "range":
		for field, v := range toMap(body) {
			if !matchRange(doc, field, toMap(v)) {
				return false
			}
		}
		return true
	case "simple_query_string":
		return matchSimpleQuery(toMap(body), doc)
	case "nested":
		// Dotted lookups fan out over arrays, which is close enough to
		// nested semantics for single-field clauses.
		inner := toMap(toMap(body)["query"])
		return inner != nil && matches(inner, doc)
	}
	return false
}

func matchBool(b map[string]any, doc *storedDoc) bool {
	for _, key := range []string{"filter", "must"} {
		for _, clause := range clauses(b[key]) {
			if !matches(clause, doc) {
				return false
			}
		}
	}
	for _, clause := range clauses(b["must_not"]) {
		if matches(clause, doc) {
			return false
		}
	}
	should := clauses(b["should"])
	if len(should) == 0 {
		return true
	}
	minimum := 0
	if v, ok := b["minimum_should_match"]; ok {
		minimum = int(toFloat(v))
	} else if len(clauses(b["filter"])) == 0 && len(clauses(b["must"])) == 0 {
		minimum = 1
	}
	hits := 0
	for _, clause := range should {
		if matches(clause, doc) {
			hits++
		}
	}
	return hits >= minimum
}

func clauses(v any) []map[string]any {
	switch c := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return []map[string]any{c}
	case []any:
		out := make([]map[string]any, 0, len(c))
		for _, item := range c {
			if m := toMap(item); m != nil {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// lookup returns the values at a dotted path. Arrays fan out.
// The join field doc_type resolves to its relation name.
func lookup(src map[string]any, path string) []any {
	if path == "doc_type" {
		switch dt := src["doc_type"].(type) {
		case string:
			return []any{dt}
		case map[string]any:
			return []any{dt["name"]}
		}
		return nil
	}
	if path == "doc_type#operation" {
		if dt, ok := src["doc_type"].(map[string]any); ok {
			return []any{dt["parent"]}
		}
		return nil
	}
	current := []any{src}
	for _, part := range strings.Split(path, ".") {
		var next []any
		for _, c := range current {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			v, ok := m[part]
			if !ok {
				continue
			}
			if arr, ok := v.([]any); ok {
				next = append(next, arr...)
			} else {
				next = append(next, v)
			}
		}
		current = next
	}
	return current
}

func fieldEquals(doc *storedDoc, field string, want []any) bool {
	for _, have := range lookup(doc.source, field) {
		if have == nil {
			continue
		}
		for _, w := range want {
			if scalarString(have) == scalarString(w) {
				return true
			}
		}
	}
	return false
}

func scalarString(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

func matchRange(doc *storedDoc, field string, bounds map[string]any) bool {
	for _, have := range lookup(doc.source, field) {
		ok := true
		for op, bound := range bounds {
			c, comparable := compareValues(have, bound)
			if !comparable {
				ok = false
				break
			}
			switch op {
			case "gte":
				ok = ok && c >= 0
			case "gt":
				ok = ok && c > 0
			case "lte":
				ok = ok && c <= 0
			case "lt":
				ok = ok && c < 0
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func compareValues(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			at, aok := domain.ParseTime(as)
			bt, bok := domain.ParseTime(bs)
			if aok && bok {
				return at.Compare(bt), true
			}
			return strings.Compare(as, bs), true
		}
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return compareFloat(af, bf), true
	}
	return 0, false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func matchSimpleQuery(body map[string]any, doc *storedDoc) bool {
	query, _ := body["query"].(string)
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return true
	}
	var fields []string
	for _, f := range toSlice(body["fields"]) {
		name, _ := f.(string)
		if i := strings.IndexByte(name, '^'); i >= 0 {
			name = name[:i]
		}
		fields = append(fields, name)
	}
	if len(fields) == 0 {
		fields = []string{"message"}
	}
	var haystack []string
	for _, f := range fields {
		if strings.HasSuffix(f, ".*") {
			if m, ok := doc.source[strings.TrimSuffix(f, ".*")].(map[string]any); ok {
				for _, v := range m {
					haystack = append(haystack, strings.ToLower(fmt.Sprint(v)))
				}
			}
			continue
		}
		for _, v := range lookup(doc.source, f) {
			if v != nil {
				haystack = append(haystack, strings.ToLower(fmt.Sprint(v)))
			}
		}
	}
	found := func(tok string) bool {
		for _, h := range haystack {
			if strings.Contains(h, tok) {
				return true
			}
		}
		return false
	}
	or := strings.EqualFold(fmt.Sprint(body["default_operator"]), "or")
	for _, tok := range tokens {
		if found(tok) {
			if or {
				return true
			}
		} else if !or {
			return false
		}
	}
	return !or
}

// --- sorting ---

type sortField struct {
	field string
	desc  bool
}

func parseSort(spec []map[string]any) []sortField {
	var out []sortField
	for _, item := range spec {
		for field, v := range item {
			order := ""
			switch o := v.(type) {
			case string:
				order = o
			case map[string]any:
				order, _ = o["order"].(string)
			}
			out = append(out, sortField{field: field, desc: strings.EqualFold(order, "desc")})
		}
	}
	return out
}

// sortKey mirrors what the store returns in hit.sort: dates as epoch
// milliseconds, keywords as strings.
func sortKey(doc *storedDoc, spec []sortField) []any {
	key := make([]any, len(spec))
	for i, s := range spec {
		if s.field == "_id" {
			key[i] = doc.id
			continue
		}
		vals := lookup(doc.source, s.field)
		if len(vals) == 0 || vals[0] == nil {
			continue
		}
		v := vals[0]
		if str, ok := v.(string); ok {
			if t, ok := domain.ParseTime(str); ok {
				key[i] = float64(t.UnixMilli())
				continue
			}
		}
		key[i] = v
	}
	return key
}

// compareKeys orders keys by spec; missing values sort last either way.
func compareKeys(a, b []any, spec []sortField) int {
	for i, s := range spec {
		if i >= len(a) || i >= len(b) {
			break
		}
		av, bv := a[i], b[i]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			return 1
		case bv == nil:
			return -1
		}
		c, ok := compareValues(av, bv)
		if !ok {
			c = strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
		}
		if c == 0 {
			continue
		}
		if s.desc {
			return -c
		}
		return c
	}
	return 0
}

// --- JSON normalisation ---

func toMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		if normalized, ok := roundTrip(m).(map[string]any); ok {
			return normalized
		}
		return nil
	}
	m, _ := roundTrip(v).(map[string]any)
	return m
}

func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	s, _ := roundTrip(v).([]any)
	return s
}

func toFloat(v any) float64 {
	f, _ := numeric(roundTrip(v))
	return f
}

func roundTrip(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
