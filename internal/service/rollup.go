package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/levels"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/metrics"
	"github.com/dandriscoll/devlogs/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRollupPageSize    = 500
	defaultRollupConcurrency = 4
	// maxComponentRounds bounds the parent/child expansion of a single
	// operation rollup.
	maxComponentRounds = 32
	// deleteChunkSize caps the ids sent in one delete_by_query.
	deleteChunkSize = 1000
)

// RollupServiceConfig holds configuration for the rollup service.
type RollupServiceConfig struct {
	Index       string
	PageSize    int
	Concurrency int
}

// RollupOptions tunes a single-operation rollup.
type RollupOptions struct {
	// Refresh makes just-written children visible before the scan.
	Refresh bool
}

// RollupStats reports what a batch rollup did.
type RollupStats struct {
	Children int `json:"children"`
	Groups   int `json:"groups"`
}

// RollupService folds child log entries into one operation document per
// root operation id and deletes the folded children.
type RollupService struct {
	store       repository.DocumentStore
	index       string
	pageSize    int
	concurrency int
	logger      *logger.Logger
}

// NewRollupService creates a new rollup service.
// Parameters:
//   - store: document store holding the children.
//   - log: logger instance.
//   - cfg: index and scan tuning.
// Returns:
//   - *RollupService: initialized rollup service.
func NewRollupService(store repository.DocumentStore, log *logger.Logger, cfg *RollupServiceConfig) *RollupService {
	s := &RollupService{
		store:       store,
		pageSize:    defaultRollupPageSize,
		concurrency: defaultRollupConcurrency,
		logger:      log,
	}
	if cfg != nil {
		s.index = cfg.Index
		if cfg.PageSize > 0 {
			s.pageSize = cfg.PageSize
		}
		if cfg.Concurrency > 0 {
			s.concurrency = cfg.Concurrency
		}
	}
	if s.logger == nil {
		s.logger = logger.GetDefault()
	}
	return s
}

// childDoc is one scanned log_entry document.
type childDoc struct {
	id  string
	doc domain.LogDocument
}

// rollupGroup is every child resolving to one root operation id.
type rollupGroup struct {
	root     string
	children []childDoc
	opIDs    map[string]struct{}
}

// RollupOperation rolls up the operation tree containing id, refreshing
// the index first. It satisfies operation.Roller.
func (s *RollupService) RollupOperation(ctx context.Context, id string) error {
	_, err := s.Rollup(ctx, id, RollupOptions{Refresh: true})
	return err
}

// Rollup folds the children of id's root operation.
// Parameters:
//   - ctx: request context.
//   - id: any operation id in the tree to roll up.
//   - opts: rollup options.
// Returns:
//   - bool: true if a parent document was written.
//   - error: typed store error on failure.
func (s *RollupService) Rollup(ctx context.Context, id string, opts RollupOptions) (bool, error) {
	written, _, err := s.rollup(ctx, id, opts)
	return written, err
}

func (s *RollupService) rollupCounted(ctx context.Context, id string) (bool, int, error) {
	return s.rollup(ctx, id, RollupOptions{Refresh: true})
}

func (s *RollupService) rollup(ctx context.Context, id string, opts RollupOptions) (bool, int, error) {
	if id == "" {
		return false, 0, fmt.Errorf("rollup: operation id is required")
	}
	if opts.Refresh {
		if err := s.store.Refresh(ctx, s.index); err != nil {
			return false, 0, fmt.Errorf("rollup %s: refresh: %w", id, err)
		}
	}

	children, err := s.collectComponent(ctx, id)
	if err != nil {
		return false, 0, fmt.Errorf("rollup %s: %w", id, err)
	}
	if len(children) == 0 {
		return false, 0, nil
	}

	parents := buildParentMap(children)
	root := resolveRoot(id, parents)
	for _, g := range groupChildren(children, parents) {
		if g.root != root {
			continue
		}
		if err := s.writeGroup(ctx, g, opts.Refresh); err != nil {
			return false, 0, fmt.Errorf("rollup %s: %w", id, err)
		}
		return true, len(g.children), nil
	}
	return false, 0, nil
}

// RollupOperations folds every child document (newer than since, when set)
// into its root operation document.
// Parameters:
//   - ctx: request context.
//   - since: lower timestamp bound for the scan; zero scans everything.
// Returns:
//   - *RollupStats: folded children and written groups.
//   - error: first failure; groups written before it stay written.
func (s *RollupService) RollupOperations(ctx context.Context, since time.Time) (*RollupStats, error) {
	start := time.Now()
	var filters []any
	if r := timeRange(since, time.Time{}); r != nil {
		filters = append(filters, r)
	}
	children, err := s.scanChildren(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("rollup: %w", err)
	}

	groups := groupChildren(children, buildParentMap(children))
	stats := &RollupStats{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, group := range groups {
		g.Go(func() error {
			if err := s.writeGroup(gctx, group, false); err != nil {
				return fmt.Errorf("rollup %s: %w", group.root, err)
			}
			mu.Lock()
			stats.Children += len(group.children)
			stats.Groups++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	logger.With(logger.Fields{
		logger.FieldIndex: s.index,
		"groups":          stats.Groups,
	}).WithCount(stats.Children).WithDuration(start).Info(ctx, "rollup complete")
	return stats, nil
}

// collectComponent gathers the children connected to id through
// operation_id/parent_operation_id links, in both directions.
func (s *RollupService) collectComponent(ctx context.Context, id string) ([]childDoc, error) {
	known := map[string]struct{}{id: {}}
	frontier := []string{id}
	seenDocs := make(map[string]struct{})
	var all []childDoc

	for round := 0; round < maxComponentRounds && len(frontier) > 0; round++ {
		docs, err := s.scanChildren(ctx, []any{anyOf(
			terms("operation_id", frontier),
			terms("parent_operation_id", frontier),
		)})
		if err != nil {
			return nil, err
		}
		var next []string
		for _, c := range docs {
			if _, dup := seenDocs[c.id]; dup {
				continue
			}
			seenDocs[c.id] = struct{}{}
			all = append(all, c)
			for _, linked := range []string{c.doc.OperationID, c.doc.ParentOperationID} {
				if linked == "" {
					continue
				}
				if _, ok := known[linked]; !ok {
					known[linked] = struct{}{}
					next = append(next, linked)
				}
			}
		}
		frontier = next
	}
	return all, nil
}

// scanChildren pages through every log_entry document matching filters in
// (timestamp, _id) order.
func (s *RollupService) scanChildren(ctx context.Context, filters []any) ([]childDoc, error) {
	query := map[string]any{"bool": map[string]any{
		"filter": append([]any{term("doc_type", domain.KindLogEntry)}, filters...),
	}}

	var out []childDoc
	var after []any
	for {
		start := time.Now()
		resp, err := s.store.Search(ctx, s.index, &repository.SearchRequest{
			Query:       query,
			Sort:        sortByTime("asc"),
			Size:        s.pageSize,
			SearchAfter: after,
		})
		metrics.ObserveQuery("rollup_scan", start)
		if err != nil {
			return nil, err
		}
		for _, hit := range resp.Hits {
			var doc domain.LogDocument
			if err := json.Unmarshal(hit.Source, &doc); err != nil {
				s.logger.WithField("document_id", hit.ID).WithError(err).Warn("skipping malformed child document")
				continue
			}
			out = append(out, childDoc{id: hit.ID, doc: doc})
		}
		if len(resp.Hits) < s.pageSize {
			return out, nil
		}
		last := resp.Hits[len(resp.Hits)-1].Sort
		if len(last) == 0 {
			return out, nil
		}
		after = last
	}
}

// buildParentMap maps operation id to the first non-empty parent seen.
func buildParentMap(children []childDoc) map[string]string {
	parents := make(map[string]string)
	for _, c := range children {
		op, parent := c.doc.OperationID, c.doc.ParentOperationID
		if op == "" || parent == "" {
			continue
		}
		if _, ok := parents[op]; !ok {
			parents[op] = parent
		}
	}
	return parents
}

// resolveRoot walks parent links from id. On a cycle it stops at the last
// id reached before revisiting.
func resolveRoot(id string, parents map[string]string) string {
	visited := map[string]struct{}{}
	current := id
	for {
		visited[current] = struct{}{}
		parent, ok := parents[current]
		if !ok || parent == "" {
			return current
		}
		if _, seen := visited[parent]; seen {
			return current
		}
		current = parent
	}
}

// groupChildren groups children by resolved root, in order of first
// appearance. Children without an operation id are left out.
func groupChildren(children []childDoc, parents map[string]string) []*rollupGroup {
	byRoot := make(map[string]*rollupGroup)
	var order []*rollupGroup
	roots := make(map[string]string)
	for _, c := range children {
		op := c.doc.OperationID
		if op == "" {
			continue
		}
		root, ok := roots[op]
		if !ok {
			root = resolveRoot(op, parents)
			roots[op] = root
		}
		g := byRoot[root]
		if g == nil {
			g = &rollupGroup{root: root, opIDs: make(map[string]struct{})}
			byRoot[root] = g
			order = append(order, g)
		}
		g.children = append(g.children, c)
		g.opIDs[op] = struct{}{}
	}
	return order
}

// writeGroup merges the group into the root's operation document and
// deletes the folded children.
func (s *RollupService) writeGroup(ctx context.Context, g *rollupGroup, refresh bool) error {
	existing, err := s.existingEntries(ctx, g.root)
	if err != nil {
		return err
	}

	folded := make(map[string]struct{}, len(existing))
	entries := make([]domain.Entry, 0, len(existing)+len(g.children))
	for _, e := range existing {
		if e.SourceID != "" {
			folded[e.SourceID] = struct{}{}
		}
		entries = append(entries, e)
	}
	for _, c := range g.children {
		if _, dup := folded[c.id]; dup {
			continue
		}
		entries = append(entries, entryFromLog(c.id, &c.doc))
	}

	doc := BuildOperationDocument(g.root, entries)
	if _, err := s.store.Index(ctx, s.index, &repository.IndexRequest{
		ID:      g.root,
		Routing: g.root,
		Body:    doc,
		Refresh: refresh,
	}); err != nil {
		return fmt.Errorf("write parent: %w", err)
	}

	if err := s.deleteChildren(ctx, g, refresh); err != nil {
		return err
	}

	metrics.RollupChildren.Add(float64(len(g.children)))
	metrics.RollupGroups.Inc()
	s.logger.WithFields(logger.Fields{
		logger.FieldOperationID: g.root,
		logger.FieldCount:       len(g.children),
	}).Debug("operation rolled up")
	return nil
}

// existingEntries returns the entries already folded into root's
// operation document, or nil when there is none.
func (s *RollupService) existingEntries(ctx context.Context, root string) ([]domain.Entry, error) {
	resp, err := s.store.Search(ctx, s.index, &repository.SearchRequest{
		Query: map[string]any{"bool": map[string]any{"filter": []any{
			map[string]any{"ids": map[string]any{"values": []string{root}}},
			term("doc_type", domain.KindOperation),
		}}},
		Size: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("read parent: %w", err)
	}
	docs, _ := DecodeHits(resp.Hits)
	if len(docs) == 0 {
		return nil, nil
	}
	return ExpandDocument(docs[0]), nil
}

// deleteChildren removes exactly the scanned children. Restricting the
// delete to scanned ids keeps children written after the scan for the
// next pass.
func (s *RollupService) deleteChildren(ctx context.Context, g *rollupGroup, refresh bool) error {
	opIDs := make([]string, 0, len(g.opIDs))
	for id := range g.opIDs {
		opIDs = append(opIDs, id)
	}
	for start := 0; start < len(g.children); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(g.children))
		ids := make([]string, 0, end-start)
		for _, c := range g.children[start:end] {
			ids = append(ids, c.id)
		}
		_, err := s.store.DeleteByQuery(ctx, s.index, &repository.DeleteByQueryRequest{
			Query: map[string]any{"bool": map[string]any{"filter": []any{
				term("doc_type", domain.KindLogEntry),
				terms("operation_id", opIDs),
				map[string]any{"ids": map[string]any{"values": ids}},
			}}},
			ProceedOnConflicts: true,
			Slices:             "auto",
			Refresh:            refresh,
		})
		if err != nil {
			return fmt.Errorf("delete children: %w", err)
		}
	}
	return nil
}

// BuildOperationDocument aggregates entries into the operation document
// for root.
//
// Area and parent_operation_id prefer the root's own entries; area falls
// back to any entry. Unparseable timestamps are ignored for the time
// bounds, and on a tie for the latest timestamp the first entry wins
// last_message.
func BuildOperationDocument(root string, entries []domain.Entry) *domain.OperationDocument {
	doc := &domain.OperationDocument{
		DocType:       domain.Root(),
		OperationID:   root,
		CountsByLevel: make(map[string]int),
		Entries:       entries,
	}

	var (
		start, end   time.Time
		anyArea      string
		seenLevels   = make(map[levels.Level]bool)
		legacyBuffer = make([]string, 0, len(entries))
	)
	for _, e := range entries {
		if lvl, ok := levels.Normalize(e.Level); ok {
			doc.CountsByLevel[string(lvl)]++
			seenLevels[lvl] = true
			if lvl.IsError() {
				doc.ErrorCount++
			}
		}
		if ts, ok := domain.ParseTime(e.Timestamp); ok {
			if start.IsZero() || ts.Before(start) {
				start = ts
			}
			if end.IsZero() || ts.After(end) {
				end = ts
				doc.LastMessage = e.Message
			}
		}
		if e.OperationID == root {
			if doc.Area == "" && e.Area != "" {
				doc.Area = e.Area
			}
			if doc.ParentOperationID == "" && e.ParentOperationID != "" {
				doc.ParentOperationID = e.ParentOperationID
			}
		}
		if anyArea == "" && e.Area != "" {
			anyArea = e.Area
		}
		legacyBuffer = append(legacyBuffer, legacyLine(e))
	}
	if doc.Area == "" {
		doc.Area = anyArea
	}
	if !start.IsZero() {
		doc.StartTime = domain.FormatTime(start)
		doc.EndTime = domain.FormatTime(end)
		doc.Timestamp = doc.EndTime
	}
	for _, lvl := range levels.All {
		if seenLevels[lvl] {
			doc.Levels = append(doc.Levels, string(lvl))
		}
	}
	doc.Message = strings.Join(legacyBuffer, "\n")
	return doc
}
