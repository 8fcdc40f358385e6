package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/ingest"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/operation"
	"github.com/dandriscoll/devlogs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupAggregation(t *testing.T) {
	store := testutil.NewMemStore()
	putChild(store, child{id: "c1", op: "op-1", level: "info", msg: "started", at: 1 * time.Second})
	putChild(store, child{id: "c2", op: "op-1", level: "error", msg: "retrying", at: 2 * time.Second})
	putChild(store, child{id: "c3", op: "op-1", level: "ERROR", msg: "gave up", at: 3 * time.Second})
	putChild(store, child{id: "other", op: "op-2", level: "info", msg: "unrelated", at: 4 * time.Second})

	written, err := newRollup(store).Rollup(context.Background(), "op-1", RollupOptions{Refresh: true})
	require.NoError(t, err)
	assert.True(t, written)

	doc := parentDoc(t, store, "op-1")
	assert.Equal(t, map[string]int{"info": 1, "error": 2}, doc.CountsByLevel)
	assert.Equal(t, 2, doc.ErrorCount)
	assert.Equal(t, ts(1*time.Second), doc.StartTime)
	assert.Equal(t, ts(3*time.Second), doc.EndTime)
	assert.Equal(t, ts(3*time.Second), doc.Timestamp)
	assert.Equal(t, "gave up", doc.LastMessage)
	assert.Equal(t, []string{"info", "error"}, doc.Levels)
	assert.Len(t, doc.Entries, 3)
	assert.Equal(t, domain.KindOperation, doc.DocType.Name)

	assert.Zero(t, childCount(store, "op-1"))
	assert.Equal(t, 1, childCount(store, "op-2"), "other operations are untouched")
	assert.Equal(t, 1, store.Calls(testutil.OpRefresh))
}

func TestRollupIsIdempotent(t *testing.T) {
	store := testutil.NewMemStore()
	putChild(store, child{id: "c1", op: "op-1", level: "info", msg: "a", at: time.Second})
	putChild(store, child{id: "c2", op: "op-1", level: "warning", msg: "b", at: 2 * time.Second})
	svc := newRollup(store)

	written, err := svc.Rollup(context.Background(), "op-1", RollupOptions{})
	require.NoError(t, err)
	require.True(t, written)
	first := store.Get(testIndex, "op-1")

	written, err = svc.Rollup(context.Background(), "op-1", RollupOptions{})
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, first, store.Get(testIndex, "op-1"))
}

func TestNestedRollupGroupsUnderRoot(t *testing.T) {
	seed := func() *testutil.MemStore {
		store := testutil.NewMemStore()
		putChild(store, child{id: "i1", op: "inner", parent: "outer", level: "info", msg: "inner work", area: "inner-area", at: 1 * time.Second})
		putChild(store, child{id: "o1", op: "outer", level: "info", msg: "outer start", area: "outer-area", at: 2 * time.Second})
		putChild(store, child{id: "i2", op: "inner", parent: "outer", level: "error", msg: "inner failed", area: "inner-area", at: 3 * time.Second})
		return store
	}

	t.Run("batch", func(t *testing.T) {
		store := seed()
		stats, err := newRollup(store).RollupOperations(context.Background(), time.Time{})
		require.NoError(t, err)
		assert.Equal(t, &RollupStats{Children: 3, Groups: 1}, stats)

		doc := parentDoc(t, store, "outer")
		assert.Equal(t, "outer-area", doc.Area)
		assert.Len(t, doc.Entries, 3)
		assert.Empty(t, doc.ParentOperationID)
		assert.Nil(t, store.Get(testIndex, "inner"))
		assert.Zero(t, childCount(store, "inner"))
		assert.Zero(t, childCount(store, "outer"))
	})

	t.Run("single operation from the inner id", func(t *testing.T) {
		store := seed()
		written, err := newRollup(store).Rollup(context.Background(), "inner", RollupOptions{})
		require.NoError(t, err)
		assert.True(t, written)
		assert.Len(t, parentDoc(t, store, "outer").Entries, 3)
	})
}

func TestRollupAreaFallsBackToDescendants(t *testing.T) {
	store := testutil.NewMemStore()
	putChild(store, child{id: "o1", op: "outer", level: "info", msg: "no area", at: time.Second})
	putChild(store, child{id: "i1", op: "inner", parent: "outer", level: "info", msg: "tagged", area: "jobs", at: 2 * time.Second})

	_, err := newRollup(store).Rollup(context.Background(), "outer", RollupOptions{})
	require.NoError(t, err)
	assert.Equal(t, "jobs", parentDoc(t, store, "outer").Area)
}

func TestRollupPropagatesRootParent(t *testing.T) {
	store := testutil.NewMemStore()
	// "root" was nested under an operation whose entries are gone.
	putChild(store, child{id: "r1", op: "root", parent: "ghost", level: "info", msg: "x", at: time.Second})

	stats, err := newRollup(store).RollupOperations(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Groups)
	doc := parentDoc(t, store, "ghost")
	assert.Len(t, doc.Entries, 1)
}

func TestRollupMergesLateChildren(t *testing.T) {
	store := testutil.NewMemStore()
	svc := newRollup(store)
	putChild(store, child{id: "c1", op: "op-1", level: "info", msg: "first", at: time.Second})
	_, err := svc.Rollup(context.Background(), "op-1", RollupOptions{})
	require.NoError(t, err)

	putChild(store, child{id: "c2", op: "op-1", level: "error", msg: "late", at: 5 * time.Second})
	written, err := svc.Rollup(context.Background(), "op-1", RollupOptions{})
	require.NoError(t, err)
	require.True(t, written)

	doc := parentDoc(t, store, "op-1")
	assert.Equal(t, []string{"first", "late"}, messages(doc.Entries))
	assert.Equal(t, map[string]int{"info": 1, "error": 1}, doc.CountsByLevel)
	assert.Equal(t, "late", doc.LastMessage)
}

func TestRollupIncrementalSince(t *testing.T) {
	store := testutil.NewMemStore()
	putChild(store, child{id: "old", op: "op-old", level: "info", msg: "old", at: -time.Hour})
	putChild(store, child{id: "new", op: "op-new", level: "info", msg: "new", at: time.Second})

	stats, err := newRollup(store).RollupOperations(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, &RollupStats{Children: 1, Groups: 1}, stats)
	assert.Equal(t, 1, childCount(store, "op-old"))
}

func TestRollupSkipsDocumentsWithoutOperation(t *testing.T) {
	store := testutil.NewMemStore()
	store.Put(testIndex, "orphan", map[string]any{
		"doc_type":  map[string]any{"name": "log_entry", "parent": "x"},
		"timestamp": ts(0),
		"message":   "no operation id",
	})
	stats, err := newRollup(store).RollupOperations(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, &RollupStats{}, stats)
	assert.Equal(t, 1, store.Len(testIndex))
}

func TestRollupSurfacesStoreErrors(t *testing.T) {
	store := testutil.NewMemStore()
	putChild(store, child{id: "c1", op: "op-1", level: "info", msg: "a", at: 0})
	store.FailWith(testutil.OpIndex, errors.New("disk full"))

	_, err := newRollup(store).Rollup(context.Background(), "op-1", RollupOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, childCount(store, "op-1"), "children survive a failed parent write")
}

func TestResolveRoot(t *testing.T) {
	testCases := []struct {
		name    string
		parents map[string]string
		id      string
		want    string
	}{
		{name: "no parent", parents: map[string]string{}, id: "a", want: "a"},
		{name: "chain", parents: map[string]string{"c": "b", "b": "a"}, id: "c", want: "a"},
		{name: "two cycle", parents: map[string]string{"a": "b", "b": "a"}, id: "a", want: "b"},
		{name: "self cycle", parents: map[string]string{"a": "a"}, id: "a", want: "a"},
		{name: "cycle behind chain", parents: map[string]string{"x": "a", "a": "b", "b": "a"}, id: "x", want: "b"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveRoot(tc.id, tc.parents))
		})
	}
}

func TestBuildParentMapKeepsFirstParent(t *testing.T) {
	children := []childDoc{
		{id: "1", doc: domain.LogDocument{OperationID: "a"}},
		{id: "2", doc: domain.LogDocument{OperationID: "a", ParentOperationID: "p1"}},
		{id: "3", doc: domain.LogDocument{OperationID: "a", ParentOperationID: "p2"}},
	}
	assert.Equal(t, map[string]string{"a": "p1"}, buildParentMap(children))
}

func TestBuildOperationDocument(t *testing.T) {
	line := 7
	entries := []domain.Entry{
		{Timestamp: ts(2 * time.Second), Level: "error", Message: "tie-first", OperationID: "op"},
		{Timestamp: ts(2 * time.Second), Level: "info", Message: "tie-second", OperationID: "op"},
		{Timestamp: "not a time", Level: "verbose", Message: "odd", OperationID: "op", Lineno: &line},
		{Timestamp: ts(1 * time.Second), Level: "CRITICAL", Message: "early", OperationID: "op", ParentOperationID: "up"},
	}
	doc := BuildOperationDocument("op", entries)

	assert.Equal(t, map[string]int{"error": 1, "info": 1, "critical": 1}, doc.CountsByLevel)
	assert.Equal(t, 2, doc.ErrorCount)
	assert.Equal(t, "tie-first", doc.LastMessage)
	assert.Equal(t, ts(1*time.Second), doc.StartTime)
	assert.Equal(t, ts(2*time.Second), doc.EndTime)
	assert.Equal(t, "up", doc.ParentOperationID)
	assert.Len(t, doc.Entries, 4)
	assert.Equal(t, ts(2*time.Second)+" error  tie-first", firstLine(doc.Message))
}

func firstLine(s string) string {
	for i := range s {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func TestOperationScopeTriggersRollup(t *testing.T) {
	store := testutil.NewMemStore()
	rollup := newRollup(store)
	tracker := operation.NewTracker(rollup, logger.Discard())
	emitter := ingest.NewEmitter(store, &ingest.EmitterConfig{
		Index:   testIndex,
		Breaker: ingest.NewBreaker(&ingest.BreakerConfig{Logger: logger.Discard()}),
	})

	err := tracker.Run(context.Background(), func(ctx context.Context) error {
		emitter.Emit(ctx, ingest.Record{Level: "info", Message: "outer begins"})
		return tracker.Run(ctx, func(ctx context.Context) error {
			emitter.Emit(ctx, ingest.Record{Level: "error", Message: "inner fails"})
			assert.Equal(t, 0, store.Calls(testutil.OpRefresh), "inner scope does not roll up")
			return nil
		}, operation.WithID("job-inner"))
	}, operation.WithID("job"), operation.WithScopeArea("worker"))
	require.NoError(t, err)

	doc := parentDoc(t, store, "job")
	assert.Equal(t, []string{"outer begins", "inner fails"}, messages(doc.Entries))
	assert.Equal(t, "worker", doc.Area)
	assert.Equal(t, 1, doc.ErrorCount)
	assert.Zero(t, childCount(store, "job"))
	assert.Zero(t, childCount(store, "job-inner"))
}

func TestAutoRollupFailureDoesNotReachCaller(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailWith(testutil.OpRefresh, errors.New("store down"))
	tracker := operation.NewTracker(newRollup(store), logger.Discard())

	called := false
	err := tracker.Run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

type memRuns struct {
	created, updated []domain.RollupRun
}

func (m *memRuns) Create(ctx context.Context, run *domain.RollupRun) error {
	m.created = append(m.created, *run)
	return nil
}

func (m *memRuns) Update(ctx context.Context, run *domain.RollupRun) error {
	m.updated = append(m.updated, *run)
	return nil
}

func TestRunRecordsOutcome(t *testing.T) {
	t.Run("batch", func(t *testing.T) {
		store := testutil.NewMemStore()
		putChild(store, child{id: "c1", op: "a", level: "info", msg: "x", at: time.Second})
		putChild(store, child{id: "c2", op: "b", level: "info", msg: "y", at: 2 * time.Second})
		runs := &memRuns{}

		run, err := newRollup(store).Run(context.Background(), runs, RollupRequest{Since: baseTime})
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, run.Status)
		assert.Equal(t, 2, run.Children)
		assert.Equal(t, 2, run.Groups)
		assert.Equal(t, ts(0), run.Since)
		require.Len(t, runs.created, 1)
		assert.Equal(t, domain.RunStatusRunning, runs.created[0].Status)
		require.Len(t, runs.updated, 1)
		assert.Equal(t, run.ID, runs.updated[0].ID)
		assert.NotNil(t, runs.updated[0].CompletedAt)
	})

	t.Run("single operation", func(t *testing.T) {
		store := testutil.NewMemStore()
		putChild(store, child{id: "c1", op: "a", level: "info", msg: "x", at: time.Second})
		putChild(store, child{id: "c2", op: "a", level: "info", msg: "y", at: 2 * time.Second})

		run, err := newRollup(store).Run(context.Background(), nil, RollupRequest{OperationID: "a"})
		require.NoError(t, err)
		assert.Equal(t, 2, run.Children)
		assert.Equal(t, 1, run.Groups)
		assert.Equal(t, "a", run.OperationID)
	})

	t.Run("failure", func(t *testing.T) {
		store := testutil.NewMemStore()
		putChild(store, child{id: "c1", op: "a", level: "info", msg: "x", at: time.Second})
		store.FailWith(testutil.OpSearch, errors.New("timeout"))
		runs := &memRuns{}

		run, err := newRollup(store).Run(context.Background(), runs, RollupRequest{})
		require.Error(t, err)
		assert.Equal(t, domain.RunStatusFailed, run.Status)
		assert.Contains(t, run.ErrorLog, "timeout")
		require.Len(t, runs.updated, 1)
		assert.Equal(t, domain.RunStatusFailed, runs.updated[0].Status)
	})
}
