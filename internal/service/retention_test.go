package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

var testPolicy = RetentionPolicy{Debug: 6 * time.Hour, Info: 7 * day, Warning: 30 * day}

func fixedNow() time.Time { return baseTime }

// seedRetention stores one document per interesting age and level, plus
// a rolled-up operation mixing debug and error entries.
func seedRetention(store *testutil.MemStore) {
	putChild(store, child{id: "debug-old", level: "debug", msg: "debug-old", at: -7 * time.Hour})
	putChild(store, child{id: "debug-new", level: "debug", msg: "debug-new", at: -1 * time.Hour})
	putChild(store, child{id: "info-old", level: "INFO", msg: "info-old", at: -8 * day})
	putChild(store, child{id: "info-mid", level: "info", msg: "info-mid", at: -2 * day})
	putChild(store, child{id: "error-mid", level: "error", msg: "error-mid", at: -8 * day})
	putChild(store, child{id: "error-old", level: "ERROR", msg: "error-old", at: -31 * day})
	store.Put(testIndex, "op-mixed", BuildOperationDocument("op-mixed", []domain.Entry{
		{Timestamp: ts(-8*day - time.Minute), Level: "debug", Message: "detail", OperationID: "op-mixed"},
		{Timestamp: ts(-8 * day), Level: "error", Message: "failure", OperationID: "op-mixed"},
	}))
}

func remainingIDs(store *testutil.MemStore) []string {
	var ids []string
	for _, src := range store.Sources(testIndex) {
		if msg, ok := src["message"].(string); ok && src["operation_id"] == nil {
			ids = append(ids, msg)
		} else {
			ids = append(ids, src["operation_id"].(string))
		}
	}
	return ids
}

func newRetention(store *testutil.MemStore, archiver *Archiver) *RetentionService {
	return NewRetentionService(store, logger.Discard(), &RetentionServiceConfig{
		Index:    testIndex,
		Policy:   testPolicy,
		Archiver: archiver,
		Now:      fixedNow,
	})
}

func TestCleanupTiers(t *testing.T) {
	store := testutil.NewMemStore()
	seedRetention(store)

	res, err := newRetention(store, nil).Cleanup(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Tiers, 3)
	for i, tier := range []string{TierDebug, TierInfo, TierWarning} {
		assert.Equal(t, tier, res.Tiers[i].Tier)
		assert.EqualValues(t, 1, res.Tiers[i].Matched, tier)
		assert.EqualValues(t, 1, res.Tiers[i].Deleted, tier)
	}
	assert.ElementsMatch(t, []string{"debug-new", "info-mid", "error-mid", "op-mixed"}, remainingIDs(store))
}

func TestCleanupDryRunDeletesNothing(t *testing.T) {
	store := testutil.NewMemStore()
	seedRetention(store)

	res, err := newRetention(store, nil).Cleanup(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	for _, tr := range res.Tiers {
		assert.EqualValues(t, 1, tr.Matched, tr.Tier)
		assert.Zero(t, tr.Deleted)
	}
	assert.Equal(t, 7, store.Len(testIndex))
	assert.Zero(t, store.Calls(testutil.OpDeleteByQuery))
}

func TestCleanupSkipsDisabledTiers(t *testing.T) {
	store := testutil.NewMemStore()
	seedRetention(store)
	svc := NewRetentionService(store, logger.Discard(), &RetentionServiceConfig{
		Index:  testIndex,
		Policy: RetentionPolicy{Warning: 30 * day},
		Now:    fixedNow,
	})

	res, err := svc.Cleanup(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Tiers, 1)
	assert.Equal(t, TierWarning, res.Tiers[0].Tier)
	assert.Equal(t, 6, store.Len(testIndex))
}

func TestRetentionStats(t *testing.T) {
	store := testutil.NewMemStore()
	seedRetention(store)

	stats, err := newRetention(store, nil).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RetentionStats{
		Total:    7,
		Hot:      1,
		Eligible: map[string]int64{TierDebug: 1, TierInfo: 1, TierWarning: 1},
	}, stats)
}

type archivedLine struct {
	ID     string         `json:"_id"`
	Source map[string]any `json:"_source"`
}

func readArchive(t *testing.T, objects *testutil.MemObjects, key string) []archivedLine {
	t.Helper()
	r, contentType, ok := objects.Open(key)
	require.True(t, ok, "missing object %s", key)
	assert.Equal(t, "application/x-ndjson", contentType)
	zr, err := gzip.NewReader(r)
	require.NoError(t, err)
	defer zr.Close()

	var lines []archivedLine
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var line archivedLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, sc.Err())
	return lines
}

func newTestArchiver(store *testutil.MemStore, objects *testutil.MemObjects) *Archiver {
	return NewArchiver(store, objects, logger.Discard(), &ArchiverConfig{
		Index:  testIndex,
		Prefix: "/archive/",
		Now:    fixedNow,
	})
}

func TestCleanupArchivesBeforeDelete(t *testing.T) {
	store := testutil.NewMemStore()
	seedRetention(store)
	objects := testutil.NewMemObjects()

	res, err := newRetention(store, newTestArchiver(store, objects)).Cleanup(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"archive/devlogs-test/debug/20240101T120000Z.ndjson.gz",
		"archive/devlogs-test/info/20240101T120000Z.ndjson.gz",
		"archive/devlogs-test/warning/20240101T120000Z.ndjson.gz",
	}, objects.Keys())
	for _, tr := range res.Tiers {
		assert.Equal(t, 1, tr.Archived)
		assert.NotEmpty(t, tr.ArchiveKey)
	}

	lines := readArchive(t, objects, res.Tiers[0].ArchiveKey)
	require.Len(t, lines, 1)
	assert.Equal(t, "debug-old", lines[0].ID)
	assert.Equal(t, "debug-old", lines[0].Source["message"])
}

func TestCleanupArchiveFailureKeepsDocuments(t *testing.T) {
	store := testutil.NewMemStore()
	seedRetention(store)
	objects := testutil.NewMemObjects()
	objects.FailUploads(errors.New("bucket gone"))

	_, err := newRetention(store, newTestArchiver(store, objects)).Cleanup(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, 7, store.Len(testIndex))
	assert.Zero(t, store.Calls(testutil.OpDeleteByQuery))
}

func TestArchiveKeys(t *testing.T) {
	store := testutil.NewMemStore()
	for i, msg := range seq("m", 3) {
		putChild(store, child{id: msg, level: "info", msg: msg, at: time.Duration(i) * time.Second})
	}
	objects := testutil.NewMemObjects()
	a := newTestArchiver(store, objects)
	all := map[string]any{"match_all": map[string]any{}}

	first, err := a.Archive(context.Background(), TierInfo, all)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Documents)
	assert.Positive(t, first.Bytes)

	second, err := a.Archive(context.Background(), TierInfo, all)
	require.NoError(t, err)
	assert.Equal(t, "archive/devlogs-test/info/20240101T120000Z-1.ndjson.gz", second.Key)

	lines := readArchive(t, objects, first.Key)
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	none, err := a.Archive(context.Background(), TierInfo, map[string]any{"term": map[string]any{"level": "critical"}})
	require.NoError(t, err)
	assert.Zero(t, none.Documents)
	assert.Len(t, objects.Keys(), 2)
}
