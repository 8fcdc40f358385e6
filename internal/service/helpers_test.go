package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/testutil"
	"github.com/stretchr/testify/require"
)

const testIndex = "devlogs-test"

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func ts(offset time.Duration) string {
	return domain.FormatTime(baseTime.Add(offset))
}

type child struct {
	id, op, parent, level, msg, area string
	at                               time.Duration
}

func putChild(store *testutil.MemStore, c child) {
	doc := domain.LogDocument{
		Timestamp:         domain.Timestamp(ts(c.at)),
		Level:             c.level,
		LoggerName:        "app",
		Message:           c.msg,
		Area:              c.area,
		OperationID:       c.op,
		ParentOperationID: c.parent,
	}
	if c.op != "" {
		doc.DocType = domain.ChildOf(c.op)
	} else {
		doc.DocType = domain.Root()
	}
	store.Put(testIndex, c.id, doc)
}

func newRollup(store *testutil.MemStore) *RollupService {
	return NewRollupService(store, logger.Discard(), &RollupServiceConfig{Index: testIndex, PageSize: 2})
}

func newLogs(store *testutil.MemStore) *LogService {
	return NewLogService(store, logger.Discard(), &LogServiceConfig{Index: testIndex})
}

func parentDoc(t *testing.T, store *testutil.MemStore, id string) *domain.OperationDocument {
	t.Helper()
	src := store.Get(testIndex, id)
	require.NotNil(t, src, "no operation document %s", id)
	b, err := json.Marshal(src)
	require.NoError(t, err)
	doc, err := domain.DecodeDocument(domain.DocumentMeta{ID: id}, b)
	require.NoError(t, err)
	agg, ok := doc.(*domain.OperationAggregate)
	require.True(t, ok, "document %s is %T", id, doc)
	return &agg.OperationDocument
}

func childCount(store *testutil.MemStore, op string) int {
	n := 0
	for _, src := range store.Sources(testIndex) {
		dt, _ := src["doc_type"].(map[string]any)
		if dt != nil && dt["name"] == domain.KindLogEntry && src["operation_id"] == op {
			n++
		}
	}
	return n
}

func messages(entries []domain.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func seq(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}
