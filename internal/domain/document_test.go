package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocTypeJSON(t *testing.T) {
	testCases := []struct {
		name    string
		docType DocType
		want    string
	}{
		{name: "root", docType: Root(), want: `"operation"`},
		{name: "child", docType: ChildOf("op-1"), want: `{"name":"log_entry","parent":"op-1"}`},
		{name: "zero", docType: DocType{}, want: `null`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.docType)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b))

			var back DocType
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, tc.docType, back)
		})
	}
}

func TestTimestampAcceptsEpochSeconds(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1700000000.5`), &ts))
	assert.Equal(t, Timestamp("2023-11-14T22:13:20.500Z"), ts)

	parsed, ok := ts.Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 500_000_000, time.UTC), parsed)
}

func TestParseTime(t *testing.T) {
	testCases := []struct {
		input string
		ok    bool
	}{
		{input: "2024-01-02T03:04:05.123Z", ok: true},
		{input: "2024-01-02T03:04:05+02:00", ok: true},
		{input: "2024-01-02T03:04:05.123456", ok: true},
		{input: "2024-01-02 03:04:05", ok: true},
		{input: "yesterday", ok: false},
		{input: "", ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			_, ok := ParseTime(tc.input)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestDecodeDocumentVariants(t *testing.T) {
	meta := DocumentMeta{ID: "doc-1", Sort: []any{float64(1), "doc-1"}}

	t.Run("child log entry", func(t *testing.T) {
		doc, err := DecodeDocument(meta, json.RawMessage(`{
			"doc_type": {"name": "log_entry", "parent": "op-1"},
			"timestamp": "2024-01-01T00:00:00.000Z",
			"level": "info", "message": "hello", "operation_id": "op-1",
			"lineno": 12, "features": {"user": "u1"}
		}`))
		require.NoError(t, err)
		entry, ok := doc.(*LogEntryDocument)
		require.True(t, ok, "got %T", doc)
		assert.Equal(t, "op-1", entry.DocType.Parent)
		assert.Equal(t, 12, *entry.Lineno)
		assert.Equal(t, "u1", entry.Features["user"])
		assert.Equal(t, meta, entry.Meta())
	})

	t.Run("untyped legacy entry", func(t *testing.T) {
		doc, err := DecodeDocument(meta, json.RawMessage(`{"timestamp":"2024-01-01T00:00:00Z","level":"INFO","message":"x"}`))
		require.NoError(t, err)
		_, ok := doc.(*LogEntryDocument)
		assert.True(t, ok)
	})

	t.Run("standalone root without rollup fields", func(t *testing.T) {
		doc, err := DecodeDocument(meta, json.RawMessage(`{"doc_type":"operation","timestamp":"2024-01-01T00:00:00Z","level":"warning","message":"solo"}`))
		require.NoError(t, err)
		entry, ok := doc.(*LogEntryDocument)
		require.True(t, ok, "got %T", doc)
		assert.Equal(t, "solo", entry.Message)
	})

	t.Run("aggregate skips malformed entries", func(t *testing.T) {
		doc, err := DecodeDocument(meta, json.RawMessage(`{
			"doc_type": "operation", "operation_id": "op-1",
			"counts_by_level": {"info": 1}, "level": ["info"],
			"entries": [{"timestamp": "2024-01-01T00:00:00.000Z", "level": "info", "message": "a"}, "junk", 7]
		}`))
		require.NoError(t, err)
		agg, ok := doc.(*OperationAggregate)
		require.True(t, ok, "got %T", doc)
		assert.Len(t, agg.Entries, 1)
		assert.Equal(t, 2, agg.SkippedEntries)
		assert.Equal(t, []string{"info"}, agg.Levels)
	})

	t.Run("legacy blob", func(t *testing.T) {
		doc, err := DecodeDocument(meta, json.RawMessage(`{
			"doc_type": "operation", "operation_id": "op-9", "area": "jobs",
			"start_time": "2024-01-01T00:00:00Z",
			"message": "2024-01-01T00:00:00Z INFO app started\n2024-01-01T00:00:01Z ERROR app failed"
		}`))
		require.NoError(t, err)
		blob, ok := doc.(*LegacyOperationBlob)
		require.True(t, ok, "got %T", doc)
		assert.Equal(t, "op-9", blob.OperationID)
		assert.Equal(t, "jobs", blob.Area)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := DecodeDocument(meta, json.RawMessage(`["nope"]`))
		assert.Error(t, err)
	})

	t.Run("wrong field type", func(t *testing.T) {
		_, err := DecodeDocument(meta, json.RawMessage(`{"message": {"nested": true}}`))
		assert.Error(t, err)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{float64(1704067200000), "abc"}
	parsed, err := ParseCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	empty, err := ParseCursor("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = ParseCursor("!!!")
	assert.Error(t, err)
}
