package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/stretchr/testify/assert"
)

func TestLineFormatter(t *testing.T) {
	f := newLineFormatter(true, false)

	testCases := []struct {
		name  string
		entry domain.Entry
		want  string
	}{
		{
			name: "full entry",
			entry: domain.Entry{
				Timestamp:   "2024-01-01T12:00:00.000Z",
				Level:       "error",
				Area:        "web",
				OperationID: "op-1",
				Message:     "boom",
				Features:    map[string]any{"user": "alice", "attempt": 2},
				Exception:   "Traceback\n  at main\n",
			},
			want: "2024-01-01 12:00:00.000Z ERROR    web op-1 [attempt=2 user=alice] boom\n    Traceback\n      at main",
		},
		{
			name:  "missing area and operation",
			entry: domain.Entry{Timestamp: "2024-01-01T12:00:00.500Z", Level: "info", Message: "hi"},
			want:  "2024-01-01 12:00:00.500Z INFO     - - hi",
		},
		{
			name:  "unparseable timestamp is printed as stored",
			entry: domain.Entry{Timestamp: "yesterday", Message: "m"},
			want:  "yesterday -        - - m",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Format(tc.entry))
		})
	}
}

func TestLineFormatterLocalTime(t *testing.T) {
	f := newLineFormatter(false, false)
	f.loc = time.FixedZone("test", 2*60*60)
	line := f.Format(domain.Entry{Timestamp: "2024-01-01T12:00:00.000Z", Level: "info", Message: "m"})
	assert.True(t, strings.HasPrefix(line, "2024-01-01 14:00:00.000 "), line)
}

func TestReportError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantCode int
		wantHint string
	}{
		{
			name:     "missing index",
			err:      fmt.Errorf("tail: %w", &repository.IndexNotFoundError{Index: "devlogs-0001"}),
			wantCode: exitFailure,
			wantHint: "devlogs init",
		},
		{
			name:     "connection",
			err:      &repository.ConnectionError{StoreError: repository.StoreError{Message: "cannot reach document store"}},
			wantCode: exitFailure,
			wantHint: "DEVLOGS_OPENSEARCH_URL",
		},
		{
			name:     "auth",
			err:      &repository.AuthError{StoreError: repository.StoreError{Status: 401}},
			wantCode: exitFailure,
			wantHint: "DEVLOGS_OPENSEARCH_PASS",
		},
		{
			name:     "plain",
			err:      fmt.Errorf("--since: bad duration"),
			wantCode: exitFailure,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tc.wantCode, reportError(&buf, tc.err))
			assert.Contains(t, buf.String(), tc.err.Error())
			if tc.wantHint != "" {
				assert.Contains(t, buf.String(), tc.wantHint)
			}
		})
	}

	t.Run("interrupt is silent", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, exitInterrupted, reportError(&buf, errInterrupted))
		assert.Empty(t, buf.String())
	})
}

func TestConfirm(t *testing.T) {
	testCases := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
		{input: "yes", want: true},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q", tc.input), func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tc.want, confirm(strings.NewReader(tc.input), &out, "Delete?"))
			assert.Equal(t, "Delete? [y/N] ", out.String())
		})
	}
}
