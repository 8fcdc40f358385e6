package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/operation"
	"github.com/dandriscoll/devlogs/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIndex = "devlogs-test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEmitter(t *testing.T, mode Mode) (*Emitter, *testutil.MemStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := testutil.NewMemStore()
	breaker := NewBreaker(&BreakerConfig{Now: clock.Now, Logger: logger.Discard()})
	return NewEmitter(store, &EmitterConfig{Index: testIndex, Mode: mode, Breaker: breaker}), store, clock
}

func TestBreakerSkipsWritesDuringCooldown(t *testing.T) {
	emitter, store, clock := newTestEmitter(t, ModeBasic)
	store.FailWith(testutil.OpIndex, errors.New("connection refused"))

	emitter.Emit(context.Background(), Record{Message: "first", Level: "info"})
	assert.Equal(t, 1, store.Calls(testutil.OpIndex))
	assert.Equal(t, BreakerOpen, emitter.Breaker().State())

	for i := 0; i < 5; i++ {
		emitter.Emit(context.Background(), Record{Message: "dropped", Level: "info"})
	}
	assert.Equal(t, 1, store.Calls(testutil.OpIndex), "no write attempts while open")

	clock.Advance(59 * time.Second)
	emitter.Emit(context.Background(), Record{Message: "still dropped"})
	assert.Equal(t, 1, store.Calls(testutil.OpIndex))

	store.FailWith(testutil.OpIndex, nil)
	clock.Advance(2 * time.Second)
	emitter.Emit(context.Background(), Record{Message: "retry", Level: "info"})
	assert.Equal(t, 2, store.Calls(testutil.OpIndex))
	assert.Equal(t, BreakerClosed, emitter.Breaker().State())
	assert.Equal(t, 1, store.Len(testIndex))
}

func TestBreakerReopensOnFailedRetry(t *testing.T) {
	emitter, store, clock := newTestEmitter(t, ModeBasic)
	store.FailWith(testutil.OpIndex, errors.New("down"))

	emitter.Emit(context.Background(), Record{Message: "a"})
	clock.Advance(61 * time.Second)
	emitter.Emit(context.Background(), Record{Message: "b"})
	assert.Equal(t, 2, store.Calls(testutil.OpIndex))

	emitter.Emit(context.Background(), Record{Message: "c"})
	assert.Equal(t, 2, store.Calls(testutil.OpIndex), "failed retry starts a new cool-down")
	assert.Equal(t, clock.Now().Add(DefaultCooldown), emitter.Breaker().OpenUntil())
}

func TestBreakerIsSharedAcrossEmitters(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	breaker := NewBreaker(&BreakerConfig{Now: clock.Now, Logger: logger.Discard()})
	store := testutil.NewMemStore()
	store.FailWith(testutil.OpIndex, errors.New("down"))

	first := NewEmitter(store, &EmitterConfig{Index: testIndex, Breaker: breaker})
	second := NewEmitter(store, &EmitterConfig{Index: testIndex, Breaker: breaker})

	first.Emit(context.Background(), Record{Message: "x"})
	second.Emit(context.Background(), Record{Message: "y"})
	assert.Equal(t, 1, store.Calls(testutil.OpIndex))
}

func TestConfigureDefaultBreakerKeepsState(t *testing.T) {
	shared := DefaultBreaker()
	shared.Reset()
	t.Cleanup(func() {
		ConfigureDefaultBreaker(nil)
		shared.Reset()
	})

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := testutil.NewMemStore()
	store.FailWith(testutil.OpIndex, errors.New("down"))

	cfg := &BreakerConfig{Cooldown: 5 * time.Second, Now: clock.Now, Logger: logger.Discard()}
	first := NewEmitter(store, &EmitterConfig{Index: testIndex, Breaker: ConfigureDefaultBreaker(cfg)})
	first.Emit(context.Background(), Record{Message: "x"})
	assert.Equal(t, clock.Now().Add(5*time.Second), shared.OpenUntil())

	// A handler configured later joins the open breaker.
	second := NewEmitter(store, &EmitterConfig{Index: testIndex, Breaker: ConfigureDefaultBreaker(cfg)})
	assert.Same(t, shared, second.Breaker())
	second.Emit(context.Background(), Record{Message: "y"})
	assert.Equal(t, 1, store.Calls(testutil.OpIndex))

	third := NewEmitter(store, &EmitterConfig{Index: testIndex})
	assert.Same(t, shared, third.Breaker())
}

func TestDocumentShape(t *testing.T) {
	tracker := operation.NewTracker(nil, logger.Discard())

	t.Run("child of ambient operation", func(t *testing.T) {
		emitter, _, _ := newTestEmitter(t, ModeBasic)
		outer, outerScope := tracker.Start(context.Background(), operation.WithID("outer"))
		defer outerScope.End()
		ctx, scope := tracker.Start(outer, operation.WithID("inner"), operation.WithScopeArea("jobs"))
		defer scope.End()

		doc, routing := emitter.Document(ctx, Record{Message: "hi", Level: "WARN"})
		assert.Equal(t, "inner", routing)
		assert.Equal(t, "log_entry", doc.DocType.Name)
		assert.Equal(t, "inner", doc.DocType.Parent)
		assert.Equal(t, "inner", doc.OperationID)
		assert.Equal(t, "outer", doc.ParentOperationID)
		assert.Equal(t, "jobs", doc.Area)
		assert.Equal(t, "warning", doc.Level)
		assert.Equal(t, 30, doc.LevelNo)
	})

	t.Run("record overrides context", func(t *testing.T) {
		emitter, _, _ := newTestEmitter(t, ModeBasic)
		ctx, scope := tracker.Start(context.Background(), operation.WithID("ambient"), operation.WithScopeArea("web"))
		defer scope.End()

		doc, routing := emitter.Document(ctx, Record{Message: "hi", Area: "billing", OperationID: "explicit"})
		assert.Equal(t, "explicit", routing)
		assert.Equal(t, "explicit", doc.OperationID)
		assert.Empty(t, doc.ParentOperationID)
		assert.Equal(t, "billing", doc.Area)
	})

	t.Run("basic without operation", func(t *testing.T) {
		emitter, _, _ := newTestEmitter(t, ModeBasic)
		doc, routing := emitter.Document(context.Background(), Record{Message: "hi"})
		assert.Empty(t, routing)
		assert.Empty(t, doc.OperationID)
		assert.Equal(t, "operation", doc.DocType.Name)
		assert.Empty(t, doc.DocType.Parent)
	})

	t.Run("diagnostics synthesizes an operation", func(t *testing.T) {
		emitter, _, _ := newTestEmitter(t, ModeDiagnostics)
		doc, routing := emitter.Document(context.Background(), Record{Message: "hi"})
		require.NotEmpty(t, doc.OperationID)
		assert.Equal(t, doc.OperationID, routing)
		assert.Equal(t, "operation", doc.DocType.Name)
	})

	t.Run("default area", func(t *testing.T) {
		store := testutil.NewMemStore()
		emitter := NewEmitter(store, &EmitterConfig{Index: testIndex, DefaultArea: "general", Breaker: NewBreaker(&BreakerConfig{Logger: logger.Discard()})})
		doc, _ := emitter.Document(context.Background(), Record{Message: "hi"})
		assert.Equal(t, "general", doc.Area)
	})

	t.Run("timestamp is canonical UTC", func(t *testing.T) {
		emitter, _, _ := newTestEmitter(t, ModeBasic)
		ts := time.Date(2024, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("X", 3600))
		doc, _ := emitter.Document(context.Background(), Record{Time: ts, Message: "hi"})
		assert.Equal(t, "2024-03-04T04:06:07.891Z", string(doc.Timestamp))
	})
}

func TestEmitWritesRoutedChild(t *testing.T) {
	emitter, store, _ := newTestEmitter(t, ModeBasic)
	ctx, scope := operation.NewTracker(nil, logger.Discard()).Start(context.Background(), operation.WithID("op-1"))
	defer scope.End()

	emitter.Emit(ctx, Record{Message: "stored", Level: "error", Features: map[string]any{"user": "alice"}})

	sources := store.Sources(testIndex)
	require.Len(t, sources, 1)
	assert.Equal(t, "stored", sources[0]["message"])
	assert.Equal(t, "op-1", sources[0]["operation_id"])
	assert.Equal(t, map[string]any{"name": "log_entry", "parent": "op-1"}, sources[0]["doc_type"])
	assert.Equal(t, map[string]any{"user": "alice"}, sources[0]["features"])
}

func TestNormalizeFeatures(t *testing.T) {
	type custom struct{ A int }
	testCases := []struct {
		name  string
		input any
		want  map[string]any
	}{
		{name: "nil", input: nil, want: nil},
		{name: "empty map", input: map[string]any{}, want: nil},
		{name: "primitives kept", input: map[string]any{"s": "x", "b": true, "i": 3, "f": 1.5, "n": nil},
			want: map[string]any{"s": "x", "b": true, "i": int64(3), "f": 1.5, "n": nil}},
		{name: "keys stringified and trimmed", input: map[any]any{1: "one", " k ": "v", "": "blank"},
			want: map[string]any{"1": "one", "k": "v"}},
		{name: "complex values rendered", input: map[string]any{"list": []int{1, 2}, "obj": custom{A: 1}},
			want: map[string]any{"list": "[1 2]", "obj": "{1}"}},
		{name: "errors rendered by message", input: map[string]any{"err": errors.New("boom")},
			want: map[string]any{"err": "boom"}},
		{name: "pairs", input: [][]any{{"a", 1}, {"b"}, {"c", "x", "y"}, {nil, 2}},
			want: map[string]any{"a": int64(1)}},
		{name: "unsupported scalar", input: "just a string", want: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeFeatures(tc.input))
		})
	}
}

func TestHookFire(t *testing.T) {
	emitter, store, _ := newTestEmitter(t, ModeBasic)
	log := logrus.New()
	log.SetOutput(discardWriter{})
	log.SetLevel(logrus.DebugLevel)
	log.AddHook(NewHook(emitter, &HookConfig{MinLevel: logrus.InfoLevel, LoggerName: "app"}))

	ctx, scope := operation.NewTracker(nil, logger.Discard()).Start(context.Background(), operation.WithID("op-9"))
	defer scope.End()

	log.WithContext(ctx).WithFields(logrus.Fields{
		"area":     "payments",
		"logger":   "app.billing",
		"features": map[string]any{"plan": "pro"},
		"attempt":  2,
	}).WithError(errors.New("card declined")).Error("charge failed")
	log.WithContext(ctx).Debug("below the hook level")

	sources := store.Sources(testIndex)
	require.Len(t, sources, 1)
	src := sources[0]
	assert.Equal(t, "charge failed", src["message"])
	assert.Equal(t, "error", src["level"])
	assert.Equal(t, "payments", src["area"])
	assert.Equal(t, "app.billing", src["logger_name"])
	assert.Equal(t, "op-9", src["operation_id"])
	assert.Equal(t, "card declined", src["exception"])
	assert.Equal(t, map[string]any{"plan": "pro", "attempt": float64(2)}, src["features"])
}

func TestHookThreadField(t *testing.T) {
	testCases := []struct {
		name        string
		value       any
		wantThread  any
		wantFeature any
	}{
		{name: "numeric id", value: int64(7), wantThread: float64(7)},
		{name: "int id", value: 12, wantThread: float64(12)},
		{name: "non-numeric stays a feature", value: "worker-a", wantFeature: "worker-a"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			emitter, store, _ := newTestEmitter(t, ModeBasic)
			log := logrus.New()
			log.SetOutput(discardWriter{})
			log.AddHook(NewHook(emitter, nil))

			log.WithField(KeyThread, tc.value).Warn("queued")

			sources := store.Sources(testIndex)
			require.Len(t, sources, 1)
			assert.Equal(t, tc.wantThread, sources[0]["thread"])
			assert.NotNil(t, sources[0]["process"])
			if tc.wantFeature == nil {
				assert.Nil(t, sources[0]["features"])
			} else {
				assert.Equal(t, map[string]any{"thread": tc.wantFeature}, sources[0]["features"])
			}
		})
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
