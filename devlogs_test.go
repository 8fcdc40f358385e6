package devlogs

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/ingest"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/operation"
	"github.com/dandriscoll/devlogs/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIndex = "devlogs-test"

// newTestClient builds a client on store. Clients share the process-wide
// breaker, so it is closed again when the test ends.
func newTestClient(t *testing.T, store *testutil.MemStore, opts *Options) *Client {
	t.Helper()
	breaker := ingest.DefaultBreaker()
	breaker.Reset()
	t.Cleanup(breaker.Reset)
	cfg := &config.Config{Index: testIndex, AreaDefault: "app"}
	return newClient(store, cfg, opts, logger.Discard())
}

func newHostLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.DebugLevel)
	return log
}

func TestClientRollsUpScopes(t *testing.T) {
	store := testutil.NewMemStore()
	client := newTestClient(t, store, &Options{LoggerName: "shop"})
	log := newHostLogger()
	log.AddHook(client.Hook())

	err := client.Tracker().Run(context.Background(), func(ctx context.Context) error {
		log.WithContext(ctx).WithField("cart", 3).Info("checkout started")
		return client.Tracker().Run(ctx, func(ctx context.Context) error {
			assert.NotEmpty(t, OperationID(ctx))
			log.WithContext(ctx).Error("card declined")
			return nil
		})
	}, WithID("checkout"), WithArea("billing"))
	require.NoError(t, err)

	sources := store.Sources(testIndex)
	require.Len(t, sources, 1)
	doc := sources[0]
	assert.Equal(t, "checkout", doc["operation_id"])
	assert.Equal(t, "billing", doc["area"])
	assert.EqualValues(t, 1, doc["error_count"])

	entries := doc["entries"].([]any)
	require.Len(t, entries, 2)
	byMessage := make(map[string]map[string]any)
	for _, e := range entries {
		m := e.(map[string]any)
		byMessage[m["message"].(string)] = m
	}
	started := byMessage["checkout started"]
	require.NotNil(t, started)
	assert.Equal(t, "shop", started["logger_name"])
	assert.EqualValues(t, 3, started["features"].(map[string]any)["cart"])
	require.NotNil(t, byMessage["card declined"])
}

func TestClientWithoutScopeUsesDefaultArea(t *testing.T) {
	store := testutil.NewMemStore()
	client := newTestClient(t, store, nil)
	client.Emitter().Emit(context.Background(), Record{Level: "warning", Message: "disk low"})

	sources := store.Sources(testIndex)
	require.Len(t, sources, 1)
	assert.Equal(t, "app", sources[0]["area"])
	assert.Nil(t, sources[0]["operation_id"])
}

func TestClientDiagnosticsAssignsOperation(t *testing.T) {
	store := testutil.NewMemStore()
	client := newTestClient(t, store, &Options{Diagnostics: true})
	client.Emitter().Emit(context.Background(), Record{Level: "info", Message: "standalone"})

	sources := store.Sources(testIndex)
	require.Len(t, sources, 1)
	assert.NotEmpty(t, sources[0]["operation_id"])
}

func TestStoreFailureNeverReachesHost(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailWith(testutil.OpIndex, errors.New("connection refused"))
	client := newTestClient(t, store, nil)
	log := newHostLogger()
	log.AddHook(client.Hook())

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			log.Info("still running")
		}
	})
	assert.Equal(t, 1, store.Calls(testutil.OpIndex), "breaker stops further writes")
}

func TestInstallSetsDefaultTracker(t *testing.T) {
	prev := operation.Default()
	t.Cleanup(func() { operation.SetDefault(prev) })

	store := testutil.NewMemStore()
	client := newTestClient(t, store, nil)
	log := newHostLogger()
	client.Install(log)

	err := Run(context.Background(), func(ctx context.Context) error {
		ctx = SetArea(ctx, "jobs")
		assert.Equal(t, "jobs", Area(ctx))
		log.WithContext(ctx).Info("job ran")
		return nil
	}, WithID("job-1"))
	require.NoError(t, err)

	require.Len(t, store.Sources(testIndex), 1)
	assert.Equal(t, "job-1", store.Sources(testIndex)[0]["operation_id"])
}

func TestClientsShareOneBreaker(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailWith(testutil.OpIndex, errors.New("connection refused"))
	basic := newTestClient(t, store, nil)
	diagnostics := newTestClient(t, store, &Options{Diagnostics: true})
	require.Same(t, basic.Emitter().Breaker(), diagnostics.Emitter().Breaker())

	basic.Emitter().Emit(context.Background(), Record{Level: "error", Message: "first"})
	assert.Equal(t, ingest.BreakerOpen, diagnostics.Emitter().Breaker().State())

	diagnostics.Emitter().Emit(context.Background(), Record{Level: "error", Message: "second"})
	assert.Equal(t, 1, store.Calls(testutil.OpIndex), "second handler skips writes while open")
}

func TestClientWithoutOptions(t *testing.T) {
	store := testutil.NewMemStore()
	client := newTestClient(t, store, nil)
	assert.Equal(t, testIndex, client.Index())
	assert.NotNil(t, client.Hook())
}
