// Package ingest turns log records into stored documents and writes them
// through a circuit breaker so that a failing store never disturbs the
// host application.
package ingest

import (
	"context"
	"os"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/levels"
	"github.com/dandriscoll/devlogs/internal/metrics"
	"github.com/dandriscoll/devlogs/internal/operation"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/google/uuid"
)

// Mode selects how records without an operation are shaped.
type Mode int

const (
	// ModeBasic writes records without an operation as standalone
	// "operation" documents with no operation id.
	ModeBasic Mode = iota
	// ModeDiagnostics gives every record an operation id, generating one
	// when neither the context nor the record supplies it.
	ModeDiagnostics
)

// Record is one log event handed to the emitter. Area and OperationID
// override the ambient operation state when set.
type Record struct {
	Time              time.Time
	Level             any
	Message           string
	LoggerName        string
	Pathname          string
	Lineno            int
	FuncName          string
	Exception         string
	Thread            int64
	Area              string
	OperationID       string
	ParentOperationID string
	Features          any
}

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	Index string
	Mode  Mode
	// Breaker defaults to the process-wide DefaultBreaker.
	Breaker *Breaker
	// DefaultArea tags records that have no area from the record or context.
	DefaultArea string
}

// Emitter writes records to the document store.
type Emitter struct {
	store       repository.Indexer
	index       string
	mode        Mode
	breaker     *Breaker
	defaultArea string
	pid         int
}

// NewEmitter creates an emitter.
// Parameters:
//   - store: destination of the documents.
//   - cfg: target index, mode and breaker.
// Returns:
//   - *Emitter: emitter instance.
func NewEmitter(store repository.Indexer, cfg *EmitterConfig) *Emitter {
	if cfg == nil {
		cfg = &EmitterConfig{}
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = DefaultBreaker()
	}
	return &Emitter{
		store:       store,
		index:       cfg.Index,
		mode:        cfg.Mode,
		breaker:     breaker,
		defaultArea: cfg.DefaultArea,
		pid:         os.Getpid(),
	}
}

// Breaker returns the breaker guarding the emitter's writes.
func (e *Emitter) Breaker() *Breaker {
	return e.breaker
}

// Emit writes rec synchronously. Failures are absorbed by the breaker;
// while it is open Emit returns without touching the store.
func (e *Emitter) Emit(ctx context.Context, rec Record) {
	if !e.breaker.Allow() {
		metrics.IngestDocuments.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	doc, routing := e.Document(ctx, rec)
	// A cancelled caller context must not look like a store failure.
	_, err := e.store.Index(context.WithoutCancel(ctx), e.index, &repository.IndexRequest{
		Routing: routing,
		Body:    doc,
	})
	if err != nil {
		e.breaker.RecordFailure(err)
		metrics.IngestDocuments.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}
	e.breaker.RecordSuccess()
	metrics.IngestDocuments.WithLabelValues(metrics.OutcomeIndexed).Inc()
}

// Document shapes rec into the stored form and returns it with its
// routing key. Records with an operation become log_entry children of
// that operation, routed by its id.
func (e *Emitter) Document(ctx context.Context, rec Record) (*domain.LogDocument, string) {
	state := operation.FromContext(ctx)

	opID, parentID := state.OperationID, state.ParentOperationID
	if rec.OperationID != "" && rec.OperationID != state.OperationID {
		opID, parentID = rec.OperationID, rec.ParentOperationID
	}
	area := firstNonEmpty(rec.Area, state.Area, e.defaultArea)

	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	doc := &domain.LogDocument{
		Timestamp:  domain.Timestamp(domain.FormatTime(ts)),
		LoggerName: rec.LoggerName,
		Message:    rec.Message,
		Pathname:   rec.Pathname,
		FuncName:   rec.FuncName,
		Exception:  rec.Exception,
		Area:       area,
		Features:   NormalizeFeatures(rec.Features),
	}
	if lvl, ok := levels.Normalize(rec.Level); ok {
		doc.Level = string(lvl)
		doc.LevelNo = lvl.Number()
	}
	if rec.Lineno > 0 {
		line := rec.Lineno
		doc.Lineno = &line
	}
	if rec.Thread > 0 {
		thread := rec.Thread
		doc.Thread = &thread
	}
	pid := e.pid
	doc.Process = &pid

	switch {
	case opID != "":
		doc.DocType = domain.ChildOf(opID)
		doc.OperationID = opID
		doc.ParentOperationID = parentID
		return doc, opID
	case e.mode == ModeDiagnostics:
		id := uuid.NewString()
		doc.DocType = domain.Root()
		doc.OperationID = id
		return doc, id
	default:
		doc.DocType = domain.Root()
		return doc, ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
