// Package operation tracks the ambient operation identity (operation id,
// parent operation id and area) carried by a context.Context.
//
// Each Start derives a new context; the caller's context is never
// modified, so the state seen by the enclosing code after a scope ends
// is exactly what it was before the scope began, and goroutines that
// hold different contexts never observe each other's operation.
package operation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/google/uuid"
)

// State is the identity attached to log records emitted under a context.
type State struct {
	OperationID       string
	ParentOperationID string
	Area              string
}

type stateKey struct{}

// FromContext returns the operation state carried by ctx.
func FromContext(ctx context.Context) State {
	if ctx == nil {
		return State{}
	}
	s, _ := ctx.Value(stateKey{}).(State)
	return s
}

// OperationID returns the current operation id, or "".
func OperationID(ctx context.Context) string {
	return FromContext(ctx).OperationID
}

// ParentOperationID returns the enclosing operation id, or "".
func ParentOperationID(ctx context.Context) string {
	return FromContext(ctx).ParentOperationID
}

// Area returns the current area tag, or "".
func Area(ctx context.Context) string {
	return FromContext(ctx).Area
}

// WithArea returns a context whose area is area; the operation ids are kept.
func WithArea(ctx context.Context, area string) context.Context {
	s := FromContext(ctx)
	s.Area = area
	return context.WithValue(ctx, stateKey{}, s)
}

// WithState returns a context carrying s verbatim.
func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// Roller folds an operation's log entries into its parent document.
type Roller interface {
	RollupOperation(ctx context.Context, operationID string) error
}

// Option configures a scope.
type Option func(*options)

type options struct {
	id     string
	area   string
	rollup bool
}

// WithID uses id instead of a generated one.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithScopeArea tags the scope with area. Areas are not inherited from
// the enclosing scope.
func WithScopeArea(area string) Option {
	return func(o *options) { o.area = area }
}

// WithRollup enables or disables the rollup on End (default enabled).
func WithRollup(enabled bool) Option {
	return func(o *options) { o.rollup = enabled }
}

// Tracker starts operation scopes and rolls up outermost ones when they end.
type Tracker struct {
	roller Roller
	log    *logger.Logger
}

// NewTracker creates a Tracker. roller may be nil, which disables rollup.
// Parameters:
//   - roller: rollup engine run when an outermost scope ends.
//   - log: logger for swallowed rollup failures; nil uses the default.
// Returns:
//   - *Tracker: tracker instance.
func NewTracker(roller Roller, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Tracker{roller: roller, log: log.WithComponent("operation")}
}

// Scope is one active operation.
type Scope struct {
	tracker   *Tracker
	state     State
	outermost bool
	rollup    bool
	ctx       context.Context
	ended     atomic.Bool
}

// ID returns the scope's operation id.
func (s *Scope) ID() string { return s.state.OperationID }

// ParentID returns the enclosing operation id, if any.
func (s *Scope) ParentID() string { return s.state.ParentOperationID }

// Outermost reports whether no operation was active when the scope started.
func (s *Scope) Outermost() bool { return s.outermost }

// Start begins an operation scope under ctx and returns the derived context.
// The previously active operation id, if any, becomes the parent.
func (t *Tracker) Start(ctx context.Context, opts ...Option) (context.Context, *Scope) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := options{rollup: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	prev := FromContext(ctx)
	state := State{
		OperationID:       o.id,
		ParentOperationID: prev.OperationID,
		Area:              o.area,
	}
	scoped := WithState(ctx, state)
	return scoped, &Scope{
		tracker:   t,
		state:     state,
		outermost: prev.OperationID == "",
		rollup:    o.rollup,
		ctx:       scoped,
	}
}

// End closes the scope. Ending an outermost scope with rollup enabled folds
// the operation's entries; a rollup failure is logged and never returned.
// Calling End more than once is a no-op.
func (s *Scope) End() {
	if s == nil || !s.ended.CompareAndSwap(false, true) {
		return
	}
	t := s.tracker
	if !s.outermost || !s.rollup || t == nil || t.roller == nil {
		return
	}
	// The caller's cancellation must not abort a rollup that is already due.
	ctx := context.WithoutCancel(s.ctx)
	if err := t.roller.RollupOperation(ctx, s.state.OperationID); err != nil {
		t.log.WithField(logger.FieldOperationID, s.state.OperationID).
			WithError(err).
			Warn("automatic rollup failed")
	}
}

// Run executes fn inside a new scope and always ends it.
func (t *Tracker) Run(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	scoped, scope := t.Start(ctx, opts...)
	defer scope.End()
	return fn(scoped)
}

var (
	defaultTracker   = NewTracker(nil, nil)
	defaultTrackerMu sync.RWMutex
)

// SetDefault installs the tracker used by the package-level helpers.
func SetDefault(t *Tracker) {
	if t == nil {
		return
	}
	defaultTrackerMu.Lock()
	defaultTracker = t
	defaultTrackerMu.Unlock()
}

// Default returns the tracker used by the package-level helpers.
func Default() *Tracker {
	defaultTrackerMu.RLock()
	defer defaultTrackerMu.RUnlock()
	return defaultTracker
}

// Start begins a scope on the default tracker.
func Start(ctx context.Context, opts ...Option) (context.Context, *Scope) {
	return Default().Start(ctx, opts...)
}

// Run runs fn in a scope on the default tracker.
func Run(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	return Default().Run(ctx, fn, opts...)
}
