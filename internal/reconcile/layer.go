package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/wins/internal/metrics"
	"github.com/roach88/wins/internal/store"
	"github.com/roach88/wins/internal/view"
	"github.com/roach88/wins/internal/win"
)

// Store is the durable side of the layer. *store.Store satisfies it.
// Implementations must return *store.Error values.
type Store interface {
	Insert(ctx context.Context, title, category string) (win.Record, error)
	ListAll(ctx context.Context) ([]win.Record, error)
}

// Clock supplies optimistic created_at values.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Observer receives the projected view after every mutation.
// Calls are serialized and arrive in mutation order. An observer may call
// View, State or Record, but must not call Append, Load or Close: those
// publish a mutation of their own and would wait on the running observer.
type Observer func(view []win.Entry)

// TransitionHook receives every per-entry state change, in order.
// from is zero for the initial StateOptimistic.
type TransitionHook func(tempID string, from, to win.PersistState)

var (
	// ErrNotLoaded is returned by Append before Load has succeeded.
	ErrNotLoaded = errors.New("reconcile: view not loaded")

	// ErrAlreadyLoaded is returned by a second Load.
	ErrAlreadyLoaded = errors.New("reconcile: view already loaded")

	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("reconcile: layer closed")
)

// DefaultPersistTimeout bounds a single durable insert.
const DefaultPersistTimeout = 10 * time.Second

type transition struct {
	tempID   string
	from, to win.PersistState
}

// Layer is the sole bridge between the in-memory view and the store.
//
// Thread-safety model:
//   - Append, Load, View, State, Record, Failures, Settle: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Layer struct {
	store          Store
	ids            IDGenerator
	clock          Clock
	log            *zap.Logger
	metrics        *metrics.Metrics
	observer       Observer
	hook           TransitionHook
	persistTimeout time.Duration

	queue *completionQueue

	mu          sync.Mutex
	entries     []win.Entry
	states      map[string]win.PersistState
	records     map[string]win.Record // reconciled temp id -> durable record
	transitions []transition // not yet delivered to hook
	loaded      bool
	closed      bool
	unsettled   int
	idle        chan struct{} // closed whenever unsettled is 0 and delivered
	published   uint64        // mutations stamped for delivery

	// Delivery runs outside mu. Each mutation takes a sequence number under
	// mu and waits on notifyCond for its turn, so observers see mutations in
	// order and mu is never held while waiting for notifyMu.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64 // guarded by notifyMu
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(r *Layer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator overrides temp id generation. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Layer) {
		r.ids = g
	}
}

// WithClock overrides the clock used for optimistic timestamps.
func WithClock(c Clock) Option {
	return func(r *Layer) {
		r.clock = c
	}
}

// WithMetrics records append outcomes and insert latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Layer) {
		r.metrics = m
	}
}

// WithObserver registers the view-changed callback.
func WithObserver(o Observer) Option {
	return func(r *Layer) {
		r.observer = o
	}
}

// WithTransitionHook registers a callback for per-entry state changes.
func WithTransitionHook(h TransitionHook) Option {
	return func(r *Layer) {
		r.hook = h
	}
}

// WithPersistTimeout bounds each durable insert. Zero disables the bound.
// Exceeding it fails the append with store.KindIO.
func WithPersistTimeout(d time.Duration) Option {
	return func(r *Layer) {
		r.persistTimeout = d
	}
}

// New creates a Layer over s. Call Load, then start Run in a goroutine.
func New(s Store, opts ...Option) *Layer {
	idle := make(chan struct{})
	close(idle)

	l := &Layer{
		store:          s,
		ids:            UUIDv7Generator{},
		clock:          systemClock{},
		log:            zap.NewNop(),
		persistTimeout: DefaultPersistTimeout,
		queue:          newCompletionQueue(),
		entries:        []win.Entry{},
		states:         make(map[string]win.PersistState),
		records:        make(map[string]win.Record),
		idle:           idle,
	}
	l.notifyCond = sync.NewCond(&l.notifyMu)

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load replaces the view with every durable record, newest first.
// It runs once; a second call returns ErrAlreadyLoaded.
func (l *Layer) Load(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		return ErrAlreadyLoaded
	}
	l.mu.Unlock()

	records, err := l.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	entries := make([]win.Entry, len(records))
	for i, rec := range records {
		entries[i] = win.Durable{Record: rec}
	}

	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		return ErrAlreadyLoaded
	}
	l.entries = entries
	l.loaded = true
	l.unlockAndPublish()

	l.log.Debug("view loaded", zap.Int("records", len(records)))
	return nil
}

// Append adds a win in the default category. See AppendCategory.
func (l *Layer) Append(ctx context.Context, title string) (win.Pending, error) {
	return l.AppendCategory(ctx, title, "")
}

// AppendCategory prepends an optimistic entry and submits the durable
// insert in the background. When it returns without error the entry is
// already at the head of View().
//
// A blank title fails with a store.KindConstraint error and leaves the view
// untouched. The insert is not tied to ctx's cancellation: once submitted,
// an append either succeeds or fails, bounded by the persist timeout.
func (l *Layer) AppendCategory(ctx context.Context, title, category string) (win.Pending, error) {
	p := win.Pending{
		Title:    win.NormalizeTitle(title),
		Category: win.NormalizeCategory(category),
	}
	if p.Title == "" {
		l.metrics.Append(metrics.OutcomeRejected)
		return win.Pending{}, &store.Error{Kind: store.KindConstraint, Op: "append", Err: store.ErrEmptyTitle}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return win.Pending{}, ErrClosed
	}
	if !l.loaded {
		l.mu.Unlock()
		return win.Pending{}, ErrNotLoaded
	}

	p.TempID = l.ids.Generate()
	p.CreatedAt = win.FormatTime(l.clock.Now())
	p.State = win.StateOptimistic

	l.entries = append([]win.Entry{win.Optimistic{Pending: p}}, l.entries...)
	l.states[p.TempID] = win.StateOptimistic
	l.transitions = append(l.transitions, transition{tempID: p.TempID, to: win.StateOptimistic})

	// The insert goroutine starts after this point, so no completion can
	// observe the entry before it is Submitted.
	p.State = win.StateSubmitted
	l.entries[0] = win.Optimistic{Pending: p}
	l.setStateLocked(p.TempID, win.StateOptimistic, win.StateSubmitted)

	if l.unsettled == 0 {
		l.idle = make(chan struct{})
	}
	l.unsettled++
	l.unlockAndPublish()

	l.log.Debug("append submitted",
		zap.String("temp_id", p.TempID),
		zap.String("category", p.Category),
	)

	go l.persist(context.WithoutCancel(ctx), p)

	return p, nil
}

func (l *Layer) persist(ctx context.Context, p win.Pending) {
	if l.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.persistTimeout)
		defer cancel()
	}

	l.metrics.PersistStarted()
	start := time.Now()
	rec, err := l.store.Insert(ctx, p.Title, p.Category)
	elapsed := time.Since(start)
	l.metrics.PersistFinished(elapsed.Seconds())

	var se *store.Error
	if err != nil && !errors.As(err, &se) {
		err = &store.Error{Kind: store.KindIO, Op: "append", Err: err}
	}

	if !l.queue.Enqueue(completion{tempID: p.TempID, record: rec, err: err, elapsed: elapsed}) {
		l.log.Warn("completion dropped: layer closed",
			zap.String("temp_id", p.TempID),
			zap.Error(err),
		)
	}
}

// Run is the single-writer loop that applies insert completions to the view.
// Blocks until ctx is cancelled (returns ctx.Err()) or Close is called and
// every queued completion has been applied (returns nil).
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (l *Layer) Run(ctx context.Context) error {
	for {
		if c, ok := l.queue.TryDequeue(); ok {
			l.apply(c)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-l.queue.Wait():
			if !ok {
				for {
					c, ok := l.queue.TryDequeue()
					if !ok {
						return nil
					}
					l.apply(c)
				}
			}
		}
	}
}

// apply patches the entry with c's temp id in place.
func (l *Layer) apply(c completion) {
	l.mu.Lock()

	idx := l.indexOfLocked(c.tempID)
	if idx < 0 {
		l.mu.Unlock()
		l.log.Error("completion for unknown entry", zap.String("temp_id", c.tempID))
		return
	}
	o := l.entries[idx].(win.Optimistic)

	to := win.StateReconciled
	if c.err != nil {
		to = win.StateFailed
	}
	if !win.CanTransition(o.State, to) {
		l.mu.Unlock()
		l.log.Error("completion rejected",
			zap.Error(&win.TransitionError{TempID: c.tempID, From: o.State, To: to}),
		)
		return
	}

	if c.err == nil {
		l.entries[idx] = win.Durable{Record: c.record}
		l.records[c.tempID] = c.record
	} else {
		o.State = win.StateFailed
		o.Err = c.err
		l.entries[idx] = o
	}
	l.setStateLocked(c.tempID, win.StateSubmitted, to)

	l.unsettled--
	var idle chan struct{}
	if l.unsettled == 0 {
		idle = l.idle
	}
	l.unlockAndPublish()

	// Settle returns only after observers have seen the final view.
	if idle != nil {
		close(idle)
	}

	if c.err != nil {
		l.metrics.Append(metrics.OutcomeFailed)
		l.log.Warn("append failed",
			zap.String("temp_id", c.tempID),
			zap.Duration("elapsed", c.elapsed),
			zap.Error(c.err),
		)
		return
	}
	l.metrics.Append(metrics.OutcomeReconciled)
	l.log.Debug("append reconciled",
		zap.String("temp_id", c.tempID),
		zap.Int64("id", c.record.ID),
		zap.Duration("elapsed", c.elapsed),
	)
}

// View returns the projected, newest-first sequence for presentation.
func (l *Layer) View() []win.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return view.Project(l.entries)
}

// State reports the persist state of the append with tempID.
func (l *Layer) State(tempID string) (win.PersistState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[tempID]
	return s, ok
}

// Record returns the durable record that replaced the append with tempID,
// once it has been reconciled.
func (l *Layer) Record(tempID string) (win.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[tempID]
	return rec, ok
}

// Failures returns the appends whose insert failed, in view order.
func (l *Layer) Failures() []win.Pending {
	l.mu.Lock()
	defer l.mu.Unlock()

	var failed []win.Pending
	for _, e := range l.entries {
		if o, ok := e.(win.Optimistic); ok && o.State == win.StateFailed {
			failed = append(failed, o.Pending)
		}
	}
	return failed
}

// Settle blocks until every submitted append is reconciled or failed and
// the observer has received the resulting view. Requires Run to be running.
func (l *Layer) Settle(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further appends and lets Run return once the completion
// queue drains. Call Settle first to avoid dropping in-flight completions.
func (l *Layer) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.queue.Close()
}

func (l *Layer) indexOfLocked(tempID string) int {
	for i, e := range l.entries {
		if o, ok := e.(win.Optimistic); ok && o.TempID == tempID {
			return i
		}
	}
	return -1
}

func (l *Layer) setStateLocked(tempID string, from, to win.PersistState) {
	l.states[tempID] = to
	l.transitions = append(l.transitions, transition{tempID: tempID, from: from, to: to})
}

// unlockAndPublish releases l.mu and delivers the mutation to the hook and
// observer once every earlier mutation has been delivered. Must be called
// with l.mu held.
func (l *Layer) unlockAndPublish() {
	pending := l.transitions
	l.transitions = nil

	var snapshot []win.Entry
	if l.observer != nil {
		snapshot = view.Project(l.entries)
	}

	l.published++
	seq := l.published
	l.mu.Unlock()

	l.notifyMu.Lock()
	for l.delivered+1 != seq {
		l.notifyCond.Wait()
	}
	defer func() {
		l.delivered = seq
		l.notifyCond.Broadcast()
		l.notifyMu.Unlock()
	}()

	if l.hook != nil {
		for _, t := range pending {
			l.hook(t.tempID, t.from, t.to)
		}
	}
	if l.observer != nil {
		l.observer(snapshot)
	}
}
