package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wins/internal/metrics"
	"github.com/roach88/wins/internal/store"
	"github.com/roach88/wins/internal/testutil"
	"github.com/roach88/wins/internal/win"
)

// fakeStore is an in-memory Store whose inserts can be held, delayed or failed
// per title.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	records []win.Record
	gates   map[string]chan struct{}
	delays  map[string]time.Duration
	fail    map[string]error
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		gates:  make(map[string]chan struct{}),
		delays: make(map[string]time.Duration),
		fail:   make(map[string]error),
	}
}

// hold makes the insert for title block until the returned func is called.
func (f *fakeStore) hold(title string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[title] = gate
	f.mu.Unlock()
	return func() { close(gate) }
}

func (f *fakeStore) Insert(ctx context.Context, title, category string) (win.Record, error) {
	f.mu.Lock()
	gate := f.gates[title]
	delay := f.delays[title]
	failErr := f.fail[title]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return win.Record{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return win.Record{}, ctx.Err()
		}
	}
	if failErr != nil {
		return win.Record{}, failErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec := win.Record{
		ID:        f.nextID,
		Title:     title,
		Category:  category,
		CreatedAt: fmt.Sprintf("2026-05-01T10:%02d:00.000Z", f.nextID),
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]win.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]win.Record, 0, len(f.records))
	for i := len(f.records) - 1; i >= 0; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

// startLayer loads l and runs its completion loop until the test ends.
func startLayer(t *testing.T, l *Layer) {
	t.Helper()
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func settle(t *testing.T, l *Layer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Settle(ctx))
}

func titles(entries []win.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		switch e := e.(type) {
		case win.Durable:
			out[i] = e.Title
		case win.Optimistic:
			out[i] = e.Title
		}
	}
	return out
}

func newTestLayer(s Store, opts ...Option) *Layer {
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("")),
		WithClock(testutil.At("2026-05-01T09:00:00Z")),
	}
	return New(s, append(base, opts...)...)
}

func TestAppend_BeforeLoad(t *testing.T) {
	l := newTestLayer(newFakeStore())

	_, err := l.Append(context.Background(), "too early")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Empty(t, l.View())
}

func TestLoad_ReplacesView(t *testing.T) {
	fs := newFakeStore()
	_, err := fs.Insert(context.Background(), "older", "general")
	require.NoError(t, err)
	_, err = fs.Insert(context.Background(), "newer", "general")
	require.NoError(t, err)

	l := newTestLayer(fs)
	require.NoError(t, l.Load(context.Background()))

	got := l.View()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"newer", "older"}, titles(got))
	for _, e := range got {
		assert.IsType(t, win.Durable{}, e)
	}

	assert.ErrorIs(t, l.Load(context.Background()), ErrAlreadyLoaded)
}

func TestLoad_Error(t *testing.T) {
	fs := newFakeStore()
	fs.listErr = &store.Error{Kind: store.KindIO, Op: "list", Err: errors.New("disk gone")}

	l := newTestLayer(fs)
	err := l.Load(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsIO(err))

	_, err = l.Append(context.Background(), "still not loaded")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestAppend_VisibleBeforeIO(t *testing.T) {
	fs := newFakeStore()
	release := fs.hold("ran 5k")
	l := newTestLayer(fs)
	startLayer(t, l)

	p, err := l.Append(context.Background(), "  ran 5k ")
	require.NoError(t, err)
	assert.Equal(t, "tmp-1", p.TempID)
	assert.Equal(t, "ran 5k", p.Title)
	assert.Equal(t, win.DefaultCategory, p.Category)
	assert.Equal(t, "2026-05-01T09:00:00.000Z", p.CreatedAt)
	assert.Equal(t, win.StateSubmitted, p.State)

	// The insert is still held: the entry must already lead the view.
	got := l.View()
	require.Len(t, got, 1)
	o, ok := got[0].(win.Optimistic)
	require.True(t, ok, "head should be optimistic while the insert is held")
	assert.Equal(t, "tmp-1", o.TempID)
	assert.Equal(t, win.StateSubmitted, o.State)

	release()
	settle(t, l)

	got = l.View()
	require.Len(t, got, 1)
	d, ok := got[0].(win.Durable)
	require.True(t, ok, "head should be durable after reconciliation")
	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, "ran 5k", d.Title)

	state, ok := l.State("tmp-1")
	require.True(t, ok)
	assert.Equal(t, win.StateReconciled, state)
}

func TestAppend_OrderIndependentOfCompletionOrder(t *testing.T) {
	const n = 5
	fs := newFakeStore()
	releases := make([]func(), n)
	for i := 0; i < n; i++ {
		releases[i] = fs.hold(fmt.Sprintf("win %d", i))
	}

	l := newTestLayer(fs)
	startLayer(t, l)

	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), fmt.Sprintf("win %d", i))
		require.NoError(t, err)
	}

	want := []string{"win 4", "win 3", "win 2", "win 1", "win 0"}
	assert.Equal(t, want, titles(l.View()))

	// Complete in reverse issuance order, checking the view after each one.
	for i := n - 1; i >= 0; i-- {
		releases[i]()
		tempID := fmt.Sprintf("tmp-%d", i+1)
		require.Eventually(t, func() bool {
			s, _ := l.State(tempID)
			return s == win.StateReconciled
		}, 5*time.Second, time.Millisecond)
		assert.Equal(t, want, titles(l.View()))
	}

	settle(t, l)
	got := l.View()
	assert.Equal(t, want, titles(got))
	for _, e := range got {
		assert.IsType(t, win.Durable{}, e)
	}
	// The first append finished last, so it received the highest id.
	assert.Equal(t, int64(n), got[n-1].(win.Durable).ID)
}

func TestAppend_OrderWithInverseDelays(t *testing.T) {
	const n = 8
	fs := newFakeStore()
	for i := 0; i < n; i++ {
		fs.delays[fmt.Sprintf("w%d", i)] = time.Duration(n-i) * 5 * time.Millisecond
	}

	l := newTestLayer(fs)
	startLayer(t, l)

	var want []string
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), fmt.Sprintf("w%d", i))
		require.NoError(t, err)
		want = append([]string{fmt.Sprintf("w%d", i)}, want...)
	}

	settle(t, l)
	assert.Equal(t, want, titles(l.View()))
}

func TestAppend_EmptyTitleRejected(t *testing.T) {
	var calls int
	m := metrics.New("test")
	l := newTestLayer(newFakeStore(),
		WithObserver(func([]win.Entry) { calls++ }),
		WithMetrics(m),
	)
	startLayer(t, l)
	callsAfterLoad := calls

	for _, title := range []string{"", "   ", "\n\t"} {
		_, err := l.Append(context.Background(), title)
		require.Error(t, err)
		assert.True(t, store.IsConstraint(err))
		assert.ErrorIs(t, err, store.ErrEmptyTitle)
	}

	assert.Empty(t, l.View())
	assert.Equal(t, callsAfterLoad, calls, "rejected appends must not notify")
	_, ok := l.State("tmp-1")
	assert.False(t, ok, "no pending record may be created")
	assert.Equal(t, 3.0, promtestutil.ToFloat64(m.AppendsTotal.WithLabelValues(metrics.OutcomeRejected)))
}

func TestAppend_FailureIsolation(t *testing.T) {
	fs := newFakeStore()
	fs.fail["boom"] = &store.Error{Kind: store.KindIO, Op: "insert", Err: errors.New("disk I/O error")}
	m := metrics.New("test")

	l := newTestLayer(fs, WithMetrics(m))
	startLayer(t, l)

	_, err := l.Append(context.Background(), "boom")
	require.NoError(t, err, "I/O failures surface through the view, not Append")
	settle(t, l)

	_, err = l.Append(context.Background(), "fine")
	require.NoError(t, err)
	settle(t, l)

	got := l.View()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"fine", "boom"}, titles(got))

	d, ok := got[0].(win.Durable)
	require.True(t, ok)
	assert.Equal(t, int64(1), d.ID)

	assert.True(t, win.Failed(got[1]))
	failed := got[1].(win.Optimistic)
	assert.True(t, store.IsIO(failed.Err))

	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "boom", failures[0].Title)

	s, _ := l.State("tmp-1")
	assert.Equal(t, win.StateFailed, s)
	s, _ = l.State("tmp-2")
	assert.Equal(t, win.StateReconciled, s)

	// Only the successful append reached the store.
	all, err := fs.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "fine", all[0].Title)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.AppendsTotal.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.AppendsTotal.WithLabelValues(metrics.OutcomeReconciled)))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(m.InflightPersists))
}

func TestAppend_PlainErrorClassifiedAsIO(t *testing.T) {
	fs := newFakeStore()
	fs.fail["x"] = errors.New("driver exploded")

	l := newTestLayer(fs)
	startLayer(t, l)

	_, err := l.Append(context.Background(), "x")
	require.NoError(t, err)
	settle(t, l)

	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.True(t, store.IsIO(failures[0].Err))
}

func TestAppend_PersistTimeout(t *testing.T) {
	fs := newFakeStore()
	_ = fs.hold("stuck") // never released

	l := newTestLayer(fs, WithPersistTimeout(20*time.Millisecond))
	startLayer(t, l)

	_, err := l.Append(context.Background(), "stuck")
	require.NoError(t, err)
	settle(t, l)

	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.True(t, store.IsIO(failures[0].Err))
	assert.ErrorIs(t, failures[0].Err, context.DeadlineExceeded)
}

func TestAppend_CallerCancellationDoesNotCancelInsert(t *testing.T) {
	fs := newFakeStore()
	release := fs.hold("keep going")

	l := newTestLayer(fs)
	startLayer(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Append(ctx, "keep going")
	require.NoError(t, err)
	cancel()

	release()
	settle(t, l)

	_, ok := l.View()[0].(win.Durable)
	assert.True(t, ok)
}

func TestAppend_Transitions(t *testing.T) {
	type step struct {
		id       string
		from, to win.PersistState
	}
	var mu sync.Mutex
	var steps []step

	fs := newFakeStore()
	fs.fail["bad"] = &store.Error{Kind: store.KindIO, Op: "insert", Err: errors.New("nope")}
	l := newTestLayer(fs, WithTransitionHook(func(id string, from, to win.PersistState) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step{id, from, to})
	}))
	startLayer(t, l)

	_, err := l.Append(context.Background(), "good")
	require.NoError(t, err)
	settle(t, l)
	_, err = l.Append(context.Background(), "bad")
	require.NoError(t, err)
	settle(t, l)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []step{
		{"tmp-1", 0, win.StateOptimistic},
		{"tmp-1", win.StateOptimistic, win.StateSubmitted},
		{"tmp-1", win.StateSubmitted, win.StateReconciled},
		{"tmp-2", 0, win.StateOptimistic},
		{"tmp-2", win.StateOptimistic, win.StateSubmitted},
		{"tmp-2", win.StateSubmitted, win.StateFailed},
	}, steps)
}

func TestObserver_ReceivesEveryChange(t *testing.T) {
	var mu sync.Mutex
	var views [][]string

	fs := newFakeStore()
	release := fs.hold("a")
	var l *Layer
	l = newTestLayer(fs, WithObserver(func(v []win.Entry) {
		// Reentrant reads are allowed.
		_ = l.View()
		mu.Lock()
		defer mu.Unlock()
		views = append(views, titles(v))
	}))
	startLayer(t, l)

	_, err := l.Append(context.Background(), "a")
	require.NoError(t, err)
	release()
	settle(t, l)

	mu.Lock()
	defer mu.Unlock()
	// load, append, reconcile
	require.Len(t, views, 3)
	assert.Empty(t, views[0])
	assert.Equal(t, []string{"a"}, views[1])
	assert.Equal(t, []string{"a"}, views[2])
}

func TestObserver_ReadsWhileAnotherAppendPublishes(t *testing.T) {
	fs := newFakeStore()
	entered := make(chan struct{})
	unblock := make(chan struct{})

	var calls int
	var l *Layer
	l = newTestLayer(fs, WithObserver(func(v []win.Entry) {
		calls++
		if calls == 2 {
			close(entered)
			<-unblock
		}
		_ = l.View()
	}))
	startLayer(t, l)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = l.Append(context.Background(), "a")
	}()
	<-entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _ = l.Append(context.Background(), "b")
	}()

	// The second append is visible while the first notification is still
	// being delivered.
	require.Eventually(t, func() bool {
		return len(l.View()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	close(unblock)

	for _, done := range []chan struct{}{firstDone, secondDone} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("append blocked behind observer")
		}
	}
	settle(t, l)

	viewDone := make(chan []win.Entry)
	go func() { viewDone <- l.View() }()
	select {
	case v := <-viewDone:
		assert.Equal(t, []string{"b", "a"}, titles(v))
	case <-time.After(2 * time.Second):
		t.Fatal("View blocked")
	}
}

func TestObserver_DeliveryOrderUnderConcurrentAppends(t *testing.T) {
	var mu sync.Mutex
	var sizes []int

	fs := newFakeStore()
	var l *Layer
	l = newTestLayer(fs, WithObserver(func(v []win.Entry) {
		_ = l.View()
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(v))
	}))
	startLayer(t, l)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(context.Background(), fmt.Sprintf("win %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	settle(t, l)

	mu.Lock()
	defer mu.Unlock()
	// load + one prepend and one reconcile per append
	require.Len(t, sizes, 21)
	for i := 1; i < len(sizes); i++ {
		assert.GreaterOrEqual(t, sizes[i], sizes[i-1], "view shrank at delivery %d", i)
	}
	assert.Equal(t, 10, sizes[len(sizes)-1])
}

func TestRecord_ByTempID(t *testing.T) {
	fs := newFakeStore()
	fs.fail["lost"] = &store.Error{Kind: store.KindIO, Op: "insert", Err: errors.New("disk full")}
	l := newTestLayer(fs)
	startLayer(t, l)

	first, err := l.Append(context.Background(), "same title")
	require.NoError(t, err)
	settle(t, l)
	second, err := l.Append(context.Background(), "same title")
	require.NoError(t, err)
	lost, err := l.Append(context.Background(), "lost")
	require.NoError(t, err)
	settle(t, l)

	rec, ok := l.Record(first.TempID)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.ID)

	rec, ok = l.Record(second.TempID)
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.ID)

	_, ok = l.Record(lost.TempID)
	assert.False(t, ok)
	_, ok = l.Record("tmp-unknown")
	assert.False(t, ok)
}

func TestAppendCategory(t *testing.T) {
	l := newTestLayer(newFakeStore())
	startLayer(t, l)

	p, err := l.AppendCategory(context.Background(), "stretched", " health ")
	require.NoError(t, err)
	assert.Equal(t, "health", p.Category)
	settle(t, l)

	d := l.View()[0].(win.Durable)
	assert.Equal(t, "health", d.Category)
}

func TestClose(t *testing.T) {
	l := newTestLayer(newFakeStore())
	require.NoError(t, l.Load(context.Background()))

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	_, err := l.Append(context.Background(), "last one")
	require.NoError(t, err)
	settle(t, l)

	l.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	_, err = l.Append(context.Background(), "after close")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRun_ContextCancel(t *testing.T) {
	l := newTestLayer(newFakeStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
}

func TestSettle_Timeout(t *testing.T) {
	fs := newFakeStore()
	release := fs.hold("slow")
	defer release()

	l := newTestLayer(fs)
	startLayer(t, l)

	_, err := l.Append(context.Background(), "slow")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Settle(ctx), context.DeadlineExceeded)
}

func TestSettle_IdleReturnsImmediately(t *testing.T) {
	l := newTestLayer(newFakeStore())
	assert.NoError(t, l.Settle(context.Background()))
}

func TestConcurrentAppends(t *testing.T) {
	l := newTestLayer(newFakeStore())
	startLayer(t, l)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(context.Background(), fmt.Sprintf("c%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	settle(t, l)

	got := l.View()
	require.Len(t, got, n)
	seen := make(map[string]bool)
	for _, e := range got {
		d, ok := e.(win.Durable)
		require.True(t, ok)
		assert.False(t, seen[d.Title], "duplicate entry %q", d.Title)
		seen[d.Title] = true
	}
}
