package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/torcheck/internal/coordinator"
	"github.com/nao1215/torcheck/internal/source"
)

type outcome struct {
	result coordinator.Result
	err    error
}

// fakeRefresher replays outcomes in order and repeats the last one.
type fakeRefresher struct {
	mu       sync.Mutex
	outcomes []outcome
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context) (coordinator.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	idx := int(f.calls.Add(1)) - 1
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outcomes) == 0 {
		return coordinator.Result{}, nil
	}
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	o := f.outcomes[idx]
	if o.err == nil && ctx.Err() != nil {
		return coordinator.Result{}, fmt.Errorf("%w: %w", coordinator.ErrUpdateFailed, ctx.Err())
	}
	return o.result, o.err
}

type recordingObserver struct {
	mu    sync.Mutex
	calls [][2]Status
	err   error
}

func (r *recordingObserver) Observe(_ context.Context, prev, cur Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]Status{prev, cur})
	return r.err
}

func (r *recordingObserver) snapshot() [][2]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]Status(nil), r.calls...)
}

func routedResult() coordinator.Result {
	return coordinator.Result{
		ExitIdentifiers:  []string{"1.1.1.1", "2.2.2.2"},
		OverlayAddress:   "1.1.1.1",
		RealAddress:      "9.9.9.9",
		RoutedViaOverlay: true,
	}
}

func updateFailed() error {
	return fmt.Errorf("%w: %w", coordinator.ErrUpdateFailed,
		&source.Error{Kind: source.KindUnknown, URL: "https://example.test", Err: errors.New("boom")})
}

func authFailed() error {
	return fmt.Errorf("%w: %w", coordinator.ErrAuthFailed,
		&source.Error{Kind: source.KindAuthentication, URL: "https://example.test", StatusCode: 403})
}

func TestStateFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want State
	}{
		{"success", nil, StateAvailable},
		{"update failed", updateFailed(), StateUnavailable},
		{"auth failed", authFailed(), StateReauthRequired},
		{"closed", coordinator.ErrClosed, StateUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, stateFor(tt.err))
		})
	}
}

func TestStateText(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateAvailable, StateUnavailable, StateReauthRequired} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		parsed, err := ParseState(string(text))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseState("sideways")
	require.ErrorIs(t, err, ErrUnknownState)
	assert.Equal(t, "state(42)", State(42).String())
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()

	st := Status{
		RunID:   uuid.New(),
		State:   StateReauthRequired,
		Err:     authFailed(),
		Message: "authentication failed",
	}
	data, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "reauth_required", decoded["state"])
	assert.Equal(t, "authentication failed", decoded["error"])
	assert.Equal(t, st.RunID.String(), decoded["run_id"])
}

func TestRefreshNowSuccess(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{outcomes: []outcome{{result: routedResult()}}}
	obs := &recordingObserver{}
	s := New(ref, WithClock(clock.NewMock()), WithObservers(obs))

	_, ok := s.Status()
	assert.False(t, ok, "no status before the first refresh")

	st := s.RefreshNow(context.Background())
	assert.Equal(t, StateAvailable, st.State)
	assert.True(t, st.OK())
	assert.NotEqual(t, uuid.Nil, st.RunID)
	assert.True(t, st.Result.RoutedViaOverlay)
	assert.Empty(t, st.Message)

	published, ok := s.Status()
	require.True(t, ok)
	assert.Equal(t, st.RunID, published.RunID)

	calls := obs.snapshot()
	require.Len(t, calls, 1)
	assert.True(t, calls[0][0].IsZero(), "first observation has a zero previous status")
	assert.Equal(t, st.RunID, calls[0][1].RunID)
}

func TestRefreshNowKeepsLastKnownGood(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{outcomes: []outcome{
		{result: routedResult()},
		{err: updateFailed()},
		{err: authFailed()},
		{result: coordinator.Result{ExitIdentifiers: []string{"3.3.3.3"}}},
	}}
	s := New(ref, WithClock(clock.NewMock()))
	ctx := context.Background()

	first := s.RefreshNow(ctx)
	require.Equal(t, StateAvailable, first.State)

	second := s.RefreshNow(ctx)
	assert.Equal(t, StateUnavailable, second.State)
	assert.ErrorIs(t, second.Err, coordinator.ErrUpdateFailed)
	assert.NotEmpty(t, second.Message)
	assert.True(t, second.Result.Equal(first.Result), "failure keeps the last known result")

	third := s.RefreshNow(ctx)
	assert.Equal(t, StateReauthRequired, third.State)
	assert.ErrorIs(t, third.Err, coordinator.ErrAuthFailed)
	assert.True(t, third.Result.Equal(first.Result))

	fourth := s.RefreshNow(ctx)
	assert.Equal(t, StateAvailable, fourth.State)
	assert.NoError(t, fourth.Err)
	assert.Equal(t, []string{"3.3.3.3"}, fourth.Result.ExitIdentifiers)
	assert.False(t, fourth.Result.RoutedViaOverlay)
}

func TestRefreshNowObserverErrorIgnored(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{outcomes: []outcome{{result: routedResult()}}}
	failing := &recordingObserver{err: errors.New("disk full")}
	after := &recordingObserver{}
	s := New(ref, WithClock(clock.NewMock()), WithObservers(failing, nil, after))

	st := s.RefreshNow(context.Background())
	assert.Equal(t, StateAvailable, st.State)
	assert.Len(t, failing.snapshot(), 1)
	assert.Len(t, after.snapshot(), 1, "later observers still run")
}

func TestRefreshNowObserverSeesTransitions(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{outcomes: []outcome{
		{result: routedResult()},
		{err: updateFailed()},
	}}
	var transitions []string
	obs := ObserverFunc(func(_ context.Context, prev, cur Status) error {
		if prev.IsZero() {
			transitions = append(transitions, "none->"+cur.State.String())
			return nil
		}
		transitions = append(transitions, prev.State.String()+"->"+cur.State.String())
		return nil
	})
	s := New(ref, WithClock(clock.NewMock()), WithObservers(obs))

	s.RefreshNow(context.Background())
	s.RefreshNow(context.Background())
	assert.Equal(t, []string{"none->available", "available->unavailable"}, transitions)
}

func TestRefreshNowCanceledNotPublished(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{outcomes: []outcome{{result: routedResult()}}}
	obs := &recordingObserver{}
	s := New(ref, WithClock(clock.NewMock()), WithObservers(obs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := s.RefreshNow(ctx)
	assert.Equal(t, StateUnavailable, st.State)

	_, ok := s.Status()
	assert.False(t, ok)
	assert.Empty(t, obs.snapshot())
}

func TestRefreshNowSerialized(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{delay: 5 * time.Millisecond}
	s := New(ref)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RefreshNow(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), ref.calls.Load())
	assert.Equal(t, int32(1), ref.maxSeen.Load(), "refreshes must never overlap")
}

func TestRefreshNowSlowObserverDoesNotBlockRefresh(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{outcomes: []outcome{
		{result: routedResult()},
		{err: updateFailed()},
	}}
	release := make(chan struct{})
	entered := make(chan State, 2)
	obs := ObserverFunc(func(_ context.Context, _, cur Status) error {
		entered <- cur.State
		<-release
		return nil
	})
	s := New(ref, WithClock(clock.NewMock()), WithObservers(obs))
	ctx := context.Background()

	firstDone := make(chan Status, 1)
	go func() { firstDone <- s.RefreshNow(ctx) }()
	require.Equal(t, StateAvailable, <-entered)

	secondDone := make(chan Status, 1)
	go func() { secondDone <- s.RefreshNow(ctx) }()
	require.Eventually(t, func() bool {
		st, _ := s.Status()
		return st.State == StateUnavailable
	}, time.Second, 5*time.Millisecond, "second refresh should publish while the first observer is busy")
	assert.Equal(t, int32(2), ref.calls.Load())

	select {
	case st := <-entered:
		t.Fatalf("observer saw %s before the first notification finished", st)
	default:
	}

	close(release)
	assert.Equal(t, StateAvailable, (<-firstDone).State)
	assert.Equal(t, StateUnavailable, <-entered)
	assert.Equal(t, StateUnavailable, (<-secondDone).State)
}

func TestStartTicks(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	ref := &fakeRefresher{outcomes: []outcome{{result: routedResult()}}}
	s := New(ref, WithClock(mock), WithInterval(time.Minute))
	assert.Equal(t, time.Minute, s.Interval())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool { return ref.calls.Load() == 1 },
		time.Second, time.Millisecond, "first refresh runs immediately")

	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return ref.calls.Load() == 2 },
		time.Second, time.Millisecond)

	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return ref.calls.Load() == 3 },
		time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	s.Stop()
	require.NoError(t, <-errCh)
}

func TestStartStopsOnContext(t *testing.T) {
	t.Parallel()

	ref := &fakeRefresher{}
	s := New(ref, WithClock(clock.NewMock()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { _, ok := s.Status(); return ok },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	s.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := New(&fakeRefresher{}, WithInterval(-time.Second))
	s.Stop()
	assert.Equal(t, DefaultInterval, s.Interval())
}
