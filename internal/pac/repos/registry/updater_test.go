package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second

	for failures, base := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond, 10: time.Second} {
		d := backoff(initial, max, failures)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		assert.GreaterOrEqual(t, d, lo, "failures=%d", failures)
		assert.LessOrEqual(t, d, hi, "failures=%d", failures)
	}
}

func TestStart_ZeroIntervalReturnsImmediately(t *testing.T) {
	r := newTestRegistry(t, nil, sampleFetcher())
	require.NoError(t, r.Start(context.Background(), UpdaterConfig{}))
}

func TestStart_SyncsImmediatelyAndStopsOnCancel(t *testing.T) {
	f := sampleFetcher()
	r := newTestRegistry(t, nil, f)

	var hooked int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx, UpdaterConfig{
			Interval:  time.Hour,
			OnSuccess: func(context.Context) { atomic.AddInt32(&hooked, 1) },
		})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hooked) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, r.GetDomains(context.Background()), 3)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_RetriesAfterFailure(t *testing.T) {
	f := sampleFetcher()
	f.domainsErr = errors.New("down")
	r := newTestRegistry(t, nil, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx, UpdaterConfig{
			Interval:       5 * time.Millisecond,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
		})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// flakyFetcher fails the first failFirst domain fetches.
type flakyFetcher struct {
	*fakeFetcher
	failFirst int32
	attempts  int32
}

func (f *flakyFetcher) FetchDomains(ctx context.Context) ([]string, error) {
	if atomic.AddInt32(&f.attempts, 1) <= f.failFirst {
		return nil, errors.New("down")
	}
	return f.fakeFetcher.FetchDomains(ctx)
}

func TestStart_RetriesOnBackoffNotOnInterval(t *testing.T) {
	f := &flakyFetcher{fakeFetcher: sampleFetcher(), failFirst: 2}
	r := newTestRegistry(t, nil, f)

	var hooked int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx, UpdaterConfig{
			Interval:       time.Hour,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			OnSuccess:      func(context.Context) { atomic.AddInt32(&hooked, 1) },
		})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hooked) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.attempts))
	assert.Len(t, r.GetDomains(context.Background()), 3)
	assert.NotEmpty(t, r.GetLastSyncTimestamp(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_StopsDuringBackoff(t *testing.T) {
	f := &flakyFetcher{fakeFetcher: sampleFetcher(), failFirst: 1000}
	r := newTestRegistry(t, nil, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Start(ctx, UpdaterConfig{Interval: time.Hour, InitialBackoff: time.Hour})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.attempts) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return during backoff")
	}
}
