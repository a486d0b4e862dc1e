package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghpulse/ghpulse/internal/fetcher"
	"github.com/ghpulse/ghpulse/internal/ghevent"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	release  chan struct{}
	result   fetcher.Result
	err      error
}

func (f *fakeFetcher) FetchGlobal(ctx context.Context, limit int) (fetcher.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeFetcher) FetchRepo(ctx context.Context, repo string, limit int) (fetcher.Result, error) {
	return f.FetchGlobal(ctx, limit)
}

type fakeStore struct {
	inserted int32
}

func (s *fakeStore) InsertMany(ctx context.Context, events []ghevent.Event) (int, error) {
	atomic.AddInt32(&s.inserted, int32(len(events)))
	return len(events), nil
}

func sampleEvent(id string) ghevent.Event {
	return ghevent.Event{ID: id, Kind: ghevent.KindPush, Repo: "o/r", Actor: "a", CreatedAt: time.Now()}
}

func TestCollectNow_InsertsFetchedEvents(t *testing.T) {
	ff := &fakeFetcher{result: fetcher.Result{Events: []ghevent.Event{sampleEvent("1"), sampleEvent("2")}}}
	fs := &fakeStore{}
	c := &Coordinator{fetcher: ff, store: fs, stopCh: make(chan struct{})}

	n, err := c.CollectNow(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollectNow_CoalescesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	ff := &fakeFetcher{result: fetcher.Result{Events: []ghevent.Event{sampleEvent("1")}}, release: release}
	fs := &fakeStore{}
	c := &Coordinator{fetcher: ff, store: fs, stopCh: make(chan struct{})}

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := c.CollectNow(context.Background(), 0, nil)
			require.NoError(t, err)
			results[i] = n
		}(i)
	}

	// Let both goroutines enter CollectNow and block on the shared fetch.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	total := results[0] + results[1]
	assert.Equal(t, 1, total, "the coalesced call must return 0, not double-count the insert")

	ff.mu.Lock()
	calls := ff.calls
	ff.mu.Unlock()
	assert.Equal(t, 1, calls, "singleflight must coalesce concurrent collect_now calls into one fetch")
}

func TestNextInterval_UsesSuggestedWhenLarger(t *testing.T) {
	c := &Coordinator{configuredPoll: 30 * time.Second, stopCh: make(chan struct{})}
	assert.Equal(t, 30*time.Second, c.nextInterval())

	c.noteSuggested(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.nextInterval())

	c.noteSuggested(10 * time.Second)
	assert.Equal(t, 30*time.Second, c.nextInterval(), "a suggestion below the configured floor never lowers the tick interval")
}
