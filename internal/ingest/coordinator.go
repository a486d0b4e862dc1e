// Package ingest implements C4, the ingestion coordinator: it drives the
// fetcher on a schedule or on demand, hands results to the store, and
// returns the count of newly stored events.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ghpulse/ghpulse/internal/fetcher"
	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
	"github.com/ghpulse/ghpulse/internal/store"
)

// eventFetcher is the slice of fetcher.Fetcher the coordinator depends on,
// accepted as an interface so the scheduling and coalescing logic can be
// tested without a live GitHub client.
type eventFetcher interface {
	FetchGlobal(ctx context.Context, limit int) (fetcher.Result, error)
	FetchRepo(ctx context.Context, repo string, limit int) (fetcher.Result, error)
}

// eventStore is the slice of store.Store the coordinator depends on.
type eventStore interface {
	InsertMany(ctx context.Context, events []ghevent.Event) (int, error)
}

// Coordinator owns no mutable collector object shared with the fetcher or
// the monitor registry (§9's cyclic-dependency design note): it holds only
// its own Fetcher instance, constructed with its own conditional-request
// state.
type Coordinator struct {
	fetcher          eventFetcher
	store            eventStore
	repos            []string
	configuredPoll   time.Duration
	maxEventsPerFetch int

	suggestedMu sync.Mutex
	suggested   time.Duration

	sf singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a coordinator. repos is the configured target_repositories
// list; when empty, periodic ticks poll the global feed instead.
func New(f *fetcher.Fetcher, s *store.Store, repos []string, pollInterval time.Duration, maxEventsPerFetch int) *Coordinator {
	return &Coordinator{
		fetcher:           f,
		store:             s,
		repos:             repos,
		configuredPoll:    pollInterval,
		maxEventsPerFetch: maxEventsPerFetch,
		stopCh:            make(chan struct{}),
	}
}

// Run starts the periodic ingestion loop. It ticks at max(configured,
// server-suggested) interval, recomputed after every collection.
func (c *Coordinator) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		interval := c.configuredPoll
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-timer.C:
				n, err := c.CollectNow(ctx, c.maxEventsPerFetch, nil)
				if err != nil {
					slog.Error("scheduled ingestion failed", "error", err)
				} else {
					slog.Info("scheduled ingestion complete", "inserted", n)
				}
				interval = c.nextInterval()
				timer.Reset(interval)
			}
		}
	}()
}

// Stop cancels the periodic loop and waits for it to exit. Idempotent.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// CollectNow is collect_now(limit?, repos?): a second concurrent call is
// coalesced to a no-op returning 0, via singleflight. singleflight.Do's
// shared return is true for every caller whenever duplicates join — including
// the one that actually executed the function — so it cannot distinguish
// "I ran this" from "I joined a run"; executed tracks that instead.
func (c *Coordinator) CollectNow(ctx context.Context, limit int, repos []string) (int, error) {
	var executed bool
	v, err, _ := c.sf.Do("collect", func() (interface{}, error) {
		executed = true
		return c.collect(ctx, limit, repos)
	})
	if !executed {
		// A concurrent caller already ran this collection; this call
		// coalesces to a no-op per §4.4.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (c *Coordinator) collect(ctx context.Context, limit int, repos []string) (int, error) {
	if len(repos) == 0 {
		repos = c.repos
	}

	var all []ghevent.Event
	if len(repos) == 0 {
		res, err := c.fetcher.FetchGlobal(ctx, limit)
		if err != nil && !errors.Is(err, ghcore.ErrRateLimited) {
			return 0, err
		}
		c.noteSuggested(res.SuggestedPoll)
		all = append(all, res.Events...)
	} else {
		for _, repo := range repos {
			res, err := c.fetcher.FetchRepo(ctx, repo, limit)
			if err != nil {
				if errors.Is(err, ghcore.ErrRateLimited) {
					continue
				}
				slog.Warn("fetch failed for repo, continuing", "repo", repo, "error", err)
				continue
			}
			c.noteSuggested(res.SuggestedPoll)
			all = append(all, res.Events...)
		}
	}

	if len(all) == 0 {
		return 0, nil
	}

	inserted, err := c.store.InsertMany(ctx, all)
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (c *Coordinator) noteSuggested(d time.Duration) {
	if d <= 0 {
		return
	}
	c.suggestedMu.Lock()
	c.suggested = d
	c.suggestedMu.Unlock()
}

func (c *Coordinator) nextInterval() time.Duration {
	c.suggestedMu.Lock()
	suggested := c.suggested
	c.suggestedMu.Unlock()

	if suggested > c.configuredPoll {
		return suggested
	}
	return c.configuredPoll
}
