// Package monitor implements C6, the live monitor registry: bounded
// per-repository polling loops that run independent of the durable store
// (C2) and share no mutable state with it or with each other.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghpulse/ghpulse/internal/fetcher"
	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
)

// Summary is the compact record stored in a monitor's ring buffer.
type Summary struct {
	ID        string
	Kind      ghevent.Kind
	Repo      string
	Actor     string
	CreatedAt time.Time
}

const maxBufferSize = 1000

// monitor is one active live monitor: its own worker goroutine, its own
// Fetcher instance (so its conditional-request state never touches C4's),
// and a bounded buffer guarded by a short exclusive lock.
type monitor struct {
	id        string
	repo      string
	kinds     map[ghevent.Kind]bool
	interval  time.Duration
	startedAt time.Time
	fetcher   *fetcher.Fetcher

	mu     sync.Mutex
	buffer []Summary // newest first

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Registry is C6: a process-local table of active monitors. It never reads
// from or writes to the event store.
type Registry struct {
	token     string
	userAgent string

	mu       sync.RWMutex
	monitors map[string]*monitor

	wg sync.WaitGroup
}

// New builds an empty registry. token and userAgent are used to construct
// each monitor's own Fetcher.
func New(token, userAgent string) *Registry {
	return &Registry{
		token:     token,
		userAgent: userAgent,
		monitors:  make(map[string]*monitor),
	}
}

// Start spawns a worker for repo that polls every max(5s, interval),
// keeping only events whose kind is in kinds (all of K if kinds is empty).
// Returns the new monitor_id.
func (r *Registry) Start(ctx context.Context, repo string, kinds []ghevent.Kind, interval time.Duration) string {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	kindSet := make(map[ghevent.Kind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	m := &monitor{
		id:        uuid.NewString(),
		repo:      repo,
		kinds:     kindSet,
		interval:  interval,
		startedAt: time.Now().UTC(),
		fetcher:   fetcher.New(r.token, r.userAgent),
		stopCh:    make(chan struct{}),
	}

	r.mu.Lock()
	r.monitors[m.id] = m
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, m)

	return m.id
}

func (r *Registry) run(ctx context.Context, m *monitor) {
	defer r.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	r.poll(ctx, m)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			r.poll(ctx, m)
		}
	}
}

func (r *Registry) poll(ctx context.Context, m *monitor) {
	res, err := m.fetcher.FetchRepo(ctx, m.repo, 0)
	if err != nil {
		slog.Warn("monitor poll failed", "monitor_id", m.id, "repo", m.repo, "error", err)
		return
	}
	if res.NotModified || len(res.Events) == 0 {
		return
	}

	summaries := make([]Summary, 0, len(res.Events))
	for _, ev := range res.Events {
		if len(m.kinds) > 0 && !m.kinds[ev.Kind] {
			continue
		}
		summaries = append(summaries, Summary{ID: ev.ID, Kind: ev.Kind, Repo: ev.Repo, Actor: ev.Actor, CreatedAt: ev.CreatedAt})
	}
	if len(summaries) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = pushFront(m.buffer, summaries)
}

// pushFront prepends newest (in upstream order, oldest-of-the-batch first)
// to the front of buffer and truncates to maxBufferSize, dropping the
// oldest entries, matching §4.6's 1000-entry bound.
func pushFront(buffer []Summary, newest []Summary) []Summary {
	reversed := make([]Summary, len(newest))
	for i, s := range newest {
		reversed[len(newest)-1-i] = s
	}
	out := append(reversed, buffer...)
	if len(out) > maxBufferSize {
		out = out[:maxBufferSize]
	}
	return out
}

// Stop cancels monitorID's worker and removes the record. Cancellation
// takes effect at the next scheduling point; an in-flight HTTP call may
// complete. Idempotent.
func (r *Registry) Stop(monitorID string) error {
	r.mu.Lock()
	m, ok := r.monitors[monitorID]
	if ok {
		delete(r.monitors, monitorID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: monitor %q not found", ghcore.ErrInvalidArgument, monitorID)
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

// StopAll cancels every monitor and waits for all worker goroutines to
// exit. Used at process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Stop(id)
	}
	r.wg.Wait()
}

// ListEntry is one row of list()'s output.
type ListEntry struct {
	ID         string
	Repo       string
	Kinds      []ghevent.Kind
	Interval   time.Duration
	BufferSize int
	StartedAt  time.Time
	Recent     []Summary
}

// List returns each active monitor's metadata plus up to five most recent
// buffered summaries.
func (r *Registry) List() []ListEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ListEntry, 0, len(r.monitors))
	for _, m := range r.monitors {
		m.mu.Lock()
		recent := m.buffer
		if len(recent) > 5 {
			recent = recent[:5]
		}
		entry := ListEntry{
			ID:         m.id,
			Repo:       m.repo,
			Kinds:      kindSlice(m.kinds),
			Interval:   m.interval,
			BufferSize: len(m.buffer),
			StartedAt:  m.startedAt,
			Recent:     append([]Summary(nil), recent...),
		}
		m.mu.Unlock()
		out = append(out, entry)
	}
	return out
}

func kindSlice(set map[ghevent.Kind]bool) []ghevent.Kind {
	out := make([]ghevent.Kind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// GetEvents returns the most recent limit buffered summaries for
// monitorID, clamped to 1000.
func (r *Registry) GetEvents(monitorID string, limit int) ([]Summary, error) {
	m, err := r.get(monitorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxBufferSize {
		limit = maxBufferSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.buffer) {
		limit = len(m.buffer)
	}
	return append([]Summary(nil), m.buffer[:limit]...), nil
}

// GetGrouped returns the same buffer grouped by kind.
func (r *Registry) GetGrouped(monitorID string) (map[ghevent.Kind][]Summary, error) {
	m, err := r.get(monitorID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	grouped := make(map[ghevent.Kind][]Summary)
	for _, s := range m.buffer {
		grouped[s.Kind] = append(grouped[s.Kind], s)
	}
	return grouped, nil
}

func (r *Registry) get(monitorID string) (*monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[monitorID]
	if !ok {
		return nil, fmt.Errorf("%w: monitor %q not found", ghcore.ErrInvalidArgument, monitorID)
	}
	return m, nil
}
