// Package store implements C2, the durable append-only event store: a
// jackc/pgx-backed Postgres table keyed by event id with the composite
// index §4.2 requires for windowed aggregation.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
)

// Store wraps a connection pool. insert_many is safe under concurrent
// readers. Store itself does not serialize writers: concurrent InsertMany
// calls run on separate pooled connections, and the primary key with ON
// CONFLICT DO NOTHING keeps one row per id. In ghpulse the only writer is
// the ingestion coordinator, whose collections are single-flight.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection with a ping.
// Failure here is ghcore.ErrStoreUnavailable and is fatal at startup.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing database url: %v", ghcore.ErrStoreUnavailable, err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pool: %v", ghcore.ErrStoreUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ghcore.ErrStoreUnavailable, err)
	}

	slog.Info("store connected", "max_conns", cfg.MaxConns)
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Health reports whether the store can currently serve a query.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ghcore.ErrStoreUnavailable, err)
	}
	return nil
}

const insertSQL = `
INSERT INTO events (id, kind, repo, actor, created_at, payload, collected_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO NOTHING
`

// InsertMany inserts events and returns the count actually inserted;
// duplicates by id do not count. Idempotent under retry. Events are
// attempted in the order given (§5's within-batch ordering guarantee).
// A duplicate id is skipped by ON CONFLICT DO NOTHING and is not an error;
// any other insert failure stops the batch and returns ErrStoreUnavailable
// together with the count inserted before it.
func (s *Store) InsertMany(ctx context.Context, events []ghevent.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	inserted := 0
	for _, ev := range events {
		tag, err := s.pool.Exec(ctx, insertSQL, ev.ID, string(ev.Kind), ev.Repo, ev.Actor, ev.CreatedAt, []byte(ev.Payload))
		if err != nil {
			return inserted, fmt.Errorf("%w: inserting event %s: %v", ghcore.ErrStoreUnavailable, ev.ID, err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// CountByKind returns counts_by_kind(since, repo). The full closed set K
// is always represented, zero-filled for kinds with no matching rows.
func (s *Store) CountByKind(ctx context.Context, since time.Time, repo string) (map[ghevent.Kind]int, error) {
	query := `SELECT kind, COUNT(*) FROM events WHERE created_at >= $1`
	args := []any{since}
	if repo != "" {
		query += ` AND repo = $2`
		args = append(args, repo)
	}
	query += ` GROUP BY kind`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: count_by_kind: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	counts := ghevent.ZeroCounts()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("%w: scanning count_by_kind row: %v", ghcore.ErrStoreUnavailable, err)
		}
		counts[ghevent.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// PushCommitTotal returns the number of matching PushEvents and the sum of
// their payload.size field, the "total commits" convenience aggregate
// §4.5 names alongside stars/releases/pushes.
func (s *Store) PushCommitTotal(ctx context.Context, since time.Time, repo string) (pushCount int, commitTotal int, err error) {
	query := `SELECT COUNT(*), COALESCE(SUM((payload->>'size')::int), 0) FROM events WHERE kind = $1 AND created_at >= $2`
	args := []any{string(ghevent.KindPush), since}
	if repo != "" {
		query += ` AND repo = $3`
		args = append(args, repo)
	}

	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&pushCount, &commitTotal); err != nil {
		return 0, 0, fmt.Errorf("%w: push_commit_total: %v", ghcore.ErrStoreUnavailable, err)
	}
	return pushCount, commitTotal, nil
}

// PROpenedTimestamps returns the ordered created_at of every PullRequestEvent
// with payload.action = "opened" for repo.
func (s *Store) PROpenedTimestamps(ctx context.Context, repo string) ([]time.Time, error) {
	const q = `
SELECT created_at FROM events
WHERE repo = $1 AND kind = $2 AND payload->>'action' = 'opened'
ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q, repo, string(ghevent.KindPullRequest))
	if err != nil {
		return nil, fmt.Errorf("%w: pr_opened_timestamps: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: scanning pr_opened_timestamps row: %v", ghcore.ErrStoreUnavailable, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PRMergeDurations returns, per PR number, the seconds between the earliest
// opened event and the earliest closed-and-merged event, both in-window.
// Negative durations are excluded.
func (s *Store) PRMergeDurations(ctx context.Context, repo string, since time.Time) (map[int]float64, error) {
	const q = `
WITH opened AS (
  SELECT (payload->'pull_request'->>'number')::int AS number, MIN(created_at) AS opened_at
  FROM events
  WHERE repo = $1 AND kind = $2 AND created_at >= $3 AND payload->>'action' = 'opened'
  GROUP BY number
),
merged AS (
  SELECT (payload->'pull_request'->>'number')::int AS number, MIN(created_at) AS merged_at
  FROM events
  WHERE repo = $1 AND kind = $2 AND created_at >= $3
    AND payload->>'action' = 'closed' AND (payload->'pull_request'->>'merged')::bool IS TRUE
  GROUP BY number
)
SELECT o.number, EXTRACT(EPOCH FROM (m.merged_at - o.opened_at))
FROM opened o JOIN merged m ON m.number = o.number`

	rows, err := s.pool.Query(ctx, q, repo, string(ghevent.KindPullRequest), since)
	if err != nil {
		return nil, fmt.Errorf("%w: pr_merge_durations: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var number int
		var seconds float64
		if err := rows.Scan(&number, &seconds); err != nil {
			return nil, fmt.Errorf("%w: scanning pr_merge_durations row: %v", ghcore.ErrStoreUnavailable, err)
		}
		if seconds < 0 {
			continue
		}
		out[number] = seconds
	}
	return out, rows.Err()
}

// IssueFirstResponseDurations returns, per issue number, the seconds between
// the earliest opened IssuesEvent and the earliest IssueCommentEvent for the
// same number. Negative durations are excluded.
func (s *Store) IssueFirstResponseDurations(ctx context.Context, repo string, since time.Time) (map[int]float64, error) {
	const q = `
WITH opened AS (
  SELECT (payload->'issue'->>'number')::int AS number, MIN(created_at) AS opened_at
  FROM events
  WHERE repo = $1 AND kind = $2 AND created_at >= $3 AND payload->>'action' = 'opened'
  GROUP BY number
),
commented AS (
  SELECT (payload->'issue'->>'number')::int AS number, MIN(created_at) AS commented_at
  FROM events
  WHERE repo = $1 AND kind = $4 AND created_at >= $3
  GROUP BY number
)
SELECT o.number, EXTRACT(EPOCH FROM (c.commented_at - o.opened_at))
FROM opened o JOIN commented c ON c.number = o.number`

	rows, err := s.pool.Query(ctx, q, repo, string(ghevent.KindIssues), since, string(ghevent.KindIssueComment))
	if err != nil {
		return nil, fmt.Errorf("%w: issue_first_response_durations: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var number int
		var seconds float64
		if err := rows.Scan(&number, &seconds); err != nil {
			return nil, fmt.Errorf("%w: scanning issue_first_response_durations row: %v", ghcore.ErrStoreUnavailable, err)
		}
		if seconds < 0 {
			continue
		}
		out[number] = seconds
	}
	return out, rows.Err()
}

// KindStat is one entry of repo_activity's per-kind breakdown.
type KindStat struct {
	Count   int
	FirstTS time.Time
	LastTS  time.Time
}

// RepoActivity returns the per-kind breakdown and total for repo since the
// given instant. If the windowed total is zero, it falls back to an
// all-time aggregation for the same repo (§4.3's fallback policy); the
// caller is told via the returned fellBack flag.
func (s *Store) RepoActivity(ctx context.Context, repo string, since time.Time) (activity map[ghevent.Kind]KindStat, total int, fellBack bool, err error) {
	activity, total, err = s.repoActivityWindowed(ctx, repo, since)
	if err != nil {
		return nil, 0, false, err
	}
	if total > 0 {
		return activity, total, false, nil
	}

	allTime, allTotal, err := s.repoActivityWindowed(ctx, repo, time.Unix(0, 0).UTC())
	if err != nil {
		return nil, 0, false, err
	}
	return allTime, allTotal, allTotal > 0, nil
}

func (s *Store) repoActivityWindowed(ctx context.Context, repo string, since time.Time) (map[ghevent.Kind]KindStat, int, error) {
	const q = `
SELECT kind, COUNT(*), MIN(created_at), MAX(created_at)
FROM events WHERE repo = $1 AND created_at >= $2
GROUP BY kind`

	rows, err := s.pool.Query(ctx, q, repo, since)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: repo_activity: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	stats := make(map[ghevent.Kind]KindStat)
	total := 0
	for rows.Next() {
		var kind string
		var stat KindStat
		if err := rows.Scan(&kind, &stat.Count, &stat.FirstTS, &stat.LastTS); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning repo_activity row: %v", ghcore.ErrStoreUnavailable, err)
		}
		stats[ghevent.Kind(kind)] = stat
		total += stat.Count
	}
	return stats, total, rows.Err()
}

// TrendingRepo is one entry of trending()'s result.
type TrendingRepo struct {
	Repo    string
	Total   int
	PerKind map[ghevent.Kind]int
}

// Trending returns the top limit repos by total event count in [since, now),
// with a per-kind breakdown each. Ties are broken by repo name ascending so
// the result is deterministic for a given store.
func (s *Store) Trending(ctx context.Context, since time.Time, limit int) ([]TrendingRepo, error) {
	const totalsQ = `
SELECT repo, COUNT(*) AS total FROM events
WHERE created_at >= $1
GROUP BY repo
ORDER BY total DESC, repo ASC
LIMIT $2`

	rows, err := s.pool.Query(ctx, totalsQ, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: trending totals: %v", ghcore.ErrStoreUnavailable, err)
	}

	var repos []string
	totals := make(map[string]int)
	for rows.Next() {
		var repo string
		var total int
		if err := rows.Scan(&repo, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning trending totals row: %v", ghcore.ErrStoreUnavailable, err)
		}
		repos = append(repos, repo)
		totals[repo] = total
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, nil
	}

	const kindsQ = `
SELECT repo, kind, COUNT(*) FROM events
WHERE created_at >= $1 AND repo = ANY($2)
GROUP BY repo, kind`

	kindRows, err := s.pool.Query(ctx, kindsQ, since, repos)
	if err != nil {
		return nil, fmt.Errorf("%w: trending per-kind: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer kindRows.Close()

	perKind := make(map[string]map[ghevent.Kind]int, len(repos))
	for kindRows.Next() {
		var repo, kind string
		var n int
		if err := kindRows.Scan(&repo, &kind, &n); err != nil {
			return nil, fmt.Errorf("%w: scanning trending per-kind row: %v", ghcore.ErrStoreUnavailable, err)
		}
		if perKind[repo] == nil {
			perKind[repo] = make(map[ghevent.Kind]int)
		}
		perKind[repo][ghevent.Kind(kind)] = n
	}
	if err := kindRows.Err(); err != nil {
		return nil, err
	}

	out := make([]TrendingRepo, 0, len(repos))
	for _, repo := range repos {
		out = append(out, TrendingRepo{Repo: repo, Total: totals[repo], PerKind: perKind[repo]})
	}
	return out, nil
}

// Bucket is one tile of event_counts_timeseries.
type Bucket struct {
	Start  time.Time
	End    time.Time
	Counts map[ghevent.Kind]int
}

// EventCountsTimeseries tiles [since, now) into buckets of bucketMinutes
// width, half-open [start, end), the final bucket possibly short. Returns
// per-kind counts for each bucket.
func (s *Store) EventCountsTimeseries(ctx context.Context, since time.Time, bucketMinutes int, repo string) ([]Bucket, error) {
	if bucketMinutes < 1 {
		return nil, fmt.Errorf("%w: bucket_minutes must be >= 1", ghcore.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	width := time.Duration(bucketMinutes) * time.Minute

	buckets := tileBuckets(since, now, width)
	if len(buckets) == 0 {
		return buckets, nil
	}

	query := `SELECT kind, created_at FROM events WHERE created_at >= $1 AND created_at < $2`
	args := []any{since, now}
	if repo != "" {
		query += ` AND repo = $3`
		args = append(args, repo)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: event_counts_timeseries: %v", ghcore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&kind, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning event_counts_timeseries row: %v", ghcore.ErrStoreUnavailable, err)
		}
		idx := bucketIndex(since, width, len(buckets), createdAt)
		if idx < 0 {
			continue
		}
		buckets[idx].Counts[ghevent.Kind(kind)]++
	}
	return buckets, rows.Err()
}

func tileBuckets(since, now time.Time, width time.Duration) []Bucket {
	if !now.After(since) {
		return nil
	}
	var buckets []Bucket
	cursor := since
	for cursor.Before(now) {
		end := cursor.Add(width)
		if end.After(now) {
			end = now
		}
		buckets = append(buckets, Bucket{Start: cursor, End: end, Counts: ghevent.ZeroCounts()})
		cursor = end
	}
	return buckets
}

func bucketIndex(since time.Time, width time.Duration, n int, t time.Time) int {
	if t.Before(since) {
		return -1
	}
	idx := int(t.Sub(since) / width)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// GetByID fetches a single event by id. Returns pgx.ErrNoRows when
// absent.
func (s *Store) GetByID(ctx context.Context, id string) (ghevent.Event, error) {
	const q = `SELECT id, kind, repo, actor, created_at, payload, collected_at FROM events WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)

	var ev ghevent.Event
	var kind string
	var payload []byte
	if err := row.Scan(&ev.ID, &kind, &ev.Repo, &ev.Actor, &ev.CreatedAt, &payload, &ev.CollectedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ghevent.Event{}, err
		}
		return ghevent.Event{}, fmt.Errorf("%w: get_by_id: %v", ghcore.ErrStoreUnavailable, err)
	}
	ev.Kind = ghevent.Kind(kind)
	ev.Payload = payload
	return ev, nil
}
