// Package query implements C5, the query engine: pure functions over C2
// that compute counts, intervals, per-repo summaries, trending lists, and
// bucketed time series. Every operation converts its window to an absolute
// instant once, at entry, the way §4.5 specifies.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
	"github.com/ghpulse/ghpulse/internal/store"
)

// eventStore is the slice of store.Store the query engine depends on,
// accepted as an interface so statistics and windowing logic can be tested
// against an in-memory fake instead of a live Postgres instance.
type eventStore interface {
	CountByKind(ctx context.Context, since time.Time, repo string) (map[ghevent.Kind]int, error)
	PROpenedTimestamps(ctx context.Context, repo string) ([]time.Time, error)
	PRMergeDurations(ctx context.Context, repo string, since time.Time) (map[int]float64, error)
	IssueFirstResponseDurations(ctx context.Context, repo string, since time.Time) (map[int]float64, error)
	RepoActivity(ctx context.Context, repo string, since time.Time) (map[ghevent.Kind]store.KindStat, int, bool, error)
	Trending(ctx context.Context, since time.Time, limit int) ([]store.TrendingRepo, error)
	EventCountsTimeseries(ctx context.Context, since time.Time, bucketMinutes int, repo string) ([]store.Bucket, error)
	PushCommitTotal(ctx context.Context, since time.Time, repo string) (pushCount int, commitTotal int, err error)
}

// Engine is C5. It holds no mutable state of its own — every method is a
// pure read against the store passed to New, per §9's anti-singleton note.
type Engine struct {
	store eventStore
	now   func() time.Time
}

// New builds a query engine over the given store.
func New(s *store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// EventCountsResult is event-counts' output shape.
type EventCountsResult struct {
	OffsetMinutes     int
	Total             int
	Counts            map[ghevent.Kind]int
	FellBackToAllTime bool
	Timestamp         time.Time
}

// EventCounts returns counts_by_kind(now-offset, repo) zero-filled across K.
// If the windowed sum is zero and the store is non-empty, it falls back to
// all-time per-kind counts and marks the response as such.
func (e *Engine) EventCounts(ctx context.Context, offsetMinutes int, repo string) (EventCountsResult, error) {
	if offsetMinutes <= 0 {
		return EventCountsResult{}, fmt.Errorf("%w: offset_minutes must be > 0", ghcore.ErrInvalidArgument)
	}

	since := e.now().Add(-time.Duration(offsetMinutes) * time.Minute)
	counts, err := e.store.CountByKind(ctx, since, repo)
	if err != nil {
		return EventCountsResult{}, err
	}

	total := sumCounts(counts)
	fellBack := false
	if total == 0 {
		allTime, err := e.store.CountByKind(ctx, time.Unix(0, 0).UTC(), repo)
		if err != nil {
			return EventCountsResult{}, err
		}
		allTotal := sumCounts(allTime)
		if allTotal > 0 {
			counts = allTime
			total = allTotal
			fellBack = true
		}
	}

	return EventCountsResult{
		OffsetMinutes:     offsetMinutes,
		Total:             total,
		Counts:            counts,
		FellBackToAllTime: fellBack,
		Timestamp:         e.now().UTC(),
	}, nil
}

func sumCounts(m map[ghevent.Kind]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// PRIntervalStats is avg-pr-interval's output shape.
type PRIntervalStats struct {
	Repo         string
	PRCount      int
	AvgSeconds   float64
	MedianSeconds float64
	MinSeconds   float64
	MaxSeconds   float64
}

// AvgPRInterval computes statistics over the gaps between consecutive
// pr_opened_timestamps(repo). Fewer than two timestamps yields
// ghcore.ErrInsufficientData, returned as a distinguished value, not a
// crash.
func (e *Engine) AvgPRInterval(ctx context.Context, repo string) (PRIntervalStats, error) {
	timestamps, err := e.store.PROpenedTimestamps(ctx, repo)
	if err != nil {
		return PRIntervalStats{}, err
	}
	if len(timestamps) < 2 {
		return PRIntervalStats{}, ghcore.ErrInsufficientData
	}

	gaps := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		gaps = append(gaps, timestamps[i].Sub(timestamps[i-1]).Seconds())
	}
	sort.Float64s(gaps)

	min, max := minMax(gaps)
	return PRIntervalStats{
		Repo:          repo,
		PRCount:       len(timestamps),
		AvgSeconds:    mean(gaps),
		MedianSeconds: median(gaps),
		MinSeconds:    min,
		MaxSeconds:    max,
	}, nil
}

// PRMergeTime returns count/avg/p50/p90 of pr_merge_durations(repo, since).
func (e *Engine) PRMergeTime(ctx context.Context, repo string, hours float64) (DurationStats, error) {
	since := e.now().Add(-durationHours(hours))
	durations, err := e.store.PRMergeDurations(ctx, repo, since)
	if err != nil {
		return DurationStats{}, err
	}
	return durationStats(mapValues(durations)), nil
}

// IssueFirstResponse returns the same shape as PRMergeTime over
// issue_first_response_durations.
func (e *Engine) IssueFirstResponse(ctx context.Context, repo string, hours float64) (DurationStats, error) {
	since := e.now().Add(-durationHours(hours))
	durations, err := e.store.IssueFirstResponseDurations(ctx, repo, since)
	if err != nil {
		return DurationStats{}, err
	}
	return durationStats(mapValues(durations)), nil
}

func mapValues(m map[int]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func durationHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// RepoActivityResult is repository-activity's output shape.
type RepoActivityResult struct {
	Repo              string
	Hours             float64
	Total             int
	Activity          map[ghevent.Kind]store.KindStat
	FellBackToAllTime bool
	Timestamp         time.Time
}

// RepositoryActivity returns repo_activity(repo, since) with the all-time
// fallback applied by the store.
func (e *Engine) RepositoryActivity(ctx context.Context, repo string, hours float64) (RepoActivityResult, error) {
	since := e.now().Add(-durationHours(hours))
	activity, total, fellBack, err := e.store.RepoActivity(ctx, repo, since)
	if err != nil {
		return RepoActivityResult{}, err
	}
	return RepoActivityResult{
		Repo:              repo,
		Hours:             hours,
		Total:             total,
		Activity:          activity,
		FellBackToAllTime: fellBack,
		Timestamp:         e.now().UTC(),
	}, nil
}

// TrendingResult is one entry of trending()'s output.
type TrendingResult struct {
	Repo    string
	Total   int
	PerKind map[ghevent.Kind]int
}

// Trending returns trending(since, limit) verbatim.
func (e *Engine) Trending(ctx context.Context, hours float64, limit int) ([]TrendingResult, error) {
	since := e.now().Add(-durationHours(hours))
	repos, err := e.store.Trending(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TrendingResult, 0, len(repos))
	for _, r := range repos {
		out = append(out, TrendingResult{Repo: r.Repo, Total: r.Total, PerKind: r.PerKind})
	}
	return out, nil
}

// TimeseriesBucket is one tile of event_counts_timeseries.
type TimeseriesBucket struct {
	Start  time.Time
	End    time.Time
	Counts map[ghevent.Kind]int
}

// EventCountsTimeseries tiles [since, now) into half-open buckets of
// bucket_minutes width; the final bucket is short if now does not align.
func (e *Engine) EventCountsTimeseries(ctx context.Context, hours float64, bucketMinutes int, repo string) ([]TimeseriesBucket, error) {
	if bucketMinutes < 1 {
		return nil, fmt.Errorf("%w: bucket_minutes must be >= 1", ghcore.ErrInvalidArgument)
	}
	since := e.now().Add(-durationHours(hours))
	buckets, err := e.store.EventCountsTimeseries(ctx, since, bucketMinutes, repo)
	if err != nil {
		return nil, err
	}
	out := make([]TimeseriesBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, TimeseriesBucket{Start: b.Start, End: b.End, Counts: b.Counts})
	}
	return out, nil
}

// StarActivity, ReleaseActivity and PushActivity are the "stars / releases /
// pushes / commits" convenience aggregates §4.5 names; their shapes follow
// the original collector's get_stars/get_releases/get_push_activity.
type StarActivity struct {
	Count int
}

func (e *Engine) StarActivity(ctx context.Context, hours float64, repo string) (StarActivity, error) {
	since := e.now().Add(-durationHours(hours))
	counts, err := e.store.CountByKind(ctx, since, repo)
	if err != nil {
		return StarActivity{}, err
	}
	return StarActivity{Count: counts[ghevent.KindWatch]}, nil
}

type ReleaseActivity struct {
	Count int
}

func (e *Engine) ReleaseActivity(ctx context.Context, hours float64, repo string) (ReleaseActivity, error) {
	since := e.now().Add(-durationHours(hours))
	counts, err := e.store.CountByKind(ctx, since, repo)
	if err != nil {
		return ReleaseActivity{}, err
	}
	return ReleaseActivity{Count: counts[ghevent.KindRelease]}, nil
}

// PushActivity sums payload.size across matching PushEvents, reporting
// total commits alongside the raw push count.
type PushActivity struct {
	PushCount   int
	CommitTotal int
}

func (e *Engine) PushActivity(ctx context.Context, hours float64, repo string) (PushActivity, error) {
	since := e.now().Add(-durationHours(hours))
	pushCount, commitTotal, err := e.store.PushCommitTotal(ctx, since, repo)
	if err != nil {
		return PushActivity{}, err
	}
	return PushActivity{PushCount: pushCount, CommitTotal: commitTotal}, nil
}
