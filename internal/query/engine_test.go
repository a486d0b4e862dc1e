package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
	"github.com/ghpulse/ghpulse/internal/store"
)

type fakeStore struct {
	counts           map[ghevent.Kind]int
	allTimeCounts    map[ghevent.Kind]int
	prOpened         []time.Time
	prMergeDurations map[int]float64
	issueDurations   map[int]float64
	activity         map[ghevent.Kind]store.KindStat
	activityTotal    int
	activityFellBack bool
	trending         []store.TrendingRepo
	buckets          []store.Bucket
	pushCount        int
	commitTotal      int
}

func (f *fakeStore) CountByKind(ctx context.Context, since time.Time, repo string) (map[ghevent.Kind]int, error) {
	if since.Unix() == 0 {
		return f.allTimeCounts, nil
	}
	return f.counts, nil
}

func (f *fakeStore) PROpenedTimestamps(ctx context.Context, repo string) ([]time.Time, error) {
	return f.prOpened, nil
}

func (f *fakeStore) PRMergeDurations(ctx context.Context, repo string, since time.Time) (map[int]float64, error) {
	return f.prMergeDurations, nil
}

func (f *fakeStore) IssueFirstResponseDurations(ctx context.Context, repo string, since time.Time) (map[int]float64, error) {
	return f.issueDurations, nil
}

func (f *fakeStore) RepoActivity(ctx context.Context, repo string, since time.Time) (map[ghevent.Kind]store.KindStat, int, bool, error) {
	return f.activity, f.activityTotal, f.activityFellBack, nil
}

func (f *fakeStore) Trending(ctx context.Context, since time.Time, limit int) ([]store.TrendingRepo, error) {
	return f.trending, nil
}

func (f *fakeStore) EventCountsTimeseries(ctx context.Context, since time.Time, bucketMinutes int, repo string) ([]store.Bucket, error) {
	return f.buckets, nil
}

func (f *fakeStore) PushCommitTotal(ctx context.Context, since time.Time, repo string) (int, int, error) {
	return f.pushCount, f.commitTotal, nil
}

func newEngine(fs *fakeStore, now time.Time) *Engine {
	return &Engine{store: fs, now: func() time.Time { return now }}
}

func TestEventCounts_RejectsNonPositiveOffset(t *testing.T) {
	e := newEngine(&fakeStore{}, time.Now())
	_, err := e.EventCounts(context.Background(), 0, "")
	require.ErrorIs(t, err, ghcore.ErrInvalidArgument)
}

func TestEventCounts_FallsBackToAllTimeWhenWindowEmpty(t *testing.T) {
	fs := &fakeStore{
		counts:        ghevent.ZeroCounts(),
		allTimeCounts: withCount(ghevent.KindPush, 5),
	}
	e := newEngine(fs, time.Now())

	res, err := e.EventCounts(context.Background(), 60, "o/r")
	require.NoError(t, err)
	assert.True(t, res.FellBackToAllTime)
	assert.Equal(t, 5, res.Total)
}

func TestEventCounts_NoFallbackWhenWindowHasData(t *testing.T) {
	fs := &fakeStore{counts: withCount(ghevent.KindPush, 3), allTimeCounts: withCount(ghevent.KindPush, 50)}
	e := newEngine(fs, time.Now())

	res, err := e.EventCounts(context.Background(), 60, "")
	require.NoError(t, err)
	assert.False(t, res.FellBackToAllTime)
	assert.Equal(t, 3, res.Total)
}

func withCount(k ghevent.Kind, n int) map[ghevent.Kind]int {
	m := ghevent.ZeroCounts()
	m[k] = n
	return m
}

// Spec §8 scenario 4: PR opens at t=0h, t=2h, t=5h -> avg 9000s, min 7200s, max 10800s.
func TestAvgPRInterval_MatchesSpecScenario(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fs := &fakeStore{prOpened: []time.Time{
		base,
		base.Add(2 * time.Hour),
		base.Add(5 * time.Hour),
	}}
	e := newEngine(fs, base.Add(6*time.Hour))

	stats, err := e.AvgPRInterval(context.Background(), "o/r")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PRCount)
	assert.InDelta(t, 9000, stats.AvgSeconds, 0.001)
	assert.InDelta(t, 7200, stats.MinSeconds, 0.001)
	assert.InDelta(t, 10800, stats.MaxSeconds, 0.001)
}

func TestAvgPRInterval_InsufficientData(t *testing.T) {
	fs := &fakeStore{prOpened: []time.Time{time.Now()}}
	e := newEngine(fs, time.Now())

	_, err := e.AvgPRInterval(context.Background(), "o/r")
	require.ErrorIs(t, err, ghcore.ErrInsufficientData)
}

func TestPercentileSanity(t *testing.T) {
	values := []float64{10, 20, 30, 1000}
	stats := durationStats(values)
	assert.LessOrEqual(t, stats.P50Seconds, stats.P90Seconds)
	min, max := minMax(append([]float64(nil), values...))
	assert.GreaterOrEqual(t, stats.P50Seconds, min)
	assert.LessOrEqual(t, stats.P50Seconds, max)
	assert.GreaterOrEqual(t, stats.P90Seconds, min)
	assert.LessOrEqual(t, stats.P90Seconds, max)
}

// Spec §8 scenario 6: hourly PushEvent counts [1,1,1,1,1,20] -> one spike,
// severity medium, confidence 0.95.
func TestDetectAnomalies_MatchesSpecScenario(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	counts := []int{1, 1, 1, 1, 1, 20}
	buckets := make([]store.Bucket, len(counts))
	for i, n := range counts {
		buckets[i] = store.Bucket{
			Start:  base.Add(time.Duration(i) * time.Hour),
			End:    base.Add(time.Duration(i+1) * time.Hour),
			Counts: withCount(ghevent.KindPush, n),
		}
	}
	fs := &fakeStore{buckets: buckets}
	e := newEngine(fs, base.Add(6*time.Hour))

	anomalies, err := e.DetectAnomalies(context.Background(), "o/r", 6)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, ghevent.KindPush, anomalies[0].Kind)
	assert.Equal(t, AnomalySpike, anomalies[0].Type)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)
	assert.Equal(t, 0.95, anomalies[0].Confidence)
}

func TestRepositoryHealthScore_StaysWithinRange(t *testing.T) {
	fs := &fakeStore{counts: withCount(ghevent.KindPush, 2000)}
	e := newEngine(fs, time.Now())

	health, err := e.RepositoryHealthScore(context.Background(), "o/r", 168)
	require.NoError(t, err)
	assert.LessOrEqual(t, health.Overall, 100.0)
	assert.GreaterOrEqual(t, health.Overall, 0.0)
	assert.Equal(t, 100.0, health.Activity, "(2000/168)*10 exceeds 100 and clamps")
}
