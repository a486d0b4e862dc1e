package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileBuckets_CoversWindowExactly(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := since.Add(25 * time.Minute)

	buckets := tileBuckets(since, now, 10*time.Minute)
	require.Len(t, buckets, 3)

	assert.Equal(t, since, buckets[0].Start)
	assert.Equal(t, since.Add(10*time.Minute), buckets[0].End)
	assert.Equal(t, buckets[0].End, buckets[1].Start)
	assert.Equal(t, buckets[1].End, buckets[2].Start)
	assert.Equal(t, now, buckets[len(buckets)-1].End, "last bucket ends at now")

	assert.Equal(t, 5*time.Minute, buckets[2].End.Sub(buckets[2].Start), "final bucket is short when now does not align")
}

func TestTileBuckets_EmptyWindow(t *testing.T) {
	now := time.Now().UTC()
	assert.Nil(t, tileBuckets(now, now, time.Minute))
	assert.Nil(t, tileBuckets(now.Add(time.Minute), now, time.Minute))
}

func TestBucketIndex_ClampsToLastBucket(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	width := 10 * time.Minute

	assert.Equal(t, 0, bucketIndex(since, width, 3, since))
	assert.Equal(t, 1, bucketIndex(since, width, 3, since.Add(15*time.Minute)))
	assert.Equal(t, 2, bucketIndex(since, width, 3, since.Add(29*time.Minute)))
	assert.Equal(t, 2, bucketIndex(since, width, 3, since.Add(35*time.Minute)))
	assert.Equal(t, -1, bucketIndex(since, width, 3, since.Add(-time.Second)))
}

func TestOpen_RequiresLiveDatabase(t *testing.T) {
	t.Skip("requires a live Postgres instance - run manually with docker-compose up")
	_, _ = Open(context.Background(), "postgres://localhost/ghpulse_test")
}

func TestInsertMany_Dedupe(t *testing.T) {
	t.Skip("requires a live Postgres instance - run manually with docker-compose up")
}

func TestRepoActivity_FallsBackToAllTime(t *testing.T) {
	t.Skip("requires a live Postgres instance - run manually with docker-compose up")
}
