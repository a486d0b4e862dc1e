package fetcher

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollInterval(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, pollInterval(h))

	h.Set("X-Poll-Interval", "90")
	assert.Equal(t, 90*time.Second, pollInterval(h))

	h.Set("X-Poll-Interval", "not-a-number")
	assert.Zero(t, pollInterval(h))
}

func TestRateLimitWait(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, rateLimitWait(h))

	future := time.Now().Add(30 * time.Second).Unix()
	h.Set("X-RateLimit-Reset", strconv.FormatInt(future, 10))
	wait := rateLimitWait(h)
	assert.Greater(t, wait, 20*time.Second)
	assert.LessOrEqual(t, wait, 30*time.Second)

	past := time.Now().Add(-30 * time.Second).Unix()
	h.Set("X-RateLimit-Reset", strconv.FormatInt(past, 10))
	assert.Zero(t, rateLimitWait(h))
}

func TestIsRateLimitExhausted(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	assert.False(t, isRateLimitExhausted(resp))

	resp.Header.Set("X-RateLimit-Remaining", "0")
	assert.True(t, isRateLimitExhausted(resp))

	resp.StatusCode = http.StatusOK
	assert.False(t, isRateLimitExhausted(resp))
}
