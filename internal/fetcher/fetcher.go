// Package fetcher implements C3: it talks to the GitHub events endpoints
// using conditional requests, converts raw payloads to ghevent.Event records,
// and obeys rate limits and the server-suggested polling cadence.
//
// It never writes to the store and never retries on its own; retry is
// entirely the caller's decision (the ingestion coordinator or a live
// monitor worker).
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"

	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
)

// Result is what one fetch call returns: the events kept (already filtered
// to kind ∈ K), and the server-suggested poll interval if any.
type Result struct {
	Events          []ghevent.Event
	SuggestedPoll   time.Duration
	NotModified     bool
	RateLimitedWait time.Duration
}

// Fetcher performs conditional GETs against GitHub's public and per-repo
// events feeds. The stateless function library design (§9's "cyclic
// collector" design note): it carries no mutable collector object, only the
// transport stack — conditional-request state lives inside the httpcache
// transport's own cache, one instance per Fetcher, so two Fetchers (e.g. C4
// and a C6 monitor) never share ETag state.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// New builds a Fetcher with the transport stack: httpcache (ETag-based
// conditional request caching) wrapped by go-github-ratelimit (sleeps until
// X-RateLimit-Reset on primary or secondary exhaustion), with an optional
// bearer token attached by go-github's WithAuthToken.
func New(token, userAgent string) *Fetcher {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimited := github_ratelimit.NewClient(cacheTransport)

	client := gh.NewClient(rateLimited)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if userAgent != "" {
		client.UserAgent = userAgent
	}

	return &Fetcher{
		httpClient: client.Client(),
		baseURL:    client.BaseURL.String(),
		userAgent:  userAgent,
	}
}

// FetchGlobal polls GET /events, the public events feed.
func (f *Fetcher) FetchGlobal(ctx context.Context, limit int) (Result, error) {
	return f.fetch(ctx, f.baseURL+"events", limit)
}

// FetchRepo polls GET /repos/{owner}/{repo}/events for one repository.
func (f *Fetcher) FetchRepo(ctx context.Context, repo string, limit int) (Result, error) {
	return f.fetch(ctx, fmt.Sprintf("%srepos/%s/events", f.baseURL, repo), limit)
}

func (f *Fetcher) fetch(ctx context.Context, url string, limit int) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %v", ghcore.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ghcore.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified || resp.Header.Get(httpcache.XFromCache) == "1" {
		return Result{NotModified: true, SuggestedPoll: pollInterval(resp.Header)}, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests || isRateLimitExhausted(resp) {
		wait := rateLimitWait(resp.Header)
		return Result{RateLimitedWait: wait}, fmt.Errorf("%w: reset in %s", ghcore.ErrRateLimited, wait)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: unexpected status %d", ghcore.ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading body: %v", ghcore.ErrTransport, err)
	}

	events, err := ghevent.FromJSONArray(body, limit)
	if err != nil {
		return Result{}, err
	}

	return Result{Events: events, SuggestedPoll: pollInterval(resp.Header)}, nil
}

func isRateLimitExhausted(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// rateLimitWait computes max(0, reset-now) from X-RateLimit-Reset, an epoch
// second. The go-github-ratelimit transport already sleeps through
// secondary limits internally; this is the caller-visible fallback for a
// primary-limit response that still reaches this layer.
func rateLimitWait(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return 0
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	wait := time.Until(time.Unix(epoch, 0))
	if wait < 0 {
		return 0
	}
	return wait
}

func pollInterval(h http.Header) time.Duration {
	raw := h.Get("X-Poll-Interval")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
