package ghevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ghpulse/ghpulse/internal/ghcore"
)

// Event is the canonical stored shape of one upstream GitHub event (E in the
// data model). Payload is retained verbatim; interpretation of its shape is
// left entirely to per-kind query logic, never to the store.
type Event struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Repo        string          `json:"repo"`
	Actor       string          `json:"actor"`
	CreatedAt   time.Time       `json:"created_at"`
	Payload     json.RawMessage `json:"payload"`
	CollectedAt time.Time       `json:"collected_at"`
}

// rawActor and rawRepo mirror the shape GitHub's Events API sends for the
// "actor" and "repo" fields of a raw event.
type rawActor struct {
	Login string `json:"login"`
}

type rawRepo struct {
	Name string `json:"name"`
}

// raw mirrors one element of the JSON array GitHub's /events endpoints
// return.
type raw struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     rawActor        `json:"actor"`
	Repo      rawRepo         `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// FromJSON parses one upstream event object and maps it to an Event. It
// fails cleanly — returning ghcore.ErrMalformedEvent — when any required
// field (id, type, repo.name, actor.login, created_at) is absent or
// malformed, or when the type is outside the monitored kind set K. Callers
// must skip the event on error rather than abort the surrounding batch.
func FromJSON(body []byte) (Event, error) {
	var r raw
	if err := json.Unmarshal(body, &r); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ghcore.ErrMalformedEvent, err)
	}
	return fromRaw(r)
}

func fromRaw(r raw) (Event, error) {
	if r.ID == "" {
		return Event{}, fmt.Errorf("%w: missing id", ghcore.ErrMalformedEvent)
	}
	if r.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ghcore.ErrMalformedEvent)
	}
	kind := Kind(r.Type)
	if !In(kind) {
		return Event{}, fmt.Errorf("%w: kind %q not in K", ghcore.ErrMalformedEvent, r.Type)
	}
	if r.Repo.Name == "" {
		return Event{}, fmt.Errorf("%w: missing repo.name", ghcore.ErrMalformedEvent)
	}
	if r.Actor.Login == "" {
		return Event{}, fmt.Errorf("%w: missing actor.login", ghcore.ErrMalformedEvent)
	}
	createdAt, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad created_at %q: %v", ghcore.ErrMalformedEvent, r.CreatedAt, err)
	}

	payload := r.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	return Event{
		ID:        r.ID,
		Kind:      kind,
		Repo:      r.Repo.Name,
		Actor:     r.Actor.Login,
		CreatedAt: createdAt.UTC(),
		Payload:   payload,
	}, nil
}

// FromJSONArray parses a raw upstream JSON array of events, keeping only
// those whose type is in K and that parse cleanly. Malformed or
// out-of-K events are dropped silently (the caller may log); the rest of
// the array is always processed. If limit > 0, parsing stops once limit
// events have been kept.
func FromJSONArray(body []byte, limit int) ([]Event, error) {
	var raws []raw
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("%w: decoding event array: %v", ghcore.ErrMalformedEvent, err)
	}

	events := make([]Event, 0, len(raws))
	for _, r := range raws {
		if !In(Kind(r.Type)) {
			continue
		}
		ev, err := fromRaw(r)
		if err != nil {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}
