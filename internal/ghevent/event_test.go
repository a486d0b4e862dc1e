package ghevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSON_Valid(t *testing.T) {
	body := []byte(`{
		"id": "123",
		"type": "PushEvent",
		"actor": {"login": "octocat"},
		"repo": {"name": "octocat/hello-world"},
		"payload": {"size": 2},
		"created_at": "2026-01-02T03:04:05Z"
	}`)

	ev, err := FromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, "123", ev.ID)
	assert.Equal(t, KindPush, ev.Kind)
	assert.Equal(t, "octocat/hello-world", ev.Repo)
	assert.Equal(t, "octocat", ev.Actor)
	assert.True(t, ev.CollectedAt.IsZero(), "collected_at is set by the store, not the constructor")
}

func TestFromJSON_MissingFields(t *testing.T) {
	cases := map[string]string{
		"missing id":         `{"type":"PushEvent","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"}`,
		"missing type":       `{"id":"1","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"}`,
		"missing repo name":  `{"id":"1","type":"PushEvent","actor":{"login":"a"},"repo":{},"created_at":"2026-01-01T00:00:00Z"}`,
		"missing actor":      `{"id":"1","type":"PushEvent","repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"}`,
		"missing created_at": `{"id":"1","type":"PushEvent","actor":{"login":"a"},"repo":{"name":"a/b"}}`,
		"bad created_at":     `{"id":"1","type":"PushEvent","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"not-a-time"}`,
		"kind outside K":     `{"id":"1","type":"FollowEvent","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromJSON([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestFromJSONArray_FiltersOutOfKindAndLimits(t *testing.T) {
	body := []byte(`[
		{"id":"1","type":"PushEvent","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"},
		{"id":"2","type":"FollowEvent","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"},
		{"id":"3","type":"GollumEvent","actor":{"login":"a"},"repo":{"name":"a/b"},"created_at":"2026-01-01T00:00:00Z"}
	]`)

	all, err := FromJSONArray(body, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, "3", all[1].ID)

	limited, err := FromJSONArray(body, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "1", limited[0].ID)
}

func TestKindClosure(t *testing.T) {
	zeros := ZeroCounts()
	assert.Len(t, zeros, len(All))
	for _, k := range All {
		v, ok := zeros[k]
		assert.True(t, ok)
		assert.Zero(t, v)
	}
	assert.False(t, In(Kind("FollowEvent")))
	assert.True(t, In(KindPush))
}
