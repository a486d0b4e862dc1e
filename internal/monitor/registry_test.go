package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
)

func TestPushFront_TruncatesToMax(t *testing.T) {
	var buffer []Summary
	for i := 0; i < maxBufferSize; i++ {
		buffer = pushFront(buffer, []Summary{{ID: "old", CreatedAt: time.Now()}})
	}
	require.Len(t, buffer, maxBufferSize)

	buffer = pushFront(buffer, []Summary{{ID: "newest", CreatedAt: time.Now()}})
	assert.Len(t, buffer, maxBufferSize, "buffer never exceeds 1000 entries")
	assert.Equal(t, "newest", buffer[0].ID, "newest entries are pushed to the front")
}

func TestPushFront_PreservesUpstreamOrderNewestFirst(t *testing.T) {
	batch := []Summary{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	buffer := pushFront(nil, batch)
	require.Len(t, buffer, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{buffer[0].ID, buffer[1].ID, buffer[2].ID})
}

func TestRegistry_StopUnknownMonitor(t *testing.T) {
	r := New("", "ghpulse-test")
	err := r.Stop("does-not-exist")
	require.ErrorIs(t, err, ghcore.ErrInvalidArgument)
}

func TestRegistry_GetEventsClampsLimit(t *testing.T) {
	r := New("", "ghpulse-test")
	m := &monitor{id: "m1", stopCh: make(chan struct{})}
	for i := 0; i < 10; i++ {
		m.buffer = append(m.buffer, Summary{ID: "x", Kind: ghevent.KindPush})
	}
	r.mu.Lock()
	r.monitors["m1"] = m
	r.mu.Unlock()

	events, err := r.GetEvents("m1", 5000)
	require.NoError(t, err)
	assert.Len(t, events, 10, "clamp only caps at maxBufferSize, never pads")

	events, err = r.GetEvents("m1", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRegistry_ListReturnsUpToFiveRecent(t *testing.T) {
	r := New("", "ghpulse-test")
	m := &monitor{id: "m1", repo: "o/r", kinds: map[ghevent.Kind]bool{}, stopCh: make(chan struct{}), startedAt: time.Now()}
	for i := 0; i < 8; i++ {
		m.buffer = append(m.buffer, Summary{ID: "x"})
	}
	r.mu.Lock()
	r.monitors["m1"] = m
	r.mu.Unlock()

	entries := r.List()
	require.Len(t, entries, 1)
	assert.Equal(t, 8, entries[0].BufferSize)
	assert.Len(t, entries[0].Recent, 5)
}
