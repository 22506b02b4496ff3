package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terra-clan/assessment-composer/internal/workspaces"
)

type fakeRegistry struct {
	mu      sync.Mutex
	used    map[workspaces.Key]time.Time
	evicted chan workspaces.Key
}

func (f *fakeRegistry) Idle(before time.Time) []workspaces.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []workspaces.Key
	for k, t := range f.used {
		if t.Before(before) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (f *fakeRegistry) Evict(key workspaces.Key) bool {
	f.mu.Lock()
	_, ok := f.used[key]
	delete(f.used, key)
	f.mu.Unlock()
	if ok {
		f.evicted <- key
	}
	return ok
}

func TestCleanup_EvictsOnlyIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := workspaces.Key{ConsoleID: "c1", AssessmentID: "a1"}
	fresh := workspaces.Key{ConsoleID: "c2", AssessmentID: "a1"}

	reg := &fakeRegistry{
		used: map[workspaces.Key]time.Time{
			stale: now.Add(-45 * time.Minute),
			fresh: now.Add(-5 * time.Minute),
		},
		evicted: make(chan workspaces.Key, 4),
	}

	c := NewCleaner(reg, 30*time.Minute, time.Minute)
	c.now = func() time.Time { return now }

	assert.Equal(t, 1, c.cleanup())
	assert.Equal(t, stale, <-reg.evicted)
	assert.Equal(t, 0, c.cleanup())
}

func TestStart_RunsOnTicker(t *testing.T) {
	key := workspaces.Key{ConsoleID: "c1", AssessmentID: "a1"}
	reg := &fakeRegistry{
		used:    map[workspaces.Key]time.Time{key: time.Now().Add(-time.Hour)},
		evicted: make(chan workspaces.Key, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewCleaner(reg, time.Minute, 10*time.Millisecond).Start(ctx)

	select {
	case got := <-reg.evicted:
		assert.Equal(t, key, got)
	case <-time.After(time.Second):
		t.Fatal("idle workspace was not evicted")
	}
}
