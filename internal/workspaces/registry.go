// Package workspaces keeps one composition workspace per console session and assessment
package workspaces

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/terra-clan/assessment-composer/internal/composition"
)

const openTimeout = 30 * time.Second

// ErrNotOpen is returned by Get for a workspace that was never opened or was evicted
var ErrNotOpen = errors.New("workspace not open")

// Key identifies a workspace
type Key struct {
	ConsoleID    string
	AssessmentID string
}

func (k Key) String() string {
	return k.ConsoleID + "/" + k.AssessmentID
}

// OptionsFunc supplies per-workspace options, e.g. the selection cache key
type OptionsFunc func(key Key) []composition.Option

// Registry creates workspaces on first access and evicts them when idle
type Registry struct {
	gw      composition.Gateway
	options OptionsFunc
	logger  *slog.Logger

	mu    sync.RWMutex
	items map[Key]*composition.Workspace
	group singleflight.Group
}

// NewRegistry creates an empty registry. options may be nil.
func NewRegistry(gw composition.Gateway, options OptionsFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gw:      gw,
		options: options,
		logger:  logger,
		items:   make(map[Key]*composition.Workspace),
	}
}

// Acquire returns the workspace for key, opening it with an initial load when
// absent. Concurrent first accesses share one load. A failed load is not cached.
func (r *Registry) Acquire(ctx context.Context, key Key) (*composition.Workspace, error) {
	if w, err := r.Get(key); err == nil {
		return w, nil
	}

	ch := r.group.DoChan(key.String(), func() (interface{}, error) {
		if w, err := r.Get(key); err == nil {
			return w, nil
		}

		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()

		w := r.newWorkspace(key)
		if err := w.Open(openCtx); err != nil {
			w.Close()
			return nil, err
		}

		r.mu.Lock()
		r.items[key] = w
		r.mu.Unlock()

		r.logger.Info("workspace opened",
			"console_id", key.ConsoleID,
			"assessment_id", key.AssessmentID,
			"sections", w.Session().SectionCount(),
		)
		return w, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*composition.Workspace), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns an already open workspace and marks it used
func (r *Registry) Get(key Key) (*composition.Workspace, error) {
	r.mu.RLock()
	w, ok := r.items[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotOpen
	}
	w.Touch()
	return w, nil
}

// Idle lists workspaces not used since before, oldest first
func (r *Registry) Idle(before time.Time) []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type idle struct {
		key  Key
		used time.Time
	}
	var found []idle
	for key, w := range r.items {
		if used := w.LastUsed(); used.Before(before) {
			found = append(found, idle{key, used})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].used.Before(found[j].used) })

	keys := make([]Key, len(found))
	for i, f := range found {
		keys[i] = f.key
	}
	return keys
}

// Evict closes and forgets a workspace. It reports whether one was open.
func (r *Registry) Evict(key Key) bool {
	r.mu.Lock()
	w, ok := r.items[key]
	delete(r.items, key)
	r.mu.Unlock()

	if ok {
		w.Close()
	}
	return ok
}

// Len returns the number of open workspaces
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// CloseAll evicts every workspace
func (r *Registry) CloseAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[Key]*composition.Workspace)
	r.mu.Unlock()

	for _, w := range items {
		w.Close()
	}
}

func (r *Registry) newWorkspace(key Key) *composition.Workspace {
	opts := []composition.Option{
		composition.WithLogger(r.logger.With("console_id", key.ConsoleID, "assessment_id", key.AssessmentID)),
	}
	if r.options != nil {
		opts = append(opts, r.options(key)...)
	}
	return composition.NewWorkspace(key.AssessmentID, r.gw, opts...)
}
