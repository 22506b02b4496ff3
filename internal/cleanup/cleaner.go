package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/assessment-composer/internal/workspaces"
)

// Registry is the part of the workspace registry the cleaner needs
type Registry interface {
	Idle(before time.Time) []workspaces.Key
	Evict(key workspaces.Key) bool
}

// Cleaner periodically evicts workspaces idle for longer than idleTTL
type Cleaner struct {
	registry Registry
	idleTTL  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewCleaner creates a new cleanup worker
func NewCleaner(registry Registry, idleTTL, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}

	return &Cleaner{
		registry: registry,
		idleTTL:  idleTTL,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "idle_ttl", c.idleTTL)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup evicts idle workspaces and returns how many were dropped
func (c *Cleaner) cleanup() int {
	idle := c.registry.Idle(c.now().Add(-c.idleTTL))
	if len(idle) == 0 {
		slog.Debug("no idle workspaces found")
		return 0
	}

	evicted := 0
	for _, key := range idle {
		if !c.registry.Evict(key) {
			continue
		}
		evicted++
		slog.Info("idle workspace evicted",
			"console_id", key.ConsoleID,
			"assessment_id", key.AssessmentID,
		)
	}
	return evicted
}
