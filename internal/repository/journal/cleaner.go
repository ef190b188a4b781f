package journal

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Cleaner deletes journal events older than the retention period.
type Cleaner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewCleaner ...
func NewCleaner(repo Repository, retention, interval time.Duration) *Cleaner {
	return &Cleaner{repo: repo, retention: retention, interval: interval, now: time.Now}
}

// Run cleans on every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Clean(ctx); err != nil {
				log.WithError(err).Error("Failed to run journal cleaner")
			}
		}
	}
}

// Clean performs a single retention pass.
func (c *Cleaner) Clean(ctx context.Context) (int64, error) {
	deleted, err := c.repo.DeleteOlderThan(ctx, c.now().Add(-c.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean old journal events: %w", err)
	}
	log.WithField("count", deleted).Info("Cleaned old journal events")
	return deleted, nil
}
