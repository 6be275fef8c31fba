package queue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

// Set is the full priority queue set: one independently tuned queue per
// tier. Tiers are separate queue instances rather than one queue with a
// priority field so that visibility, backoff, and dead-letter isolation
// can differ per tier.
type Set struct {
	queues map[string]*Queue
}

// NewSet builds the three tier queues from configuration
func NewSet(cfg config.QueueConfig, store storage.MessageStore, logger *slog.Logger) (*Set, error) {
	queues := make(map[string]*Queue, 3)
	for _, tier := range models.ValidPriorities() {
		q, err := NewQueue(QueueConfig{
			Policy:       PolicyFromConfig(tier, cfg.Tier(tier)),
			Store:        store,
			Logger:       logger.With("tier", tier),
			MaxBytes:     cfg.MaxMessageBytes,
			PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tier queue: %w", tier, err)
		}
		queues[tier] = q
	}
	return &Set{queues: queues}, nil
}

// Tier returns the queue for the named priority tier
func (s *Set) Tier(name string) (*Queue, error) {
	q, ok := s.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue tier: %s", name)
	}
	return q, nil
}

// Tiers returns the tier names in priority order, highest first
func (s *Set) Tiers() []string {
	return models.ValidPriorities()
}
