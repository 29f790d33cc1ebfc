// Package workflowstore persists fiscal workflow snapshots in Redis so any
// instance can answer progress polls.
package workflowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

const keyPrefix = "fiscal:workflow:"

// DefaultTTL keeps finished workflows around for a week.
const DefaultTTL = 7 * 24 * time.Hour

// Redis implements fiscal.WorkflowStore.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs the store. A non-positive ttl selects DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

var _ fiscal.WorkflowStore = (*Redis)(nil)

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Save writes the snapshot, refreshing its expiry.
func (r *Redis) Save(ctx context.Context, wf fiscal.Workflow) error {
	raw, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("workflowstore: encode: %w", err)
	}
	if err := r.client.Set(ctx, key(wf.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("workflowstore: save: %w", err)
	}
	return nil
}

// Load returns the snapshot or fiscal.ErrNotFound.
func (r *Redis) Load(ctx context.Context, id uuid.UUID) (fiscal.Workflow, error) {
	raw, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fiscal.Workflow{}, fmt.Errorf("%w: workflow %s", fiscal.ErrNotFound, id)
	}
	if err != nil {
		return fiscal.Workflow{}, fmt.Errorf("workflowstore: load: %w", err)
	}
	var wf fiscal.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return fiscal.Workflow{}, fmt.Errorf("workflowstore: decode: %w", err)
	}
	return wf, nil
}
