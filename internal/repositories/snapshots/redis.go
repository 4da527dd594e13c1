package snapshots

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/vttkit/companion/internal/errors"
)

// redisRepository implements Repository using Redis, so a client that
// reconnects mid-encounter still finds the starting counts.
type redisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository creates a Redis-backed snapshot repository
func NewRedisRepository(client redis.UniversalClient) Repository {
	return &redisRepository{client: client}
}

func snapshotKey(combatID string) string {
	return fmt.Sprintf("companion:snapshot:%s", combatID)
}

// Save stores the snapshot for a combat, replacing any previous one
func (r *redisRepository) Save(ctx context.Context, combatID string, snap Snapshot) error {
	if combatID == "" {
		return apperrors.InvalidArgument("combat id is required")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal snapshot")
	}

	if err := r.client.Set(ctx, snapshotKey(combatID), data, 0).Err(); err != nil {
		return apperrors.Wrap(err, "failed to store snapshot")
	}

	return nil
}

// Get retrieves the snapshot for a combat
func (r *redisRepository) Get(ctx context.Context, combatID string) (Snapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(combatID)).Result()
	if err == redis.Nil {
		return nil, apperrors.NotFoundf("snapshot not found for combat: %s", combatID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load snapshot")
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal snapshot")
	}

	return snap, nil
}

// Delete removes the snapshot for a combat
func (r *redisRepository) Delete(ctx context.Context, combatID string) error {
	removed, err := r.client.Del(ctx, snapshotKey(combatID)).Result()
	if err != nil {
		return apperrors.Wrap(err, "failed to delete snapshot")
	}
	if removed == 0 {
		return apperrors.NotFoundf("snapshot not found for combat: %s", combatID)
	}

	return nil
}
