package snapshots

import (
	"context"
	"sync"

	"github.com/vttkit/companion/internal/errors"
)

type inMemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewInMemoryRepository creates a new in-memory snapshot repository
func NewInMemoryRepository() Repository {
	return &inMemoryRepository{
		snapshots: make(map[string]Snapshot),
	}
}

// Save stores the snapshot for a combat, replacing any previous one
func (r *inMemoryRepository) Save(ctx context.Context, combatID string, snap Snapshot) error {
	if combatID == "" {
		return errors.InvalidArgument("combat id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[combatID] = snap.Clone()
	return nil
}

// Get retrieves the snapshot for a combat
func (r *inMemoryRepository) Get(ctx context.Context, combatID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, exists := r.snapshots[combatID]
	if !exists {
		return nil, errors.NotFoundf("snapshot not found for combat: %s", combatID)
	}

	return snap.Clone(), nil
}

// Delete removes the snapshot for a combat
func (r *inMemoryRepository) Delete(ctx context.Context, combatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.snapshots[combatID]; !exists {
		return errors.NotFoundf("snapshot not found for combat: %s", combatID)
	}

	delete(r.snapshots, combatID)
	return nil
}
