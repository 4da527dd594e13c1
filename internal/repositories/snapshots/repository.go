// Package snapshots stores per-encounter resource snapshots: the counts
// of consumable items each tracked actor carried when combat began.
package snapshots

import (
	"context"
)

// Snapshot maps actor id -> item id -> quantity
type Snapshot map[string]map[string]int

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for actorID, items := range s {
		counts := make(map[string]int, len(items))
		for itemID, qty := range items {
			counts[itemID] = qty
		}
		out[actorID] = counts
	}
	return out
}

// Repository defines the interface for snapshot storage operations.
// Snapshots live only while their combat does; Delete after reporting.
type Repository interface {
	// Save stores the snapshot for a combat, replacing any previous one
	Save(ctx context.Context, combatID string, snap Snapshot) error

	// Get retrieves the snapshot for a combat
	Get(ctx context.Context, combatID string) (Snapshot, error)

	// Delete removes the snapshot for a combat
	Delete(ctx context.Context, combatID string) error
}
