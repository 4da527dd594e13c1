// Package rolldata tracks, per actor, which action economy slot the
// player selected in the last roll-configuration dialog, and folds that
// into roll data as boolean flags. The host's own actor objects are
// never patched; the companion keeps its own side table.
package rolldata

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

// Action economy slots as reported by the roll-configuration dialog
const (
	ActionTypeAction   = "action"
	ActionTypeBonus    = "bonus"
	ActionTypeReaction = "reaction"
)

// Service holds the per-actor action-type side table
type Service interface {
	// SetActionType records the slot the actor's pending action uses
	SetActionType(actorID, actionType string)

	// ActionType returns the recorded slot, ok=false when none
	ActionType(actorID string) (string, bool)

	// Forget drops the actor's entry
	Forget(actorID string)

	// Augment returns a copy of base with the action-economy flags set
	// from the actor's recorded slot. base is never mutated.
	Augment(base map[string]float64, actorID string) map[string]float64
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Logger *slog.Logger
}

type service struct {
	mu    sync.RWMutex
	slots map[string]string // actorID -> action type
	log   *slog.Logger
}

// NewService creates a new roll-data service
func NewService(cfg *ServiceConfig) Service {
	log := slog.Default()
	if cfg != nil && cfg.Logger != nil {
		log = cfg.Logger
	}
	return &service{
		slots: make(map[string]string),
		log:   log,
	}
}

func (s *service) SetActionType(actorID, actionType string) {
	if actorID == "" || actionType == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[actorID] = actionType
}

func (s *service) ActionType(actorID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[actorID]
	return slot, ok
}

func (s *service) Forget(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, actorID)
}

func (s *service) Augment(base map[string]float64, actorID string) map[string]float64 {
	out := make(map[string]float64, len(base)+3)
	for k, v := range base {
		out[k] = v
	}

	slot, ok := s.ActionType(actorID)
	if !ok {
		return out
	}

	switch slot {
	case ActionTypeAction:
		out["is_action"] = 1
	case ActionTypeBonus:
		out["is_bonus_action"] = 1
	case ActionTypeReaction:
		out["is_reaction"] = 1
	}
	return out
}

// Subscribe wires the side table to dialog renders, roll-data
// assembly, and actor unloads
func Subscribe(bus *events.Bus, svc Service) {
	bus.Subscribe(events.EventRollDataRequested, events.HandlerFunc{
		Name: "rolldata.augment",
		Prio: 20,
		Fn: func(ctx context.Context, event events.Event) error {
			req, ok := event.(events.RollDataRequested)
			if !ok || req.Data == nil {
				return nil
			}
			for k, v := range svc.Augment(req.Data, req.ActorID) {
				req.Data[k] = v
			}
			return nil
		},
	})

	bus.Subscribe(events.EventDialogRendered, events.HandlerFunc{
		Name: "rolldata.capture",
		Prio: 20,
		Fn: func(ctx context.Context, event events.Event) error {
			rendered, ok := event.(events.DialogRendered)
			if !ok || rendered.Dialog == nil || rendered.Dialog.ActionType == "" {
				return nil
			}

			actorID := host.ResolveDialogActor(rendered.Dialog)
			if actorID == "" {
				return nil
			}
			svc.SetActionType(actorID, rendered.Dialog.ActionType)
			return nil
		},
	})

	bus.Subscribe(events.EventActorUnloaded, events.HandlerFunc{
		Name: "rolldata.forget",
		Prio: 20,
		Fn: func(ctx context.Context, event events.Event) error {
			unloaded, ok := event.(events.ActorUnloaded)
			if !ok {
				return nil
			}
			svc.Forget(unloaded.ActorID)
			return nil
		},
	})
}
