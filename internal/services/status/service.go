// Package status keeps an actor's defeat status aligned with its hit
// points: player characters fall unconscious at zero, NPCs die.
package status

import (
	"context"
	"log/slog"

	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

const (
	// StatusUnconscious is applied to player characters at 0 HP
	StatusUnconscious = "unconscious"

	// StatusDead is applied to NPCs at 0 HP
	StatusDead = "dead"
)

// Service reconciles defeat statuses against hit points
type Service interface {
	// Derive returns the status the actor's kind maps to and whether it
	// should be active for the actor's current hit points. ok is false
	// for kinds that have no derived status.
	Derive(actor *host.Actor) (statusID string, shouldBeActive bool, ok bool)

	// Reconcile toggles the derived status when it disagrees with the
	// actor's hit points. Idempotent.
	Reconcile(ctx context.Context, actor *host.Actor) error
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Actors host.Actors
	Users  host.Users
	Logger *slog.Logger
}

type service struct {
	actors host.Actors
	users  host.Users
	log    *slog.Logger
}

// NewService creates a new status service
func NewService(cfg *ServiceConfig) Service {
	if cfg.Actors == nil {
		panic("actors is required")
	}
	if cfg.Users == nil {
		panic("users is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &service{
		actors: cfg.Actors,
		users:  cfg.Users,
		log:    log,
	}
}

func (s *service) Derive(actor *host.Actor) (string, bool, bool) {
	if actor == nil {
		return "", false, false
	}

	var statusID string
	switch actor.Kind {
	case host.KindCharacter:
		statusID = StatusUnconscious
	case host.KindNPC:
		statusID = StatusDead
	default:
		return "", false, false
	}

	return statusID, actor.HP.Value <= 0, true
}

func (s *service) Reconcile(ctx context.Context, actor *host.Actor) error {
	if actor == nil {
		return errors.InvalidArgument("actor cannot be nil")
	}

	statusID, shouldBeActive, ok := s.Derive(actor)
	if !ok {
		return nil
	}

	if actor.HasStatus(statusID) == shouldBeActive {
		return nil
	}

	if err := s.actors.ToggleStatus(ctx, actor.ID, statusID, shouldBeActive, shouldBeActive); err != nil {
		return errors.Wrapf(err, "failed to toggle %s on actor %s", statusID, actor.ID)
	}

	s.log.Info("status: reconciled defeat status",
		"actor", actor.ID, "status", statusID, "active", shouldBeActive)
	return nil
}

// Subscribe registers the hit-point watcher on the bus
func Subscribe(bus *events.Bus, svc Service, users host.Users) {
	bus.Subscribe(events.EventActorUpdated, events.HandlerFunc{
		Name: "status.reconcile",
		Prio: 10,
		Fn: func(ctx context.Context, event events.Event) error {
			updated, ok := event.(events.ActorUpdated)
			if !ok {
				return nil
			}

			// Only the author's client acts, so concurrent clients do
			// not race to toggle the same status.
			current := users.Current()
			if current == nil || updated.AuthorUserID != current.ID {
				return nil
			}
			if !host.ChangedField(updated.Changed, host.FieldHP) {
				return nil
			}

			return svc.Reconcile(ctx, updated.Actor)
		},
	})
}
