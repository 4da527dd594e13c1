// Package relay coordinates clients that share a table but not a
// process. Requests are broadcast over a Redis pub/sub channel,
// at-least-once and fire-and-forget; receivers are idempotent and each
// client acts only on the slice of a request it is responsible for.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

// Message types carried on the channel
const (
	TypeRequestRoll  = "requestRoll"
	TypeNotification = "notification"
)

// Envelope wraps every broadcast payload. Sender is the emitting user
// id; the emitting client acts at send time and skips its own envelope
// on receipt.
type Envelope struct {
	Type    string          `json:"type"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// RollRequest asks owning clients to put a save, check or skill roll in
// front of their players.
type RollRequest struct {
	ActorIDs []string           `json:"actorUuids"`
	Category host.RollCategory  `json:"rollType"`
	TraitID  string             `json:"id"`
	Mode     host.AdvantageMode `json:"advantageMode"`
}

// Notification carries a message for a specific set of users
type Notification struct {
	Text         string   `json:"text"`
	RecipientIDs []string `json:"recipients"`
}

// Service is the cross-client request channel
type Service interface {
	// RequestRolls broadcasts a roll request and handles the local
	// user's share of it immediately
	RequestRolls(ctx context.Context, req *RollRequest) error

	// Notify broadcasts a notification; it surfaces locally right away
	// when the local user is a recipient
	Notify(ctx context.Context, text string, recipientIDs []string) error

	// Listen consumes the channel until ctx is cancelled
	Listen(ctx context.Context) error

	// PendingMode consumes the advantage mode recorded for the actor's
	// next roll dialog, ok=false when none is pending
	PendingMode(actorID string) (host.AdvantageMode, bool)
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Redis    redis.UniversalClient
	Channel  string
	Actors   host.Actors
	Users    host.Users
	Rolls    host.RollRunner
	Notifier host.Notifier
	Logger   *slog.Logger
}

type service struct {
	redis    redis.UniversalClient
	channel  string
	actors   host.Actors
	users    host.Users
	rolls    host.RollRunner
	notifier host.Notifier
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]host.AdvantageMode // actorID -> requested mode
}

// NewService creates a new relay service
func NewService(cfg *ServiceConfig) Service {
	if cfg.Redis == nil {
		panic("redis client is required")
	}
	if cfg.Channel == "" {
		panic("channel is required")
	}
	if cfg.Actors == nil {
		panic("actors is required")
	}
	if cfg.Users == nil {
		panic("users is required")
	}
	if cfg.Rolls == nil {
		panic("roll runner is required")
	}
	if cfg.Notifier == nil {
		panic("notifier is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &service{
		redis:    cfg.Redis,
		channel:  cfg.Channel,
		actors:   cfg.Actors,
		users:    cfg.Users,
		rolls:    cfg.Rolls,
		notifier: cfg.Notifier,
		log:      log,
		pending:  make(map[string]host.AdvantageMode),
	}
}

func (s *service) RequestRolls(ctx context.Context, req *RollRequest) error {
	if req == nil || len(req.ActorIDs) == 0 {
		return errors.InvalidArgument("roll request needs at least one actor")
	}
	if req.Mode == "" {
		req.Mode = host.ModeAsk
	}

	if err := s.publish(ctx, TypeRequestRoll, req); err != nil {
		return err
	}

	// the channel does not loop back to the sender
	s.handleRollRequest(ctx, req)
	return nil
}

func (s *service) Notify(ctx context.Context, text string, recipientIDs []string) error {
	if text == "" {
		return errors.InvalidArgument("notification text is required")
	}

	note := &Notification{Text: text, RecipientIDs: recipientIDs}
	if err := s.publish(ctx, TypeNotification, note); err != nil {
		return err
	}

	s.handleNotification(note)
	return nil
}

func (s *service) publish(ctx context.Context, msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	env := Envelope{Type: msgType, Sender: s.localUserID(), Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	if err := s.redis.Publish(ctx, s.channel, data).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to publish to relay channel")
	}

	s.log.Debug("relay: published", "channel", s.channel, "type", msgType)
	return nil
}

func (s *service) Listen(ctx context.Context) error {
	pubsub := s.redis.Subscribe(ctx, s.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.log.Warn("relay: failed to close subscription", "error", err)
		}
	}()

	// force the subscribe round-trip so callers know the channel is live
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to subscribe to relay channel")
	}

	s.log.Info("relay: listening", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New(errors.CodeUnavailable, "relay channel closed")
			}
			s.dispatch(ctx, []byte(msg.Payload))
		}
	}
}

func (s *service) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("relay: dropping malformed envelope", "error", err)
		return
	}

	if env.Sender != "" && env.Sender == s.localUserID() {
		return
	}

	switch env.Type {
	case TypeRequestRoll:
		var req RollRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.log.Warn("relay: dropping malformed roll request", "error", err)
			return
		}
		s.handleRollRequest(ctx, &req)
	case TypeNotification:
		var note Notification
		if err := json.Unmarshal(env.Payload, &note); err != nil {
			s.log.Warn("relay: dropping malformed notification", "error", err)
			return
		}
		s.handleNotification(&note)
	default:
		s.log.Debug("relay: ignoring unknown message type", "type", env.Type)
	}
}

// handleRollRequest triggers the host roll flow for every requested
// actor the local user owns. Unresolved refs and foreign actors are
// skipped silently so each actor rolls on exactly one client.
func (s *service) handleRollRequest(ctx context.Context, req *RollRequest) {
	userID := s.localUserID()
	if userID == "" {
		return
	}

	for _, actorID := range req.ActorIDs {
		actor, err := s.actors.Get(ctx, actorID)
		if err != nil {
			s.log.Debug("relay: requested actor not found", "actor", actorID)
			continue
		}
		if !actor.OwnedBy(userID) {
			continue
		}

		s.recordPendingMode(actor.ID, req.Mode)
		if err := s.rolls.RequestTraitRoll(ctx, actor.ID, req.Category, req.TraitID, req.Mode); err != nil {
			s.log.Error("relay: roll trigger failed", "actor", actor.ID, "error", err)
		}
	}
}

func (s *service) handleNotification(note *Notification) {
	userID := s.localUserID()
	for _, id := range note.RecipientIDs {
		if id == userID {
			s.notifier.Info(note.Text)
			return
		}
	}
}

func (s *service) localUserID() string {
	if u := s.users.Current(); u != nil {
		return u.ID
	}
	return ""
}

func (s *service) recordPendingMode(actorID string, mode host.AdvantageMode) {
	if mode == "" || mode == host.ModeAsk {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[actorID] = mode
}

func (s *service) PendingMode(actorID string) (host.AdvantageMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mode, ok := s.pending[actorID]
	if ok {
		delete(s.pending, actorID)
	}
	return mode, ok
}

// Subscribe pre-resolves roll dialogs when the requester fixed the
// advantage mode: the non-matching buttons are hidden and the remaining
// one relabeled, leaving the player a single Roll action.
func Subscribe(bus *events.Bus, svc Service) {
	bus.Subscribe(events.EventDialogRendered, events.HandlerFunc{
		Name: "relay.dialog_filter",
		Prio: 10,
		Fn: func(ctx context.Context, event events.Event) error {
			rendered, ok := event.(events.DialogRendered)
			if !ok || rendered.Dialog == nil {
				return nil
			}

			actorID := host.ResolveDialogActor(rendered.Dialog)
			if actorID == "" {
				return nil
			}
			mode, ok := svc.PendingMode(actorID)
			if !ok {
				return nil
			}

			for _, btn := range rendered.Dialog.Buttons {
				if btn.Action == string(mode) {
					btn.Label = "Roll"
					continue
				}
				btn.Hidden = true
			}
			return nil
		},
	})
}
