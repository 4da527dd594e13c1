// Package rollsession consolidates an action's rolls onto the chat card
// that started them. Instead of every attack and damage roll spawning
// its own message, the card's buttons are swapped in place for the
// rendered results as the action progresses.
package rollsession

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vttkit/companion/internal/cardhtml"
	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

// OptionOriginatingMessage is the roll option carrying the consolidation
// target through the host's roll pipeline.
const OptionOriginatingMessage = "originatingMessageId"

// FlagDamageData is the message flag holding the aggregated damage
// breakdown once a damage roll resolves.
const FlagDamageData = "damageData"

// Dice-total colors for extreme outcomes
const (
	colorCritical = "#18520b"
	colorFumble   = "#8a1000"
)

var (
	attackActions = []string{"rollAttack", "attack"}
	damageActions = []string{"rollDamage", "rollHealing", "healing", "damage"}
)

// State tracks where an action card is in its lifecycle
type State string

const (
	StateIdle           State = "idle"
	StateAttackPending  State = "attack_pending"
	StateAttackResolved State = "attack_resolved"
	StateDamagePending  State = "damage_pending"
	StateDamageResolved State = "damage_resolved"
)

// DamageEntry is one element of the stored damage breakdown
type DamageEntry struct {
	Value      int      `json:"value"`
	Type       string   `json:"type"`
	Properties []string `json:"properties,omitempty"`
}

// Service consolidates rolls onto their originating chat cards
type Service interface {
	// HandlePreRoll claims the roll for consolidation: the originating
	// message is resolved, stashed in the roll options, its standalone
	// message suppressed, and the card's buttons disabled. Without an
	// originating message the roll proceeds untouched.
	HandlePreRoll(ctx context.Context, cfg *host.RollConfig) error

	// HandleRollCompleted folds the finished roll back into the card
	HandleRollCompleted(ctx context.Context, kind host.RollKind, rolls []*host.RollResult) error

	// HandleMessageRendered attaches the damage controls to cards that
	// carry a damage breakdown. Idempotent across re-renders.
	HandleMessageRendered(ctx context.Context, msg *host.ChatMessage) error

	// HandleMessageDeleted drops session state for the message
	HandleMessageDeleted(messageID string)

	// SessionState reports the card's lifecycle state, StateIdle when
	// untracked
	SessionState(messageID string) State
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Messages host.Messages

	// SettleDelay is how long to wait after a roll completes before
	// touching the message, letting the host finish its own writes
	SettleDelay time.Duration

	// Wait overrides the delay sleep; tests inject a no-op
	Wait func(time.Duration)

	// Resolvers overrides the originating-message resolver chain
	Resolvers []host.OriginResolver

	Logger *slog.Logger
}

type service struct {
	messages  host.Messages
	settle    time.Duration
	wait      func(time.Duration)
	resolvers []host.OriginResolver
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]State // originating message id -> state
}

// NewService creates a new roll session service
func NewService(cfg *ServiceConfig) Service {
	if cfg.Messages == nil {
		panic("messages is required")
	}

	svc := &service{
		messages:  cfg.Messages,
		settle:    cfg.SettleDelay,
		wait:      cfg.Wait,
		resolvers: cfg.Resolvers,
		log:       cfg.Logger,
		sessions:  make(map[string]State),
	}
	if svc.wait == nil {
		svc.wait = time.Sleep
	}
	if svc.log == nil {
		svc.log = slog.Default()
	}
	return svc
}

func (s *service) HandlePreRoll(ctx context.Context, cfg *host.RollConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.Kind != host.RollAttack && cfg.Kind != host.RollDamage {
		return nil
	}

	originID := host.ResolveOrigin(cfg.Linkage, s.resolvers...)
	if originID == "" {
		s.log.Debug("rollsession: no originating message, roll stays standalone", "kind", cfg.Kind)
		return nil
	}

	if cfg.Options == nil {
		cfg.Options = make(map[string]string)
	}
	cfg.Options[OptionOriginatingMessage] = originID
	cfg.CreateMessage = false

	if cfg.Kind == host.RollAttack {
		s.setState(originID, StateAttackPending)
		// both buttons go dark: the attack is rolling and damage must
		// wait for it to land
		return s.editCard(ctx, originID, func(root *htmlNode) error {
			disableButtons(root, attackActions, true)
			disableButtons(root, damageActions, true)
			return nil
		})
	}

	s.setState(originID, StateDamagePending)
	return s.editCard(ctx, originID, func(root *htmlNode) error {
		disableButtons(root, damageActions, true)
		return nil
	})
}

func (s *service) HandleRollCompleted(ctx context.Context, kind host.RollKind, rolls []*host.RollResult) error {
	if len(rolls) == 0 {
		return nil
	}
	originID := rolls[0].Options[OptionOriginatingMessage]
	if originID == "" {
		return nil
	}

	// let the host finish writing the roll before we edit the card
	s.wait(s.settle)

	switch kind {
	case host.RollAttack:
		return s.completeAttack(ctx, originID, rolls)
	case host.RollDamage:
		return s.completeDamage(ctx, originID, rolls)
	}
	return nil
}

func (s *service) completeAttack(ctx context.Context, originID string, rolls []*host.RollResult) error {
	rendered, err := renderRolls(rolls)
	if err != nil {
		return errors.Wrap(err, "failed to render attack roll")
	}

	err = s.editCard(ctx, originID, func(root *htmlNode) error {
		btn := cardhtml.FindButton(root, attackActions...)
		if btn == nil {
			return errors.NotFound("attack button not found on card")
		}
		fragment, err := cardhtml.Parse(rendered)
		if err != nil {
			return err
		}
		cardhtml.ReplaceWith(btn, fragment)
		disableButtons(root, damageActions, false)
		return nil
	})
	if err != nil {
		return err
	}

	s.setState(originID, StateAttackResolved)
	return nil
}

func (s *service) completeDamage(ctx context.Context, originID string, rolls []*host.RollResult) error {
	rendered, err := renderRolls(rolls)
	if err != nil {
		return errors.Wrap(err, "failed to render damage roll")
	}

	err = s.editCard(ctx, originID, func(root *htmlNode) error {
		btn := cardhtml.FindButton(root, damageActions...)
		if btn == nil {
			return errors.NotFound("damage button not found on card")
		}
		fragment, err := cardhtml.Parse(rendered)
		if err != nil {
			return err
		}
		cardhtml.ReplaceWith(btn, fragment)
		return nil
	})
	if err != nil {
		return err
	}

	breakdown := aggregateDamage(rolls)
	if err := s.messages.SetFlag(ctx, originID, FlagDamageData, breakdown); err != nil {
		return errors.Wrap(err, "failed to store damage breakdown")
	}

	// terminal: the state stays observable until the message is deleted
	s.setState(originID, StateDamageResolved)
	return nil
}

func (s *service) HandleMessageRendered(ctx context.Context, msg *host.ChatMessage) error {
	if msg == nil {
		return nil
	}

	var breakdown []DamageEntry
	hasFlag, err := msg.Flag(FlagDamageData, &breakdown)
	if err != nil {
		return errors.Wrap(err, "failed to decode damage breakdown")
	}
	if !hasFlag || len(breakdown) == 0 {
		return nil
	}

	root, err := cardhtml.Parse(msg.Content)
	if err != nil {
		return errors.Wrap(err, "failed to parse card")
	}
	if cardhtml.FindElement(root, "damage-application") != nil {
		return nil
	}

	tray, err := cardhtml.Parse("<damage-application></damage-application>")
	if err != nil {
		return err
	}
	if buttons := cardhtml.FindByClass(root, "card-buttons"); buttons != nil {
		cardhtml.InsertAfter(buttons, tray)
	} else {
		cardhtml.AppendChildren(root, tray)
	}

	content, err := cardhtml.Render(root)
	if err != nil {
		return errors.Wrap(err, "failed to render card")
	}
	return s.messages.UpdateContent(ctx, msg.ID, content)
}

func (s *service) HandleMessageDeleted(messageID string) {
	s.dropState(messageID)
}

func (s *service) SessionState(messageID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[messageID]; ok {
		return state
	}
	return StateIdle
}

func (s *service) setState(messageID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[messageID] = state
}

func (s *service) dropState(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, messageID)
}

type htmlNode = cardhtml.Node

// editCard fetches the message, applies the edit to its parsed content,
// and persists the result.
func (s *service) editCard(ctx context.Context, messageID string, edit func(*htmlNode) error) error {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch card %s", messageID)
	}

	root, err := cardhtml.Parse(msg.Content)
	if err != nil {
		return errors.Wrap(err, "failed to parse card")
	}
	if err := edit(root); err != nil {
		return err
	}

	content, err := cardhtml.Render(root)
	if err != nil {
		return errors.Wrap(err, "failed to render card")
	}
	return s.messages.UpdateContent(ctx, messageID, content)
}

func disableButtons(root *htmlNode, actions []string, disabled bool) {
	for _, action := range actions {
		if btn := cardhtml.FindButton(root, action); btn != nil {
			cardhtml.SetDisabled(btn, disabled)
		}
	}
}

// renderRolls decorates the host-rendered dice HTML: expanded so the
// breakdown shows, the total tinted on a critical or fumble.
func renderRolls(rolls []*host.RollResult) (string, error) {
	var sb strings.Builder
	for _, roll := range rolls {
		root, err := cardhtml.Parse(roll.HTML)
		if err != nil {
			return "", err
		}

		if diceRoll := cardhtml.FindByClass(root, "dice-roll"); diceRoll != nil {
			cardhtml.AddClass(diceRoll, "expanded")
		}
		if total := cardhtml.FindByClass(root, "dice-total"); total != nil {
			switch {
			case roll.Critical:
				cardhtml.AppendStyle(total, fmt.Sprintf("color:%s", colorCritical))
			case roll.Fumble:
				cardhtml.AppendStyle(total, fmt.Sprintf("color:%s", colorFumble))
			}
		}

		out, err := cardhtml.Render(root)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// aggregateDamage flattens the rolls' breakdowns, flooring each entry at
// zero so over-reduced parts cannot heal on application.
func aggregateDamage(rolls []*host.RollResult) []DamageEntry {
	var out []DamageEntry
	for _, roll := range rolls {
		if len(roll.Parts) == 0 {
			out = append(out, DamageEntry{Value: max(0, roll.Total)})
			continue
		}
		for _, part := range roll.Parts {
			out = append(out, DamageEntry{
				Value:      max(0, part.Value),
				Type:       part.Type,
				Properties: part.Properties,
			})
		}
	}
	return out
}

// Subscribe wires the session tracker to the roll and message hooks
func Subscribe(bus *events.Bus, svc Service) {
	bus.Subscribe(events.EventPreRoll, events.HandlerFunc{
		Name: "rollsession.preroll",
		Prio: 10,
		Fn: func(ctx context.Context, event events.Event) error {
			pre, ok := event.(events.PreRoll)
			if !ok {
				return nil
			}
			return svc.HandlePreRoll(ctx, pre.Config)
		},
	})

	bus.Subscribe(events.EventRollCompleted, events.HandlerFunc{
		Name: "rollsession.completed",
		Prio: 10,
		Fn: func(ctx context.Context, event events.Event) error {
			completed, ok := event.(events.RollCompleted)
			if !ok {
				return nil
			}
			return svc.HandleRollCompleted(ctx, completed.Kind, completed.Rolls)
		},
	})

	bus.Subscribe(events.EventMessageRendered, events.HandlerFunc{
		Name: "rollsession.rendered",
		Prio: 30,
		Fn: func(ctx context.Context, event events.Event) error {
			rendered, ok := event.(events.MessageRendered)
			if !ok {
				return nil
			}
			return svc.HandleMessageRendered(ctx, rendered.Message)
		},
	})

	bus.Subscribe(events.EventMessageDeleted, events.HandlerFunc{
		Name: "rollsession.deleted",
		Prio: 10,
		Fn: func(ctx context.Context, event events.Event) error {
			deleted, ok := event.(events.MessageDeleted)
			if !ok {
				return nil
			}
			svc.HandleMessageDeleted(deleted.MessageID)
			return nil
		},
	})
}
