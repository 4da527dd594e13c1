// Package trigger runs turn-start automations: when a matching
// combatant's turn begins while they are raging, the responsible client
// offers a nearby ally a ward of temporary hit points. One client per
// table acts; everyone else stays quiet.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vttkit/companion/internal/dice"
	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

// Rule configures one turn-start aura
type Rule struct {
	// Name labels the rule in logs and chat records
	Name string

	// ActorName matches the source by name (case-insensitive); empty
	// matches any actor
	ActorName string

	// Subclass matches the source by an owned subclass item name;
	// empty skips the check
	Subclass string

	// Range is the aura reach in scene units
	Range float64

	// Dice is the temp-HP roll, e.g. "2d6". Ignored when ScaleTrait
	// resolves on the source.
	Dice string

	// ScaleTrait names the source trait whose value becomes the grant,
	// e.g. a class level
	ScaleTrait string

	// AllowSelf lets the source pick itself as recipient
	AllowSelf bool
}

// Matches reports whether the rule applies to the actor
func (r Rule) Matches(actor *host.Actor) bool {
	if actor == nil {
		return false
	}
	if r.ActorName != "" && !strings.EqualFold(actor.Name, r.ActorName) {
		return false
	}
	if r.Subclass != "" {
		sub := actor.FindItem(func(it *host.Item) bool {
			return it.Type == host.ItemSubclass && strings.EqualFold(it.Name, r.Subclass)
		})
		if sub == nil {
			return false
		}
	}
	return r.ActorName != "" || r.Subclass != ""
}

// IsRaging reports whether the actor's rage is up. The explicit status
// tag is authoritative; the substring fallbacks survive content that
// never sets it.
func IsRaging(actor *host.Actor) bool {
	if actor == nil {
		return false
	}
	if actor.HasStatus("raging") || actor.HasStatus("rage") {
		return true
	}

	for _, eff := range actor.Effects {
		if !eff.Disabled && containsRage(eff.Name) {
			return true
		}
	}

	feat := rageFeature(actor)
	if feat == nil {
		return false
	}
	for _, eff := range feat.Effects {
		if !eff.Disabled {
			return true
		}
	}
	if feat.UUID != "" {
		for _, eff := range actor.Effects {
			if !eff.Disabled && strings.Contains(eff.Origin, feat.UUID) {
				return true
			}
		}
	}
	return false
}

func containsRage(name string) bool {
	return strings.Contains(strings.ToLower(name), "rage")
}

func rageFeature(actor *host.Actor) *host.Item {
	return actor.FindItem(func(it *host.Item) bool {
		return it.Type == host.ItemFeature && containsRage(it.Name)
	})
}

// Announcer delivers cross-client notifications; the relay service
// satisfies it.
type Announcer interface {
	Notify(ctx context.Context, text string, recipientIDs []string) error
}

// Service runs the configured turn-start rules
type Service interface {
	// HandleTurnStart processes the combatant whose turn just began
	HandleTurnStart(ctx context.Context, combat *host.Combat, current host.TurnState) error

	// HandleItemUsed reacts to a matching actor activating their rage
	// feature: the rage effect lands if absent and the scale-trait ward
	// applies to the actor itself
	HandleItemUsed(ctx context.Context, actor *host.Actor, item *host.Item) error
}

// ServiceConfig holds configuration for the service
type ServiceConfig struct {
	Rules    []Rule
	Actors   host.Actors
	Users    host.Users
	Scene    host.Scene
	Messages host.Messages
	Prompter host.Prompter
	Roller   dice.Roller
	Announce Announcer
	Logger   *slog.Logger
}

type service struct {
	rules    []Rule
	actors   host.Actors
	users    host.Users
	scene    host.Scene
	messages host.Messages
	prompter host.Prompter
	roller   dice.Roller
	announce Announcer
	log      *slog.Logger
}

// NewService creates a new trigger service
func NewService(cfg *ServiceConfig) Service {
	if cfg.Actors == nil {
		panic("actors is required")
	}
	if cfg.Users == nil {
		panic("users is required")
	}
	if cfg.Scene == nil {
		panic("scene is required")
	}
	if cfg.Messages == nil {
		panic("messages is required")
	}
	if cfg.Prompter == nil {
		panic("prompter is required")
	}
	if cfg.Roller == nil {
		panic("roller is required")
	}

	svc := &service{
		rules:    cfg.Rules,
		actors:   cfg.Actors,
		users:    cfg.Users,
		scene:    cfg.Scene,
		messages: cfg.Messages,
		prompter: cfg.Prompter,
		roller:   cfg.Roller,
		announce: cfg.Announce,
		log:      cfg.Logger,
	}
	if svc.log == nil {
		svc.log = slog.Default()
	}
	return svc
}

func (s *service) HandleTurnStart(ctx context.Context, combat *host.Combat, current host.TurnState) error {
	if combat == nil {
		return nil
	}
	cb := combat.CombatantByID(current.CombatantID)
	if cb == nil || cb.ActorID == "" {
		return nil
	}

	source, err := s.actors.Get(ctx, cb.ActorID)
	if err != nil {
		s.log.Debug("trigger: combatant actor not found", "actor", cb.ActorID)
		return nil
	}

	for _, rule := range s.rules {
		if !rule.Matches(source) {
			continue
		}
		if err := s.runAura(ctx, rule, source); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) runAura(ctx context.Context, rule Rule, source *host.Actor) error {
	responder, err := s.electResponder(ctx, source)
	if err != nil {
		return err
	}
	local := s.users.Current()
	if local == nil || responder == "" || responder != local.ID {
		return nil
	}

	if !IsRaging(source) {
		s.log.Debug("trigger: source not raging", "rule", rule.Name, "actor", source.ID)
		return nil
	}

	candidates, err := s.nearbyAllies(ctx, rule, source)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.log.Debug("trigger: no allies in range", "rule", rule.Name, "actor", source.ID)
		return nil
	}

	title := fmt.Sprintf("%s: choose a recipient", rule.Name)
	token, err := s.prompter.SelectToken(ctx, title, candidates)
	if err != nil {
		return errors.Wrap(err, "recipient prompt failed")
	}
	if token == nil {
		return nil
	}

	target, err := s.actors.Get(ctx, token.ActorID)
	if err != nil {
		s.log.Warn("trigger: selected token has no actor", "token", token.ID)
		return nil
	}

	amount, detail, err := s.grantAmount(rule, source)
	if err != nil {
		return err
	}

	return s.applyWard(ctx, rule, source, target, amount, detail)
}

// applyWard sets the ward with high-water-mark semantics: an existing
// larger ward survives.
func (s *service) applyWard(ctx context.Context, rule Rule, source, target *host.Actor, amount int, detail string) error {
	if amount <= target.HP.Temp {
		text := fmt.Sprintf("%s: %s keeps %d temporary HP (rolled %d)",
			rule.Name, target.Name, target.HP.Temp, amount)
		s.notifyOwners(ctx, text, source, target)
		return nil
	}

	if err := s.actors.SetTempHP(ctx, target.ID, amount); err != nil {
		return errors.Wrapf(err, "failed to set temp HP on %s", target.ID)
	}

	content := fmt.Sprintf(
		`<div class="aura-grant"><strong>%s</strong>: %s grants %s <strong>%d</strong> temporary hit points%s.</div>`,
		rule.Name, source.Name, target.Name, amount, detail)
	if err := s.messages.Create(ctx, &host.ChatMessage{Content: content}); err != nil {
		s.log.Error("trigger: failed to post grant record", "error", err)
	}

	s.notifyOwners(ctx, fmt.Sprintf("%s: %s now has %d temporary HP from %s",
		rule.Name, target.Name, amount, source.Name), source, target)

	s.log.Info("trigger: ward applied",
		"rule", rule.Name, "source", source.ID, "target", target.ID, "amount", amount)
	return nil
}

func (s *service) grantAmount(rule Rule, source *host.Actor) (int, string, error) {
	if rule.ScaleTrait != "" {
		if lvl := source.Traits[rule.ScaleTrait]; lvl > 0 {
			return lvl, "", nil
		}
	}
	if rule.Dice == "" {
		return 0, "", errors.Internalf("rule %s has neither dice nor a resolvable scale trait", rule.Name)
	}

	result, err := dice.RollExpression(s.roller, rule.Dice)
	if err != nil {
		return 0, "", errors.Wrapf(err, "failed to roll %s", rule.Dice)
	}
	return result.Total, fmt.Sprintf(" (%s)", result), nil
}

// electResponder picks exactly one user to act for the source: the first
// connected non-GM owner by id, else the first connected GM.
func (s *service) electResponder(ctx context.Context, source *host.Actor) (string, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to list users")
	}

	var owners, gms []string
	for _, u := range users {
		if !u.Active {
			continue
		}
		if u.GM {
			gms = append(gms, u.ID)
			continue
		}
		if source.OwnedBy(u.ID) {
			owners = append(owners, u.ID)
		}
	}

	sort.Strings(owners)
	sort.Strings(gms)
	if len(owners) > 0 {
		return owners[0], nil
	}
	if len(gms) > 0 {
		return gms[0], nil
	}
	return "", nil
}

// nearbyAllies returns player-owned tokens within the rule's range of
// the source token
func (s *service) nearbyAllies(ctx context.Context, rule Rule, source *host.Actor) ([]*host.Token, error) {
	tokens, err := s.scene.Tokens(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scene tokens")
	}

	var sourceToken *host.Token
	for _, tok := range tokens {
		if tok.ID == source.TokenID || tok.ActorID == source.ID {
			sourceToken = tok
			break
		}
	}
	if sourceToken == nil {
		return nil, nil
	}

	var out []*host.Token
	for _, tok := range tokens {
		if tok.ID == sourceToken.ID && !rule.AllowSelf {
			continue
		}
		actor, err := s.actors.Get(ctx, tok.ActorID)
		if err != nil || !actor.PlayerOwned {
			continue
		}

		if tok.ID == sourceToken.ID {
			out = append(out, tok)
			continue
		}
		d, err := s.scene.Distance(ctx, sourceToken.ID, tok.ID)
		if err != nil {
			s.log.Debug("trigger: no path to token", "token", tok.ID)
			continue
		}
		if d <= rule.Range {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (s *service) notifyOwners(ctx context.Context, text string, actors ...*host.Actor) {
	if s.announce == nil {
		return
	}

	seen := make(map[string]struct{})
	var recipients []string
	for _, a := range actors {
		for _, id := range a.OwnerIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}
	if err := s.announce.Notify(ctx, text, recipients); err != nil {
		s.log.Warn("trigger: notification failed", "error", err)
	}
}

func (s *service) HandleItemUsed(ctx context.Context, actor *host.Actor, item *host.Item) error {
	if actor == nil || item == nil {
		return nil
	}
	if item.Type != host.ItemFeature || !containsRage(item.Name) {
		return nil
	}

	var rule *Rule
	for i := range s.rules {
		if s.rules[i].ScaleTrait != "" && s.rules[i].Matches(actor) {
			rule = &s.rules[i]
			break
		}
	}
	if rule == nil {
		return nil
	}

	responder, err := s.electResponder(ctx, actor)
	if err != nil {
		return err
	}
	local := s.users.Current()
	if local == nil || responder == "" || responder != local.ID {
		return nil
	}

	if !IsRaging(actor) {
		effect := &host.ActiveEffect{Name: "Rage", Origin: item.UUID}
		if err := s.actors.ApplyEffect(ctx, actor.ID, effect); err != nil {
			s.log.Warn("trigger: failed to apply rage effect", "actor", actor.ID, "error", err)
		}
	}

	amount := actor.Traits[rule.ScaleTrait]
	if amount <= 0 || amount <= actor.HP.Temp {
		return nil
	}
	if err := s.actors.SetTempHP(ctx, actor.ID, amount); err != nil {
		return errors.Wrapf(err, "failed to set temp HP on %s", actor.ID)
	}

	content := fmt.Sprintf(
		`<div class="aura-grant"><strong>%s</strong>: %s surges with vitality and gains <strong>%d</strong> temporary hit points.</div>`,
		rule.Name, actor.Name, amount)
	if err := s.messages.Create(ctx, &host.ChatMessage{Content: content}); err != nil {
		s.log.Error("trigger: failed to post grant record", "error", err)
	}
	return nil
}

// Subscribe wires the rules to the combat hooks
func Subscribe(bus *events.Bus, svc Service) {
	bus.Subscribe(events.EventTurnAdvanced, events.HandlerFunc{
		Name: "trigger.turn_start",
		Prio: 30,
		Fn: func(ctx context.Context, event events.Event) error {
			advanced, ok := event.(events.TurnAdvanced)
			if !ok {
				return nil
			}
			return svc.HandleTurnStart(ctx, advanced.Combat, advanced.Current)
		},
	})

	bus.Subscribe(events.EventItemUsed, events.HandlerFunc{
		Name: "trigger.item_used",
		Prio: 30,
		Fn: func(ctx context.Context, event events.Event) error {
			used, ok := event.(events.ItemUsed)
			if !ok {
				return nil
			}
			return svc.HandleItemUsed(ctx, used.Actor, used.Item)
		},
	})
}
