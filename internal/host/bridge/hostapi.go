package bridge

import (
	"context"
	"encoding/json"

	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

// Wire names of the host's lifecycle events
const (
	eventActorUpdated    = "actorUpdated"
	eventActorUnloaded   = "actorUnloaded"
	eventCombatStarted   = "combatStarted"
	eventCombatDeleted   = "combatDeleted"
	eventTurnAdvanced    = "turnAdvanced"
	eventRollCompleted   = "rollCompleted"
	eventItemUsed        = "itemUsed"
	eventMessageRendered = "messageRendered"
	eventMessageDeleted  = "messageDeleted"
	eventCommandInvoked  = "commandInvoked"
)

// Hook methods the host expects an answer to
const (
	methodPreRoll        = "hooks.preRoll"
	methodDialogRendered = "hooks.dialogRendered"
	methodRollData       = "hooks.rollData"
)

func (s *Session) emitEvent(ctx context.Context, f frame) {
	ev, err := decodeEvent(f.Event, f.Payload)
	if err != nil {
		s.log.Warn("bridge: dropping malformed event", "event", f.Event, "error", err)
		return
	}
	if ev == nil {
		s.log.Debug("bridge: ignoring unknown event", "event", f.Event)
		return
	}
	s.bus.Emit(ctx, ev)
}

func decodeEvent(name string, payload json.RawMessage) (events.Event, error) {
	switch name {
	case eventActorUpdated:
		var p struct {
			Actor        *host.Actor `json:"actor"`
			Changed      []string    `json:"changed"`
			AuthorUserID string      `json:"authorUserId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.ActorUpdated{Actor: p.Actor, Changed: p.Changed, AuthorUserID: p.AuthorUserID}, nil
	case eventActorUnloaded:
		var p struct {
			ActorID string `json:"actorId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.ActorUnloaded{ActorID: p.ActorID}, nil
	case eventCombatStarted:
		var p struct {
			Combat *host.Combat `json:"combat"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.CombatStarted{Combat: p.Combat}, nil
	case eventCombatDeleted:
		var p struct {
			Combat *host.Combat `json:"combat"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.CombatDeleted{Combat: p.Combat}, nil
	case eventTurnAdvanced:
		var p struct {
			Combat  *host.Combat   `json:"combat"`
			Prior   host.TurnState `json:"prior"`
			Current host.TurnState `json:"current"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.TurnAdvanced{Combat: p.Combat, Prior: p.Prior, Current: p.Current}, nil
	case eventRollCompleted:
		var p struct {
			Kind    host.RollKind      `json:"kind"`
			ActorID string             `json:"actorId"`
			Rolls   []*host.RollResult `json:"rolls"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.RollCompleted{Kind: p.Kind, ActorID: p.ActorID, Rolls: p.Rolls}, nil
	case eventItemUsed:
		var p struct {
			Actor *host.Actor `json:"actor"`
			Item  *host.Item  `json:"item"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.ItemUsed{Actor: p.Actor, Item: p.Item}, nil
	case eventMessageRendered:
		var p struct {
			Message *host.ChatMessage `json:"message"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.MessageRendered{Message: p.Message}, nil
	case eventMessageDeleted:
		var p struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.MessageDeleted{MessageID: p.MessageID}, nil
	case eventCommandInvoked:
		var p struct {
			Name string `json:"name"`
			Arg  string `json:"arg"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return events.CommandInvoked{Name: p.Name, Arg: p.Arg}, nil
	}
	return nil, nil
}

// answerHostCall handles the hooks the host blocks on: the payload runs
// through the bus, where handlers may mutate it, and goes back as the
// reply.
func (s *Session) answerHostCall(ctx context.Context, f frame) {
	switch f.Method {
	case methodPreRoll:
		var cfg host.RollConfig
		if err := json.Unmarshal(f.Payload, &cfg); err != nil {
			s.reply(f.ID, nil, errors.Wrap(err, "malformed roll config"))
			return
		}
		s.bus.Emit(ctx, events.PreRoll{Config: &cfg})
		s.reply(f.ID, cfg, nil)
	case methodDialogRendered:
		var dialog host.Dialog
		if err := json.Unmarshal(f.Payload, &dialog); err != nil {
			s.reply(f.ID, nil, errors.Wrap(err, "malformed dialog"))
			return
		}
		s.bus.Emit(ctx, events.DialogRendered{Dialog: &dialog})
		s.reply(f.ID, dialog, nil)
	case methodRollData:
		var req struct {
			ActorID string             `json:"actorId"`
			Data    map[string]float64 `json:"data"`
		}
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			s.reply(f.ID, nil, errors.Wrap(err, "malformed roll data"))
			return
		}
		if req.Data == nil {
			req.Data = make(map[string]float64)
		}
		s.bus.Emit(ctx, events.RollDataRequested{ActorID: req.ActorID, Data: req.Data})
		s.reply(f.ID, req, nil)
	default:
		s.reply(f.ID, nil, errors.NotFoundf("unknown method %s", f.Method))
	}
}

// Actors returns the actor-document operations
func (s *Session) Actors() host.Actors { return actorsAPI{s} }

// Messages returns the chat-message operations
func (s *Session) Messages() host.Messages { return messagesAPI{s} }

// Users returns the user roster; Current is the identity from the ready
// frame
func (s *Session) Users() host.Users { return usersAPI{s} }

// Scene returns the scene operations
func (s *Session) Scene() host.Scene { return sceneAPI{s} }

// Journal returns the journal operations
func (s *Session) Journal() host.Journal { return journalAPI{s} }

// Notifier returns the local-notice surface
func (s *Session) Notifier() host.Notifier { return notifierAPI{s} }

// Rolls returns the host roll trigger
func (s *Session) Rolls() host.RollRunner { return rollsAPI{s} }

// Prompter returns the interactive dialog surface
func (s *Session) Prompter() host.Prompter { return prompterAPI{s} }

type actorsAPI struct{ s *Session }

var _ host.Actors = actorsAPI{}

func (a actorsAPI) Get(ctx context.Context, id string) (*host.Actor, error) {
	var actor host.Actor
	if err := a.s.call(ctx, "actors.get", map[string]string{"id": id}, &actor, a.s.timeout); err != nil {
		return nil, err
	}
	return &actor, nil
}

func (a actorsAPI) SetTempHP(ctx context.Context, id string, value int) error {
	return a.s.call(ctx, "actors.setTempHp", map[string]any{"id": id, "value": value}, nil, a.s.timeout)
}

func (a actorsAPI) ToggleStatus(ctx context.Context, id, statusID string, active, overlay bool) error {
	return a.s.call(ctx, "actors.toggleStatus", map[string]any{
		"id": id, "statusId": statusID, "active": active, "overlay": overlay,
	}, nil, a.s.timeout)
}

func (a actorsAPI) ApplyEffect(ctx context.Context, id string, effect *host.ActiveEffect) error {
	return a.s.call(ctx, "actors.applyEffect", map[string]any{"id": id, "effect": effect}, nil, a.s.timeout)
}

type messagesAPI struct{ s *Session }

var _ host.Messages = messagesAPI{}

func (m messagesAPI) Get(ctx context.Context, id string) (*host.ChatMessage, error) {
	var msg host.ChatMessage
	if err := m.s.call(ctx, "messages.get", map[string]string{"id": id}, &msg, m.s.timeout); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m messagesAPI) List(ctx context.Context) ([]*host.ChatMessage, error) {
	var msgs []*host.ChatMessage
	if err := m.s.call(ctx, "messages.list", nil, &msgs, m.s.timeout); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (m messagesAPI) Create(ctx context.Context, msg *host.ChatMessage) error {
	return m.s.call(ctx, "messages.create", msg, msg, m.s.timeout)
}

func (m messagesAPI) UpdateContent(ctx context.Context, id, content string) error {
	return m.s.call(ctx, "messages.updateContent", map[string]string{"id": id, "content": content}, nil, m.s.timeout)
}

func (m messagesAPI) SetFlag(ctx context.Context, id, key string, value any) error {
	return m.s.call(ctx, "messages.setFlag", map[string]any{"id": id, "key": key, "value": value}, nil, m.s.timeout)
}

func (m messagesAPI) Delete(ctx context.Context, ids []string) error {
	return m.s.call(ctx, "messages.delete", map[string]any{"ids": ids}, nil, m.s.timeout)
}

type usersAPI struct{ s *Session }

var _ host.Users = usersAPI{}

func (u usersAPI) Current() *host.User {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.s.identity
}

func (u usersAPI) List(ctx context.Context) ([]*host.User, error) {
	var users []*host.User
	if err := u.s.call(ctx, "users.list", nil, &users, u.s.timeout); err != nil {
		return nil, err
	}
	return users, nil
}

type sceneAPI struct{ s *Session }

var _ host.Scene = sceneAPI{}

func (sc sceneAPI) Tokens(ctx context.Context) ([]*host.Token, error) {
	var tokens []*host.Token
	if err := sc.s.call(ctx, "scene.tokens", nil, &tokens, sc.s.timeout); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (sc sceneAPI) Distance(ctx context.Context, fromTokenID, toTokenID string) (float64, error) {
	var out struct {
		Units float64 `json:"units"`
	}
	err := sc.s.call(ctx, "scene.distance", map[string]string{
		"from": fromTokenID, "to": toTokenID,
	}, &out, sc.s.timeout)
	if err != nil {
		return 0, err
	}
	return out.Units, nil
}

type journalAPI struct{ s *Session }

var _ host.Journal = journalAPI{}

func (j journalAPI) AppendPage(ctx context.Context, journalName, pageName, content string) error {
	return j.s.call(ctx, "journal.appendPage", map[string]string{
		"journal": journalName, "page": pageName, "content": content,
	}, nil, j.s.timeout)
}

type notifierAPI struct{ s *Session }

var _ host.Notifier = notifierAPI{}

func (n notifierAPI) Info(message string)  { n.s.cast("notify.info", map[string]string{"message": message}) }
func (n notifierAPI) Warn(message string)  { n.s.cast("notify.warn", map[string]string{"message": message}) }
func (n notifierAPI) Error(message string) { n.s.cast("notify.error", map[string]string{"message": message}) }

type rollsAPI struct{ s *Session }

var _ host.RollRunner = rollsAPI{}

func (r rollsAPI) RequestTraitRoll(ctx context.Context, actorID string, category host.RollCategory, traitID string, mode host.AdvantageMode) error {
	return r.s.call(ctx, "rolls.requestTraitRoll", map[string]any{
		"actorId": actorID, "category": category, "traitId": traitID, "mode": mode,
	}, nil, r.s.timeout)
}

type prompterAPI struct{ s *Session }

var _ host.Prompter = prompterAPI{}

// SelectToken waits on the player, so it is bounded by ctx alone
func (p prompterAPI) SelectToken(ctx context.Context, title string, options []*host.Token) (*host.Token, error) {
	var out struct {
		Token *host.Token `json:"token"`
	}
	err := p.s.call(ctx, "dialog.selectToken", map[string]any{
		"title": title, "options": options,
	}, &out, 0)
	if err != nil {
		return nil, err
	}
	return out.Token, nil
}
