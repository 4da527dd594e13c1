// Package hosttest provides an in-memory host implementation for service
// tests. It records every mutation so assertions can inspect what the
// service asked the host to do.
package hosttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/host"
)

// ToggleCall records one Actors.ToggleStatus invocation
type ToggleCall struct {
	ActorID  string
	StatusID string
	Active   bool
	Overlay  bool
}

// TempHPCall records one Actors.SetTempHP invocation
type TempHPCall struct {
	ActorID string
	Value   int
}

// Notice records one Notifier invocation
type Notice struct {
	Level   string
	Message string
}

// JournalPage records one Journal.AppendPage invocation
type JournalPage struct {
	JournalName string
	PageName    string
	Content     string
}

// RollRequest records one RollRunner.RequestTraitRoll invocation
type RollRequest struct {
	ActorID  string
	Category host.RollCategory
	TraitID  string
	Mode     host.AdvantageMode
}

// Fake holds in-memory host state. The interface views returned by
// Actors, Messages, Users and friends all share this state.
type Fake struct {
	mu sync.Mutex

	ActorsByID   map[string]*host.Actor
	MessagesByID map[string]*host.ChatMessage
	LocalUser    *host.User
	AllUsers     []*host.User
	SceneTokens  []*host.Token
	Distances    map[string]float64 // keyed by "from>to"

	// SelectTokenFunc drives Prompter responses; when nil the first
	// option is selected.
	SelectTokenFunc func(title string, options []*host.Token) (*host.Token, error)

	ToggleCalls  []ToggleCall
	TempHPCalls  []TempHPCall
	Created      []*host.ChatMessage
	Deleted      []string
	Notices      []Notice
	JournalPages []JournalPage
	RollRequests []RollRequest
}

// NewFake creates an empty fake host
func NewFake() *Fake {
	return &Fake{
		ActorsByID:   make(map[string]*host.Actor),
		MessagesByID: make(map[string]*host.ChatMessage),
		Distances:    make(map[string]float64),
	}
}

// AddActor registers an actor
func (f *Fake) AddActor(a *host.Actor) *Fake {
	f.ActorsByID[a.ID] = a
	return f
}

// AddMessage registers a chat message
func (f *Fake) AddMessage(m *host.ChatMessage) *Fake {
	if m.Flags == nil {
		m.Flags = make(map[string]json.RawMessage)
	}
	f.MessagesByID[m.ID] = m
	return f
}

// SetDistance records the measured path between two tokens, both ways
func (f *Fake) SetDistance(fromTokenID, toTokenID string, units float64) *Fake {
	f.Distances[fromTokenID+">"+toTokenID] = units
	f.Distances[toTokenID+">"+fromTokenID] = units
	return f
}

// RecordedRollRequests returns a copy of the roll-runner calls, safe to
// read while a listener goroutine is still running.
func (f *Fake) RecordedRollRequests() []RollRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RollRequest(nil), f.RollRequests...)
}

// RecordedNotices returns a copy of the notifier calls
func (f *Fake) RecordedNotices() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notice(nil), f.Notices...)
}

// Actors returns the actor-document view
func (f *Fake) Actors() host.Actors { return actorsView{f} }

// Messages returns the chat-message view
func (f *Fake) Messages() host.Messages { return messagesView{f} }

// Users returns the user-roster view
func (f *Fake) Users() host.Users { return usersView{f} }

// Scene returns the scene view
func (f *Fake) Scene() host.Scene { return sceneView{f} }

// Journal returns the journal view
func (f *Fake) Journal() host.Journal { return journalView{f} }

// Notifier returns the local-notice view
func (f *Fake) Notifier() host.Notifier { return notifierView{f} }

// Rolls returns the roll-runner view
func (f *Fake) Rolls() host.RollRunner { return rollsView{f} }

// Prompter returns the dialog-prompt view
func (f *Fake) Prompter() host.Prompter { return prompterView{f} }

type actorsView struct{ f *Fake }

var _ host.Actors = actorsView{}

func (v actorsView) Get(ctx context.Context, id string) (*host.Actor, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	a, ok := v.f.ActorsByID[id]
	if !ok {
		return nil, errors.NotFoundf("actor not found: %s", id)
	}
	return a, nil
}

func (v actorsView) SetTempHP(ctx context.Context, id string, value int) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	a, ok := v.f.ActorsByID[id]
	if !ok {
		return errors.NotFoundf("actor not found: %s", id)
	}
	a.HP.Temp = value
	v.f.TempHPCalls = append(v.f.TempHPCalls, TempHPCall{ActorID: id, Value: value})
	return nil
}

func (v actorsView) ToggleStatus(ctx context.Context, id, statusID string, active, overlay bool) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	a, ok := v.f.ActorsByID[id]
	if !ok {
		return errors.NotFoundf("actor not found: %s", id)
	}

	v.f.ToggleCalls = append(v.f.ToggleCalls, ToggleCall{
		ActorID: id, StatusID: statusID, Active: active, Overlay: overlay,
	})

	if active {
		if !a.HasStatus(statusID) {
			a.Statuses = append(a.Statuses, statusID)
		}
		return nil
	}
	for i, s := range a.Statuses {
		if s == statusID {
			a.Statuses = append(a.Statuses[:i], a.Statuses[i+1:]...)
			break
		}
	}
	return nil
}

func (v actorsView) ApplyEffect(ctx context.Context, id string, effect *host.ActiveEffect) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	a, ok := v.f.ActorsByID[id]
	if !ok {
		return errors.NotFoundf("actor not found: %s", id)
	}
	a.Effects = append(a.Effects, effect)
	return nil
}

type messagesView struct{ f *Fake }

var _ host.Messages = messagesView{}

func (v messagesView) Get(ctx context.Context, id string) (*host.ChatMessage, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	m, ok := v.f.MessagesByID[id]
	if !ok {
		return nil, errors.NotFoundf("message not found: %s", id)
	}
	return m, nil
}

func (v messagesView) List(ctx context.Context) ([]*host.ChatMessage, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	out := make([]*host.ChatMessage, 0, len(v.f.MessagesByID))
	for _, m := range v.f.MessagesByID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (v messagesView) Create(ctx context.Context, msg *host.ChatMessage) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", len(v.f.Created)+1)
	}
	if msg.Flags == nil {
		msg.Flags = make(map[string]json.RawMessage)
	}
	v.f.MessagesByID[msg.ID] = msg
	v.f.Created = append(v.f.Created, msg)
	return nil
}

func (v messagesView) UpdateContent(ctx context.Context, id, content string) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	m, ok := v.f.MessagesByID[id]
	if !ok {
		return errors.NotFoundf("message not found: %s", id)
	}
	m.Content = content
	return nil
}

func (v messagesView) SetFlag(ctx context.Context, id, key string, value any) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	m, ok := v.f.MessagesByID[id]
	if !ok {
		return errors.NotFoundf("message not found: %s", id)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal flag")
	}
	if m.Flags == nil {
		m.Flags = make(map[string]json.RawMessage)
	}
	m.Flags[key] = raw
	return nil
}

func (v messagesView) Delete(ctx context.Context, ids []string) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	for _, id := range ids {
		delete(v.f.MessagesByID, id)
		v.f.Deleted = append(v.f.Deleted, id)
	}
	return nil
}

type usersView struct{ f *Fake }

var _ host.Users = usersView{}

func (v usersView) Current() *host.User { return v.f.LocalUser }

func (v usersView) List(ctx context.Context) ([]*host.User, error) {
	return v.f.AllUsers, nil
}

type sceneView struct{ f *Fake }

var _ host.Scene = sceneView{}

func (v sceneView) Tokens(ctx context.Context) ([]*host.Token, error) {
	return v.f.SceneTokens, nil
}

func (v sceneView) Distance(ctx context.Context, fromTokenID, toTokenID string) (float64, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	d, ok := v.f.Distances[fromTokenID+">"+toTokenID]
	if !ok {
		return 0, errors.NotFoundf("no path between %s and %s", fromTokenID, toTokenID)
	}
	return d, nil
}

type journalView struct{ f *Fake }

var _ host.Journal = journalView{}

func (v journalView) AppendPage(ctx context.Context, journalName, pageName, content string) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	v.f.JournalPages = append(v.f.JournalPages, JournalPage{
		JournalName: journalName, PageName: pageName, Content: content,
	})
	return nil
}

type notifierView struct{ f *Fake }

var _ host.Notifier = notifierView{}

func (v notifierView) Info(message string)  { v.f.notice("info", message) }
func (v notifierView) Warn(message string)  { v.f.notice("warn", message) }
func (v notifierView) Error(message string) { v.f.notice("error", message) }

func (f *Fake) notice(level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notices = append(f.Notices, Notice{Level: level, Message: message})
}

type rollsView struct{ f *Fake }

var _ host.RollRunner = rollsView{}

func (v rollsView) RequestTraitRoll(ctx context.Context, actorID string, category host.RollCategory, traitID string, mode host.AdvantageMode) error {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()

	v.f.RollRequests = append(v.f.RollRequests, RollRequest{
		ActorID: actorID, Category: category, TraitID: traitID, Mode: mode,
	})
	return nil
}

type prompterView struct{ f *Fake }

var _ host.Prompter = prompterView{}

func (v prompterView) SelectToken(ctx context.Context, title string, options []*host.Token) (*host.Token, error) {
	if v.f.SelectTokenFunc != nil {
		return v.f.SelectTokenFunc(title, options)
	}
	if len(options) == 0 {
		return nil, nil
	}
	return options[0], nil
}
