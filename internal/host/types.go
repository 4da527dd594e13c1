// Package host defines the boundary to the virtual tabletop application:
// the document shapes it replicates to every client and the operations the
// companion is allowed to perform on them. Everything here is owned by the
// host; the companion only holds transient copies.
package host

import (
	"encoding/json"
	"strings"
)

// ActorKind discriminates how an actor is controlled
type ActorKind string

const (
	KindCharacter ActorKind = "character" // player-controlled
	KindNPC       ActorKind = "npc"
	KindOther     ActorKind = "other"
)

// HitPoints is the actor's hit point block. Value can go below zero.
type HitPoints struct {
	Value int `json:"value"`
	Max   int `json:"max"`
	Temp  int `json:"temp"`
}

// ItemType discriminates owned items
type ItemType string

const (
	ItemWeapon     ItemType = "weapon"
	ItemConsumable ItemType = "consumable"
	ItemFeature    ItemType = "feat"
	ItemSubclass   ItemType = "subclass"
)

// Item is an actor-owned item or feature
type Item struct {
	ID       string   `json:"id"`
	UUID     string   `json:"uuid"`
	Name     string   `json:"name"`
	Type     ItemType `json:"type"`
	Quantity int      `json:"quantity"`

	// Throwable marks weapons that leave the wielder's hands
	Throwable bool `json:"throwable,omitempty"`

	// Subtype carries the consumable sub-type tag, e.g. "ammo"
	Subtype string `json:"subtype,omitempty"`

	Effects []*ActiveEffect `json:"effects,omitempty"`
}

// ActiveEffect is a toggleable effect on an actor or item
type ActiveEffect struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	Origin   string `json:"origin,omitempty"` // UUID of the document that created it
	Disabled bool   `json:"disabled"`
}

// Actor is a game character or creature record
type Actor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        ActorKind       `json:"kind"`
	HP          HitPoints       `json:"hp"`
	Items       []*Item         `json:"items,omitempty"`
	Effects     []*ActiveEffect `json:"effects,omitempty"`
	Statuses    []string        `json:"statuses,omitempty"`
	OwnerIDs    []string        `json:"ownerIds,omitempty"` // user ids with owner permission
	PlayerOwned bool            `json:"playerOwned"`
	TokenID     string          `json:"tokenId,omitempty"`

	// Traits holds named numeric values such as class levels
	Traits map[string]int `json:"traits,omitempty"`
}

// HasStatus reports whether the status tag is active on the actor
func (a *Actor) HasStatus(statusID string) bool {
	for _, s := range a.Statuses {
		if s == statusID {
			return true
		}
	}
	return false
}

// OwnedBy reports whether the user has owner permission on the actor
func (a *Actor) OwnedBy(userID string) bool {
	for _, id := range a.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Item returns the owned item with the given id, nil when absent
func (a *Actor) Item(itemID string) *Item {
	for _, it := range a.Items {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

// FindItem returns the first owned item matching the predicate
func (a *Actor) FindItem(match func(*Item) bool) *Item {
	for _, it := range a.Items {
		if match(it) {
			return it
		}
	}
	return nil
}

// User is a connected (or known) host user
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	GM     bool   `json:"gm"`
	Active bool   `json:"active"` // currently connected
}

// Token is a scene token placed for an actor
type Token struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ActorID string `json:"actorId"`
	Image   string `json:"image,omitempty"`
}

// Combatant is an entry in a combat's turn order
type Combatant struct {
	ID      string `json:"id"`
	ActorID string `json:"actorId"`
	TokenID string `json:"tokenId,omitempty"`
	Name    string `json:"name"`
}

// Combat is a bounded encounter with ordered turns
type Combat struct {
	ID         string       `json:"id"`
	Combatants []*Combatant `json:"combatants"`
	Round      int          `json:"round"`
	Turn       int          `json:"turn"`
}

// CombatantByID returns the combatant with the given id, nil when absent
func (c *Combat) CombatantByID(id string) *Combatant {
	for _, cb := range c.Combatants {
		if cb.ID == id {
			return cb
		}
	}
	return nil
}

// TurnState identifies whose turn a combat is on
type TurnState struct {
	CombatantID string `json:"combatantId"`
	Round       int    `json:"round"`
	Turn        int    `json:"turn"`
}

// ChatMessage is a chat-visible document. Content is host-rendered HTML;
// Flags carry structured metadata keyed by namespace.
type ChatMessage struct {
	ID        string                     `json:"id"`
	Content   string                     `json:"content"`
	Speaker   string                     `json:"speaker,omitempty"`
	WhisperTo []string                   `json:"whisperTo,omitempty"`
	Timestamp int64                      `json:"timestamp"` // unix millis
	Flags     map[string]json.RawMessage `json:"flags,omitempty"`
}

// Flag unmarshals a structured flag into out, reporting whether it was set
func (m *ChatMessage) Flag(key string, out any) (bool, error) {
	raw, ok := m.Flags[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, err
	}
	return true, nil
}

// RollKind discriminates the sub-rolls of an action usage
type RollKind string

const (
	RollAttack RollKind = "attack"
	RollDamage RollKind = "damage"
)

// RollCategory classifies a requested standalone roll
type RollCategory string

const (
	CategorySave  RollCategory = "save"
	CategoryCheck RollCategory = "check"
	CategorySkill RollCategory = "skill"
)

// AdvantageMode selects how a d20 roll is resolved
type AdvantageMode string

const (
	ModeAdvantage    AdvantageMode = "advantage"
	ModeNormal       AdvantageMode = "normal"
	ModeDisadvantage AdvantageMode = "disadvantage"
	ModeAsk          AdvantageMode = "ask" // leave the choice to the rolling user
)

// RollResult is the host's report of one completed roll
type RollResult struct {
	Total    int               `json:"total"`
	Critical bool              `json:"critical"`
	Fumble   bool              `json:"fumble"`
	HTML     string            `json:"html"` // host-rendered dice visualization
	Parts    []DamagePart      `json:"parts,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// DamagePart is one entry of a damage breakdown
type DamagePart struct {
	Value      int      `json:"value"`
	Type       string   `json:"type"`
	Properties []string `json:"properties,omitempty"`
}

// Linkage ties a pending roll back to the chat message it originated from
type Linkage struct {
	// OriginatingMessageID comes from the roll configuration's embedded
	// message-linkage field
	OriginatingMessageID string `json:"originatingMessageId,omitempty"`

	// ClickMessageID is read from the DOM context of the triggering click
	ClickMessageID string `json:"clickMessageId,omitempty"`
}

// RollConfig is the mutable configuration of a roll about to happen.
// Handlers may adjust Options and CreateMessage before the host proceeds.
type RollConfig struct {
	Kind          RollKind          `json:"kind"`
	ActorID       string            `json:"actorId,omitempty"`
	Options       map[string]string `json:"options"`
	CreateMessage bool              `json:"createMessage"`
	Linkage       Linkage           `json:"linkage"`
}

// DialogButton is one resolution choice offered by a roll dialog
type DialogButton struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	Hidden bool   `json:"hidden"`
}

// Dialog is the companion's view of a host dialog being rendered. The
// actor reference may live in several places depending on host version;
// ResolveDialogActor normalizes that.
type Dialog struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"` // e.g. "roll-configuration"

	ActorID        string   `json:"actorId,omitempty"`
	ItemActorID    string   `json:"itemActorId,omitempty"`
	SubjectActorID string   `json:"subjectActorId,omitempty"`
	RollActorIDs   []string `json:"rollActorIds,omitempty"`

	ActionType string          `json:"actionType,omitempty"` // action / bonus / reaction
	Buttons    []*DialogButton `json:"buttons,omitempty"`
}

// FieldHP is the changed-field path reported when current hit points move
const FieldHP = "hp.value"

// FieldTempHP is the changed-field path for temporary hit points
const FieldTempHP = "hp.temp"

// ChangedField reports whether the given field path is in the change set
func ChangedField(changed []string, field string) bool {
	for _, c := range changed {
		if c == field || strings.HasSuffix(c, "."+field) {
			return true
		}
	}
	return false
}
