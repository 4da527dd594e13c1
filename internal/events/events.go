// Package events carries the host lifecycle notifications through the
// companion's in-process dispatch bus.
package events

import (
	"github.com/vttkit/companion/internal/host"
)

// EventType identifies a lifecycle notification
type EventType string

const (
	EventActorUpdated      EventType = "actor_updated"
	EventActorUnloaded     EventType = "actor_unloaded"
	EventCombatStarted     EventType = "combat_started"
	EventCombatDeleted     EventType = "combat_deleted"
	EventTurnAdvanced      EventType = "turn_advanced"
	EventDialogRendered    EventType = "dialog_rendered"
	EventPreRoll           EventType = "pre_roll"
	EventRollCompleted     EventType = "roll_completed"
	EventItemUsed          EventType = "item_used"
	EventMessageRendered   EventType = "message_rendered"
	EventMessageDeleted    EventType = "message_deleted"
	EventCommandInvoked    EventType = "command_invoked"
	EventRollDataRequested EventType = "roll_data_requested"
)

// Event is the base interface for all dispatched notifications
type Event interface {
	Type() EventType
}

// ActorUpdated fires after an actor document changed. Changed holds the
// field paths of the differential; AuthorUserID is who made the change.
type ActorUpdated struct {
	Actor        *host.Actor
	Changed      []string
	AuthorUserID string
}

func (ActorUpdated) Type() EventType { return EventActorUpdated }

// ActorUnloaded fires when an actor document leaves the client's cache
type ActorUnloaded struct {
	ActorID string
}

func (ActorUnloaded) Type() EventType { return EventActorUnloaded }

// CombatStarted fires when an encounter begins
type CombatStarted struct {
	Combat *host.Combat
}

func (CombatStarted) Type() EventType { return EventCombatStarted }

// CombatDeleted fires when an encounter document is removed
type CombatDeleted struct {
	Combat *host.Combat
}

func (CombatDeleted) Type() EventType { return EventCombatDeleted }

// TurnAdvanced fires when a combat moves to another turn or round
type TurnAdvanced struct {
	Combat  *host.Combat
	Prior   host.TurnState
	Current host.TurnState
}

func (TurnAdvanced) Type() EventType { return EventTurnAdvanced }

// DialogRendered fires when the host renders a dialog the companion may
// want to adjust
type DialogRendered struct {
	Dialog *host.Dialog
}

func (DialogRendered) Type() EventType { return EventDialogRendered }

// PreRoll fires before the host evaluates a roll; Config is mutable and
// changes are honored by the host.
type PreRoll struct {
	Config *host.RollConfig
}

func (PreRoll) Type() EventType { return EventPreRoll }

// RollCompleted fires once the host has evaluated one or more rolls
type RollCompleted struct {
	Kind    host.RollKind
	ActorID string
	Rolls   []*host.RollResult
}

func (RollCompleted) Type() EventType { return EventRollCompleted }

// ItemUsed fires when an actor uses an item or feature
type ItemUsed struct {
	Actor *host.Actor
	Item  *host.Item
}

func (ItemUsed) Type() EventType { return EventItemUsed }

// MessageRendered fires when a chat message is (re-)rendered client side
type MessageRendered struct {
	Message *host.ChatMessage
}

func (MessageRendered) Type() EventType { return EventMessageRendered }

// MessageDeleted fires when a chat message document is removed
type MessageDeleted struct {
	MessageID string
}

func (MessageDeleted) Type() EventType { return EventMessageDeleted }

// CommandInvoked fires when the local user triggers one of the
// companion's UI entries (context menu, toolbar). Arg is the subject
// document id when the entry has one.
type CommandInvoked struct {
	Name string
	Arg  string
}

func (CommandInvoked) Type() EventType { return EventCommandInvoked }

// RollDataRequested fires while the host assembles an actor's roll
// data. Data is mutable; entries written by handlers go back to the
// host and become available to roll formulas.
type RollDataRequested struct {
	ActorID string
	Data    map[string]float64
}

func (RollDataRequested) Type() EventType { return EventRollDataRequested }
