package host

import (
	"context"
)

// Actors exposes the host's actor documents
type Actors interface {
	// Get resolves an actor by id
	Get(ctx context.Context, id string) (*Actor, error)

	// SetTempHP writes the actor's temporary hit points
	SetTempHP(ctx context.Context, id string, value int) error

	// ToggleStatus sets a status tag active or inactive. Overlay marks
	// the status as a full-token visual when activating.
	ToggleStatus(ctx context.Context, id, statusID string, active, overlay bool) error

	// ApplyEffect creates an active effect on the actor
	ApplyEffect(ctx context.Context, id string, effect *ActiveEffect) error
}

// Messages exposes the host's chat message documents
type Messages interface {
	// Get resolves a chat message by id
	Get(ctx context.Context, id string) (*ChatMessage, error)

	// List returns all chat messages
	List(ctx context.Context) ([]*ChatMessage, error)

	// Create posts a new chat message
	Create(ctx context.Context, msg *ChatMessage) error

	// UpdateContent replaces a message's rendered content
	UpdateContent(ctx context.Context, id, content string) error

	// SetFlag attaches structured metadata to a message
	SetFlag(ctx context.Context, id, key string, value any) error

	// Delete removes the given messages
	Delete(ctx context.Context, ids []string) error
}

// Users exposes the host's user roster and the local identity
type Users interface {
	// Current returns the locally authenticated user
	Current() *User

	// List returns all known users with their connection state
	List(ctx context.Context) ([]*User, error)
}

// Scene exposes the active scene's tokens and measurement
type Scene interface {
	// Tokens returns the tokens placed on the active scene
	Tokens(ctx context.Context) ([]*Token, error)

	// Distance measures the path between two token centers in scene units
	Distance(ctx context.Context, fromTokenID, toTokenID string) (float64, error)
}

// Journal exposes archival documents
type Journal interface {
	// AppendPage adds an HTML page to the named journal, creating the
	// journal when missing
	AppendPage(ctx context.Context, journalName, pageName, content string) error
}

// Notifier surfaces transient notices to the local user only
type Notifier interface {
	Info(message string)
	Warn(message string)
	Error(message string)
}

// RollRunner triggers the host's standard roll flow for an actor
type RollRunner interface {
	RequestTraitRoll(ctx context.Context, actorID string, category RollCategory, traitID string, mode AdvantageMode) error
}

// Prompter asks the local user to make a choice in a host dialog
type Prompter interface {
	// SelectToken prompts for one token out of the options. A nil token
	// with nil error means the user cancelled.
	SelectToken(ctx context.Context, title string, options []*Token) (*Token, error)
}
