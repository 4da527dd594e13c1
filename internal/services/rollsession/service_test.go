package rollsession_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/host/hosttest"
	"github.com/vttkit/companion/internal/services/rollsession"
)

const actionCard = `<div class="chat-card">` +
	`<div class="card-buttons">` +
	`<button data-action="rollAttack">Attack</button>` +
	`<button data-action="rollDamage">Damage</button>` +
	`</div>` +
	`</div>`

func newFixture(t *testing.T) (*hosttest.Fake, rollsession.Service) {
	t.Helper()

	f := hosttest.NewFake()
	f.AddMessage(&host.ChatMessage{ID: "card-1", Content: actionCard})

	var waited []time.Duration
	svc := rollsession.NewService(&rollsession.ServiceConfig{
		Messages:    f.Messages(),
		SettleDelay: 200 * time.Millisecond,
		Wait:        func(d time.Duration) { waited = append(waited, d) },
	})
	return f, svc
}

func cardContent(f *hosttest.Fake) string {
	return f.MessagesByID["card-1"].Content
}

func TestHandlePreRoll_Attack(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	cfg := &host.RollConfig{
		Kind:          host.RollAttack,
		CreateMessage: true,
		Linkage:       host.Linkage{OriginatingMessageID: "card-1"},
	}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))

	assert.Equal(t, "card-1", cfg.Options[rollsession.OptionOriginatingMessage])
	assert.False(t, cfg.CreateMessage, "standalone roll message is suppressed")

	content := cardContent(f)
	assert.Contains(t, content, `data-action="rollAttack" disabled=""`)
	assert.Contains(t, content, `data-action="rollDamage" disabled=""`)
	assert.Equal(t, rollsession.StateAttackPending, svc.SessionState("card-1"))
}

func TestHandlePreRoll_NoOrigin(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	cfg := &host.RollConfig{Kind: host.RollAttack, CreateMessage: true}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))

	// no consolidation target: the roll proceeds as a normal message
	assert.True(t, cfg.CreateMessage)
	assert.Empty(t, cfg.Options[rollsession.OptionOriginatingMessage])
	assert.Equal(t, actionCard, cardContent(f))
	assert.Equal(t, rollsession.StateIdle, svc.SessionState("card-1"))
}

func TestHandlePreRoll_OriginFromClickContext(t *testing.T) {
	ctx := context.Background()
	_, svc := newFixture(t)

	cfg := &host.RollConfig{
		Kind:    host.RollAttack,
		Linkage: host.Linkage{ClickMessageID: "card-1"},
	}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))
	assert.Equal(t, "card-1", cfg.Options[rollsession.OptionOriginatingMessage])
}

func TestAttackLifecycle(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	cfg := &host.RollConfig{Kind: host.RollAttack, Linkage: host.Linkage{OriginatingMessageID: "card-1"}}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))

	rolls := []*host.RollResult{{
		Total:    24,
		Critical: true,
		HTML:     `<div class="dice-roll"><span class="dice-total">24</span></div>`,
		Options:  cfg.Options,
	}}
	require.NoError(t, svc.HandleRollCompleted(ctx, host.RollAttack, rolls))

	content := cardContent(f)
	assert.NotContains(t, content, `data-action="rollAttack"`, "attack button replaced")
	assert.Contains(t, content, `class="dice-roll expanded"`)
	assert.Contains(t, content, "color:#18520b", "critical total tinted green")
	assert.Contains(t, content, `<button data-action="rollDamage">`, "damage button re-enabled")
	assert.Equal(t, rollsession.StateAttackResolved, svc.SessionState("card-1"))
}

func TestFumbleTint(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	cfg := &host.RollConfig{Kind: host.RollAttack, Linkage: host.Linkage{OriginatingMessageID: "card-1"}}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))

	rolls := []*host.RollResult{{
		Total:   3,
		Fumble:  true,
		HTML:    `<div class="dice-roll"><span class="dice-total">3</span></div>`,
		Options: cfg.Options,
	}}
	require.NoError(t, svc.HandleRollCompleted(ctx, host.RollAttack, rolls))
	assert.Contains(t, cardContent(f), "color:#8a1000")
}

func TestDamageLifecycle(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	cfg := &host.RollConfig{Kind: host.RollDamage, Linkage: host.Linkage{OriginatingMessageID: "card-1"}}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))
	assert.Equal(t, rollsession.StateDamagePending, svc.SessionState("card-1"))
	assert.Contains(t, cardContent(f), `data-action="rollDamage" disabled=""`)

	rolls := []*host.RollResult{{
		Total: 5,
		HTML:  `<div class="dice-roll"><span class="dice-total">5</span></div>`,
		Parts: []host.DamagePart{
			{Value: 7, Type: "fire"},
			{Value: -2, Type: "slashing", Properties: []string{"magical"}},
		},
		Options: cfg.Options,
	}}
	require.NoError(t, svc.HandleRollCompleted(ctx, host.RollDamage, rolls))

	content := cardContent(f)
	assert.NotContains(t, content, `data-action="rollDamage"`, "damage button replaced")
	assert.Contains(t, content, `class="dice-roll expanded"`)

	var breakdown []rollsession.DamageEntry
	hasFlag, err := f.MessagesByID["card-1"].Flag(rollsession.FlagDamageData, &breakdown)
	require.NoError(t, err)
	require.True(t, hasFlag)
	assert.Equal(t, []rollsession.DamageEntry{
		{Value: 7, Type: "fire"},
		{Value: 0, Type: "slashing", Properties: []string{"magical"}},
	}, breakdown, "negative parts floor at zero")

	// terminal state holds until the message is deleted
	assert.Equal(t, rollsession.StateDamageResolved, svc.SessionState("card-1"))
	svc.HandleMessageDeleted("card-1")
	assert.Equal(t, rollsession.StateIdle, svc.SessionState("card-1"))
}

func TestHandleMessageRendered_AttachesOnce(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	// resolve a damage roll so the flag exists
	cfg := &host.RollConfig{Kind: host.RollDamage, Linkage: host.Linkage{OriginatingMessageID: "card-1"}}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))
	require.NoError(t, svc.HandleRollCompleted(ctx, host.RollDamage, []*host.RollResult{{
		Total:   6,
		HTML:    `<div class="dice-roll"></div>`,
		Parts:   []host.DamagePart{{Value: 6, Type: "piercing"}},
		Options: cfg.Options,
	}}))

	msg := f.MessagesByID["card-1"]
	require.NoError(t, svc.HandleMessageRendered(ctx, msg))
	assert.Equal(t, 1, strings.Count(cardContent(f), "<damage-application>"))

	// a re-render must not stack a second control
	require.NoError(t, svc.HandleMessageRendered(ctx, f.MessagesByID["card-1"]))
	assert.Equal(t, 1, strings.Count(cardContent(f), "<damage-application>"))
}

func TestHandleMessageRendered_NoFlag(t *testing.T) {
	ctx := context.Background()
	f, svc := newFixture(t)

	require.NoError(t, svc.HandleMessageRendered(ctx, f.MessagesByID["card-1"]))
	assert.NotContains(t, cardContent(f), "damage-application")
}

func TestHandleMessageDeleted(t *testing.T) {
	ctx := context.Background()
	_, svc := newFixture(t)

	cfg := &host.RollConfig{Kind: host.RollAttack, Linkage: host.Linkage{OriginatingMessageID: "card-1"}}
	require.NoError(t, svc.HandlePreRoll(ctx, cfg))
	require.Equal(t, rollsession.StateAttackPending, svc.SessionState("card-1"))

	svc.HandleMessageDeleted("card-1")
	assert.Equal(t, rollsession.StateIdle, svc.SessionState("card-1"))
}

func TestHandleRollCompleted_MissingMessage(t *testing.T) {
	ctx := context.Background()
	_, svc := newFixture(t)

	rolls := []*host.RollResult{{
		HTML:    `<div class="dice-roll"></div>`,
		Options: map[string]string{rollsession.OptionOriginatingMessage: "gone"},
	}}
	err := svc.HandleRollCompleted(ctx, host.RollAttack, rolls)
	assert.Error(t, err, "deleted card surfaces as an error for the bus to log")
}
