package status_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/host/hosttest"
	"github.com/vttkit/companion/internal/services/status"
)

func newService(f *hosttest.Fake) status.Service {
	return status.NewService(&status.ServiceConfig{
		Actors: f.Actors(),
		Users:  f.Users(),
	})
}

func TestDerive(t *testing.T) {
	f := hosttest.NewFake()
	svc := newService(f)

	tests := []struct {
		name       string
		actor      *host.Actor
		wantStatus string
		wantActive bool
		wantOK     bool
	}{
		{
			name:       "character at zero goes unconscious",
			actor:      &host.Actor{Kind: host.KindCharacter, HP: host.HitPoints{Value: 0, Max: 20}},
			wantStatus: status.StatusUnconscious,
			wantActive: true,
			wantOK:     true,
		},
		{
			name:       "character below zero goes unconscious",
			actor:      &host.Actor{Kind: host.KindCharacter, HP: host.HitPoints{Value: -3, Max: 20}},
			wantStatus: status.StatusUnconscious,
			wantActive: true,
			wantOK:     true,
		},
		{
			name:       "character above zero is conscious",
			actor:      &host.Actor{Kind: host.KindCharacter, HP: host.HitPoints{Value: 1, Max: 20}},
			wantStatus: status.StatusUnconscious,
			wantActive: false,
			wantOK:     true,
		},
		{
			name:       "npc at zero is dead",
			actor:      &host.Actor{Kind: host.KindNPC, HP: host.HitPoints{Value: 0, Max: 11}},
			wantStatus: status.StatusDead,
			wantActive: true,
			wantOK:     true,
		},
		{
			name:       "npc above zero is alive",
			actor:      &host.Actor{Kind: host.KindNPC, HP: host.HitPoints{Value: 11, Max: 11}},
			wantStatus: status.StatusDead,
			wantActive: false,
			wantOK:     true,
		},
		{
			name:   "other kinds have no derived status",
			actor:  &host.Actor{Kind: host.KindOther, HP: host.HitPoints{Value: 0}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusID, active, ok := svc.Derive(tt.actor)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantStatus, statusID)
			assert.Equal(t, tt.wantActive, active)
		})
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("activates when hp drops to zero", func(t *testing.T) {
		f := hosttest.NewFake()
		actor := &host.Actor{ID: "pc-1", Kind: host.KindCharacter, HP: host.HitPoints{Value: 0, Max: 20}}
		f.AddActor(actor)
		svc := newService(f)

		require.NoError(t, svc.Reconcile(ctx, actor))

		require.Len(t, f.ToggleCalls, 1)
		assert.Equal(t, hosttest.ToggleCall{
			ActorID: "pc-1", StatusID: status.StatusUnconscious, Active: true, Overlay: true,
		}, f.ToggleCalls[0])
		assert.True(t, actor.HasStatus(status.StatusUnconscious))
	})

	t.Run("second call without hp change is a no-op", func(t *testing.T) {
		f := hosttest.NewFake()
		actor := &host.Actor{ID: "pc-1", Kind: host.KindCharacter, HP: host.HitPoints{Value: 0, Max: 20}}
		f.AddActor(actor)
		svc := newService(f)

		require.NoError(t, svc.Reconcile(ctx, actor))
		require.NoError(t, svc.Reconcile(ctx, actor))

		assert.Len(t, f.ToggleCalls, 1)
	})

	t.Run("deactivates when hp recovers", func(t *testing.T) {
		f := hosttest.NewFake()
		actor := &host.Actor{
			ID: "npc-1", Kind: host.KindNPC,
			HP:       host.HitPoints{Value: 5, Max: 11},
			Statuses: []string{status.StatusDead},
		}
		f.AddActor(actor)
		svc := newService(f)

		require.NoError(t, svc.Reconcile(ctx, actor))

		require.Len(t, f.ToggleCalls, 1)
		assert.False(t, f.ToggleCalls[0].Active)
		assert.False(t, actor.HasStatus(status.StatusDead))
	})

	t.Run("unhandled kind never mutates", func(t *testing.T) {
		f := hosttest.NewFake()
		actor := &host.Actor{ID: "loot-1", Kind: host.KindOther, HP: host.HitPoints{Value: 0}}
		f.AddActor(actor)
		svc := newService(f)

		require.NoError(t, svc.Reconcile(ctx, actor))
		assert.Empty(t, f.ToggleCalls)
	})
}

// full flow: damage update authored locally drops a character to 0,
// the unconscious status lands exactly once
func TestSubscribe_EndToEnd(t *testing.T) {
	ctx := context.Background()

	f := hosttest.NewFake()
	f.LocalUser = &host.User{ID: "user-1", Name: "Alice"}
	actor := &host.Actor{ID: "pc-1", Kind: host.KindCharacter, HP: host.HitPoints{Value: 7, Max: 20}}
	f.AddActor(actor)

	svc := newService(f)
	bus := events.NewBus(nil)
	status.Subscribe(bus, svc, f.Users())

	// damage authored by someone else: not our job
	actor.HP.Value = 0
	bus.Emit(ctx, events.ActorUpdated{
		Actor: actor, Changed: []string{"system.attributes.hp.value"}, AuthorUserID: "user-2",
	})
	assert.Empty(t, f.ToggleCalls)

	// same update authored locally
	bus.Emit(ctx, events.ActorUpdated{
		Actor: actor, Changed: []string{"system.attributes.hp.value"}, AuthorUserID: "user-1",
	})
	require.Len(t, f.ToggleCalls, 1)
	assert.True(t, actor.HasStatus(status.StatusUnconscious))

	// an unrelated field change does not re-run the toggle
	bus.Emit(ctx, events.ActorUpdated{
		Actor: actor, Changed: []string{"name"}, AuthorUserID: "user-1",
	})
	assert.Len(t, f.ToggleCalls, 1)
}
