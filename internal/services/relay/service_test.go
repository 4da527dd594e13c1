package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/host/hosttest"
	"github.com/vttkit/companion/internal/services/relay"
)

const testChannel = "module.companion.test"

// newClient builds one simulated table client: its own host fake wired
// to a relay service over the shared redis.
func newClient(t *testing.T, mr *miniredis.Miniredis, user *host.User) (*hosttest.Fake, relay.Service) {
	t.Helper()

	f := hosttest.NewFake()
	f.LocalUser = user

	svc := relay.NewService(&relay.ServiceConfig{
		Redis:    redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Channel:  testChannel,
		Actors:   f.Actors(),
		Users:    f.Users(),
		Rolls:    f.Rolls(),
		Notifier: f.Notifier(),
	})
	return f, svc
}

func listen(t *testing.T, svc relay.Service) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Listen(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Listen subscribes before it reports anything; give the round-trip
	// a moment so published messages are not lost
	time.Sleep(50 * time.Millisecond)
}

func addWorld(f *hosttest.Fake) {
	f.AddActor(&host.Actor{ID: "pc-1", Name: "Shalla", Kind: host.KindCharacter, OwnerIDs: []string{"player-1"}})
	f.AddActor(&host.Actor{ID: "pc-2", Name: "Borin", Kind: host.KindCharacter, OwnerIDs: []string{"player-2"}})
	f.AddActor(&host.Actor{ID: "pc-3", Name: "Mira", Kind: host.KindCharacter, OwnerIDs: []string{"player-3"}})
}

func TestRequestRolls_OwnershipFilter(t *testing.T) {
	mr := miniredis.RunT(t)

	gmFake, gmSvc := newClient(t, mr, &host.User{ID: "gm-1", GM: true})
	playerFake, playerSvc := newClient(t, mr, &host.User{ID: "player-1"})
	addWorld(gmFake)
	addWorld(playerFake)

	listen(t, playerSvc)

	req := &relay.RollRequest{
		ActorIDs: []string{"pc-1", "pc-2", "pc-3"},
		Category: host.CategorySave,
		TraitID:  "dex",
		Mode:     host.ModeAdvantage,
	}
	require.NoError(t, gmSvc.RequestRolls(context.Background(), req))

	// exactly the one owned actor rolls on the player's client
	require.Eventually(t, func() bool {
		return len(playerFake.RecordedRollRequests()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := playerFake.RecordedRollRequests()[0]
	assert.Equal(t, hosttest.RollRequest{
		ActorID: "pc-1", Category: host.CategorySave, TraitID: "dex", Mode: host.ModeAdvantage,
	}, got)

	// the GM owns none of the targets, so nothing rolled at send time
	assert.Empty(t, gmFake.RecordedRollRequests())

	// the requested mode is staged for the player's next roll dialog
	mode, ok := playerSvc.PendingMode("pc-1")
	assert.True(t, ok)
	assert.Equal(t, host.ModeAdvantage, mode)
}

func TestRequestRolls_SenderActsLocally(t *testing.T) {
	mr := miniredis.RunT(t)

	gmFake, gmSvc := newClient(t, mr, &host.User{ID: "gm-1", GM: true})
	addWorld(gmFake)
	gmFake.AddActor(&host.Actor{ID: "npc-1", Kind: host.KindNPC, OwnerIDs: []string{"gm-1"}})

	listen(t, gmSvc)

	req := &relay.RollRequest{
		ActorIDs: []string{"npc-1", "pc-1"},
		Category: host.CategoryCheck,
		TraitID:  "wis",
	}
	require.NoError(t, gmSvc.RequestRolls(context.Background(), req))

	// the sender handles its own share once and skips the loopback copy
	time.Sleep(100 * time.Millisecond)
	requests := gmFake.RecordedRollRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "npc-1", requests[0].ActorID)
	assert.Equal(t, host.ModeAsk, requests[0].Mode, "unset mode defaults to asking the player")
}

func TestNotify_RecipientFilter(t *testing.T) {
	mr := miniredis.RunT(t)

	_, gmSvc := newClient(t, mr, &host.User{ID: "gm-1", GM: true})
	targetFake, targetSvc := newClient(t, mr, &host.User{ID: "player-1"})
	otherFake, otherSvc := newClient(t, mr, &host.User{ID: "player-2"})

	listen(t, targetSvc)
	listen(t, otherSvc)

	require.NoError(t, gmSvc.Notify(context.Background(), "Kruck shields you", []string{"player-1"}))

	require.Eventually(t, func() bool {
		return len(targetFake.RecordedNotices()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, hosttest.Notice{Level: "info", Message: "Kruck shields you"}, targetFake.RecordedNotices()[0])

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, otherFake.RecordedNotices())
}

func TestDialogFilter(t *testing.T) {
	mr := miniredis.RunT(t)

	playerFake, playerSvc := newClient(t, mr, &host.User{ID: "player-1"})
	addWorld(playerFake)

	listen(t, playerSvc)

	bus := events.NewBus(nil)
	relay.Subscribe(bus, playerSvc)

	// a foreign request stages disadvantage for pc-1
	gmFake, gmSvc := newClient(t, mr, &host.User{ID: "gm-1", GM: true})
	addWorld(gmFake)
	require.NoError(t, gmSvc.RequestRolls(context.Background(), &relay.RollRequest{
		ActorIDs: []string{"pc-1"},
		Category: host.CategorySkill,
		TraitID:  "ste",
		Mode:     host.ModeDisadvantage,
	}))
	require.Eventually(t, func() bool {
		return len(playerFake.RecordedRollRequests()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dialog := &host.Dialog{
		Kind:    "roll-configuration",
		ActorID: "pc-1",
		Buttons: []*host.DialogButton{
			{Action: "advantage", Label: "Advantage"},
			{Action: "normal", Label: "Normal"},
			{Action: "disadvantage", Label: "Disadvantage"},
		},
	}
	bus.Emit(context.Background(), events.DialogRendered{Dialog: dialog})

	assert.True(t, dialog.Buttons[0].Hidden)
	assert.True(t, dialog.Buttons[1].Hidden)
	assert.False(t, dialog.Buttons[2].Hidden)
	assert.Equal(t, "Roll", dialog.Buttons[2].Label)

	// the staged mode is consumed; the next dialog is untouched
	fresh := &host.Dialog{Kind: "roll-configuration", ActorID: "pc-1", Buttons: []*host.DialogButton{
		{Action: "advantage", Label: "Advantage"},
	}}
	bus.Emit(context.Background(), events.DialogRendered{Dialog: fresh})
	assert.False(t, fresh.Buttons[0].Hidden)
}
