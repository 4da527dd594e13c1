package rolldata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/services/rolldata"
)

func TestAugment(t *testing.T) {
	svc := rolldata.NewService(nil)

	t.Run("no recorded slot adds nothing", func(t *testing.T) {
		out := svc.Augment(map[string]float64{"str": 3}, "pc-1")
		assert.Equal(t, map[string]float64{"str": 3}, out)
	})

	t.Run("recorded slot adds its flag", func(t *testing.T) {
		svc.SetActionType("pc-1", rolldata.ActionTypeBonus)

		out := svc.Augment(map[string]float64{"str": 3}, "pc-1")
		assert.Equal(t, map[string]float64{"str": 3, "is_bonus_action": 1}, out)
	})

	t.Run("base map is not mutated", func(t *testing.T) {
		svc.SetActionType("pc-2", rolldata.ActionTypeReaction)
		base := map[string]float64{}

		_ = svc.Augment(base, "pc-2")
		assert.Empty(t, base)
	})

	t.Run("forget clears the slot", func(t *testing.T) {
		svc.SetActionType("pc-3", rolldata.ActionTypeAction)
		svc.Forget("pc-3")

		_, ok := svc.ActionType("pc-3")
		assert.False(t, ok)
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	svc := rolldata.NewService(nil)
	bus := events.NewBus(nil)
	rolldata.Subscribe(bus, svc)

	bus.Emit(ctx, events.DialogRendered{Dialog: &host.Dialog{
		Kind:        "roll-configuration",
		ItemActorID: "pc-1",
		ActionType:  rolldata.ActionTypeAction,
	}})

	slot, ok := svc.ActionType("pc-1")
	assert.True(t, ok)
	assert.Equal(t, rolldata.ActionTypeAction, slot)

	// a dialog without an action type leaves the table alone
	bus.Emit(ctx, events.DialogRendered{Dialog: &host.Dialog{
		Kind:    "roll-configuration",
		ActorID: "pc-1",
	}})
	slot, _ = svc.ActionType("pc-1")
	assert.Equal(t, rolldata.ActionTypeAction, slot)

	bus.Emit(ctx, events.ActorUnloaded{ActorID: "pc-1"})
	_, ok = svc.ActionType("pc-1")
	assert.False(t, ok)
}

func TestSubscribe_RollDataRequested(t *testing.T) {
	ctx := context.Background()
	svc := rolldata.NewService(nil)
	bus := events.NewBus(nil)
	rolldata.Subscribe(bus, svc)

	svc.SetActionType("pc-1", rolldata.ActionTypeReaction)

	data := map[string]float64{"str": 3}
	bus.Emit(ctx, events.RollDataRequested{ActorID: "pc-1", Data: data})
	assert.Equal(t, map[string]float64{"str": 3, "is_reaction": 1}, data,
		"the recorded slot lands in the host's roll data")

	// an actor without a recorded slot passes through untouched
	other := map[string]float64{"dex": 2}
	bus.Emit(ctx, events.RollDataRequested{ActorID: "pc-2", Data: other})
	assert.Equal(t, map[string]float64{"dex": 2}, other)
}
