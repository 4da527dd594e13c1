package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
)

func TestBus_EmitInPriorityOrder(t *testing.T) {
	bus := events.NewBus(nil)

	var order []string
	handler := func(name string, prio int) events.HandlerFunc {
		return events.HandlerFunc{
			Name: name,
			Prio: prio,
			Fn: func(ctx context.Context, event events.Event) error {
				order = append(order, name)
				return nil
			},
		}
	}

	bus.Subscribe(events.EventActorUpdated, handler("late", 200))
	bus.Subscribe(events.EventActorUpdated, handler("early", 100))
	bus.Subscribe(events.EventCombatStarted, handler("other", 0))

	bus.Emit(context.Background(), events.ActorUpdated{Actor: &host.Actor{ID: "a1"}})

	assert.Equal(t, []string{"early", "late"}, order)
}

func TestBus_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := events.NewBus(nil)

	var reached bool
	bus.Subscribe(events.EventActorUpdated, events.HandlerFunc{
		Name: "failing",
		Prio: 0,
		Fn: func(ctx context.Context, event events.Event) error {
			return errors.New("boom")
		},
	})
	bus.Subscribe(events.EventActorUpdated, events.HandlerFunc{
		Name: "after",
		Prio: 10,
		Fn: func(ctx context.Context, event events.Event) error {
			reached = true
			return nil
		},
	})

	bus.Emit(context.Background(), events.ActorUpdated{Actor: &host.Actor{ID: "a1"}})

	assert.True(t, reached, "handler after a failing one must still run")
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus(nil)

	var calls int
	bus.Subscribe(events.EventMessageDeleted, events.HandlerFunc{
		Name: "counter",
		Fn: func(ctx context.Context, event events.Event) error {
			calls++
			return nil
		},
	})

	bus.Emit(context.Background(), events.MessageDeleted{MessageID: "m1"})
	bus.Unsubscribe(events.EventMessageDeleted, "counter")
	bus.Emit(context.Background(), events.MessageDeleted{MessageID: "m1"})

	assert.Equal(t, 1, calls)
}
