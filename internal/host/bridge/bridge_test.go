package bridge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/host/bridge"
)

// wireFrame mirrors the socket frame shape for the test host
type wireFrame struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// testHost is a scripted host on the other end of the socket
type testHost struct {
	t       *testing.T
	server  *httptest.Server
	conns   chan *websocket.Conn
	conn    *websocket.Conn
	replies chan wireFrame // replies to calls the host initiated
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()

	h := &testHost{
		t:       t,
		conns:   make(chan *websocket.Conn, 1),
		replies: make(chan wireFrame, 4),
	}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.conns <- conn
	}))
	t.Cleanup(h.server.Close)
	return h
}

// accept waits for the companion to dial and sends the ready frame
func (h *testHost) accept(user *host.User) {
	h.t.Helper()

	select {
	case h.conn = <-h.conns:
	case <-time.After(2 * time.Second):
		h.t.Fatal("companion never connected")
	}

	payload, err := json.Marshal(user)
	require.NoError(h.t, err)
	require.NoError(h.t, h.conn.WriteJSON(wireFrame{Kind: "ready", Payload: payload}))
}

// serve answers companion calls with canned documents until the socket
// closes
func (h *testHost) serve(actors map[string]*host.Actor) {
	go func() {
		for {
			var f wireFrame
			if err := h.conn.ReadJSON(&f); err != nil {
				return
			}

			switch f.Kind {
			case "reply":
				h.replies <- f
			case "call":
				h.answer(f, actors)
			}
		}
	}()
}

func (h *testHost) answer(f wireFrame, actors map[string]*host.Actor) {
	switch f.Method {
	case "actors.get":
		var params struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(f.Payload, &params)
		actor, ok := actors[params.ID]
		if !ok {
			_ = h.conn.WriteJSON(wireFrame{Kind: "reply", ID: f.ID, Error: &wireError{
				Code: "not_found", Message: "no such actor",
			}})
			return
		}
		payload, _ := json.Marshal(actor)
		_ = h.conn.WriteJSON(wireFrame{Kind: "reply", ID: f.ID, Payload: payload})
	default:
		_ = h.conn.WriteJSON(wireFrame{Kind: "reply", ID: f.ID})
	}
}

func (h *testHost) push(f wireFrame) {
	require.NoError(h.t, h.conn.WriteJSON(f))
}

func TestSessionRoundTrip(t *testing.T) {
	h := newTestHost(t)

	bus := events.NewBus(nil)
	received := make(chan events.Event, 4)
	bus.Subscribe(events.EventActorUpdated, events.HandlerFunc{
		Name: "test.capture",
		Fn: func(ctx context.Context, event events.Event) error {
			received <- event
			return nil
		},
	})

	session := bridge.New(&bridge.Config{
		URL: h.server.URL,
		Bus: bus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialDone := make(chan error, 1)
	go func() { dialDone <- session.Dial(ctx) }()
	h.accept(&host.User{ID: "user-1", Name: "Alice", GM: true})
	require.NoError(t, <-dialDone)

	h.serve(map[string]*host.Actor{
		"pc-1": {ID: "pc-1", Name: "Shalla", Kind: host.KindCharacter},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	t.Run("identity comes from the ready frame", func(t *testing.T) {
		current := session.Users().Current()
		require.NotNil(t, current)
		assert.Equal(t, "user-1", current.ID)
		assert.True(t, current.GM)
	})

	t.Run("calls resolve against the host", func(t *testing.T) {
		actor, err := session.Actors().Get(ctx, "pc-1")
		require.NoError(t, err)
		assert.Equal(t, "Shalla", actor.Name)
	})

	t.Run("host errors keep their code", func(t *testing.T) {
		_, err := session.Actors().Get(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("events reach the bus", func(t *testing.T) {
		payload, err := json.Marshal(map[string]any{
			"actor":        &host.Actor{ID: "pc-1", HP: host.HitPoints{Value: 0}},
			"changed":      []string{"hp.value"},
			"authorUserId": "user-1",
		})
		require.NoError(t, err)
		h.push(wireFrame{Kind: "event", Event: "actorUpdated", Payload: payload})

		select {
		case ev := <-received:
			updated, ok := ev.(events.ActorUpdated)
			require.True(t, ok)
			assert.Equal(t, "pc-1", updated.Actor.ID)
			assert.Equal(t, "user-1", updated.AuthorUserID)
		case <-time.After(2 * time.Second):
			t.Fatal("event never arrived")
		}
	})

	t.Run("roll data hook folds in handler entries", func(t *testing.T) {
		bus.Subscribe(events.EventRollDataRequested, events.HandlerFunc{
			Name: "test.rolldata",
			Fn: func(ctx context.Context, event events.Event) error {
				req := event.(events.RollDataRequested)
				req.Data["is_bonus_action"] = 1
				return nil
			},
		})

		payload, err := json.Marshal(map[string]any{
			"actorId": "pc-1",
			"data":    map[string]float64{"str": 3},
		})
		require.NoError(t, err)
		h.push(wireFrame{Kind: "call", ID: "hook-2", Method: "hooks.rollData", Payload: payload})

		select {
		case reply := <-h.replies:
			assert.Equal(t, "hook-2", reply.ID)
			var out struct {
				Data map[string]float64 `json:"data"`
			}
			require.NoError(t, json.Unmarshal(reply.Payload, &out))
			assert.Equal(t, map[string]float64{"str": 3, "is_bonus_action": 1}, out.Data)
		case <-time.After(2 * time.Second):
			t.Fatal("roll data reply never arrived")
		}
	})

	t.Run("host hooks are answered with the mutated payload", func(t *testing.T) {
		bus.Subscribe(events.EventPreRoll, events.HandlerFunc{
			Name: "test.preroll",
			Fn: func(ctx context.Context, event events.Event) error {
				pre := event.(events.PreRoll)
				pre.Config.CreateMessage = false
				if pre.Config.Options == nil {
					pre.Config.Options = make(map[string]string)
				}
				pre.Config.Options["originatingMessageId"] = "card-1"
				return nil
			},
		})

		payload, err := json.Marshal(&host.RollConfig{Kind: host.RollAttack, CreateMessage: true})
		require.NoError(t, err)
		h.push(wireFrame{Kind: "call", ID: "hook-1", Method: "hooks.preRoll", Payload: payload})

		select {
		case reply := <-h.replies:
			assert.Equal(t, "hook-1", reply.ID)
			var cfg host.RollConfig
			require.NoError(t, json.Unmarshal(reply.Payload, &cfg))
			assert.False(t, cfg.CreateMessage)
			assert.Equal(t, "card-1", cfg.Options["originatingMessageId"])
		case <-time.After(2 * time.Second):
			t.Fatal("hook reply never arrived")
		}
	})

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestRunStopsWhenHostCloses(t *testing.T) {
	h := newTestHost(t)
	session := bridge.New(&bridge.Config{
		URL: h.server.URL,
		Bus: events.NewBus(nil),
	})

	ctx := context.Background()
	dialDone := make(chan error, 1)
	go func() { dialDone <- session.Dial(ctx) }()
	h.accept(&host.User{ID: "user-1"})
	require.NoError(t, <-dialDone)

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	require.NoError(t, h.conn.Close())

	select {
	case err := <-runDone:
		assert.Equal(t, apperrors.CodeUnavailable, apperrors.GetCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop after the host hung up")
	}
}

// Handlers routinely issue host calls while reacting to a host event,
// the way the status service toggles a status from an actor update.
// Those calls must resolve while the event is still being dispatched.
func TestHandlerCallsBackIntoHost(t *testing.T) {
	h := newTestHost(t)
	bus := events.NewBus(nil)

	session := bridge.New(&bridge.Config{
		URL:         h.server.URL,
		Bus:         bus,
		CallTimeout: 2 * time.Second,
	})

	fetched := make(chan *host.Actor, 1)
	callErrs := make(chan error, 1)
	bus.Subscribe(events.EventActorUpdated, events.HandlerFunc{
		Name: "test.callback",
		Fn: func(ctx context.Context, event events.Event) error {
			actor, err := session.Actors().Get(ctx, "pc-1")
			if err != nil {
				callErrs <- err
				return err
			}
			fetched <- actor
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialDone := make(chan error, 1)
	go func() { dialDone <- session.Dial(ctx) }()
	h.accept(&host.User{ID: "user-1"})
	require.NoError(t, <-dialDone)

	h.serve(map[string]*host.Actor{
		"pc-1": {ID: "pc-1", Name: "Shalla", Kind: host.KindCharacter},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	payload, err := json.Marshal(map[string]any{
		"actor":        &host.Actor{ID: "pc-1"},
		"changed":      []string{"hp.value"},
		"authorUserId": "user-1",
	})
	require.NoError(t, err)
	h.push(wireFrame{Kind: "event", Event: "actorUpdated", Payload: payload})

	select {
	case actor := <-fetched:
		assert.Equal(t, "Shalla", actor.Name)
	case err := <-callErrs:
		t.Fatalf("host call from handler failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("handler call never resolved")
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}
