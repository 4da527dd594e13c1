// Package bridge is the companion's wire to the host application: one
// websocket session carrying host lifecycle events inbound and document
// operations outbound as correlated request/reply calls. Hooks the host
// wants answered (pre-roll, dialog render) arrive as calls from the
// other side and are replied to with the possibly-mutated payload.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vttkit/companion/internal/errors"
	"github.com/vttkit/companion/internal/events"
	"github.com/vttkit/companion/internal/host"
	"github.com/vttkit/companion/internal/uuid"
)

const (
	kindReady = "ready"
	kindEvent = "event"
	kindCall  = "call"
	kindReply = "reply"
	kindCast  = "cast"
)

const defaultCallTimeout = 15 * time.Second

type frame struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config holds configuration for the session
type Config struct {
	// URL is the host's socket endpoint; http(s) schemes are rewritten
	URL string

	// Token authenticates the companion to the host
	Token string

	// Bus receives the decoded lifecycle events
	Bus *events.Bus

	// CallTimeout bounds non-interactive calls; interactive prompts are
	// bounded only by their context
	CallTimeout time.Duration

	UUIDGenerator uuid.Generator
	Logger        *slog.Logger
}

// Session is a connected host bridge
type Session struct {
	url     string
	token   string
	bus     *events.Bus
	uuids   uuid.Generator
	timeout time.Duration
	log     *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan frame
	identity *host.User
}

// New creates an unconnected session
func New(cfg *Config) *Session {
	if cfg.URL == "" {
		panic("url is required")
	}
	if cfg.Bus == nil {
		panic("bus is required")
	}

	s := &Session{
		url:     cfg.URL,
		token:   cfg.Token,
		bus:     cfg.Bus,
		uuids:   cfg.UUIDGenerator,
		timeout: cfg.CallTimeout,
		log:     cfg.Logger,
		pending: make(map[string]chan frame),
	}
	if s.uuids == nil {
		s.uuids = uuid.NewGoogleUUIDGenerator()
	}
	if s.timeout <= 0 {
		s.timeout = defaultCallTimeout
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Dial connects and waits for the host's ready frame, which carries the
// locally authenticated user.
func (s *Session) Dial(ctx context.Context) error {
	wsURL, err := socketURL(s.url)
	if err != nil {
		return errors.Wrap(err, "invalid host url")
	}

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to dial host")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	var ready frame
	if err := conn.ReadJSON(&ready); err != nil {
		_ = conn.Close()
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to read ready frame")
	}
	if ready.Kind != kindReady {
		_ = conn.Close()
		return errors.Internalf("expected ready frame, got %q", ready.Kind)
	}

	var identity host.User
	if err := json.Unmarshal(ready.Payload, &identity); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "failed to decode host identity")
	}

	s.mu.Lock()
	s.conn = conn
	s.identity = &identity
	s.mu.Unlock()

	s.log.Info("bridge: connected", "user", identity.ID, "gm", identity.GM)
	return nil
}

// Run consumes the socket until it closes or ctx is cancelled. Reading
// and dispatch are decoupled: event and host-call frames run through a
// separate dispatch goroutine, in arrival order, so a handler can call
// back into the host while this loop keeps routing reply frames.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New(errors.CodeUnavailable, "session is not connected")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	queue := newFrameQueue()
	defer queue.close()
	go s.dispatch(ctx, queue)

	readTimeout := 60 * time.Second
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			s.failPending(err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.WrapWithCode(err, errors.CodeUnavailable, "host connection lost")
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch f.Kind {
		case kindReply:
			s.routeReply(f)
		case kindEvent, kindCall:
			queue.push(f)
		default:
			s.log.Debug("bridge: ignoring frame", "kind", f.Kind)
		}
	}
}

// dispatch drains queued frames one at a time, preserving arrival order
func (s *Session) dispatch(ctx context.Context, q *frameQueue) {
	for {
		f, ok := q.pop()
		if !ok {
			return
		}
		switch f.Kind {
		case kindEvent:
			s.emitEvent(ctx, f)
		case kindCall:
			s.answerHostCall(ctx, f)
		}
	}
}

// frameQueue is an unbounded FIFO between the read loop and the
// dispatcher. The read loop must never block on a slow handler, or the
// handler's own calls could not get their replies.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []frame
	closed bool
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *frameQueue) push(f frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.frames = append(q.frames, f)
	q.cond.Signal()
}

// pop blocks until a frame is available; ok=false once the queue is
// closed and drained.
func (q *frameQueue) pop() (frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (s *Session) routeReply(f frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.ID]
	if ok {
		delete(s.pending, f.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("bridge: reply for unknown call", "id", f.ID)
		return
	}
	ch <- f
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.pending {
		ch <- frame{Kind: kindReply, ID: id, Error: &frameError{
			Code:    string(errors.CodeUnavailable),
			Message: err.Error(),
		}}
		delete(s.pending, id)
	}
}

// call sends a request frame and waits for its reply. A zero timeout
// leaves the call bounded by ctx alone.
func (s *Session) call(ctx context.Context, method string, params any, out any, timeout time.Duration) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal params")
	}

	id := s.uuids.New()
	ch := make(chan frame, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.write(frame{Kind: kindCall, ID: id, Method: method, Payload: raw}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "host call abandoned")
	case reply := <-ch:
		if reply.Error != nil {
			return errors.New(errors.Code(reply.Error.Code), reply.Error.Message)
		}
		if out == nil || len(reply.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Payload, out); err != nil {
			return errors.Wrapf(err, "failed to decode %s reply", method)
		}
		return nil
	}
}

// cast sends a frame without expecting a reply
func (s *Session) cast(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		s.log.Warn("bridge: failed to marshal cast", "method", method, "error", err)
		return
	}
	if err := s.write(frame{Kind: kindCast, Method: method, Payload: raw}); err != nil {
		s.log.Warn("bridge: cast failed", "method", method, "error", err)
	}
}

func (s *Session) write(f frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New(errors.CodeUnavailable, "session is not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to write to host")
	}
	return nil
}

func (s *Session) reply(id string, payload any, callErr error) {
	out := frame{Kind: kindReply, ID: id}
	if callErr != nil {
		out.Error = &frameError{Code: string(errors.GetCode(callErr)), Message: callErr.Error()}
	} else if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			out.Error = &frameError{Code: string(errors.CodeInternal), Message: err.Error()}
		} else {
			out.Payload = raw
		}
	}
	if err := s.write(out); err != nil {
		s.log.Warn("bridge: reply failed", "id", id, "error", err)
	}
}

func socketURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.InvalidArgumentf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
