package wsvenue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/go-events"
	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/pushadapter"
)

const DefaultRequestTimeout = 10 * time.Second

var ErrSessionClosed = errors.New("session closed")

var channelEvents = map[string]events.EventName{
	"order":     pushadapter.EventOrderChanged,
	"execution": pushadapter.EventExecuted,
	"position":  pushadapter.EventPositionChanged,
	"account":   pushadapter.EventAccountStateUpdated,
	"orderbook": pushadapter.EventQuote,
}

type response struct {
	result json.RawMessage
	err    *ErrorDTO
}

// Session is one websocket connection. Pushes are emitted from the read loop,
// so listeners must not wait on requests to the same session.
type Session struct {
	conn           *websocket.Conn
	emitter        events.EventEmmiter
	requestTimeout time.Duration
	writeMu        sync.Mutex
	mu             sync.Mutex
	pending        map[string]chan response
	closing        bool
	closeOnce      sync.Once
	done           chan struct{}
}

func (s *Session) Events() events.EventEmmiter {
	return s.emitter
}

func (s *Session) call(ctx context.Context, op string, args interface{}, out interface{}) error {
	id := uuid.New().String()
	ch := make(chan response, 1)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return broker.NewTransientSessionError(fmt.Errorf("%s: %w", op, ErrSessionClosed), false)
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(Request{ID: id, Op: op, Args: args})
	s.writeMu.Unlock()
	if err != nil {
		return broker.NewTransientSessionError(fmt.Errorf("%s: failed to write request: %w", op, err), false)
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err.Err(op)
		}

		if out != nil && len(resp.result) > 0 {
			if err := json.Unmarshal(resp.result, out); err != nil {
				return fmt.Errorf("%s: failed to parse result: %w", op, err)
			}
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return broker.NewTransientSessionError(fmt.Errorf("%s: no response after %s", op, s.requestTimeout), false)
	case <-s.done:
		return broker.NewTransientSessionError(fmt.Errorf("%s: %w", op, ErrSessionClosed), false)
	}
}

func (s *Session) readLoop() {
	defer close(s.done)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Errorf("wsvenue: failed to unmarshal frame: %v", err)
			continue
		}

		if frame.ID != "" {
			s.deliver(frame)
			continue
		}

		s.push(frame)
	}
}

func (s *Session) deliver(frame Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.ID]
	s.mu.Unlock()

	if !ok {
		log.Debugf("wsvenue: response %s has no pending request", frame.ID)
		return
	}

	resp := response{result: frame.Result, err: frame.Error}
	select {
	case ch <- resp:
	default:
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func (s *Session) push(frame Frame) {
	name, ok := channelEvents[frame.Channel]
	if !ok {
		log.Debugf("wsvenue: ignoring push on channel %q", frame.Channel)
		return
	}

	var payload interface{}
	var err error
	switch name {
	case pushadapter.EventOrderChanged:
		payload, err = decode[pushadapter.OrderUpdate](frame.Data)
	case pushadapter.EventExecuted:
		payload, err = decode[pushadapter.Execution](frame.Data)
	case pushadapter.EventPositionChanged:
		payload, err = decode[pushadapter.PositionUpdate](frame.Data)
	case pushadapter.EventAccountStateUpdated:
		payload, err = decode[pushadapter.AccountState](frame.Data)
	case pushadapter.EventQuote:
		payload, err = decode[pushadapter.Quote](frame.Data)
	}

	if err != nil {
		log.Errorf("wsvenue: failed to decode %s push: %v", frame.Channel, err)
		return
	}

	s.emitter.Emit(name, payload)
}

// fail ends every pending request. Unless Close started it, listeners are told
// the session is gone.
func (s *Session) fail(err error) {
	s.mu.Lock()
	closing := s.closing
	s.closing = true
	s.mu.Unlock()

	if closing {
		return
	}

	log.Warnf("wsvenue: connection lost: %v", err)
	s.emitter.Emit(pushadapter.EventDisconnected, pushadapter.Disconnected{Reason: err.Error()})
}

func (s *Session) Subscribe(ctx context.Context, spec pushadapter.StreamSpec) error {
	if err := s.call(ctx, OpSubscribe, spec, nil); err != nil {
		return fmt.Errorf("Session.Subscribe: %w", err)
	}

	return nil
}

func (s *Session) place(ctx context.Context, req pushadapter.OrderRequest) (string, error) {
	var result PlaceResult
	if err := s.call(ctx, OpPlace, req, &result); err != nil {
		return "", fmt.Errorf("Session.Place: %w", err)
	}

	return result.VenueID, nil
}

func (s *Session) PlaceMarketOrder(ctx context.Context, req pushadapter.OrderRequest) (string, error) {
	return s.place(ctx, req)
}

func (s *Session) PlaceLimitOrder(ctx context.Context, req pushadapter.OrderRequest) (string, error) {
	return s.place(ctx, req)
}

func (s *Session) PlaceStopOrder(ctx context.Context, req pushadapter.OrderRequest) (string, error) {
	return s.place(ctx, req)
}

func (s *Session) CancelOrder(ctx context.Context, venueID string) error {
	if err := s.call(ctx, OpCancel, CancelArgs{VenueID: venueID}, nil); err != nil {
		return fmt.Errorf("Session.CancelOrder: %w", err)
	}

	return nil
}

func (s *Session) AmendStops(ctx context.Context, venueID string, sl, tp *float64) error {
	if err := s.call(ctx, OpAmend, AmendArgs{VenueID: venueID, SLOffset: sl, TPOffset: tp}, nil); err != nil {
		return fmt.Errorf("Session.AmendStops: %w", err)
	}

	return nil
}

func (s *Session) GetAccountState(ctx context.Context) (pushadapter.AccountState, error) {
	var state pushadapter.AccountState
	if err := s.call(ctx, OpAccount, nil, &state); err != nil {
		return pushadapter.AccountState{}, fmt.Errorf("Session.GetAccountState: %w", err)
	}

	return state, nil
}

// Close is safe to call more than once and never emits Disconnected.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})

	<-s.done

	return err
}

func newSession(conn *websocket.Conn, requestTimeout time.Duration) *Session {
	s := &Session{
		conn:           conn,
		emitter:        events.New(),
		requestTimeout: requestTimeout,
		pending:        make(map[string]chan response),
		done:           make(chan struct{}),
	}

	go s.readLoop()

	return s
}

// Connector dials the venue and authenticates a new Session per Login.
type Connector struct {
	URL            string
	Dialer         *websocket.Dialer
	RequestTimeout time.Duration
	Now            func() time.Time
}

func (c *Connector) Login(ctx context.Context, creds broker.Credentials) (pushadapter.VenueSession, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	log.Infof("wsvenue: connecting to %s", c.URL)

	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, broker.NewTransientSessionError(fmt.Errorf("Connector.Login: failed to dial %s: %w", c.URL, err), false)
	}

	session := newSession(conn, timeout)

	ts := strconv.FormatInt(now().UTC().Unix(), 10)
	args := LoginArgs{
		APIKey:    creds.APIKey,
		AccountID: creds.AccountID,
		Token:     creds.Token,
		Timestamp: ts,
		Signature: Sign(creds.APISecret, ts, creds.APIKey),
	}

	if err := session.call(ctx, OpLogin, args, nil); err != nil {
		session.Close()
		return nil, fmt.Errorf("Connector.Login: %w", err)
	}

	return session, nil
}

var (
	_ pushadapter.Connector    = (*Connector)(nil)
	_ pushadapter.VenueSession = (*Session)(nil)
)
