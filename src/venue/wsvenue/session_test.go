package wsvenue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/pushadapter"
)

type venueRequest struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

// fakeVenue answers every request with the result its handler returns.
type fakeVenue struct {
	server   *httptest.Server
	handle   func(req venueRequest) (interface{}, *ErrorDTO)
	mu       sync.Mutex
	conn     *websocket.Conn
	requests []venueRequest
	ready    chan struct{}
}

func newFakeVenue(t *testing.T, handle func(req venueRequest) (interface{}, *ErrorDTO)) *fakeVenue {
	v := &fakeVenue{handle: handle, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}

	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		v.mu.Lock()
		v.conn = conn
		v.mu.Unlock()
		close(v.ready)

		for {
			var req venueRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			v.mu.Lock()
			v.requests = append(v.requests, req)
			v.mu.Unlock()

			result, venueErr := v.handle(req)
			frame := Frame{ID: req.ID, Error: venueErr}
			if result != nil {
				frame.Result, _ = json.Marshal(result)
			}

			v.write(frame)
		}
	}))
	t.Cleanup(v.server.Close)

	return v
}

func (v *fakeVenue) url() string {
	return "ws" + strings.TrimPrefix(v.server.URL, "http")
}

func (v *fakeVenue) write(frame Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conn.WriteJSON(frame)
}

func (v *fakeVenue) push(channel string, data interface{}) {
	raw, _ := json.Marshal(data)
	v.write(Frame{Channel: channel, Data: raw})
}

func (v *fakeVenue) drop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conn.Close()
}

func (v *fakeVenue) received(op string) []venueRequest {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []venueRequest
	for _, req := range v.requests {
		if req.Op == op {
			out = append(out, req)
		}
	}

	return out
}

func accept(req venueRequest) (interface{}, *ErrorDTO) {
	switch req.Op {
	case OpPlace:
		return PlaceResult{VenueID: "V-1"}, nil
	case OpAccount:
		return pushadapter.AccountState{AccountID: "acc-1", Currency: "USD", Balance: 1000}, nil
	}

	return map[string]bool{"ok": true}, nil
}

var testCreds = broker.Credentials{AccountID: "acc-1", APIKey: "key", APISecret: "secret"}

func login(t *testing.T, v *fakeVenue) *Session {
	connector := &Connector{
		URL:            v.url(),
		RequestTimeout: time.Second,
		Now:            func() time.Time { return time.Unix(1700000000, 0) },
	}

	session, err := connector.Login(context.Background(), testCreds)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session.(*Session)
}

func TestLogin(t *testing.T) {
	t.Run("signs the login request", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)

		// act
		login(t, venue)

		// assert
		logins := venue.received(OpLogin)
		require.Len(t, logins, 1)
		var args LoginArgs
		require.NoError(t, json.Unmarshal(logins[0].Args, &args))
		assert.Equal(t, "1700000000", args.Timestamp)
		assert.Equal(t, Sign("secret", "1700000000", "key"), args.Signature)
		assert.Equal(t, "acc-1", args.AccountID)
	})

	t.Run("rejected credentials are an authentication error", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, func(req venueRequest) (interface{}, *ErrorDTO) {
			return nil, &ErrorDTO{Status: http.StatusUnauthorized, Code: "BAD_KEY", Msg: "invalid api key"}
		})
		connector := &Connector{URL: venue.url(), RequestTimeout: time.Second}

		// act
		_, err := connector.Login(context.Background(), testCreds)

		// assert
		require.Error(t, err)
		assert.True(t, broker.IsAuthentication(err))
	})

	t.Run("unreachable venue is transient", func(t *testing.T) {
		// arrange
		connector := &Connector{URL: "ws://127.0.0.1:1", RequestTimeout: time.Second}

		// act
		_, err := connector.Login(context.Background(), testCreds)

		// assert
		require.Error(t, err)
		assert.True(t, broker.IsTransient(err))
	})
}

func TestRequests(t *testing.T) {
	t.Run("place returns the venue id", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)
		req := pushadapter.OrderRequest{ClientID: "c-1", Symbol: "EURUSD", Side: "Buy", Type: "MKT", Quantity: 1000}

		// act
		id, err := session.PlaceMarketOrder(context.Background(), req)

		// assert
		require.NoError(t, err)
		assert.Equal(t, "V-1", id)
		placed := venue.received(OpPlace)
		require.Len(t, placed, 1)
		var got pushadapter.OrderRequest
		require.NoError(t, json.Unmarshal(placed[0].Args, &got))
		assert.Equal(t, req, got)
	})

	t.Run("subscribe sends the stream spec", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)

		// act
		err := session.Subscribe(context.Background(), pushadapter.StreamSpec{Kind: pushadapter.StreamOrderBook, Symbol: "EURUSD"})

		// assert
		require.NoError(t, err)
		subs := venue.received(OpSubscribe)
		require.Len(t, subs, 1)
		assert.JSONEq(t, `{"kind":"orderbook","symbol":"EURUSD"}`, string(subs[0].Args))
	})

	t.Run("account state is decoded", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)

		// act
		state, err := session.GetAccountState(context.Background())

		// assert
		require.NoError(t, err)
		assert.Equal(t, "USD", state.Currency)
		assert.Equal(t, 1000.0, state.Balance)
	})

	t.Run("venue errors are classified", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, func(req venueRequest) (interface{}, *ErrorDTO) {
			switch req.Op {
			case OpPlace:
				return nil, &ErrorDTO{Status: http.StatusBadRequest, Code: "INSUFFICIENT_MARGIN", Msg: "no margin"}
			case OpCancel:
				return nil, &ErrorDTO{Status: http.StatusForbidden, Code: "SESSION_EXPIRED", Msg: "expired"}
			}
			return accept(req)
		})
		session := login(t, venue)

		// act
		_, placeErr := session.PlaceLimitOrder(context.Background(), pushadapter.OrderRequest{Symbol: "EURUSD"})
		cancelErr := session.CancelOrder(context.Background(), "V-9")

		// assert
		var rejection *broker.VenueRejection
		require.ErrorAs(t, placeErr, &rejection)
		assert.Equal(t, "INSUFFICIENT_MARGIN", rejection.Code)
		assert.True(t, broker.IsForbidden(cancelErr))
	})

	t.Run("requests after close fail", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)
		require.NoError(t, session.Close())

		// act
		err := session.CancelOrder(context.Background(), "V-1")

		// assert
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestPushes(t *testing.T) {
	t.Run("order pushes reach listeners", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)
		got := make(chan pushadapter.OrderUpdate, 1)
		session.Events().On(pushadapter.EventOrderChanged, func(payload ...interface{}) {
			got <- payload[0].(pushadapter.OrderUpdate)
		})

		// act
		venue.push("order", pushadapter.OrderUpdate{ClientID: "c-1", VenueID: "V-1", Status: "FILLED", FilledQuantity: 1000})

		// assert
		select {
		case update := <-got:
			assert.Equal(t, "V-1", update.VenueID)
			assert.Equal(t, 1000.0, update.FilledQuantity)
		case <-time.After(time.Second):
			t.Fatal("order push not delivered")
		}
	})

	t.Run("unknown channels are ignored", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)
		quotes := make(chan pushadapter.Quote, 2)
		session.Events().On(pushadapter.EventQuote, func(payload ...interface{}) {
			quotes <- payload[0].(pushadapter.Quote)
		})

		// act
		venue.push("heartbeat", map[string]int{"seq": 1})
		venue.push("orderbook", pushadapter.Quote{Symbol: "EURUSD", Bid: 1.1, Ask: 1.2})

		// assert
		select {
		case quote := <-quotes:
			assert.Equal(t, "EURUSD", quote.Symbol)
		case <-time.After(time.Second):
			t.Fatal("quote not delivered")
		}
	})

	t.Run("dropped connection emits disconnected", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)
		disconnected := make(chan struct{}, 1)
		session.Events().On(pushadapter.EventDisconnected, func(payload ...interface{}) {
			disconnected <- struct{}{}
		})

		// act
		venue.drop()

		// assert
		select {
		case <-disconnected:
		case <-time.After(time.Second):
			t.Fatal("disconnect not emitted")
		}
	})

	t.Run("close does not emit disconnected", func(t *testing.T) {
		// arrange
		venue := newFakeVenue(t, accept)
		session := login(t, venue)
		disconnected := false
		session.Events().On(pushadapter.EventDisconnected, func(payload ...interface{}) {
			disconnected = true
		})

		// act
		err := session.Close()

		// assert
		assert.NoError(t, err)
		assert.False(t, disconnected)
	})
}
