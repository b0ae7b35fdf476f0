package wsvenue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jiaming2012/broker-bridge/src/broker"
)

const (
	OpLogin     = "login"
	OpSubscribe = "subscribe"
	OpPlace     = "place"
	OpCancel    = "cancel"
	OpAmend     = "amend"
	OpAccount   = "account"
)

// Request is sent by the client; the venue answers with a Frame carrying the same ID.
type Request struct {
	ID   string      `json:"id"`
	Op   string      `json:"op"`
	Args interface{} `json:"args,omitempty"`
}

// Frame is either a response (ID set) or a push on a channel.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorDTO       `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type ErrorDTO struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
}

// Err maps a venue error into the broker error taxonomy.
func (e *ErrorDTO) Err(op string) error {
	err := fmt.Errorf("%s: %s (%s)", op, e.Msg, e.Code)

	switch e.Status {
	case http.StatusUnauthorized:
		return broker.NewAuthenticationError(err)
	case http.StatusForbidden:
		return broker.NewTransientSessionError(err, true)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &broker.VenueRejection{Code: e.Code, Reason: e.Msg}
	}

	return broker.NewTransientSessionError(err, false)
}

type LoginArgs struct {
	APIKey    string `json:"api_key"`
	AccountID string `json:"account_id"`
	Token     string `json:"token,omitempty"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

type PlaceResult struct {
	VenueID string `json:"venue_id"`
}

type CancelArgs struct {
	VenueID string `json:"venue_id"`
}

type AmendArgs struct {
	VenueID  string   `json:"venue_id"`
	SLOffset *float64 `json:"sl_offset,omitempty"`
	TPOffset *float64 `json:"tp_offset,omitempty"`
}

// Sign returns the hex HMAC-SHA256 of timestamp and key under secret.
func Sign(secret, timestamp, apiKey string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + apiKey))
	return hex.EncodeToString(h.Sum(nil))
}
