// Package idempotency replays the response of a write request retried with
// the same Idempotency-Key, so a consultation is never run twice.
package idempotency

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"net/http"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
)

// Record is what a key holds: a reservation while the first request runs,
// then the captured response.
type Record struct {
	State       State       `json:"state"`
	Method      string      `json:"method"`
	Path        string      `json:"path"`
	RequestHash string      `json:"request_hash"`
	StatusCode  int         `json:"status_code,omitempty"`
	Headers     http.Header `json:"headers,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Reserve claims key for a new request. When the key is already taken it
	// returns false and the record that holds it.
	Reserve(ctx context.Context, key string, rec *Record, ttl time.Duration) (bool, *Record, error)
	// Complete replaces the reservation with the captured response.
	Complete(ctx context.Context, key string, rec *Record, ttl time.Duration) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}
