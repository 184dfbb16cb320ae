package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job handles one message type.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type QueueConfig struct {
	Workers    int
	RetryLimit int           // attempts after the first before the message is dead-lettered
	RetryDelay time.Duration // delay before each retry
	DLQLimit   int           // newest dead letters kept; 0 keeps 1000
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix; the message goes straight to the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Decode unmarshals a payload into T. Decode failures are permanent.
func Decode[T any](payload json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, Permanent(fmt.Errorf("decode %T payload: %w", v, err))
	}
	return &v, nil
}
