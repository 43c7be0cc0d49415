package driven

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// RelayError is a rejection or transport failure from one relay.
type RelayError struct {
	Relay string
	Err   error
}

// PublishOutcome is the result of publishing one event to a relay set.
type PublishOutcome struct {
	// OK is true when at least one relay accepted the event.
	OK         bool
	AcceptedBy []string
	Errors     []RelayError
}

// RelayPublisher sends signed events to relays.
// Transport, connection pooling and relay protocol framing live behind it.
type RelayPublisher interface {
	Publish(ctx context.Context, event domain.Event, relays []string) PublishOutcome
}

// EventStream is a lazy sequence of events. It may be unbounded.
type EventStream interface {
	// Next returns the next event. ok is false once the stream is exhausted.
	Next(ctx context.Context) (event domain.Event, ok bool, err error)

	// Close releases the subscription.
	Close() error
}

// RelayQuerier subscribes to events matching any of the filters.
// Calling Query again with the same arguments restarts the sequence.
type RelayQuerier interface {
	Query(ctx context.Context, filters []domain.Filter, relays []string) (EventStream, error)
}

// Signer signs events with the active identity.
type Signer interface {
	// PublicKey returns the active author key, or domain.ErrNoSignerAvailable.
	PublicKey(ctx context.Context) (string, error)

	// Sign assigns author, id and signature.
	// Returns domain.ErrNoSignerAvailable when no identity is active.
	Sign(ctx context.Context, event domain.UnsignedEvent) (domain.Event, error)
}
