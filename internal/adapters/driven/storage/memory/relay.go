package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure Relay implements the interfaces.
var (
	_ driven.RelayPublisher = (*Relay)(nil)
	_ driven.RelayQuerier   = (*Relay)(nil)
)

// ErrInvalidEventID is returned for events whose id is not their content hash.
var ErrInvalidEventID = errors.New("invalid: event id does not match content")

// Relay is an in-memory set of relays. Each relay URL keeps its own event
// set so partial publishes are observable.
type Relay struct {
	mu      sync.RWMutex
	events  map[string]map[string]domain.Event
	rejects map[string]error
}

// NewRelay creates an empty in-memory relay set.
func NewRelay() *Relay {
	return &Relay{
		events:  make(map[string]map[string]domain.Event),
		rejects: make(map[string]error),
	}
}

// Reject makes url refuse every publish with err. A nil err clears it.
func (r *Relay) Reject(url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.rejects, url)
		return
	}
	r.rejects[url] = err
}

// Publish stores event on every relay that accepts it.
func (r *Relay) Publish(_ context.Context, event domain.Event, relays []string) driven.PublishOutcome {
	var out driven.PublishOutcome
	valid := event.ID == domain.ComputeEventID(event.AuthorKey, domain.UnsignedEvent{
		Kind:      event.Kind,
		CreatedAt: event.CreatedAt,
		Tags:      event.Tags,
		Content:   event.Content,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, url := range relays {
		if err, ok := r.rejects[url]; ok {
			out.Errors = append(out.Errors, driven.RelayError{Relay: url, Err: err})
			continue
		}
		if !valid {
			out.Errors = append(out.Errors, driven.RelayError{Relay: url, Err: ErrInvalidEventID})
			continue
		}
		set, ok := r.events[url]
		if !ok {
			set = make(map[string]domain.Event)
			r.events[url] = set
		}
		set[event.ID] = event
		out.AcceptedBy = append(out.AcceptedBy, url)
	}
	out.OK = len(out.AcceptedBy) > 0
	return out
}

// Query returns a snapshot of matching events, newest first. An empty relay
// list queries every known relay. Each filter's Limit bounds its own matches.
func (r *Relay) Query(_ context.Context, filters []domain.Filter, relays []string) (driven.EventStream, error) {
	r.mu.RLock()
	if len(relays) == 0 {
		for url := range r.events {
			relays = append(relays, url)
		}
	}
	seen := make(map[string]bool)
	var all []domain.Event
	for _, url := range relays {
		for id, e := range r.events[url] {
			if !seen[id] {
				seen[id] = true
				all = append(all, e)
			}
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b domain.Event) int {
		if a.CreatedAt != b.CreatedAt {
			if a.CreatedAt > b.CreatedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	matched := make(map[string]bool)
	var out []domain.Event
	for _, f := range filters {
		n := 0
		for _, e := range all {
			if f.Limit > 0 && n >= f.Limit {
				break
			}
			if !f.Matches(e) {
				continue
			}
			n++
			if !matched[e.ID] {
				matched[e.ID] = true
				out = append(out, e)
			}
		}
	}
	return &eventStream{events: out}, nil
}

// Events returns every event stored on url.
func (r *Relay) Events(url string) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, 0, len(r.events[url]))
	for _, e := range r.events[url] {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.Event) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// eventStream iterates over a fixed slice.
type eventStream struct {
	mu     sync.Mutex
	events []domain.Event
	pos    int
	closed bool
}

func (s *eventStream) Next(ctx context.Context) (domain.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.events) {
		return domain.Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func (s *eventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
