package memory

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure StaticSigner implements the interface.
var _ driven.Signer = (*StaticSigner)(nil)

// StaticSigner assigns a fixed author key and content-hash ids. It produces
// no cryptographic signature and is meant for tests and dry runs.
type StaticSigner struct {
	key string
}

// NewStaticSigner creates a signer for key. An empty key behaves as if no
// identity is active.
func NewStaticSigner(key string) *StaticSigner {
	return &StaticSigner{key: key}
}

// PublicKey returns the configured author key.
func (s *StaticSigner) PublicKey(_ context.Context) (string, error) {
	if s.key == "" {
		return "", domain.ErrNoSignerAvailable
	}
	return s.key, nil
}

// Sign assigns author and id.
func (s *StaticSigner) Sign(_ context.Context, u domain.UnsignedEvent) (domain.Event, error) {
	if s.key == "" {
		return domain.Event{}, domain.ErrNoSignerAvailable
	}
	return domain.Event{
		ID:        domain.ComputeEventID(s.key, u),
		AuthorKey: s.key,
		Kind:      u.Kind,
		CreatedAt: u.CreatedAt,
		Tags:      u.Tags,
		Content:   u.Content,
	}, nil
}
