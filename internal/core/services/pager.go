package services

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// PageFunc fetches one page of a host listing. Pages are numbered from 1.
type PageFunc[T any] func(ctx context.Context, page int) (*domain.Page[T], error)

// Pager walks a paginated listing one page at a time. Nothing is fetched
// ahead of a Next call, and Reset restarts the sequence from the first page.
type Pager[T any] struct {
	fetch PageFunc[T]
	next  int
	done  bool
}

// NewPager creates a pager positioned at the first page.
func NewPager[T any](fetch PageFunc[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch, next: 1}
}

// Next fetches the next page. After the last page Done returns true.
// A failed fetch leaves the position unchanged so the page can be retried.
func (p *Pager[T]) Next(ctx context.Context) (*domain.Page[T], error) {
	if p.done {
		return &domain.Page[T]{Number: p.next}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := p.fetch(ctx, p.next)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &domain.Page[T]{Number: p.next}
	}
	// Guard against hosts that point back at the current page.
	if page.HasNext() && page.Next > p.next {
		p.next = page.Next
	} else {
		p.done = true
	}
	return page, nil
}

// Done reports whether the last page has been returned.
func (p *Pager[T]) Done() bool {
	return p.done
}

// Reset restarts the sequence at the first page.
func (p *Pager[T]) Reset() {
	p.next = 1
	p.done = false
}
