package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

func pagesOf(pages ...[]int) (PageFunc[int], *[]int) {
	var requested []int
	return func(_ context.Context, n int) (*domain.Page[int], error) {
		requested = append(requested, n)
		p := &domain.Page[int]{Items: pages[n-1], Number: n}
		if n < len(pages) {
			p.Next = n + 1
		}
		return p, nil
	}, &requested
}

func TestPager_WalksLazily(t *testing.T) {
	fetch, requested := pagesOf([]int{1, 2}, []int{3}, []int{4, 5})
	p := NewPager(fetch)
	ctx := context.Background()

	page, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, page.Items)
	assert.Equal(t, []int{1}, *requested)
	assert.False(t, p.Done())

	var all []int
	all = append(all, page.Items...)
	for !p.Done() {
		page, err := p.Next(ctx)
		require.NoError(t, err)
		all = append(all, page.Items...)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, all)
	assert.Equal(t, []int{1, 2, 3}, *requested)
}

func TestPager_Reset(t *testing.T) {
	fetch, requested := pagesOf([]int{1}, []int{2})
	p := NewPager(fetch)
	ctx := context.Background()

	for !p.Done() {
		_, err := p.Next(ctx)
		require.NoError(t, err)
	}
	p.Reset()
	page, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, page.Items)
	assert.Equal(t, []int{1, 2, 1}, *requested)
}

func TestPager_ErrorKeepsPosition(t *testing.T) {
	calls := 0
	p := NewPager(func(_ context.Context, n int) (*domain.Page[string], error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &domain.Page[string]{Items: []string{"x"}, Number: n}, nil
	})

	_, err := p.Next(context.Background())
	require.Error(t, err)
	page, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.True(t, p.Done())
}

func TestPager_StopsOnCancelledContext(t *testing.T) {
	fetch, requested := pagesOf([]int{1})
	p := NewPager(fetch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *requested)
}

func TestPager_SelfReferencingNextEnds(t *testing.T) {
	p := NewPager(func(_ context.Context, n int) (*domain.Page[int], error) {
		return &domain.Page[int]{Number: n, Next: n}, nil
	})
	_, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Done())
}
