package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driving"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Ensure GitOperations implements the interface.
var _ driving.GitOperations = (*GitOperations)(nil)

// DefaultProgressBuffer is the capacity of the progress channel. Progress
// messages are dropped rather than blocking the engine when it is full.
const DefaultProgressBuffer = 64

// GitOperations runs local git engine operations on worker goroutines.
// Callers get a handle back immediately. Operations on one repository key
// run one at a time; different keys run in parallel.
// Clone and fetch are skipped when the data cache already holds enough.
type GitOperations struct {
	engine driven.GitEngine
	cache  *RepoDataCache
	now    func() time.Time

	progress chan domain.GitProgress

	mu     sync.Mutex
	locks  map[string]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewGitOperations creates the worker front end. engine may be nil, in which
// case every operation fails with ErrNotImplemented.
func NewGitOperations(engine driven.GitEngine, cache *RepoDataCache, progressBuffer int) *GitOperations {
	if cache == nil {
		cache = NewRepoDataCache(nil)
	}
	if progressBuffer <= 0 {
		progressBuffer = DefaultProgressBuffer
	}
	return &GitOperations{
		engine:   engine,
		cache:    cache,
		now:      time.Now,
		progress: make(chan domain.GitProgress, progressBuffer),
		locks:    make(map[string]chan struct{}),
	}
}

// gitHandle implements driving.GitHandle.
type gitHandle struct {
	id     string
	done   chan struct{}
	cancel context.CancelFunc
	result domain.GitResult
	err    error
}

func (h *gitHandle) ID() string            { return h.id }
func (h *gitHandle) Done() <-chan struct{} { return h.done }
func (h *gitHandle) Cancel()               { h.cancel() }

func (h *gitHandle) Wait(ctx context.Context) (domain.GitResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return domain.GitResult{}, ctx.Err()
	}
}

// gitRequest is one queued operation.
type gitRequest struct {
	op      domain.GitOp
	repoKey string
	level   domain.DataLevel
	run     func(ctx context.Context, progress driven.ProgressFunc) (*domain.PushResult, error)
}

// Clone clones url. The repository key defaults to the normalised URL and
// the level to full.
func (g *GitOperations) Clone(ctx context.Context, url string, opts domain.CloneOptions) driving.GitHandle {
	if opts.RepoKey == "" {
		opts.RepoKey = NormalizeCloneURL(url)
	}
	if opts.Level == domain.DataLevelNone {
		opts.Level = domain.DataLevelFull
	}
	return g.submit(ctx, gitRequest{
		op:      domain.GitOpClone,
		repoKey: opts.RepoKey,
		level:   opts.Level,
		run: func(ctx context.Context, progress driven.ProgressFunc) (*domain.PushResult, error) {
			return nil, g.engine.Clone(ctx, url, opts, progress)
		},
	})
}

// Fetch fetches refs into repoKey. The level defaults to refs.
func (g *GitOperations) Fetch(ctx context.Context, repoKey string, opts domain.FetchOptions) driving.GitHandle {
	if opts.Level == domain.DataLevelNone {
		opts.Level = domain.DataLevelRefs
	}
	return g.submit(ctx, gitRequest{
		op:      domain.GitOpFetch,
		repoKey: repoKey,
		level:   opts.Level,
		run: func(ctx context.Context, progress driven.ProgressFunc) (*domain.PushResult, error) {
			return nil, g.engine.Fetch(ctx, repoKey, opts, progress)
		},
	})
}

// Push pushes ref. Pushes are never skipped; a forced push invalidates the
// cached data level of the repository.
func (g *GitOperations) Push(ctx context.Context, repoKey, ref string, opts domain.PushOptions) driving.GitHandle {
	return g.submit(ctx, gitRequest{
		op:      domain.GitOpPush,
		repoKey: repoKey,
		run: func(ctx context.Context, progress driven.ProgressFunc) (*domain.PushResult, error) {
			res, err := g.engine.Push(ctx, repoKey, ref, opts, progress)
			if err != nil {
				return nil, err
			}
			return &res, nil
		},
	})
}

// Progress streams progress messages from every operation.
func (g *GitOperations) Progress() <-chan domain.GitProgress {
	return g.progress
}

// Close waits for running operations and closes the progress channel.
// Operations submitted afterwards fail immediately.
func (g *GitOperations) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.wg.Wait()
	close(g.progress)
}

func (g *GitOperations) lockFor(key string) chan struct{} {
	l, ok := g.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		g.locks[key] = l
	}
	return l
}

func (g *GitOperations) submit(ctx context.Context, req gitRequest) driving.GitHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &gitHandle{id: uuid.NewString(), done: make(chan struct{}), cancel: cancel}
	h.result = domain.GitResult{RequestID: h.id, RepoKey: req.repoKey, Op: req.op, Level: req.level}

	fail := func(err error) driving.GitHandle {
		h.err = err
		cancel()
		close(h.done)
		return h
	}
	if req.repoKey == "" {
		return fail(fmt.Errorf("%s: empty repository key: %w", req.op, domain.ErrInvalidInput))
	}
	if g.engine == nil {
		return fail(fmt.Errorf("%s: no git engine: %w", req.op, domain.ErrNotImplemented))
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fail(fmt.Errorf("%s: git operations closed: %w", req.op, domain.ErrGitOperation))
	}
	lock := g.lockFor(req.repoKey)
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer close(h.done)
		defer cancel()
		h.err = g.execute(ctx, h, req, lock)
	}()
	return h
}

func (g *GitOperations) execute(ctx context.Context, h *gitHandle, req gitRequest, lock chan struct{}) error {
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	if err := ctx.Err(); err != nil {
		return err
	}

	if req.op != domain.GitOpPush && g.cache.ShouldSkip(req.repoKey, req.level) {
		logger.Debug("Skipping %s of %s: already at %s", req.op, req.repoKey, g.cache.Level(req.repoKey))
		h.result.Skipped = true
		h.result.Level = g.cache.Level(req.repoKey)
		return nil
	}

	start := g.now()
	push, err := req.run(ctx, func(p domain.GitProgress) {
		p.RequestID, p.RepoKey, p.Op = h.id, req.repoKey, req.op
		select {
		case g.progress <- p:
		default:
		}
	})
	h.result.Duration = g.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %w", domain.ErrGitOperation, req.op, req.repoKey, err)
	}

	switch {
	case push != nil:
		h.result.Push = push
		if push.ForcePushed {
			logger.Info("Force-push to %s on %s, invalidating cached data", push.Ref, req.repoKey)
			if err := g.cache.Invalidate(ctx, req.repoKey); err != nil {
				return err
			}
		}
		h.result.Level = g.cache.Level(req.repoKey)
	default:
		if err := g.cache.RecordFetch(ctx, req.repoKey, req.level); err != nil {
			return err
		}
		h.result.Level = g.cache.Level(req.repoKey)
	}
	return nil
}
