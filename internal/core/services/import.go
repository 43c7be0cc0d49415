package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driving"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Ensure ImportPipeline implements the interface.
var _ driving.Importer = (*ImportPipeline)(nil)

// ImportPipeline imports one hosted repository into events. Phases run
// strictly forward; streaming phases hold one page of host data at a time
// plus the cursor's id maps.
type ImportPipeline struct {
	factory driven.HostProviderFactory
	tokens  driven.TokenProvider
	signer  driven.Signer
	relay   driven.RelayPublisher
	runs    driven.ImportRunStore

	mu       sync.RWMutex
	settings domain.SyncSettings

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewImportPipeline creates an import pipeline. tokens and runs may be nil.
func NewImportPipeline(
	factory driven.HostProviderFactory,
	tokens driven.TokenProvider,
	signer driven.Signer,
	relay driven.RelayPublisher,
	runs driven.ImportRunStore,
	settings domain.SyncSettings,
) *ImportPipeline {
	return &ImportPipeline{
		factory:  factory,
		tokens:   tokens,
		signer:   signer,
		relay:    relay,
		runs:     runs,
		settings: settings.WithDefaults(),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Configure replaces the settings used by imports started afterwards.
func (p *ImportPipeline) Configure(settings domain.SyncSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings.WithDefaults()
}

func (p *ImportPipeline) currentSettings() domain.SyncSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// History returns recorded import runs, most recent first.
func (p *ImportPipeline) History(ctx context.Context, limit int) ([]domain.ImportRun, error) {
	if p.runs == nil {
		return nil, nil
	}
	return p.runs.ListRuns(ctx, limit)
}

// importRun is the state of one Import call.
type importRun struct {
	req       domain.ImportRequest
	settings  domain.SyncSettings
	relays    []string
	progress  driving.ProgressFunc
	cursor    *domain.ImportCursor
	summary   *domain.ImportSummary
	last      domain.ImportPhase
	provider  driven.HostProvider
	user      *domain.HostUser
	source    *domain.HostRepo
	target    domain.RepoRef
	repo      *domain.HostRepo
	owned     bool
	authorKey string
	convert   *EventConverter
	publisher *BatchPublisher
}

// Import runs the pipeline for one repository. The returned summary carries
// the counts achieved even when err is non-nil.
func (p *ImportPipeline) Import(ctx context.Context, req domain.ImportRequest, progress driving.ProgressFunc) (*domain.ImportSummary, error) {
	settings := p.currentSettings()
	relays := req.Relays
	if len(relays) == 0 {
		relays = settings.Relays
	}

	run := &importRun{
		req:      req,
		settings: settings,
		relays:   relays,
		progress: progress,
		cursor:   domain.NewImportCursor(),
		summary: &domain.ImportSummary{
			RunID:     uuid.NewString(),
			SourceURL: req.SourceURL,
			StartedAt: p.now(),
		},
	}
	if run.progress == nil {
		run.progress = func(domain.ImportProgress) {}
	}
	log := logger.WithFields(map[string]any{"run": run.summary.RunID, "source": req.SourceURL})
	log.Info("Starting import")

	err := p.execute(ctx, run)

	if run.publisher != nil {
		if ferr := run.publisher.FlushAll(ctx); ferr != nil && err == nil {
			err = ferr
		}
		stats := run.publisher.Stats()
		run.summary.Published = stats.Published
		run.summary.PublishFailed = stats.Failed
		for _, e := range stats.Errors {
			run.summary.Warnings = append(run.summary.Warnings, e.Error())
		}
	}
	run.summary.FinishedAt = p.now()

	current := run.itemCount()
	if err != nil {
		if isCancellation(ctx, err) {
			err = fmt.Errorf("%w: %w", domain.ErrCancellationRequested, err)
		}
		ierr := &domain.ImportError{Phase: run.cursor.Phase, LastCompleted: run.last, Err: err}
		run.summary.Err = ierr
		run.summary.LastPhase = domain.PhaseFail
		log.Error("Import failed after %s: %v", run.last, err)
		run.progress(domain.ImportProgress{
			Step:    "failed",
			Phase:   domain.PhaseFail,
			Current: &current,
			Error:   ierr.Error(),
		})
		p.record(ctx, run.summary)
		return run.summary, ierr
	}

	run.summary.LastPhase = domain.PhaseComplete
	log.Info("Import complete: %d issues, %d pull requests, %d comments, %d published, %d failed",
		run.summary.Counts.Issues, run.summary.Counts.PullRequests, run.summary.Counts.Comments,
		run.summary.Published, run.summary.PublishFailed)
	run.progress(domain.ImportProgress{
		Step:       "complete",
		Phase:      domain.PhaseComplete,
		Current:    &current,
		Total:      &current,
		IsComplete: true,
	})
	p.record(ctx, run.summary)
	return run.summary, nil
}

func (p *ImportPipeline) record(ctx context.Context, summary *domain.ImportSummary) {
	if p.runs == nil {
		return
	}
	if err := p.runs.SaveRun(context.WithoutCancel(ctx), domain.RunFromSummary(summary)); err != nil {
		logger.Warn("Failed to record import run %s: %v", summary.RunID, err)
	}
}

func (p *ImportPipeline) execute(ctx context.Context, run *importRun) error {
	phases := []struct {
		phase domain.ImportPhase
		fn    func(context.Context, *importRun) error
	}{
		{domain.PhaseParseAndDetect, p.parseAndDetect},
		{domain.PhaseValidate, p.validate},
		{domain.PhaseForkIfNeeded, p.forkIfNeeded},
		{domain.PhaseFetchRepoMetadata, p.fetchRepoMetadata},
		{domain.PhasePublishRepoEvents, p.publishRepoEvents},
		{domain.PhaseStreamIssues, p.streamIssues},
		{domain.PhaseStreamPullRequests, p.streamPullRequests},
		{domain.PhaseStreamComments, p.streamComments},
		{domain.PhasePublishProfiles, p.publishProfiles},
	}

	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.cursor.Phase = ph.phase
		run.cursor.Page = 0
		logger.Debug("Import phase %s", ph.phase)
		run.report(string(ph.phase), nil, nil)

		if err := ph.fn(ctx, run); err != nil {
			return err
		}
		if run.publisher != nil {
			if err := run.publisher.FlushAll(ctx); err != nil {
				return err
			}
		}
		run.last = ph.phase
	}
	run.cursor.Phase = domain.PhaseComplete
	return nil
}

func (run *importRun) report(step string, current, total *int) {
	run.progress(domain.ImportProgress{
		Step:    step,
		Phase:   run.cursor.Phase,
		Current: current,
		Total:   total,
	})
}

func (run *importRun) itemCount() int {
	c := run.summary.Counts
	return c.Issues + c.PullRequests + c.Comments
}

func (p *ImportPipeline) parseAndDetect(ctx context.Context, run *importRun) error {
	if len(run.relays) == 0 {
		return fmt.Errorf("no relays configured: %w", domain.ErrInvalidInput)
	}
	ref, err := p.factory.Detect(run.req.SourceURL, run.req.Provider)
	if err != nil {
		return err
	}
	run.summary.Repo = ref
	run.target = ref

	provider, err := p.factory.Create(ctx, ref, p.tokens)
	if err != nil {
		return fmt.Errorf("create %s provider: %w", ref.Provider, err)
	}
	run.provider = provider
	return nil
}

func (p *ImportPipeline) validate(ctx context.Context, run *importRun) error {
	if p.signer == nil {
		return domain.ErrNoSignerAvailable
	}
	key, err := p.signer.PublicKey(ctx)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if key == "" {
		return domain.ErrNoSignerAvailable
	}
	run.authorKey = key

	user, err := run.provider.GetUser(ctx, "")
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	run.user = user

	source, err := run.provider.GetRepo(ctx, run.summary.Repo)
	if err != nil {
		return fmt.Errorf("get repository %s: %w", run.summary.Repo.FullName(), err)
	}
	run.source = source

	run.owned = strings.EqualFold(source.Owner, user.Login)
	if !run.owned && !run.req.AllowFork {
		return fmt.Errorf("%s is owned by %s, not %s: %w", source.FullName, source.Owner, user.Login, domain.ErrOwnership)
	}
	return nil
}

func (p *ImportPipeline) forkIfNeeded(ctx context.Context, run *importRun) error {
	if run.owned {
		logger.Debug("Repository owned by %s, fork not needed", run.user.Login)
		return nil
	}

	forkRef := run.summary.Repo
	forkRef.Owner = run.user.Login
	forkRef.URL = ""

	existing, err := run.provider.GetRepo(ctx, forkRef)
	switch {
	case err == nil && existing.IsFork:
		logger.Info("Using existing fork %s", existing.FullName)
		run.target = forkRef
		run.summary.Forked = true
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("check existing fork: %w", err)
	}

	fork, err := run.provider.Fork(ctx, run.summary.Repo)
	if err != nil {
		return fmt.Errorf("fork %s: %w", run.summary.Repo.FullName(), err)
	}
	if fork.Owner != "" {
		forkRef.Owner = fork.Owner
	}
	if fork.Name != "" {
		forkRef.Name = fork.Name
	}

	for attempt := 1; attempt <= run.settings.ForkPollAttempts; attempt++ {
		if _, err := run.provider.GetRepo(ctx, forkRef); err == nil {
			logger.Info("Fork %s ready after %d checks", forkRef.FullName(), attempt)
			run.target = forkRef
			run.summary.Forked = true
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("poll fork: %w", err)
		}
		if attempt < run.settings.ForkPollAttempts {
			if err := p.sleep(ctx, run.settings.ForkPollInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s: %w", forkRef.FullName(), domain.ErrForkTimeout)
}

func (p *ImportPipeline) fetchRepoMetadata(ctx context.Context, run *importRun) error {
	repo := run.source
	if run.target != run.summary.Repo {
		r, err := run.provider.GetRepo(ctx, run.target)
		if err != nil {
			return fmt.Errorf("get repository %s: %w", run.target.FullName(), err)
		}
		repo = r
	}
	run.repo = repo

	identifier := run.req.Identifier
	if identifier == "" {
		identifier = repo.Name
	}
	run.convert = NewEventConverter(run.summary.Repo.Provider, run.authorKey, identifier)
	run.convert.now = p.now
	run.publisher = NewBatchPublisher(p.relay, BatchPublisherConfig{
		Relays:      run.relays,
		BatchSize:   run.settings.RelayBatchSize,
		BatchDelay:  run.settings.RelayBatchDelay,
		Parallelism: run.settings.PublishParallelism,
	})
	run.publisher.sleep = p.sleep
	return nil
}

// publish signs and enqueues one event.
func (p *ImportPipeline) publish(ctx context.Context, run *importRun, u domain.UnsignedEvent) (domain.Event, error) {
	ev, err := p.signer.Sign(ctx, u)
	if err != nil {
		return domain.Event{}, fmt.Errorf("sign kind %d: %w", u.Kind, err)
	}
	if err := run.publisher.Enqueue(ctx, ev); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (p *ImportPipeline) publishRepoEvents(ctx context.Context, run *importRun) error {
	announce, err := run.convert.Announcement(*run.repo, run.relays)
	if err != nil {
		return err
	}
	if _, err := p.publish(ctx, run, announce); err != nil {
		return err
	}
	run.summary.Counts.RepoEvents++

	if state, ok := run.convert.State(*run.repo); ok {
		if _, err := p.publish(ctx, run, state); err != nil {
			return err
		}
		run.summary.Counts.RepoEvents++
	}
	return nil
}

// skip records a non-fatal item failure.
func (run *importRun) skip(err error) {
	logger.Warn("Skipping item: %v", err)
	run.summary.Warnings = append(run.summary.Warnings, err.Error())
}

// streamPages pulls pages until the listing ends, handing every item to
// handle. Conversion errors skip the item; any other error ends the phase.
func streamPages[T any](ctx context.Context, run *importRun, pager *Pager[T], count *int, handle func(T) error) error {
	for !pager.Done() {
		page, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		run.cursor.Page = page.Number
		for _, item := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := handle(item); err != nil {
				if errors.Is(err, domain.ErrConversion) {
					run.skip(err)
					continue
				}
				return err
			}
		}
		run.report(fmt.Sprintf("%s page %d", run.cursor.Phase, page.Number), count, nil)
	}
	return nil
}

func (p *ImportPipeline) streamIssues(ctx context.Context, run *importRun) error {
	ref := run.summary.Repo
	pager := NewPager(func(ctx context.Context, page int) (*domain.Page[domain.HostIssue], error) {
		return run.provider.ListIssues(ctx, ref, page)
	})
	counts := &run.summary.Counts

	return streamPages(ctx, run, pager, &counts.Issues, func(issue domain.HostIssue) error {
		u, err := run.convert.Issue(issue)
		if err != nil {
			return err
		}
		ev, err := p.publish(ctx, run, u)
		if err != nil {
			return err
		}
		run.cursor.IssueEventIDs[issue.ID] = ev.ID
		run.cursor.CommentTargets = append(run.cursor.CommentTargets, domain.CommentTarget{
			Kind: domain.TargetIssue, HostID: issue.ID, Number: issue.Number,
		})
		counts.Issues++

		if status, ok := run.convert.IssueStatus(issue, ev.ID); ok {
			if _, err := p.publish(ctx, run, status); err != nil {
				return err
			}
			counts.Statuses++
		}
		return nil
	})
}

func (p *ImportPipeline) streamPullRequests(ctx context.Context, run *importRun) error {
	ref := run.summary.Repo
	pager := NewPager(func(ctx context.Context, page int) (*domain.Page[domain.HostPullRequest], error) {
		return run.provider.ListPullRequests(ctx, ref, page)
	})
	counts := &run.summary.Counts

	return streamPages(ctx, run, pager, &counts.PullRequests, func(pr domain.HostPullRequest) error {
		u, err := run.convert.PullRequest(pr)
		if err != nil {
			return err
		}
		ev, err := p.publish(ctx, run, u)
		if err != nil {
			return err
		}
		run.cursor.PREventIDs[pr.ID] = ev.ID
		run.cursor.CommentTargets = append(run.cursor.CommentTargets, domain.CommentTarget{
			Kind: domain.TargetPullRequest, HostID: pr.ID, Number: pr.Number,
		})
		counts.PullRequests++

		if status, ok := run.convert.PullRequestStatus(pr, ev.ID); ok {
			if _, err := p.publish(ctx, run, status); err != nil {
				return err
			}
			counts.Statuses++
		}
		return nil
	})
}

func (p *ImportPipeline) streamComments(ctx context.Context, run *importRun) error {
	ref := run.summary.Repo
	counts := &run.summary.Counts

	for _, target := range run.cursor.CommentTargets {
		if err := ctx.Err(); err != nil {
			return err
		}
		parent := CommentParent{RootKind: domain.KindIssue, RootID: run.cursor.IssueEventIDs[target.HostID]}
		if target.Kind == domain.TargetPullRequest {
			parent = CommentParent{RootKind: domain.KindPullRequest, RootID: run.cursor.PREventIDs[target.HostID]}
		}

		pager := NewPager(func(ctx context.Context, page int) (*domain.Page[domain.HostComment], error) {
			return run.provider.ListComments(ctx, ref, target, page)
		})
		err := streamPages(ctx, run, pager, &counts.Comments, func(c domain.HostComment) error {
			cp := parent
			if id, ok := run.cursor.CommentEventIDs[c.ReplyToID]; ok && c.ReplyToID != "" {
				cp.ParentID, cp.ParentKind = id, domain.KindComment
			}
			u, err := run.convert.Comment(c, cp)
			if err != nil {
				return err
			}
			ev, err := p.publish(ctx, run, u)
			if err != nil {
				return err
			}
			run.cursor.CommentEventIDs[c.ID] = ev.ID
			counts.Comments++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *ImportPipeline) publishProfiles(ctx context.Context, run *importRun) error {
	if !run.req.PublishProfile {
		return nil
	}
	u, err := run.convert.Profile(*run.user)
	if err != nil {
		if errors.Is(err, domain.ErrConversion) {
			run.skip(err)
			return nil
		}
		return err
	}
	if _, err := p.publish(ctx, run, u); err != nil {
		return err
	}
	run.summary.Counts.Profiles++
	return nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
