package domain

import (
	"fmt"
	"time"
)

// ImportPhase is one state of the import state machine.
type ImportPhase string

// Import phases, in the order they run.
const (
	PhaseParseAndDetect     ImportPhase = "parse_and_detect_provider"
	PhaseValidate           ImportPhase = "validate_token_and_ownership"
	PhaseForkIfNeeded       ImportPhase = "fork_if_needed"
	PhaseFetchRepoMetadata  ImportPhase = "fetch_repo_metadata"
	PhasePublishRepoEvents  ImportPhase = "publish_repo_events"
	PhaseStreamIssues       ImportPhase = "stream_issues"
	PhaseStreamPullRequests ImportPhase = "stream_pull_requests"
	PhaseStreamComments     ImportPhase = "stream_comments"
	PhasePublishProfiles    ImportPhase = "publish_profiles"
	PhaseComplete           ImportPhase = "complete"
	PhaseFail               ImportPhase = "fail"
)

// ImportPhases lists the forward sequence of non-terminal-failure phases.
var ImportPhases = []ImportPhase{
	PhaseParseAndDetect,
	PhaseValidate,
	PhaseForkIfNeeded,
	PhaseFetchRepoMetadata,
	PhasePublishRepoEvents,
	PhaseStreamIssues,
	PhaseStreamPullRequests,
	PhaseStreamComments,
	PhasePublishProfiles,
	PhaseComplete,
}

// Order returns the position of the phase in ImportPhases, or -1 for Fail.
func (p ImportPhase) Order() int {
	for i, phase := range ImportPhases {
		if phase == p {
			return i
		}
	}
	return -1
}

// ImportCursor is the only state kept across pages of a streaming import.
// The ID maps go from host-native id to generated event id.
type ImportCursor struct {
	Phase           ImportPhase
	Page            int
	IssueEventIDs   map[string]string
	PREventIDs      map[string]string
	CommentEventIDs map[string]string
	// CommentTargets are the imported issues and pull requests, in import
	// order, whose comments are streamed in the comments phase.
	CommentTargets []CommentTarget
}

// NewImportCursor returns a cursor at the first phase with empty maps.
func NewImportCursor() *ImportCursor {
	return &ImportCursor{
		Phase:           PhaseParseAndDetect,
		IssueEventIDs:   make(map[string]string),
		PREventIDs:      make(map[string]string),
		CommentEventIDs: make(map[string]string),
	}
}

// ImportProgress is reported at phase transitions and page boundaries.
// Current and Total are literal counts; Total is nil when unknown.
type ImportProgress struct {
	Step       string
	Phase      ImportPhase
	Current    *int
	Total      *int
	IsComplete bool
	Error      string
}

// ImportCounts are the per-kind item counts achieved by an import.
type ImportCounts struct {
	RepoEvents   int
	Issues       int
	PullRequests int
	Comments     int
	Statuses     int
	Profiles     int
}

// ImportSummary is the result of one import run.
type ImportSummary struct {
	RunID         string
	SourceURL     string
	Repo          RepoRef
	Forked        bool
	LastPhase     ImportPhase
	Counts        ImportCounts
	Published     int
	PublishFailed int
	// Warnings holds non-fatal per-item problems, e.g. conversion errors.
	Warnings   []string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded returns true when the import reached Complete without error.
func (s *ImportSummary) Succeeded() bool {
	return s.Err == nil && s.LastPhase == PhaseComplete
}

// ImportRun is a persisted import history record.
type ImportRun struct {
	ID            string
	SourceURL     string
	Provider      ProviderType
	LastPhase     ImportPhase
	Counts        ImportCounts
	Published     int
	PublishFailed int
	Warnings      []string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RunFromSummary converts a summary into its history record.
func RunFromSummary(s *ImportSummary) ImportRun {
	run := ImportRun{
		ID:            s.RunID,
		SourceURL:     s.SourceURL,
		Provider:      s.Repo.Provider,
		LastPhase:     s.LastPhase,
		Counts:        s.Counts,
		Published:     s.Published,
		PublishFailed: s.PublishFailed,
		Warnings:      s.Warnings,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
	if s.Err != nil {
		run.Error = s.Err.Error()
	}
	return run
}

// ImportError is a fatal pipeline error with the last completed phase.
type ImportError struct {
	Phase         ImportPhase
	LastCompleted ImportPhase
	Err           error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import failed in %s: %v", e.Phase, e.Err)
}

// Unwrap returns the cause.
func (e *ImportError) Unwrap() error {
	return e.Err
}

// ImportRequest describes one import invocation.
type ImportRequest struct {
	// SourceURL is the clone or web URL of the repository on the host.
	SourceURL string
	// Provider overrides detection for self-hosted instances.
	Provider ProviderType
	// Relays are the relay URLs to publish to. Empty means the configured defaults.
	Relays []string
	// AllowFork permits forking a repository the authenticated user does not own.
	AllowFork bool
	// PublishProfile publishes a profile event linking the host account.
	PublishProfile bool
	// Identifier overrides the announcement "d" tag. Defaults to the repo name.
	Identifier string
}
