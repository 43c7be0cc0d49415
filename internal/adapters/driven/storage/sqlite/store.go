package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/forgebridge/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// the persistence ports through wrapper types.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.forgebridge/data/forgebridge.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".forgebridge", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "forgebridge.db")

	// Open database with WAL mode and a busy timeout.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DataLevelStore returns a DataLevelStore interface backed by this store.
func (s *Store) DataLevelStore() driven.DataLevelStore {
	return &dataLevelStore{store: s}
}

// ImportRunStore returns an ImportRunStore interface backed by this store.
func (s *Store) ImportRunStore() driven.ImportRunStore {
	return &importRunStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Data Level Store ====================

// dataLevelStore implements driven.DataLevelStore.
type dataLevelStore struct {
	store *Store
}

var _ driven.DataLevelStore = (*dataLevelStore)(nil)

// GetLevel returns the stored level, or DataLevelNone.
func (s *dataLevelStore) GetLevel(ctx context.Context, repoKey string) (domain.DataLevel, error) {
	var level int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT level FROM data_levels WHERE repo_key = ?", repoKey).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DataLevelNone, nil
	}
	if err != nil {
		return domain.DataLevelNone, fmt.Errorf("getting data level: %w", err)
	}
	return domain.DataLevel(level), nil
}

// RaiseLevel stores level unless a higher one is already stored.
func (s *dataLevelStore) RaiseLevel(ctx context.Context, repoKey string, level domain.DataLevel) error {
	if !level.IsValid() {
		return fmt.Errorf("data level %d: %w", level, domain.ErrInvalidInput)
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO data_levels (repo_key, level, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(repo_key) DO UPDATE SET
			level = MAX(level, excluded.level),
			updated_at = CASE WHEN excluded.level > level THEN excluded.updated_at ELSE updated_at END
	`, repoKey, int(level), s.store.now().UTC())
	if err != nil {
		return fmt.Errorf("raising data level: %w", err)
	}
	return nil
}

// ResetLevel removes the stored level.
func (s *dataLevelStore) ResetLevel(ctx context.Context, repoKey string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM data_levels WHERE repo_key = ?", repoKey)
	if err != nil {
		return fmt.Errorf("resetting data level: %w", err)
	}
	return nil
}

// ListLevels returns every stored level.
func (s *dataLevelStore) ListLevels(ctx context.Context) (map[string]domain.DataLevel, error) {
	rows, err := s.store.db.QueryContext(ctx, "SELECT repo_key, level FROM data_levels")
	if err != nil {
		return nil, fmt.Errorf("listing data levels: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]domain.DataLevel)
	for rows.Next() {
		var key string
		var level int
		if err := rows.Scan(&key, &level); err != nil {
			return nil, fmt.Errorf("scanning data level: %w", err)
		}
		levels[key] = domain.DataLevel(level)
	}
	return levels, rows.Err()
}

// ==================== Import Run Store ====================

// importRunStore implements driven.ImportRunStore.
type importRunStore struct {
	store *Store
}

var _ driven.ImportRunStore = (*importRunStore)(nil)

const importRunColumns = `id, source_url, provider, last_phase,
	repo_events, issues, pull_requests, comments, statuses, profiles,
	published, publish_failed, warnings, error, started_at, finished_at`

// SaveRun inserts or replaces a run.
func (s *importRunStore) SaveRun(ctx context.Context, run domain.ImportRun) error {
	warnings := run.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO import_runs (`+importRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.SourceURL, string(run.Provider), string(run.LastPhase),
		run.Counts.RepoEvents, run.Counts.Issues, run.Counts.PullRequests,
		run.Counts.Comments, run.Counts.Statuses, run.Counts.Profiles,
		run.Published, run.PublishFailed, string(warningsJSON), run.Error,
		run.StartedAt.UTC(), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("saving import run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *importRunStore) GetRun(ctx context.Context, id string) (*domain.ImportRun, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+importRunColumns+" FROM import_runs WHERE id = ?", id)
	run, err := scanImportRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first. limit <= 0 means all.
func (s *importRunStore) ListRuns(ctx context.Context, limit int) ([]domain.ImportRun, error) {
	query := "SELECT " + importRunColumns + " FROM import_runs ORDER BY started_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing import runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanImportRun(row rowScanner) (*domain.ImportRun, error) {
	var run domain.ImportRun
	var provider, phase, warningsJSON string
	var finishedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.SourceURL, &provider, &phase,
		&run.Counts.RepoEvents, &run.Counts.Issues, &run.Counts.PullRequests,
		&run.Counts.Comments, &run.Counts.Statuses, &run.Counts.Profiles,
		&run.Published, &run.PublishFailed, &warningsJSON, &run.Error,
		&run.StartedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning import run: %w", err)
	}

	run.Provider = domain.ProviderType(provider)
	run.LastPhase = domain.ImportPhase(phase)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	if err := json.Unmarshal([]byte(warningsJSON), &run.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshalling warnings: %w", err)
	}
	if len(run.Warnings) == 0 {
		run.Warnings = nil
	}
	return &run, nil
}
