package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/wfprobe/internal/clock"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on cleanup_outcomes.resource_seq
const currentSchemaVersion = 1

// Kind is the type of a tracked remote resource.
type Kind string

const (
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pull_request"
	KindBranch      Kind = "branch"
	KindMilestone   Kind = "milestone"
)

// CleanupOrder is the order in which kinds are torn down. Pull requests go
// before their branches, issues before the milestones they belong to.
var CleanupOrder = []Kind{KindPullRequest, KindBranch, KindIssue, KindMilestone}

// Resource is one remotely created object.
type Resource struct {
	Seq  int64
	Kind Kind
	// ID is the issue/PR/milestone number, or the branch name.
	ID string
	// BranchName is the head branch of a pull request.
	BranchName string
	// Case is the test case that created the resource, if known.
	Case      string
	CreatedAt time.Time
}

// Number parses ID as an issue, pull request or milestone number.
func (r Resource) Number() (int, error) {
	n, err := strconv.Atoi(r.ID)
	if err != nil {
		return 0, fmt.Errorf("%s %q has no numeric id: %w", r.Kind, r.ID, err)
	}
	return n, nil
}

// Status is the result of one cleanup attempt.
type Status string

const (
	StatusClosed      Status = "closed"
	StatusDeleted     Status = "deleted"
	StatusAlreadyGone Status = "already_gone"
	StatusFailed      Status = "failed"
)

// Succeeded reports whether the resource no longer needs cleanup.
func (s Status) Succeeded() bool {
	return s == StatusClosed || s == StatusDeleted || s == StatusAlreadyGone
}

// Outcome is a recorded cleanup attempt.
type Outcome struct {
	ResourceSeq int64
	Status      Status
	Detail      string
	RecordedAt  time.Time
}

// Ledger is the per-run resource log.
type Ledger struct {
	db    *sql.DB
	clock clock.Clock
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for created_at and recorded_at.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// OpenMemory creates a private in-memory ledger.
func OpenMemory(opts ...Option) (*Ledger, error) {
	return Open(":memory:", opts...)
}

// Open creates or opens a SQLite ledger at path. ":memory:" keeps it in
// process memory.
//
// The database is configured with:
//   - a single connection, so an in-memory database is not split across
//     connections
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	l := &Ledger{db: db, clock: clock.Real{}}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends a resource and returns it with Seq and CreatedAt set.
// Recording an already known (kind, id) returns the existing row unchanged.
func (l *Ledger) Record(ctx context.Context, r Resource) (Resource, error) {
	if r.Kind == "" || r.ID == "" {
		return Resource{}, fmt.Errorf("record resource: kind and id are required (got %q/%q)", r.Kind, r.ID)
	}
	now := l.clock.Now().UTC()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO resources (kind, remote_id, branch_name, test_case, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, remote_id) DO NOTHING
	`,
		string(r.Kind),
		r.ID,
		r.BranchName,
		r.Case,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Resource{}, fmt.Errorf("record %s %s: %w", r.Kind, r.ID, err)
	}

	row := l.db.QueryRowContext(ctx, `
		SELECT seq, kind, remote_id, branch_name, test_case, created_at
		FROM resources
		WHERE kind = ? AND remote_id = ?
	`, string(r.Kind), r.ID)
	got, err := scanResource(row)
	if err != nil {
		return Resource{}, fmt.Errorf("record %s %s: %w", r.Kind, r.ID, err)
	}
	return got, nil
}

// List returns every resource of kind in creation order. An empty kind
// returns all resources.
func (l *Ledger) List(ctx context.Context, kind Kind) ([]Resource, error) {
	query := `
		SELECT seq, kind, remote_id, branch_name, test_case, created_at
		FROM resources
	`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY seq ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()
	return scanResources(rows)
}

// Pending returns resources of kind without a successful cleanup outcome,
// most recently created first.
func (l *Ledger) Pending(ctx context.Context, kind Kind) ([]Resource, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT r.seq, r.kind, r.remote_id, r.branch_name, r.test_case, r.created_at
		FROM resources r
		WHERE r.kind = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM cleanup_outcomes o
		      WHERE o.resource_seq = r.seq
		        AND o.status IN ('closed', 'deleted', 'already_gone')
		  )
		ORDER BY r.seq DESC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", kind, err)
	}
	defer rows.Close()
	return scanResources(rows)
}

// RecordOutcome appends a cleanup attempt for the resource with seq.
func (l *Ledger) RecordOutcome(ctx context.Context, seq int64, status Status, detail string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cleanup_outcomes (resource_seq, status, detail, recorded_at)
		VALUES (?, ?, ?, ?)
	`, seq, string(status), detail, l.clock.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record outcome for resource %d: %w", seq, err)
	}
	return nil
}

// Outcomes returns every cleanup attempt for the resource with seq, oldest
// first.
func (l *Ledger) Outcomes(ctx context.Context, seq int64) ([]Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT resource_seq, status, detail, recorded_at
		FROM cleanup_outcomes
		WHERE resource_seq = ?
		ORDER BY id ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o        Outcome
			status   string
			recorded string
		)
		if err := rows.Scan(&o.ResourceSeq, &status, &o.Detail, &recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = Status(status)
		o.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recorded, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Settled reports whether the resource with seq has a successful outcome.
func (l *Ledger) Settled(ctx context.Context, seq int64) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cleanup_outcomes
		WHERE resource_seq = ? AND status IN ('closed', 'deleted', 'already_gone')
	`, seq).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check outcome for resource %d: %w", seq, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (Resource, error) {
	var (
		r       Resource
		kind    string
		created string
	)
	if err := row.Scan(&r.Seq, &kind, &r.ID, &r.BranchName, &r.Case, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Resource{}, fmt.Errorf("resource not found: %w", err)
		}
		return Resource{}, fmt.Errorf("scan resource: %w", err)
	}
	r.Kind = Kind(kind)
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Resource{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	return r, nil
}

func scanResources(rows *sql.Rows) ([]Resource, error) {
	var out []Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes outcomes by resource for Pending and Settled.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cleanup_outcomes_resource
		ON cleanup_outcomes(resource_seq, status)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
