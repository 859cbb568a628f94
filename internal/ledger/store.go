// Package ledger keeps an audit trail of sanitize, submit and rehydrate
// runs in PostgreSQL or SQLite.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	kind             TEXT NOT NULL,
	source           TEXT NOT NULL DEFAULT '',
	policy           TEXT NOT NULL DEFAULT '',
	masked           INTEGER NOT NULL DEFAULT 0,
	shuffled_parents INTEGER NOT NULL DEFAULT 0,
	shadowed         INTEGER NOT NULL DEFAULT 0,
	vault_entries    INTEGER NOT NULL DEFAULT 0,
	output_path      TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs (session_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at);
`

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store handles run persistence
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to the database and creates the schema.
func Open(ctx context.Context, config *Config, logger *zap.Logger) (*Store, error) {
	driver, err := driverName(config.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	logger.Info("Run ledger initialized",
		zap.String("driver", driver),
		zap.String("dsn", maskDatabaseURL(config.DSN)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

func driverName(name string) (string, error) {
	switch name {
	case "postgres", "postgresql":
		return "postgres", nil
	case "sqlite", "sqlite3", "":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported ledger driver: %s", name)
	}
}

// migrate runs each schema statement separately; lib/pq and sqlite differ
// on multi-statement Exec.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Record inserts run, assigning an ID and timestamp when unset.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}

	query := `
		INSERT INTO runs (id, session_id, kind, source, policy, masked, shuffled_parents, shadowed, vault_entries, output_path, created_at)
		VALUES (:id, :session_id, :kind, :source, :policy, :masked, :shuffled_parents, :shadowed, :vault_entries, :output_path, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, toRow(run)); err != nil {
		s.logger.Error("Failed to record run",
			zap.Error(err),
			zap.String("session_id", run.SessionID),
			zap.String("kind", run.Kind))
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug("Run recorded",
		zap.String("id", run.ID),
		zap.String("session_id", run.SessionID),
		zap.String("kind", run.Kind))

	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Rebind(`SELECT * FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return fromRows(rows)
}

// BySession returns the runs of one session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Run, error) {
	query := s.db.Rebind(`SELECT * FROM runs WHERE session_id = ? ORDER BY created_at ASC, id ASC`)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to query session runs: %w", err)
	}
	return fromRows(rows)
}

// GetStats returns ledger statistics
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(DISTINCT session_id) AS sessions,
			COALESCE(SUM(masked), 0) AS total_masked
		FROM runs`

	stats := &Stats{}
	if err := s.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get ledger stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toRow(r *Run) runRow {
	return runRow{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Kind:            r.Kind,
		Source:          r.Source,
		Policy:          r.Policy,
		Masked:          r.Masked,
		ShuffledParents: r.ShuffledParents,
		Shadowed:        r.Shadowed,
		VaultEntries:    r.VaultEntries,
		OutputPath:      r.OutputPath,
		CreatedAt:       r.CreatedAt.UTC().Format(timeLayout),
	}
}

func fromRows(rows []runRow) ([]Run, error) {
	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(timeLayout, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at %q for run %s: %w", row.CreatedAt, row.ID, err)
		}
		out = append(out, Run{
			ID:              row.ID,
			SessionID:       row.SessionID,
			Kind:            row.Kind,
			Source:          row.Source,
			Policy:          row.Policy,
			Masked:          row.Masked,
			ShuffledParents: row.ShuffledParents,
			Shadowed:        row.Shadowed,
			VaultEntries:    row.VaultEntries,
			OutputPath:      row.OutputPath,
			CreatedAt:       ts,
		})
	}
	return out, nil
}

// maskDatabaseURL masks the password of a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
