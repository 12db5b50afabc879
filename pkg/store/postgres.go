package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Postgres is the production Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pooled connection, pings it, and applies pending
// embedded migrations.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	return open(ctx, cfg.DSN(), cfg.Database, cfg)
}

// Open connects with a raw DSN. Used by integration tests that get their
// connection string from a container.
func Open(ctx context.Context, dsn, dbName string) (*Postgres, error) {
	return open(ctx, dsn, dbName, config.DefaultDatabaseConfig())
}

func open(ctx context.Context, dsn, dbName string, cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, dbName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Postgres{db: db}, nil
}

// runMigrations applies embedded SQL migrations with golang-migrate. The
// migration files are compiled into the binary so deployments need no
// external schema assets.
func runMigrations(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; m.Close() would also close the shared
	// *sql.DB handed to postgres.WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// DB exposes the underlying pool for health checks.
func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) PutSession(ctx context.Context, s *models.Session) error {
	return p.putSession(ctx, p.db, s)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) putSession(ctx context.Context, ex execer, s *models.Session) error {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to encode session config: %w", err)
	}
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode session stats: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, config, stats, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stats = EXCLUDED.stats,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.UserID, s.Status, cfg, stats, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		s          models.Session
		userID     sql.NullString
		cfg, stats []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, config, stats, created_at, updated_at
		FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &userID, &s.Status, &cfg, &stats, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	s.UserID = userID.String
	if err := json.Unmarshal(cfg, &s.Config); err != nil {
		return nil, fmt.Errorf("failed to decode session config: %w", err)
	}
	if err := json.Unmarshal(stats, &s.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode session stats: %w", err)
	}
	return &s, nil
}

func (p *Postgres) PutConversation(ctx context.Context, c *models.Conversation) error {
	return p.putConversation(ctx, p.db, c)
}

func (p *Postgres) putConversation(ctx context.Context, ex execer, c *models.Conversation) error {
	history, err := json.Marshal(c.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	feedback, err := json.Marshal(c.Feedback)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO conversations (session_id, history, feedback, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id) DO UPDATE SET
			history = EXCLUDED.history,
			feedback = EXCLUDED.feedback,
			updated_at = now()`,
		c.SessionID, history, feedback)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", c.SessionID, err)
	}
	return nil
}

func (p *Postgres) GetConversation(ctx context.Context, sessionID string) (*models.Conversation, error) {
	var (
		c                 models.Conversation
		history, feedback []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT session_id, history, feedback FROM conversations WHERE session_id = $1`, sessionID).
		Scan(&c.SessionID, &history, &feedback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(history, &c.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if err := json.Unmarshal(feedback, &c.Feedback); err != nil {
		return nil, fmt.Errorf("failed to decode feedback: %w", err)
	}
	return &c, nil
}

func (p *Postgres) PutSummary(ctx context.Context, r *models.SummaryRecord) error {
	return p.putSummary(ctx, p.db, r)
}

func (p *Postgres) putSummary(ctx context.Context, ex execer, r *models.SummaryRecord) error {
	var summary []byte
	if r.Summary != nil {
		var err error
		summary, err = json.Marshal(r.Summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO summaries (session_id, status, summary, error_message, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			summary = EXCLUDED.summary,
			error_message = EXCLUDED.error_message,
			updated_at = now()`,
		r.SessionID, r.Status, summary, r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", r.SessionID, err)
	}
	return nil
}

func (p *Postgres) GetSummary(ctx context.Context, sessionID string) (*models.SummaryRecord, error) {
	var (
		r        models.SummaryRecord
		summary  []byte
		errorMsg sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT session_id, status, summary, error_message FROM summaries WHERE session_id = $1`, sessionID).
		Scan(&r.SessionID, &r.Status, &summary, &errorMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary %s: %w", sessionID, err)
	}
	r.ErrorMessage = errorMsg.String
	if len(summary) > 0 {
		r.Summary = &models.FinalSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
	}
	return &r, nil
}

// PutSnapshot writes all non-nil snapshot records in one transaction so no
// reader observes a half-persisted transition.
func (p *Postgres) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if snap.Session != nil {
		if err := p.putSession(ctx, tx, snap.Session); err != nil {
			return err
		}
	}
	if snap.Conversation != nil {
		if err := p.putConversation(ctx, tx, snap.Conversation); err != nil {
			return err
		}
	}
	if snap.Summary != nil {
		if err := p.putSummary(ctx, tx, snap.Summary); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) PutTask(ctx context.Context, t *models.SpeechTask) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO speech_tasks (id, session_id, task_type, status, progress, result, error_message, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.SessionID, t.Type, t.Status,
		nullableJSON(t.Progress), nullableJSON(t.Result), t.ErrorMessage,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert speech task %s: %w", t.ID, err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (p *Postgres) GetTask(ctx context.Context, id string) (*models.SpeechTask, error) {
	return scanTask(p.db.QueryRowContext(ctx, `
		SELECT id, session_id, task_type, status, progress, result, error_message, created_at, updated_at
		FROM speech_tasks WHERE id = $1`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.SpeechTask, error) {
	var (
		t                  models.SpeechTask
		sessionID, errMsg  sql.NullString
		progress, result   []byte
	)
	err := row.Scan(&t.ID, &sessionID, &t.Type, &t.Status, &progress, &result, &errMsg, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load speech task: %w", err)
	}
	t.SessionID = sessionID.String
	t.ErrorMessage = errMsg.String
	t.Progress = progress
	t.Result = result
	return &t, nil
}

func (p *Postgres) ListTasks(ctx context.Context, sessionID string) ([]*models.SpeechTask, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, task_type, status, progress, result, error_message, created_at, updated_at
		FROM speech_tasks WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list speech tasks for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*models.SpeechTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ping reports database connectivity. Used by the health endpoint.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }
