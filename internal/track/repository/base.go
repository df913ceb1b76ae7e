// Package repository provides the sqlx-backed store for the contextd
// entity graph, on PostgreSQL (production) or SQLite (development and
// tests).
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/contextd/contextd/internal/db"
	"github.com/contextd/contextd/internal/db/dialect"
)

// Repository provides storage operations over the entity graph.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	driver string
	ownsDB bool
}

// NewWithDB creates a repository over existing connections (shared
// ownership). The driver name decides the SQL dialect.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

// NewSQLite opens an owned SQLite-backed repository at dbPath. Used in
// development mode and tests.
func NewSQLite(dbPath string) (*Repository, error) {
	sqlDB, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	conn := sqlx.NewDb(sqlDB, dialect.SQLite3)
	return newRepository(conn, conn, true)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, driver: writer.DriverName(), ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			_ = writer.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connection if the repository owns it.
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

// DB returns the underlying writer handle for shared access.
func (r *Repository) DB() *sql.DB { return r.db.DB }

// Ping verifies database connectivity.
func (r *Repository) Ping(ctx context.Context) error { return r.ro.PingContext(ctx) }

// Driver returns the SQL driver name (pgx or sqlite3).
func (r *Repository) Driver() string { return r.driver }

// rebind converts ? placeholders to the driver's form.
func (r *Repository) rebind(query string) string { return r.db.Rebind(query) }

// inTx runs fn inside a single transaction.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// initSchema creates the tables and indexes if they don't exist.
func (r *Repository) initSchema() error {
	ts := dialect.Timestamp(r.driver)
	js := dialect.JSON(r.driver)
	blob := dialect.Blob(r.driver)

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		metadata %[2]s NOT NULL DEFAULT '{}',
		created_at %[1]s NOT NULL,
		updated_at %[1]s NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
		started_at %[1]s NOT NULL,
		ended_at %[1]s,
		tools_used INTEGER NOT NULL DEFAULT 0,
		tools_succeeded INTEGER NOT NULL DEFAULT 0,
		tools_failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		prompt_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		metadata %[2]s NOT NULL DEFAULT '{}',
		created_at %[1]s NOT NULL,
		completed_at %[1]s
	);

	CREATE TABLE IF NOT EXISTS task_lists (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		wave_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at %[1]s NOT NULL,
		updated_at %[1]s NOT NULL,
		UNIQUE (request_id, wave_number)
	);

	CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT PRIMARY KEY,
		task_list_id TEXT NOT NULL REFERENCES task_lists(id) ON DELETE CASCADE,
		agent_type TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		depends_on %[2]s NOT NULL DEFAULT '[]',
		context %[2]s NOT NULL DEFAULT '{}',
		result TEXT NOT NULL DEFAULT '',
		created_at %[1]s NOT NULL,
		started_at %[1]s,
		completed_at %[1]s
	);

	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		subtask_id TEXT REFERENCES subtasks(id) ON DELETE CASCADE,
		tool_name TEXT NOT NULL,
		tool_type TEXT NOT NULL,
		input %[3]s,
		output %[3]s,
		file_paths %[2]s NOT NULL DEFAULT '[]',
		exit_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		metadata %[2]s NOT NULL DEFAULT '{}',
		created_at %[1]s NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routing_scores (
		keyword TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		tool_type TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		use_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_used_at %[1]s NOT NULL,
		PRIMARY KEY (keyword, tool_name)
	);

	CREATE TABLE IF NOT EXISTS agent_messages (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		from_agent TEXT,
		to_agent TEXT,
		topic TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'info',
		payload %[2]s NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		read_by %[2]s NOT NULL DEFAULT '[]',
		created_at %[1]s NOT NULL,
		expires_at %[1]s
	);

	CREATE TABLE IF NOT EXISTS topic_subscriptions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		created_at %[1]s NOT NULL,
		UNIQUE (agent_id, topic)
	);

	CREATE TABLE IF NOT EXISTS blockings (
		id TEXT PRIMARY KEY,
		blocker_id TEXT NOT NULL,
		blocked_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at %[1]s NOT NULL,
		UNIQUE (blocker_id, blocked_id)
	);

	CREATE TABLE IF NOT EXISTS agent_contexts (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		agent_id TEXT NOT NULL,
		agent_type TEXT NOT NULL DEFAULT '',
		role_context %[2]s NOT NULL DEFAULT '{}',
		skills_to_restore %[2]s NOT NULL DEFAULT '[]',
		tools_used %[2]s NOT NULL DEFAULT '[]',
		progress TEXT NOT NULL DEFAULT '',
		updated_at %[1]s NOT NULL,
		UNIQUE (project_id, agent_id)
	);
	`, ts, js, blob)

	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	return r.ensureIndexes()
}

// ensureIndexes creates the lookup indexes for predictable performance.
func (r *Repository) ensureIndexes() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_project_id ON sessions(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_session_id ON requests(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_project_id ON requests(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_lists_request_id ON task_lists(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subtasks_task_list_id ON subtasks(task_list_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subtasks_status ON subtasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_subtasks_agent ON subtasks(agent_type, agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_subtask_id ON actions(subtask_id)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_created_at ON actions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON agent_messages(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_to_agent ON agent_messages(to_agent)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_topic ON agent_messages(topic)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_keyword ON routing_scores(keyword)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_tool ON routing_scores(tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_blockings_blocked ON blockings(blocked_id)`,
	}
	if dialect.IsPostgres(r.driver) {
		// Key-existence/containment lookups on open metadata bags.
		indexes = append(indexes,
			`CREATE INDEX IF NOT EXISTS idx_projects_metadata ON projects USING GIN (metadata jsonb_path_ops)`,
			`CREATE INDEX IF NOT EXISTS idx_requests_metadata ON requests USING GIN (metadata jsonb_path_ops)`,
		)
	}
	for _, stmt := range indexes {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
