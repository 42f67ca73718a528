package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"planit/internal/chat"
	"planit/internal/plan"
	"planit/internal/session"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL DEFAULT '',
		turn_count         INTEGER NOT NULL DEFAULT 0,
		current_plan       TEXT NOT NULL DEFAULT '',
		pending_plan       TEXT NOT NULL DEFAULT '',
		awaiting_confirm   INTEGER NOT NULL DEFAULT 0,
		summary            TEXT NOT NULL DEFAULT '',
		summarized_through INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS plan_versions (
		session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		version        INTEGER NOT NULL,
		plan           TEXT NOT NULL,
		change_summary TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		PRIMARY KEY(session_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, sess *session.Session) error {
	now := nowUTC()
	created := sess.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, turn_count, current_plan, pending_plan,
			awaiting_confirm, summary, summarized_through, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.TurnCount,
		marshalPlan(sess.CurrentPlan), marshalPlan(sess.PendingPlan),
		boolToInt(sess.AwaitingConfirmation), sess.ConversationSummary,
		sess.SummarizedThrough, created.Format(time.RFC3339Nano), now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*session.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, turn_count, current_plan, pending_plan,
			awaiting_confirm, summary, summarized_through, created_at
		FROM sessions WHERE id=?`, id)

	var sess session.Session
	var currentJSON, pendingJSON, createdAt string
	var awaiting int
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TurnCount, &currentJSON, &pendingJSON,
		&awaiting, &sess.ConversationSummary, &sess.SummarizedThrough, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.AwaitingConfirmation = awaiting != 0
	sess.CurrentPlan = unmarshalPlan(currentJSON)
	sess.PendingPlan = unmarshalPlan(pendingJSON)
	if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		sess.CreatedAt = t
	}

	if sess.Messages, err = s.loadMessages(ctx, id); err != nil {
		return nil, err
	}
	if sess.PlanVersions, err = s.loadVersions(ctx, id); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SaveTurn 在单个事务中写入会话状态、消息和可选的新版本。部分写入
// 是不允许的：失败时存储状态保持原样。
// SaveTurn writes session state, messages, and the optional new plan
// version in a single transaction. Partial application is disallowed:
// on failure the stored state is untouched.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sess *session.Session, v *plan.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET user_id=?, turn_count=?, current_plan=?, pending_plan=?,
			awaiting_confirm=?, summary=?, summarized_through=?, updated_at=?
		WHERE id=?`,
		sess.UserID, sess.TurnCount,
		marshalPlan(sess.CurrentPlan), marshalPlan(sess.PendingPlan),
		boolToInt(sess.AwaitingConfirmation), sess.ConversationSummary,
		sess.SummarizedThrough, now, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	// 消息整体重写，保持 seq 连续 / Rewrite messages
	// wholesale keeping seq contiguous.
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id=?", sess.ID); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, msg := range sess.Messages {
		if _, err := stmt.ExecContext(ctx, sess.ID, i, string(msg.Role), msg.Content,
			msg.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if v != nil {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM plan_versions WHERE session_id=?", sess.ID).Scan(&count); err != nil {
			return fmt.Errorf("count versions: %w", err)
		}
		if v.Version != count+1 {
			return fmt.Errorf("%w: got %d, want %d", ErrVersionConflict, v.Version, count+1)
		}
		planJSON, err := json.Marshal(v.Plan)
		if err != nil {
			return fmt.Errorf("marshal version plan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plan_versions (session_id, version, plan, change_summary, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ID, v.Version, string(planJSON), v.ChangeSummary,
			v.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_count, current_plan FROM sessions
		WHERE user_id=? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var planJSON string
		if err := rows.Scan(&sum.SessionID, &sum.TurnCount, &planJSON); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if p := unmarshalPlan(planJSON); p != nil {
			sum.HasPlan = true
			sum.PlanName = p.Title
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role, createdAt string
		if err := rows.Scan(&role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = chat.Role(role)
		if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			msg.Timestamp = t
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) loadVersions(ctx context.Context, sessionID string) ([]plan.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, plan, change_summary, created_at FROM plan_versions
		WHERE session_id=? ORDER BY version`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []plan.Version
	for rows.Next() {
		var v plan.Version
		var planJSON, createdAt string
		if err := rows.Scan(&v.Version, &planJSON, &v.ChangeSummary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		if err := json.Unmarshal([]byte(planJSON), &v.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal version %d plan: %w", v.Version, err)
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			v.CreatedAt = t
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func marshalPlan(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalPlan(raw string) *plan.Plan {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var p plan.Plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil
	}
	return &p
}
