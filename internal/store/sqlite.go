// Package store is the durable State Store: conversations, turns, pending
// executions, the audit log, and the persisted LLM provider configuration.
// Grounded on the teacher's internal/db/sqlite.go (versioned migrations
// tracked in a schema_versions table, WAL + foreign_keys pragmas,
// modernc.org/sqlite pure-Go driver) and internal/db/db.go's Store
// interface shape, narrowed to this engine's data model.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/model"
)

// Store is the persistence interface consumed by the Conversation Driver,
// Execution Engine and Approval Controller.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	CreateConversation(ctx context.Context, id, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error)
	AppendTurn(ctx context.Context, conversationID string, turn model.Turn) error
	ReplaceLastTurn(ctx context.Context, conversationID string, turn model.Turn) error
	DeleteConversation(ctx context.Context, id string) error
	// WithConversationLock serialises reads/writes to one conversation
	// (spec.md §4.5's "per-conversation logical lock"), returning
	// apierr.ConversationBusy without calling fn if the lock is already
	// held.
	WithConversationLock(ctx context.Context, conversationID string, fn func() error) error

	CreatePending(ctx context.Context, pe *model.PendingExecution) error
	GetPending(ctx context.Context, id string) (*model.PendingExecution, error)
	ListPending(ctx context.Context) ([]*model.PendingExecution, error)
	TransitionPending(ctx context.Context, id string, to model.PendingStatus) (*model.PendingExecution, bool, error)
	SweepExpiredPending(ctx context.Context, now time.Time, ttl time.Duration) (int, error)

	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
	ListAudit(ctx context.Context, limit int) ([]*model.AuditRecord, error)

	SaveLLMConfig(ctx context.Context, provider, modelName, apiKey, baseURL string) error
	LoadLLMConfig(ctx context.Context) (provider, modelName, apiKey, baseURL string, ok bool, err error)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		data TEXT NOT NULL,
		UNIQUE(conversation_id, seq)
	);`,
	`CREATE TABLE IF NOT EXISTS pending_executions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		call_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		parameters TEXT NOT NULL,
		classification TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_records (
		execution_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		parameters TEXT NOT NULL,
		approver TEXT,
		status TEXT NOT NULL,
		requested_at TIMESTAMP NOT NULL,
		decided_at TIMESTAMP,
		completed_at TIMESTAMP,
		result_size INTEGER NOT NULL DEFAULT 0,
		result_preview TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_records(conversation_id);`,
	`CREATE TABLE IF NOT EXISTS llm_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		api_key TEXT,
		base_url TEXT,
		updated_at TIMESTAMP NOT NULL
	);`,
}

type sqliteStore struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pragmas and pending migrations.
func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, WAL for reader concurrency

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (version INTEGER PRIMARY KEY, applied_at TIMESTAMP);`); err != nil {
		return nil, fmt.Errorf("store: schema_versions: %w", err)
	}
	var current int
	_ = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current)
	for i := current; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return nil, fmt.Errorf("store: migration %d: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_versions(version, applied_at) VALUES (?, ?)`, i+1, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("store: recording migration %d: %w", i+1, err)
		}
	}

	return &sqliteStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *sqliteStore) WithConversationLock(ctx context.Context, conversationID string, fn func() error) error {
	l := s.lockFor(conversationID)
	if !l.TryLock() {
		return apierr.ConversationBusy()
	}
	defer l.Unlock()
	return fn()
}

func (s *sqliteStore) CreateConversation(ctx context.Context, id, title string) (*model.Conversation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return &model.Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *sqliteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)
	conv := &model.Conversation{}
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM turns WHERE conversation_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		var turn model.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, fmt.Errorf("store: decode turn: %w", err)
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, rows.Err()
}

func (s *sqliteStore) ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.updated_at, COALESCE(t.cnt, 0)
		FROM conversations c
		LEFT JOIN (SELECT conversation_id, COUNT(*) cnt FROM turns GROUP BY conversation_id) t
			ON t.conversation_id = c.id
		ORDER BY c.updated_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()
	var out []model.ConversationSummary
	for rows.Next() {
		var sum model.ConversationSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.LastUpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("store: scan conversation summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendTurn(ctx context.Context, conversationID string, turn model.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("store: encode turn: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin append turn: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE conversation_id = ?`, conversationID).Scan(&nextSeq); err != nil {
		return fmt.Errorf("store: next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO turns (conversation_id, seq, data) VALUES (?, ?, ?)`, conversationID, nextSeq, raw); err != nil {
		return fmt.Errorf("store: insert turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, turn.Timestamp, conversationID); err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return tx.Commit()
}

// ReplaceLastTurn overwrites the most recently appended turn. Nothing in
// the repository calls it; the driver's resume path appends the decision
// outcome as a new turn instead.
func (s *sqliteStore) ReplaceLastTurn(ctx context.Context, conversationID string, turn model.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("store: encode turn: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace turn: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&lastSeq); err != nil {
		return fmt.Errorf("store: last seq: %w", err)
	}
	if lastSeq < 0 {
		return fmt.Errorf("store: no turn to replace for conversation %s", conversationID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE turns SET data = ? WHERE conversation_id = ? AND seq = ?`, raw, conversationID, lastSeq); err != nil {
		return fmt.Errorf("store: replace turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, turn.Timestamp, conversationID); err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	return nil
}

func (s *sqliteStore) CreatePending(ctx context.Context, pe *model.PendingExecution) error {
	params, err := json.Marshal(pe.Parameters)
	if err != nil {
		return fmt.Errorf("store: encode pending params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_executions (id, conversation_id, call_id, tool_name, parameters, classification, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pe.ID, pe.ConversationID, pe.CallID, pe.ToolName, params, pe.Classification, pe.CreatedAt, pe.Status)
	if err != nil {
		return fmt.Errorf("store: create pending: %w", err)
	}
	return nil
}

func scanPending(row interface {
	Scan(dest ...any) error
}) (*model.PendingExecution, error) {
	pe := &model.PendingExecution{}
	var params string
	if err := row.Scan(&pe.ID, &pe.ConversationID, &pe.CallID, &pe.ToolName, &params, &pe.Classification, &pe.CreatedAt, &pe.Status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &pe.Parameters); err != nil {
		return nil, fmt.Errorf("store: decode pending params: %w", err)
	}
	return pe, nil
}

func (s *sqliteStore) GetPending(ctx context.Context, id string) (*model.PendingExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, call_id, tool_name, parameters, classification, created_at, status
		FROM pending_executions WHERE id = ?`, id)
	pe, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pending: %w", err)
	}
	return pe, nil
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]*model.PendingExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, call_id, tool_name, parameters, classification, created_at, status
		FROM pending_executions WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}
	defer rows.Close()
	var out []*model.PendingExecution
	for rows.Next() {
		pe, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan pending: %w", err)
		}
		out = append(out, pe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, rows.Err()
}

// TransitionPending is the atomic compare-and-set required by spec.md §4.5
// and §4.6: it only succeeds if the record is currently `pending`. The
// second return value reports whether this call performed the
// transition (false means the record was already terminal — the caller
// uses this to implement the idempotent re-send / AlreadyDecided
// semantics of §4.6).
func (s *sqliteStore) TransitionPending(ctx context.Context, id string, to model.PendingStatus) (*model.PendingExecution, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_executions SET status = ? WHERE id = ? AND status = 'pending'`, to, id)
	if err != nil {
		return nil, false, fmt.Errorf("store: transition pending: %w", err)
	}
	n, _ := res.RowsAffected()
	pe, err := s.GetPending(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return pe, n > 0, nil
}

func (s *sqliteStore) SweepExpiredPending(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_executions SET status = 'expired' WHERE status = 'pending' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: sweep expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("store: encode audit params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (execution_id, conversation_id, tool_name, parameters, approver, status, requested_at, decided_at, completed_at, result_size, result_preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			approver = excluded.approver,
			status = excluded.status,
			decided_at = excluded.decided_at,
			completed_at = excluded.completed_at,
			result_size = excluded.result_size,
			result_preview = excluded.result_preview`,
		rec.ExecutionID, rec.ConversationID, rec.ToolName, params, rec.Approver, rec.Status,
		rec.RequestedAt, rec.DecidedAt, rec.CompletedAt, rec.ResultSize, rec.ResultPreview)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, conversation_id, tool_name, parameters, approver, status, requested_at, decided_at, completed_at, result_size, result_preview
		FROM audit_records ORDER BY requested_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
	}
	defer rows.Close()
	var out []*model.AuditRecord
	for rows.Next() {
		rec := &model.AuditRecord{}
		var params string
		var approver sql.NullString
		var decidedAt, completedAt sql.NullTime
		if err := rows.Scan(&rec.ExecutionID, &rec.ConversationID, &rec.ToolName, &params, &approver, &rec.Status,
			&rec.RequestedAt, &decidedAt, &completedAt, &rec.ResultSize, &rec.ResultPreview); err != nil {
			return nil, fmt.Errorf("store: scan audit: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("store: decode audit params: %w", err)
		}
		rec.Approver = approver.String
		if decidedAt.Valid {
			rec.DecidedAt = &decidedAt.Time
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveLLMConfig(ctx context.Context, provider, modelName, apiKey, baseURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_config (id, provider, model, api_key, base_url, updated_at) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET provider = excluded.provider, model = excluded.model,
			api_key = excluded.api_key, base_url = excluded.base_url, updated_at = excluded.updated_at`,
		provider, modelName, apiKey, baseURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save llm config: %w", err)
	}
	return nil
}

func (s *sqliteStore) LoadLLMConfig(ctx context.Context) (provider, modelName, apiKey, baseURL string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT provider, model, api_key, base_url FROM llm_config WHERE id = 1`)
	var apiKeyNS, baseURLNS sql.NullString
	scanErr := row.Scan(&provider, &modelName, &apiKeyNS, &baseURLNS)
	if scanErr == sql.ErrNoRows {
		return "", "", "", "", false, nil
	}
	if scanErr != nil {
		return "", "", "", "", false, fmt.Errorf("store: load llm config: %w", scanErr)
	}
	return provider, modelName, apiKeyNS.String, baseURLNS.String, true, nil
}
