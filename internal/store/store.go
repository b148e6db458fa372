package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gatehousehq/gatehouse/internal/model"
)

// Store persists all gateway state: API keys, rate-limit counters, call
// logs, admins, and the workspace resources behind the v1 API. It is backed
// by SQLite for single-node deployments or Postgres when multiple gateway
// instances share state.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the given driver ("sqlite" or "postgres") and runs
// migrations. For sqlite, dsn is a file path or ":memory:".
func Open(driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error

	switch driver {
	case "sqlite", "":
		driver = "sqlite"
		if dsn == "" || dsn == ":memory:" {
			dsn = ":memory:?_journal_mode=WAL"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		}
	case "postgres":
		db, err = sqlx.Connect("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	return s, nil
}

// OpenDir opens a SQLite store under dataDir, creating the directory if
// needed. Pass empty string for in-memory.
func OpenDir(dataDir string) (*Store, error) {
	if dataDir == "" {
		return Open("sqlite", "")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "gatehouse.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	return Open("sqlite", dsn)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set (use HashKey). CreatedAt is populated on insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(id, workspace_id, name, key_hash, prefix, scopes, allowed_ips, rate_limit_rpm, is_active, expires_at, created_at)
		VALUES
		(:id, :workspace_id, :name, :key_hash, :prefix, :scopes, :allowed_ips, :rate_limit_rpm, :is_active, :expires_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash. The hash is the
// only lookup path used for authentication; the prefix is display-only.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE key_hash = ?")
	if err := s.db.GetContext(ctx, &key, q, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all keys owned by a workspace, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, workspaceID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE workspace_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &keys, q, workspaceID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key inactive. The workspace ID is required so one
// workspace cannot revoke another's keys.
func (s *Store) RevokeAPIKey(ctx context.Context, id, workspaceID string) error {
	q := s.db.Rebind("UPDATE api_keys SET is_active = FALSE WHERE id = ? AND workspace_id = ?")
	result, err := s.db.ExecContext(ctx, q, id, workspaceID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes a key record entirely.
func (s *Store) DeleteAPIKey(ctx context.Context, id, workspaceID string) error {
	q := s.db.Rebind("DELETE FROM api_keys WHERE id = ? AND workspace_id = ?")
	result, err := s.db.ExecContext(ctx, q, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey sets the last_used_at timestamp for a key. Callers treat this
// as advisory telemetry; failures must not surface to the request path.
func (s *Store) TouchAPIKey(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rate-limit counters
// ---------------------------------------------------------------------------

// sqlite resolves unqualified columns in DO UPDATE against the target row;
// postgres needs the table qualification to disambiguate from "excluded".
const (
	incrementSQLite = `INSERT INTO rate_limit_counters (workspace_id, window_start, count)
		VALUES (?, ?, 1)
		ON CONFLICT (workspace_id, window_start)
		DO UPDATE SET count = count + 1 WHERE count < ?
		RETURNING count`

	incrementPostgres = `INSERT INTO rate_limit_counters (workspace_id, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (workspace_id, window_start)
		DO UPDATE SET count = rate_limit_counters.count + 1
		WHERE rate_limit_counters.count < $3
		RETURNING count`
)

// IncrementCounter atomically increments the fixed-window counter for a
// workspace, but only while the stored count is below ceiling. It returns
// the post-increment count and whether the increment was applied. A denied
// attempt leaves the counter untouched, so the count never grows past the
// ceiling under sustained abuse.
func (s *Store) IncrementCounter(ctx context.Context, workspaceID string, windowStart int64, ceiling int) (int, bool, error) {
	q := incrementSQLite
	if s.driver == "postgres" {
		q = incrementPostgres
	}

	var count int
	err := s.db.QueryRowxContext(ctx, q, workspaceID, windowStart, ceiling).Scan(&count)
	if err == sql.ErrNoRows {
		// Conflict hit with the ceiling already reached: no row returned.
		return ceiling, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment rate counter: %w", err)
	}
	return count, true, nil
}

// GetCounter returns the current count for a window, or 0 if no row exists.
func (s *Store) GetCounter(ctx context.Context, workspaceID string, windowStart int64) (int, error) {
	var count int
	q := s.db.Rebind("SELECT count FROM rate_limit_counters WHERE workspace_id = ? AND window_start = ?")
	err := s.db.GetContext(ctx, &count, q, workspaceID, windowStart)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rate counter: %w", err)
	}
	return count, nil
}

// PruneCounters deletes counters from windows that started before the given
// cutoff, reclaiming rows from rolled-over windows.
func (s *Store) PruneCounters(ctx context.Context, before int64) (int64, error) {
	q := s.db.Rebind("DELETE FROM rate_limit_counters WHERE window_start < ?")
	result, err := s.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("prune rate counters: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate counters rows affected: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Call logs
// ---------------------------------------------------------------------------

// InsertCallLog appends an API call log row. Logs are write-once and never
// read by the gateway decision path.
func (s *Store) InsertCallLog(ctx context.Context, entry *model.APICallLog) error {
	entry.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_call_logs
		(api_key_id, workspace_id, endpoint, method, status_code, latency_ms, error_message, created_at)
		VALUES
		(:api_key_id, :workspace_id, :endpoint, :method, :status_code, :latency_ms, :error_message, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, entry); err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

// CountCallLogs returns the number of logged calls for a workspace. Used by
// the internal usage endpoint and tests.
func (s *Store) CountCallLogs(ctx context.Context, workspaceID string) (int64, error) {
	var count int64
	q := s.db.Rebind("SELECT COUNT(*) FROM api_call_logs WHERE workspace_id = ?")
	if err := s.db.GetContext(ctx, &count, q, workspaceID); err != nil {
		return 0, fmt.Errorf("count call logs: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	const q = `INSERT INTO admins (email, password_hash, name, is_active, created_at, updated_at)
		VALUES (:email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	if s.driver == "sqlite" {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get admin id: %w", err)
		}
		admin.ID = id
	}
	return nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	q := s.db.Rebind("SELECT * FROM admins WHERE email = ?")
	if err := s.db.GetContext(ctx, &admin, q, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	q := s.db.Rebind("UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, now, now, id); err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Agents and knowledge
// ---------------------------------------------------------------------------

// CreateAgent inserts a workspace agent.
func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) error {
	agent.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO agents (id, workspace_id, name, is_active, created_at)
		VALUES (:id, :workspace_id, :name, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, agent); err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent returns an agent scoped to a workspace.
func (s *Store) GetAgent(ctx context.Context, id, workspaceID string) (*model.Agent, error) {
	var agent model.Agent
	q := s.db.Rebind("SELECT * FROM agents WHERE id = ? AND workspace_id = ?")
	if err := s.db.GetContext(ctx, &agent, q, id, workspaceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// ListAgents returns all agents in a workspace.
func (s *Store) ListAgents(ctx context.Context, workspaceID string) ([]model.Agent, error) {
	var agents []model.Agent
	q := s.db.Rebind("SELECT * FROM agents WHERE workspace_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &agents, q, workspaceID); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// CreateDocument inserts a knowledge document for an agent.
func (s *Store) CreateDocument(ctx context.Context, doc *model.KnowledgeDocument) error {
	doc.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO knowledge_documents (id, agent_id, workspace_id, title, content, created_at)
		VALUES (:id, :agent_id, :workspace_id, :title, :content, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, doc); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns all knowledge documents for an agent.
func (s *Store) ListDocuments(ctx context.Context, agentID, workspaceID string) ([]model.KnowledgeDocument, error) {
	var docs []model.KnowledgeDocument
	q := s.db.Rebind("SELECT * FROM knowledge_documents WHERE agent_id = ? AND workspace_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &docs, q, agentID, workspaceID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// SearchDocuments performs a case-insensitive substring search over an
// agent's documents.
func (s *Store) SearchDocuments(ctx context.Context, agentID, workspaceID, query string) ([]model.KnowledgeDocument, error) {
	var docs []model.KnowledgeDocument
	pattern := "%" + query + "%"
	q := s.db.Rebind(`SELECT * FROM knowledge_documents
		WHERE agent_id = ? AND workspace_id = ?
		AND (LOWER(title) LIKE LOWER(?) OR LOWER(content) LIKE LOWER(?))
		ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &docs, q, agentID, workspaceID, pattern, pattern); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return docs, nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// CreateWebhook inserts a tenant webhook registration.
func (s *Store) CreateWebhook(ctx context.Context, hook *model.Webhook) error {
	hook.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO webhooks (id, workspace_id, name, url, events, secret, is_active, created_at)
		VALUES (:id, :workspace_id, :name, :url, :events, :secret, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, hook); err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns all webhooks registered by a workspace.
func (s *Store) ListWebhooks(ctx context.Context, workspaceID string) ([]model.Webhook, error) {
	var hooks []model.Webhook
	q := s.db.Rebind("SELECT * FROM webhooks WHERE workspace_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &hooks, q, workspaceID); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

// DeleteWebhook removes a webhook, scoped to its owning workspace.
func (s *Store) DeleteWebhook(ctx context.Context, id, workspaceID string) error {
	q := s.db.Rebind("DELETE FROM webhooks WHERE id = ? AND workspace_id = ?")
	result, err := s.db.ExecContext(ctx, q, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete webhook rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// MCP tokens
// ---------------------------------------------------------------------------

// CreateMCPToken inserts an MCP token record.
func (s *Store) CreateMCPToken(ctx context.Context, token *model.MCPToken) error {
	token.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO mcp_tokens (id, workspace_id, token_hash, prefix, is_active, created_at)
		VALUES (:id, :workspace_id, :token_hash, :prefix, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, token); err != nil {
		return fmt.Errorf("insert mcp token: %w", err)
	}
	return nil
}

// GetMCPTokenByHash looks up an MCP token by its SHA-256 hash.
func (s *Store) GetMCPTokenByHash(ctx context.Context, hash string) (*model.MCPToken, error) {
	var token model.MCPToken
	q := s.db.Rebind("SELECT * FROM mcp_tokens WHERE token_hash = ?")
	if err := s.db.GetContext(ctx, &token, q, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get mcp token by hash: %w", err)
	}
	return &token, nil
}

// TouchMCPToken sets the last_used_at timestamp for an MCP token.
func (s *Store) TouchMCPToken(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE mcp_tokens SET last_used_at = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch mcp token: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashKey returns the hex-encoded SHA-256 hash of a raw credential string.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
