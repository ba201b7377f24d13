// Package sqlite implements agentworld.Storage on pure-Go SQLite. Zero CGO
// required. Records are stored as JSON text columns keyed by id, keeping
// the schema in lockstep with the file backend's documents.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/agentworld"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing. If not set, no
// logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store implements agentworld.Storage backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ agentworld.Storage = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection pool with SetMaxOpenConns(1) so that all
// goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: agentworld.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			config TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			config TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			memory TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS world_chats (
			world_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			PRIMARY KEY (world_id, chat_id)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_agents_world ON agents(world_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chats_world ON chats(world_id, updated_at)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// --- worlds ---

func (s *Store) SaveWorld(ctx context.Context, cfg agentworld.WorldConfig) error {
	start := time.Now()
	if cfg.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal world: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO worlds (id, config, updated_at) VALUES (?, ?, ?)`,
		cfg.ID, string(data), cfg.UpdatedAt.UnixMilli())
	if err != nil {
		s.logger.Error("sqlite: save world failed", "world", cfg.ID, "error", err)
		return fmt.Errorf("save world: %w", err)
	}
	s.logger.Debug("sqlite: save world ok", "world", cfg.ID, "duration", time.Since(start))
	return nil
}

func (s *Store) LoadWorld(ctx context.Context, worldID string) (agentworld.WorldConfig, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM worlds WHERE id = ?`, worldID).Scan(&data)
	if err == sql.ErrNoRows {
		return agentworld.WorldConfig{}, false, nil
	}
	if err != nil {
		return agentworld.WorldConfig{}, false, fmt.Errorf("load world: %w", err)
	}
	var cfg agentworld.WorldConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return agentworld.WorldConfig{}, false, fmt.Errorf("parse world: %w", err)
	}
	return cfg, true, nil
}

func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM world_chats WHERE world_id = ?`,
		`DELETE FROM chats WHERE world_id = ?`,
		`DELETE FROM agents WHERE world_id = ?`,
		`DELETE FROM worlds WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, worldID); err != nil {
			return fmt.Errorf("delete world: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: delete world ok", "world", worldID)
	return nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM worlds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []agentworld.WorldConfig
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		var cfg agentworld.WorldConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) WorldExists(ctx context.Context, worldID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM worlds WHERE id = ?`, worldID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("world exists: %w", err)
	}
	return true, nil
}

// --- agents ---

func (s *Store) SaveAgent(ctx context.Context, worldID string, rec agentworld.AgentRecord) error {
	start := time.Now()
	if rec.Config.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	prompt := rec.Config.SystemPrompt
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	memJSON, err := json.Marshal(memOrEmpty(rec.Memory))
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agents (world_id, id, name, config, system_prompt, memory)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		worldID, rec.Config.ID, rec.Config.Name, string(cfgJSON), prompt, string(memJSON))
	if err != nil {
		s.logger.Error("sqlite: save agent failed", "world", worldID, "agent", rec.Config.ID, "error", err)
		return fmt.Errorf("save agent: %w", err)
	}
	s.logger.Debug("sqlite: save agent ok", "world", worldID, "agent", rec.Config.ID, "memory", len(rec.Memory), "duration", time.Since(start))
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.AgentRecord, bool, error) {
	var cfgJSON, prompt, memJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT config, system_prompt, memory FROM agents WHERE world_id = ? AND id = ?`,
		worldID, agentID).Scan(&cfgJSON, &prompt, &memJSON)
	if err == sql.ErrNoRows {
		return agentworld.AgentRecord{}, false, nil
	}
	if err != nil {
		return agentworld.AgentRecord{}, false, fmt.Errorf("load agent: %w", err)
	}
	var rec agentworld.AgentRecord
	if err := json.Unmarshal([]byte(cfgJSON), &rec.Config); err != nil {
		return agentworld.AgentRecord{}, false, fmt.Errorf("parse agent: %w", err)
	}
	if prompt == "" {
		prompt = agentworld.DefaultSystemPrompt
	}
	rec.Config.SystemPrompt = prompt
	if err := json.Unmarshal([]byte(memJSON), &rec.Memory); err != nil {
		return agentworld.AgentRecord{}, false, fmt.Errorf("parse memory: %w", err)
	}
	return rec, true, nil
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE world_id = ? AND id = ?`, worldID, agentID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT config, system_prompt FROM agents WHERE world_id = ? ORDER BY name`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []agentworld.AgentConfig
	for rows.Next() {
		var cfgJSON, prompt string
		if err := rows.Scan(&cfgJSON, &prompt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		var cfg agentworld.AgentConfig
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			continue
		}
		cfg.SystemPrompt = prompt
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []agentworld.AgentMessage) error {
	memJSON, err := json.Marshal(memOrEmpty(memory))
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET memory = ? WHERE world_id = ? AND id = ?`,
		string(memJSON), worldID, agentID)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &agentworld.ErrNotFound{Kind: "agent", ID: agentID}
	}
	return nil
}

// --- chats ---

func (s *Store) SaveChatData(ctx context.Context, worldID string, data agentworld.ChatData) error {
	if data.Chat.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chats (world_id, id, data, updated_at) VALUES (?, ?, ?, ?)`,
		worldID, data.Chat.ID, string(body), data.Chat.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (s *Store) LoadChatData(ctx context.Context, worldID, chatID string) (agentworld.ChatData, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chats WHERE world_id = ? AND id = ?`, worldID, chatID).Scan(&body)
	if err == sql.ErrNoRows {
		return agentworld.ChatData{}, false, nil
	}
	if err != nil {
		return agentworld.ChatData{}, false, fmt.Errorf("load chat: %w", err)
	}
	var data agentworld.ChatData
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return agentworld.ChatData{}, false, fmt.Errorf("parse chat: %w", err)
	}
	return data, true, nil
}

func (s *Store) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM world_chats WHERE world_id = ? AND chat_id = ?`, worldID, chatID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE world_id = ? AND id = ?`, worldID, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM chats WHERE world_id = ? ORDER BY updated_at DESC`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []agentworld.Chat
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		var data agentworld.ChatData
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			continue
		}
		out = append(out, data.Chat)
	}
	return out, rows.Err()
}

// UpdateChatData applies fn inside a transaction. The single shared
// connection serializes concurrent updaters.
func (s *Store) UpdateChatData(ctx context.Context, worldID, chatID string, fn func(*agentworld.ChatData)) (agentworld.ChatData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM chats WHERE world_id = ? AND id = ?`, worldID, chatID).Scan(&body)
	if err == sql.ErrNoRows {
		return agentworld.ChatData{}, &agentworld.ErrNotFound{Kind: "chat", ID: chatID}
	}
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("load chat: %w", err)
	}
	var data agentworld.ChatData
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return agentworld.ChatData{}, fmt.Errorf("parse chat: %w", err)
	}
	fn(&data)
	next, err := json.Marshal(data)
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("marshal chat: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET data = ?, updated_at = ? WHERE world_id = ? AND id = ?`,
		string(next), data.Chat.UpdatedAt.UnixMilli(), worldID, chatID)
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("update chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return agentworld.ChatData{}, fmt.Errorf("commit tx: %w", err)
	}
	return data, nil
}

// --- snapshots ---

func (s *Store) SaveWorldChat(ctx context.Context, worldID, chatID string, snap agentworld.WorldChat) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO world_chats (world_id, chat_id, snapshot) VALUES (?, ?, ?)`,
		worldID, chatID, string(body))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadWorldChat(ctx context.Context, worldID, chatID string) (agentworld.WorldChat, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM world_chats WHERE world_id = ? AND chat_id = ?`, worldID, chatID).Scan(&body)
	if err == sql.ErrNoRows {
		return agentworld.WorldChat{}, false, nil
	}
	if err != nil {
		return agentworld.WorldChat{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap agentworld.WorldChat
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return agentworld.WorldChat{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	return s.db.Close()
}

func memOrEmpty(mem []agentworld.AgentMessage) []agentworld.AgentMessage {
	if mem == nil {
		return []agentworld.AgentMessage{}
	}
	return mem
}
