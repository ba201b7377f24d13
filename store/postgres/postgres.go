// Package postgres implements agentworld.Storage on PostgreSQL with jsonb
// record columns.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/agentworld"
)

// Store implements agentworld.Storage backed by PostgreSQL. Worlds, agents,
// and chats are single-row jsonb documents; UpdateChatData uses row-level
// locking so concurrent appenders serialize per chat.
type Store struct {
	pool *pgxpool.Pool
}

var _ agentworld.Storage = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables. Safe to call multiple times (all
// statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			config JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			config JSONB NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			memory JSONB NOT NULL DEFAULT '[]',
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS world_chats (
			world_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			PRIMARY KEY (world_id, chat_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_world ON agents(world_id, name)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_world ON chats(world_id, updated_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

// --- worlds ---

func (s *Store) SaveWorld(ctx context.Context, cfg agentworld.WorldConfig) error {
	if cfg.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal world: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO worlds (id, config, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET config = $2, updated_at = $3`,
		cfg.ID, data, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

func (s *Store) LoadWorld(ctx context.Context, worldID string) (agentworld.WorldConfig, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM worlds WHERE id = $1`, worldID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return agentworld.WorldConfig{}, false, nil
	}
	if err != nil {
		return agentworld.WorldConfig{}, false, fmt.Errorf("load world: %w", err)
	}
	var cfg agentworld.WorldConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return agentworld.WorldConfig{}, false, fmt.Errorf("parse world: %w", err)
	}
	return cfg, true, nil
}

func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM world_chats WHERE world_id = $1`,
		`DELETE FROM chats WHERE world_id = $1`,
		`DELETE FROM agents WHERE world_id = $1`,
		`DELETE FROM worlds WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, worldID); err != nil {
			return fmt.Errorf("delete world: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT config FROM worlds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []agentworld.WorldConfig
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		var cfg agentworld.WorldConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) WorldExists(ctx context.Context, worldID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM worlds WHERE id = $1)`, worldID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("world exists: %w", err)
	}
	return exists, nil
}

// --- agents ---

func (s *Store) SaveAgent(ctx context.Context, worldID string, rec agentworld.AgentRecord) error {
	if rec.Config.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	memJSON, err := json.Marshal(memOrEmpty(rec.Memory))
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (world_id, id, name, config, system_prompt, memory)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (world_id, id) DO UPDATE SET name = $3, config = $4, system_prompt = $5, memory = $6`,
		worldID, rec.Config.ID, rec.Config.Name, cfgJSON, rec.Config.SystemPrompt, memJSON)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.AgentRecord, bool, error) {
	var cfgJSON, memJSON []byte
	var prompt string
	err := s.pool.QueryRow(ctx,
		`SELECT config, system_prompt, memory FROM agents WHERE world_id = $1 AND id = $2`,
		worldID, agentID).Scan(&cfgJSON, &prompt, &memJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return agentworld.AgentRecord{}, false, nil
	}
	if err != nil {
		return agentworld.AgentRecord{}, false, fmt.Errorf("load agent: %w", err)
	}
	var rec agentworld.AgentRecord
	if err := json.Unmarshal(cfgJSON, &rec.Config); err != nil {
		return agentworld.AgentRecord{}, false, fmt.Errorf("parse agent: %w", err)
	}
	if prompt == "" {
		prompt = agentworld.DefaultSystemPrompt
	}
	rec.Config.SystemPrompt = prompt
	if err := json.Unmarshal(memJSON, &rec.Memory); err != nil {
		return agentworld.AgentRecord{}, false, fmt.Errorf("parse memory: %w", err)
	}
	return rec, true, nil
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM agents WHERE world_id = $1 AND id = $2`, worldID, agentID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.AgentConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT config, system_prompt FROM agents WHERE world_id = $1 ORDER BY name`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []agentworld.AgentConfig
	for rows.Next() {
		var cfgJSON []byte
		var prompt string
		if err := rows.Scan(&cfgJSON, &prompt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		var cfg agentworld.AgentConfig
		if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET memory = $1 WHERE world_id = $2 AND id = $3`,
		memJSON, worldID, agentID)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chats (world_id, id, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (world_id, id) DO UPDATE SET data = $3, updated_at = $4`,
		worldID, data.Chat.ID, body, data.Chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (s *Store) LoadChatData(ctx context.Context, worldID, chatID string) (agentworld.ChatData, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM chats WHERE world_id = $1 AND id = $2`, worldID, chatID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return agentworld.ChatData{}, false, nil
	}
	if err != nil {
		return agentworld.ChatData{}, false, fmt.Errorf("load chat: %w", err)
	}
	var data agentworld.ChatData
	if err := json.Unmarshal(body, &data); err != nil {
		return agentworld.ChatData{}, false, fmt.Errorf("parse chat: %w", err)
	}
	return data, true, nil
}

func (s *Store) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, `DELETE FROM world_chats WHERE world_id = $1 AND chat_id = $2`, worldID, chatID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE world_id = $1 AND id = $2`, worldID, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM chats WHERE world_id = $1 ORDER BY updated_at DESC`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []agentworld.Chat
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		var data agentworld.ChatData
		if err := json.Unmarshal(body, &data); err != nil {
			continue
		}
		out = append(out, data.Chat)
	}
	return out, rows.Err()
}

// UpdateChatData applies fn under SELECT ... FOR UPDATE, so concurrent
// appenders serialize per chat row.
func (s *Store) UpdateChatData(ctx context.Context, worldID, chatID string, fn func(*agentworld.ChatData)) (agentworld.ChatData, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var body []byte
	err = tx.QueryRow(ctx,
		`SELECT data FROM chats WHERE world_id = $1 AND id = $2 FOR UPDATE`,
		worldID, chatID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return agentworld.ChatData{}, &agentworld.ErrNotFound{Kind: "chat", ID: chatID}
	}
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("load chat: %w", err)
	}
	var data agentworld.ChatData
	if err := json.Unmarshal(body, &data); err != nil {
		return agentworld.ChatData{}, fmt.Errorf("parse chat: %w", err)
	}
	fn(&data)
	next, err := json.Marshal(data)
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("marshal chat: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE chats SET data = $1, updated_at = $2 WHERE world_id = $3 AND id = $4`,
		next, data.Chat.UpdatedAt, worldID, chatID)
	if err != nil {
		return agentworld.ChatData{}, fmt.Errorf("update chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO world_chats (world_id, chat_id, snapshot) VALUES ($1, $2, $3)
		 ON CONFLICT (world_id, chat_id) DO UPDATE SET snapshot = $3`,
		worldID, chatID, body)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadWorldChat(ctx context.Context, worldID, chatID string) (agentworld.WorldChat, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM world_chats WHERE world_id = $1 AND chat_id = $2`,
		worldID, chatID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return agentworld.WorldChat{}, false, nil
	}
	if err != nil {
		return agentworld.WorldChat{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap agentworld.WorldChat
	if err := json.Unmarshal(body, &snap); err != nil {
		return agentworld.WorldChat{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

func memOrEmpty(mem []agentworld.AgentMessage) []agentworld.AgentMessage {
	if mem == nil {
		return []agentworld.AgentMessage{}
	}
	return mem
}
