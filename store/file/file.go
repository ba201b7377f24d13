// Package file implements agentworld.Storage as a human-inspectable
// directory tree. It is the reference backend: one directory per world,
// one per agent, one JSON file per chat.
//
//	<root>/<worldId>/config.json
//	<root>/<worldId>/agents/<agentId>/config.json
//	<root>/<worldId>/agents/<agentId>/system-prompt.md
//	<root>/<worldId>/agents/<agentId>/memory.json
//	<root>/<worldId>/chats/<chatId>.json
//
// Every write goes through a temp file in the destination directory
// followed by an atomic rename, so a crash never leaves a torn file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nevindra/agentworld"
)

// StoreOption configures a file Store.
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

// Store implements agentworld.Storage over a directory tree rooted at a
// single data path.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-chat serialization for UpdateChatData
}

var _ agentworld.Storage = (*Store)(nil)
var _ agentworld.MaintenanceStorage = (*Store)(nil)

// New creates a Store rooted at dir, creating it if absent.
func New(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, &agentworld.ErrValidation{Field: "dir", Reason: "required"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &agentworld.ErrStorage{Op: "mkdir root", Err: err}
	}
	s := &Store{root: dir, logger: agentworld.NopLogger(), locks: make(map[string]*sync.Mutex)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("file: store opened", "root", dir)
	return s, nil
}

// Root returns the data directory the store operates on.
func (s *Store) Root() string { return s.root }

// --- paths ---

func (s *Store) worldDir(worldID string) string {
	return filepath.Join(s.root, worldID)
}

func (s *Store) worldConfigPath(worldID string) string {
	return filepath.Join(s.worldDir(worldID), "config.json")
}

func (s *Store) agentDir(worldID, agentID string) string {
	return filepath.Join(s.worldDir(worldID), "agents", agentID)
}

func (s *Store) chatPath(worldID, chatID string) string {
	return filepath.Join(s.worldDir(worldID), "chats", chatID+".json")
}

// --- worlds ---

// SaveWorld writes the world's config.json, creating the directory on first
// save.
func (s *Store) SaveWorld(ctx context.Context, cfg agentworld.WorldConfig) error {
	start := time.Now()
	if cfg.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	if err := os.MkdirAll(s.worldDir(cfg.ID), 0o755); err != nil {
		return &agentworld.ErrStorage{Op: "mkdir world", Err: err}
	}
	if err := writeJSON(s.worldConfigPath(cfg.ID), cfg); err != nil {
		s.logger.Error("file: save world failed", "world", cfg.ID, "error", err)
		return err
	}
	s.logger.Debug("file: save world ok", "world", cfg.ID, "duration", time.Since(start))
	return nil
}

// LoadWorld reads a world's config. Absence is not an error.
func (s *Store) LoadWorld(ctx context.Context, worldID string) (agentworld.WorldConfig, bool, error) {
	var cfg agentworld.WorldConfig
	ok, err := readJSON(s.worldConfigPath(worldID), &cfg)
	return cfg, ok, err
}

// DeleteWorld removes the world's entire directory.
func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	if worldID == "" || strings.ContainsAny(worldID, `/\`) {
		return &agentworld.ErrValidation{Field: "worldId", Reason: "invalid"}
	}
	if err := os.RemoveAll(s.worldDir(worldID)); err != nil {
		return &agentworld.ErrStorage{Op: "delete world", Err: err}
	}
	s.logger.Debug("file: delete world ok", "world", worldID)
	return nil
}

// ListWorlds enumerates world configs, sorted by id. Directories without a
// readable config.json are skipped.
func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldConfig, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &agentworld.ErrStorage{Op: "list worlds", Err: err}
	}
	var out []agentworld.WorldConfig
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var cfg agentworld.WorldConfig
		ok, err := readJSON(s.worldConfigPath(e.Name()), &cfg)
		if err != nil || !ok {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WorldExists reports whether the world's config file is present.
func (s *Store) WorldExists(ctx context.Context, worldID string) (bool, error) {
	_, err := os.Stat(s.worldConfigPath(worldID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &agentworld.ErrStorage{Op: "stat world", Err: err}
}

// --- agents ---

// SaveAgent writes the agent's three files: config.json with the prompt
// stripped, system-prompt.md, and memory.json.
func (s *Store) SaveAgent(ctx context.Context, worldID string, rec agentworld.AgentRecord) error {
	start := time.Now()
	if rec.Config.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	dir := s.agentDir(worldID, rec.Config.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &agentworld.ErrStorage{Op: "mkdir agent", Err: err}
	}
	if err := writeJSON(filepath.Join(dir, "config.json"), rec.Config); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, "system-prompt.md"), []byte(rec.Config.SystemPrompt)); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "memory.json"), memoryDoc(rec.Memory)); err != nil {
		return err
	}
	s.logger.Debug("file: save agent ok", "world", worldID, "agent", rec.Config.ID, "memory", len(rec.Memory), "duration", time.Since(start))
	return nil
}

// LoadAgent reads an agent's record. A missing system-prompt.md or
// memory.json yields the default prompt and empty memory, never an error.
func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.AgentRecord, bool, error) {
	dir := s.agentDir(worldID, agentID)
	var rec agentworld.AgentRecord
	ok, err := readJSON(filepath.Join(dir, "config.json"), &rec.Config)
	if err != nil || !ok {
		return agentworld.AgentRecord{}, ok, err
	}

	prompt, err := os.ReadFile(filepath.Join(dir, "system-prompt.md"))
	switch {
	case err == nil:
		rec.Config.SystemPrompt = string(prompt)
	case errors.Is(err, fs.ErrNotExist):
		rec.Config.SystemPrompt = agentworld.DefaultSystemPrompt
	default:
		return agentworld.AgentRecord{}, false, &agentworld.ErrStorage{Op: "read prompt", Err: err}
	}

	var mem memoryFile
	if _, err := readJSON(filepath.Join(dir, "memory.json"), &mem); err != nil {
		return agentworld.AgentRecord{}, false, err
	}
	rec.Memory = mem.Messages
	return rec, true, nil
}

// DeleteAgent removes the agent's directory.
func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if agentID == "" || strings.ContainsAny(agentID, `/\`) {
		return &agentworld.ErrValidation{Field: "agentId", Reason: "invalid"}
	}
	if err := os.RemoveAll(s.agentDir(worldID, agentID)); err != nil {
		return &agentworld.ErrStorage{Op: "delete agent", Err: err}
	}
	return nil
}

// ListAgents enumerates agent configs under a world, sorted by name.
func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.AgentConfig, error) {
	dir := filepath.Join(s.worldDir(worldID), "agents")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &agentworld.ErrStorage{Op: "list agents", Err: err}
	}
	var out []agentworld.AgentConfig
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var cfg agentworld.AgentConfig
		ok, err := readJSON(filepath.Join(dir, e.Name(), "config.json"), &cfg)
		if err != nil || !ok {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveAgentMemory rewrites only memory.json. This is the hot path: passive
// memory makes every delivered message a write.
func (s *Store) SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []agentworld.AgentMessage) error {
	dir := s.agentDir(worldID, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &agentworld.ErrStorage{Op: "mkdir agent", Err: err}
	}
	return writeJSON(filepath.Join(dir, "memory.json"), memoryDoc(memory))
}

// --- chats ---

// SaveChatData writes a chat file.
func (s *Store) SaveChatData(ctx context.Context, worldID string, data agentworld.ChatData) error {
	if data.Chat.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	dir := filepath.Join(s.worldDir(worldID), "chats")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &agentworld.ErrStorage{Op: "mkdir chats", Err: err}
	}
	return writeJSON(s.chatPath(worldID, data.Chat.ID), data)
}

// LoadChatData reads a chat file. Absence is not an error.
func (s *Store) LoadChatData(ctx context.Context, worldID, chatID string) (agentworld.ChatData, bool, error) {
	var data agentworld.ChatData
	ok, err := readJSON(s.chatPath(worldID, chatID), &data)
	return data, ok, err
}

// DeleteChatData removes a chat file.
func (s *Store) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	if chatID == "" || strings.ContainsAny(chatID, `/\`) {
		return &agentworld.ErrValidation{Field: "chatId", Reason: "invalid"}
	}
	if err := os.Remove(s.chatPath(worldID, chatID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &agentworld.ErrStorage{Op: "delete chat", Err: err}
	}
	return nil
}

// ListChats enumerates chat summaries under a world, most recently updated
// first.
func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.Chat, error) {
	dir := filepath.Join(s.worldDir(worldID), "chats")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &agentworld.ErrStorage{Op: "list chats", Err: err}
	}
	var out []agentworld.Chat
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var data agentworld.ChatData
		ok, err := readJSON(filepath.Join(dir, e.Name()), &data)
		if err != nil || !ok {
			continue
		}
		out = append(out, data.Chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateChatData applies fn under the chat's lock, so concurrent appenders
// serialize instead of losing writes.
func (s *Store) UpdateChatData(ctx context.Context, worldID, chatID string, fn func(*agentworld.ChatData)) (agentworld.ChatData, error) {
	lock := s.chatLock(worldID, chatID)
	lock.Lock()
	defer lock.Unlock()

	data, ok, err := s.LoadChatData(ctx, worldID, chatID)
	if err != nil {
		return agentworld.ChatData{}, err
	}
	if !ok {
		return agentworld.ChatData{}, &agentworld.ErrNotFound{Kind: "chat", ID: chatID}
	}
	fn(&data)
	if err := s.SaveChatData(ctx, worldID, data); err != nil {
		return agentworld.ChatData{}, err
	}
	return data, nil
}

func (s *Store) chatLock(worldID, chatID string) *sync.Mutex {
	key := worldID + "/" + chatID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// --- snapshots ---

// SaveWorldChat stores a snapshot inside its chat file.
func (s *Store) SaveWorldChat(ctx context.Context, worldID, chatID string, snap agentworld.WorldChat) error {
	_, err := s.UpdateChatData(ctx, worldID, chatID, func(d *agentworld.ChatData) {
		d.Snapshot = &snap
	})
	return err
}

// LoadWorldChat reads the snapshot stored with a chat, if any.
func (s *Store) LoadWorldChat(ctx context.Context, worldID, chatID string) (agentworld.WorldChat, bool, error) {
	data, ok, err := s.LoadChatData(ctx, worldID, chatID)
	if err != nil || !ok || data.Snapshot == nil {
		return agentworld.WorldChat{}, false, err
	}
	return *data.Snapshot, true, nil
}

// --- maintenance ---

// Validate walks a world's tree and reports files that cannot be parsed.
func (s *Store) Validate(ctx context.Context, worldID string) ([]string, error) {
	var problems []string
	check := func(path string, v any) {
		if _, err := readJSON(path, v); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", path, err))
		}
	}

	var cfg agentworld.WorldConfig
	ok, err := readJSON(s.worldConfigPath(worldID), &cfg)
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", s.worldConfigPath(worldID), err))
	} else if !ok {
		return nil, &agentworld.ErrNotFound{Kind: "world", ID: worldID}
	}

	agents, _ := os.ReadDir(filepath.Join(s.worldDir(worldID), "agents"))
	for _, e := range agents {
		if !e.IsDir() {
			continue
		}
		dir := s.agentDir(worldID, e.Name())
		check(filepath.Join(dir, "config.json"), &agentworld.AgentConfig{})
		check(filepath.Join(dir, "memory.json"), &memoryFile{})
	}
	chats, _ := os.ReadDir(filepath.Join(s.worldDir(worldID), "chats"))
	for _, e := range chats {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		check(filepath.Join(s.worldDir(worldID), "chats", e.Name()), &agentworld.ChatData{})
	}
	return problems, nil
}

// Repair quarantines unparseable files by renaming them with a .corrupt
// suffix, so subsequent reads see clean absence instead of errors.
func (s *Store) Repair(ctx context.Context, worldID string) error {
	problems, err := s.Validate(ctx, worldID)
	if err != nil {
		return err
	}
	for _, p := range problems {
		path, _, found := strings.Cut(p, ": ")
		if !found {
			continue
		}
		if err := os.Rename(path, path+".corrupt"); err != nil {
			return &agentworld.ErrStorage{Op: "quarantine", Err: err}
		}
		s.logger.Warn("file: quarantined corrupt file", "world", worldID, "path", path)
	}
	return nil
}

// ArchiveMemory moves an agent's memory log to a timestamped archive file
// and truncates the live log.
func (s *Store) ArchiveMemory(ctx context.Context, worldID, agentID string) error {
	dir := s.agentDir(worldID, agentID)
	src := filepath.Join(dir, "memory.json")
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	dst := filepath.Join(dir, fmt.Sprintf("memory-%s.json", time.Now().UTC().Format("20060102-150405")))
	if err := os.Rename(src, dst); err != nil {
		return &agentworld.ErrStorage{Op: "archive memory", Err: err}
	}
	return writeJSON(src, memoryDoc(nil))
}

// --- file helpers ---

// memoryFile is the on-disk shape of memory.json.
type memoryFile struct {
	Messages []agentworld.AgentMessage `json:"messages"`
}

func memoryDoc(mem []agentworld.AgentMessage) memoryFile {
	if mem == nil {
		mem = []agentworld.AgentMessage{}
	}
	return memoryFile{Messages: mem}
}

// writeJSON marshals v with indentation and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &agentworld.ErrStorage{Op: "marshal " + filepath.Base(path), Err: err}
	}
	return writeAtomic(path, append(data, '\n'))
}

// writeAtomic writes data to a temp file in the destination directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &agentworld.ErrStorage{Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &agentworld.ErrStorage{Op: "write temp", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &agentworld.ErrStorage{Op: "close temp", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &agentworld.ErrStorage{Op: "rename", Err: err}
	}
	return nil
}

// readJSON reads and unmarshals path into v. A missing file returns
// ok=false with no error; a malformed file returns an error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &agentworld.ErrStorage{Op: "read " + filepath.Base(path), Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &agentworld.ErrStorage{Op: "parse " + filepath.Base(path), Err: err}
	}
	return true, nil
}
