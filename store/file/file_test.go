package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/agentworld"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func saveWorld(t *testing.T, s *Store, id string) {
	t.Helper()
	cfg := agentworld.WorldConfig{ID: id, Name: id, TurnLimit: 5, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.SaveWorld(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
}

func TestWorldRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	cfg := agentworld.WorldConfig{ID: "alpha", Name: "Alpha", Description: "first", TurnLimit: 3}
	if err := s.SaveWorld(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadWorld(ctx, "alpha")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Name != "Alpha" || got.TurnLimit != 3 {
		t.Errorf("got = %+v", got)
	}

	exists, err := s.WorldExists(ctx, "alpha")
	if err != nil || !exists {
		t.Errorf("exists = %v, err = %v", exists, err)
	}

	if _, ok, err := s.LoadWorld(ctx, "ghost"); err != nil || ok {
		t.Errorf("missing world: ok=%v err=%v", ok, err)
	}
}

func TestSaveWorldRequiresID(t *testing.T) {
	s := newStore(t)
	err := s.SaveWorld(context.Background(), agentworld.WorldConfig{Name: "no id"})
	if _, ok := err.(*agentworld.ErrValidation); !ok {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestListWorldsSortedAndSkipsJunk(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "beta")
	saveWorld(t, s, "alpha")

	// A stray directory without config.json is skipped.
	if err := os.MkdirAll(filepath.Join(s.Root(), "junk"), 0o755); err != nil {
		t.Fatal(err)
	}

	worlds, err := s.ListWorlds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(worlds) != 2 || worlds[0].ID != "alpha" || worlds[1].ID != "beta" {
		t.Errorf("worlds = %+v", worlds)
	}
}

func TestDeleteWorldRemovesTree(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "doomed")
	if err := s.SaveAgent(ctx, "doomed", agentworld.AgentRecord{Config: agentworld.AgentConfig{ID: "ada", Name: "Ada"}}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteWorld(ctx, "doomed"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.WorldExists(ctx, "doomed"); exists {
		t.Error("world should be gone")
	}
	if agents, _ := s.ListAgents(ctx, "doomed"); len(agents) != 0 {
		t.Error("agents should be gone with the world")
	}

	if err := s.DeleteWorld(ctx, "../escape"); err == nil {
		t.Error("path separators in id must be rejected")
	}
}

func TestAgentRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")

	rec := agentworld.AgentRecord{
		Config: agentworld.AgentConfig{ID: "ada", Name: "Ada", SystemPrompt: "be thorough"},
		Memory: []agentworld.AgentMessage{
			{Role: agentworld.RoleUser, Content: "hi", Sender: "HUMAN", ChatID: "c1"},
		},
	}
	if err := s.SaveAgent(ctx, "w", rec); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadAgent(ctx, "w", "ada")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Config.SystemPrompt != "be thorough" {
		t.Errorf("prompt = %q", got.Config.SystemPrompt)
	}
	if len(got.Memory) != 1 || got.Memory[0].Content != "hi" {
		t.Errorf("memory = %+v", got.Memory)
	}

	// The prompt lives in its own markdown file.
	prompt, err := os.ReadFile(filepath.Join(s.Root(), "w", "agents", "ada", "system-prompt.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(prompt) != "be thorough" {
		t.Errorf("system-prompt.md = %q", prompt)
	}
}

func TestLoadAgentDefaultsMissingPrompt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	if err := s.SaveAgent(ctx, "w", agentworld.AgentRecord{Config: agentworld.AgentConfig{ID: "ada", Name: "Ada"}}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(s.Root(), "w", "agents", "ada", "system-prompt.md")); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadAgent(ctx, "w", "ada")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Config.SystemPrompt != agentworld.DefaultSystemPrompt {
		t.Errorf("prompt = %q, want default", got.Config.SystemPrompt)
	}
}

func TestSaveAgentMemoryOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	if err := s.SaveAgent(ctx, "w", agentworld.AgentRecord{Config: agentworld.AgentConfig{ID: "ada", Name: "Ada", SystemPrompt: "keep me"}}); err != nil {
		t.Fatal(err)
	}

	mem := []agentworld.AgentMessage{{Role: agentworld.RoleUser, Content: "one"}}
	if err := s.SaveAgentMemory(ctx, "w", "ada", mem); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.LoadAgent(ctx, "w", "ada")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Memory) != 1 || got.Memory[0].Content != "one" {
		t.Errorf("memory = %+v", got.Memory)
	}
	if got.Config.SystemPrompt != "keep me" {
		t.Error("memory write must not touch the prompt")
	}
}

func TestListAgentsSortedByName(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	for _, name := range []string{"Zoe", "Ada", "Mia"} {
		rec := agentworld.AgentRecord{Config: agentworld.AgentConfig{ID: name, Name: name}}
		if err := s.SaveAgent(ctx, "w", rec); err != nil {
			t.Fatal(err)
		}
	}
	agents, err := s.ListAgents(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 3 || agents[0].Name != "Ada" || agents[2].Name != "Zoe" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestChatRoundTripAndUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")

	data := agentworld.ChatData{Chat: agentworld.Chat{ID: "c1", Name: "Log", UpdatedAt: time.Now()}}
	if err := s.SaveChatData(ctx, "w", data); err != nil {
		t.Fatal(err)
	}

	updated, err := s.UpdateChatData(ctx, "w", "c1", func(d *agentworld.ChatData) {
		d.Messages = append(d.Messages, agentworld.AgentMessage{Role: agentworld.RoleUser, Content: "hi"})
		d.Chat.MessageCount = len(d.Messages)
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Chat.MessageCount != 1 {
		t.Errorf("messageCount = %d", updated.Chat.MessageCount)
	}

	got, ok, err := s.LoadChatData(ctx, "w", "c1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages = %+v", got.Messages)
	}

	if _, err := s.UpdateChatData(ctx, "w", "ghost", func(*agentworld.ChatData) {}); err == nil {
		t.Error("update of missing chat should fail")
	}
}

func TestListChatsMostRecentFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")

	old := agentworld.ChatData{Chat: agentworld.Chat{ID: "old", Name: "Old", UpdatedAt: time.Now().Add(-time.Hour)}}
	fresh := agentworld.ChatData{Chat: agentworld.Chat{ID: "fresh", Name: "Fresh", UpdatedAt: time.Now()}}
	if err := s.SaveChatData(ctx, "w", old); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChatData(ctx, "w", fresh); err != nil {
		t.Fatal(err)
	}

	chats, err := s.ListChats(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 || chats[0].ID != "fresh" {
		t.Errorf("chats = %+v", chats)
	}
}

func TestWorldChatStoredWithChat(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	if err := s.SaveChatData(ctx, "w", agentworld.ChatData{Chat: agentworld.Chat{ID: "c1", Name: "Log"}}); err != nil {
		t.Fatal(err)
	}

	snap := agentworld.WorldChat{
		World:    agentworld.WorldConfig{ID: "w"},
		Metadata: agentworld.WorldChatMeta{SchemaVersion: agentworld.WorldChatSchemaVersion, TotalMessages: 2},
	}
	if err := s.SaveWorldChat(ctx, "w", "c1", snap); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadWorldChat(ctx, "w", "c1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Metadata.TotalMessages != 2 {
		t.Errorf("snapshot = %+v", got)
	}

	if err := s.SaveWorldChat(ctx, "w", "ghost", snap); err == nil {
		t.Error("snapshot for missing chat should fail")
	}
}

func TestValidateAndRepair(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	if err := s.SaveAgent(ctx, "w", agentworld.AgentRecord{Config: agentworld.AgentConfig{ID: "ada", Name: "Ada"}}); err != nil {
		t.Fatal(err)
	}

	problems, err := s.Validate(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(problems) != 0 {
		t.Fatalf("clean tree reported problems: %v", problems)
	}

	// Corrupt the agent's memory file.
	memPath := filepath.Join(s.Root(), "w", "agents", "ada", "memory.json")
	if err := os.WriteFile(memPath, []byte("{torn"), 0o644); err != nil {
		t.Fatal(err)
	}

	problems, err = s.Validate(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if len(problems) != 1 {
		t.Fatalf("problems = %v", problems)
	}

	if err := s.Repair(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(memPath + ".corrupt"); err != nil {
		t.Error("corrupt file should be quarantined")
	}
	// The agent loads again with empty memory.
	got, ok, err := s.LoadAgent(ctx, "w", "ada")
	if err != nil || !ok {
		t.Fatalf("load after repair: ok=%v err=%v", ok, err)
	}
	if len(got.Memory) != 0 {
		t.Errorf("memory = %+v", got.Memory)
	}
}

func TestValidateMissingWorld(t *testing.T) {
	s := newStore(t)
	if _, err := s.Validate(context.Background(), "ghost"); err == nil {
		t.Error("expected ErrNotFound")
	}
}

func TestArchiveMemory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	rec := agentworld.AgentRecord{
		Config: agentworld.AgentConfig{ID: "ada", Name: "Ada"},
		Memory: []agentworld.AgentMessage{{Role: agentworld.RoleUser, Content: "old stuff"}},
	}
	if err := s.SaveAgent(ctx, "w", rec); err != nil {
		t.Fatal(err)
	}

	if err := s.ArchiveMemory(ctx, "w", "ada"); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.LoadAgent(ctx, "w", "ada")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Memory) != 0 {
		t.Errorf("live memory = %+v, want empty", got.Memory)
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "w", "agents", "ada"))
	if err != nil {
		t.Fatal(err)
	}
	var archived bool
	for _, e := range entries {
		if name := e.Name(); len(name) > len("memory-.json") && name[:7] == "memory-" {
			archived = true
		}
	}
	if !archived {
		t.Error("archive file missing")
	}

	// Archiving an agent with no memory file is a no-op.
	if err := s.ArchiveMemory(ctx, "w", "ghost"); err != nil {
		t.Errorf("no-op archive: %v", err)
	}
}

func TestDeleteChatDataIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveWorld(t, s, "w")
	if err := s.SaveChatData(ctx, "w", agentworld.ChatData{Chat: agentworld.Chat{ID: "c1", Name: "Log"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChatData(ctx, "w", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChatData(ctx, "w", "c1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if _, ok, _ := s.LoadChatData(ctx, "w", "c1"); ok {
		t.Error("chat should be gone")
	}
}
