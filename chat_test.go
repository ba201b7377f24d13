package agentworld

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateChatBecomesActive(t *testing.T) {
	_, w, _ := newTestWorld(t, &scriptProvider{})
	ctx := context.Background()

	chat, err := w.Chats().Create(ctx, "Planning", "sprint planning")
	if err != nil {
		t.Fatal(err)
	}
	if chat.ID == "" || chat.Name != "Planning" {
		t.Errorf("chat = %+v", chat)
	}
	if w.Chats().ActiveID() != chat.ID {
		t.Error("new chat should become active")
	}

	chats, err := w.Chats().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(chats))
	}
}

func TestCreateChatRequiresName(t *testing.T) {
	_, w, _ := newTestWorld(t, &scriptProvider{})
	var verr *ErrValidation
	if _, err := w.Chats().Create(context.Background(), "", ""); !errors.As(err, &verr) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestFirstMessageCreatesImplicitChat(t *testing.T) {
	_, w, store := newTestWorld(t, &scriptProvider{})

	if w.Chats().ActiveID() != "" {
		t.Fatal("fresh world should have no active chat")
	}
	ev, err := w.PostMessage(context.Background(), "", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if ev.ChatID == "" || w.Chats().ActiveID() != ev.ChatID {
		t.Errorf("implicit chat not activated: ev=%+v active=%q", ev, w.Chats().ActiveID())
	}

	data, ok, err := store.LoadChatData(context.Background(), w.ID(), ev.ChatID)
	if err != nil || !ok {
		t.Fatalf("chat data missing: ok=%v err=%v", ok, err)
	}
	if data.Chat.Name != "Chat 1" {
		t.Errorf("auto name = %q", data.Chat.Name)
	}
}

func TestSetSwitchesAndRejectsUnknown(t *testing.T) {
	_, w, _ := newTestWorld(t, &scriptProvider{})
	ctx := context.Background()

	first, err := w.Chats().Create(ctx, "First", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Chats().Create(ctx, "Second", "")
	if err != nil {
		t.Fatal(err)
	}
	if w.Chats().ActiveID() != second.ID {
		t.Fatal("second chat should be active")
	}

	if err := w.Chats().Set(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if w.Chats().ActiveID() != first.ID {
		t.Error("switch did not take effect")
	}

	var nf *ErrNotFound
	if err := w.Chats().Set(ctx, "ghost"); !errors.As(err, &nf) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetRejectedWhileTurnInFlight(t *testing.T) {
	_, w, _ := newTestWorld(t, &scriptProvider{})
	ctx := context.Background()

	chat, err := w.Chats().Create(ctx, "First", "")
	if err != nil {
		t.Fatal(err)
	}
	other, err := w.Chats().Create(ctx, "Second", "")
	if err != nil {
		t.Fatal(err)
	}
	_ = other

	end := w.BeginTurn()
	var conflict *ErrConflict
	if err := w.Chats().Set(ctx, chat.ID); !errors.As(err, &conflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	end()
	if err := w.Chats().Set(ctx, chat.ID); err != nil {
		t.Errorf("switch after turn end: %v", err)
	}
}

func TestDeleteChatClearsActivePointer(t *testing.T) {
	_, w, store := newTestWorld(t, &scriptProvider{})
	ctx := context.Background()

	chat, err := w.Chats().Create(ctx, "Doomed", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Chats().Delete(ctx, chat.ID); err != nil {
		t.Fatal(err)
	}
	if w.Chats().ActiveID() != "" {
		t.Error("active pointer should clear")
	}
	if _, ok, _ := store.LoadChatData(ctx, w.ID(), chat.ID); ok {
		t.Error("chat data should be gone")
	}

	var nf *ErrNotFound
	if err := w.Chats().Delete(ctx, chat.ID); !errors.As(err, &nf) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestUpdateChat(t *testing.T) {
	_, w, _ := newTestWorld(t, &scriptProvider{})
	ctx := context.Background()

	chat, err := w.Chats().Create(ctx, "Old Name", "old")
	if err != nil {
		t.Fatal(err)
	}
	updated, err := w.Chats().Update(ctx, chat.ID, "New Name", "")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "New Name" || updated.Description != "old" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestRecordDeduplicatesAndCounts(t *testing.T) {
	_, w, store := newTestWorld(t, &scriptProvider{})
	ctx := context.Background()

	chat, err := w.Chats().Create(ctx, "Log", "")
	if err != nil {
		t.Fatal(err)
	}

	ev := MessageEvent{Content: "@nobody hi", Sender: "HUMAN", MessageID: NewID(), ChatID: chat.ID, CreatedAt: Now()}
	w.PublishMessage(ev)
	w.PublishMessage(ev) // replay
	w.PublishMessage(MessageEvent{Content: "@nobody again", Sender: "HUMAN", MessageID: NewID(), ChatID: chat.ID, CreatedAt: Now()})

	data, ok, err := store.LoadChatData(ctx, w.ID(), chat.ID)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(data.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(data.Messages))
	}
	if data.Chat.MessageCount != 2 {
		t.Errorf("messageCount = %d, want 2", data.Chat.MessageCount)
	}
}

func TestSnapshotMergesAgentStreams(t *testing.T) {
	provider := &scriptProvider{responses: []ChatResponse{{Content: "reporting in"}}}
	_, w, _ := newTestWorld(t, provider)
	createAgent(t, w, "Ada")
	createAgent(t, w, "Grace")
	messages := collectMessages(w)

	in, err := w.PostMessage(context.Background(), "", "@ada status?")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		for _, ev := range messages() {
			if ev.Sender == "ada" {
				return true
			}
		}
		return false
	})
	// Wait until both agents hold their copies of the full exchange.
	ada, _ := w.Agent("ada")
	grace, _ := w.Agent("grace")
	waitFor(t, 2*time.Second, func() bool {
		return len(ada.Memory()) >= 2 && len(grace.Memory()) >= 2
	})

	snap, err := w.Chats().Snapshot(context.Background(), in.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(snap.Agents))
	}
	if snap.Metadata.ActiveAgents != 2 || snap.Metadata.SchemaVersion != WorldChatSchemaVersion {
		t.Errorf("metadata = %+v", snap.Metadata)
	}
	if snap.Prompts["ada"] == "" {
		t.Error("prompts should carry the system prompt")
	}

	// Both agents hold copies of both messages; the merge collapses them.
	if len(snap.Messages) != 2 {
		t.Fatalf("merged messages = %d, want 2: %+v", len(snap.Messages), snap.Messages)
	}
	if snap.Messages[0].MessageID != in.MessageID {
		t.Errorf("messages[0] = %+v", snap.Messages[0])
	}
	reply := snap.Messages[1]
	if reply.Role != RoleAssistant || reply.AgentID != "ada" {
		t.Errorf("canonical reply copy = %+v", reply)
	}
}

func TestRestoreRebuildsAgentSet(t *testing.T) {
	provider := &scriptProvider{responses: []ChatResponse{{Content: "before snapshot"}}}
	_, w, _ := newTestWorld(t, provider)
	createAgent(t, w, "Ada")
	messages := collectMessages(w)

	in, err := w.PostMessage(context.Background(), "", "hello")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		for _, ev := range messages() {
			if ev.Sender == "ada" {
				return true
			}
		}
		return false
	})
	adaLive, _ := w.Agent("ada")
	waitFor(t, 2*time.Second, func() bool { return len(adaLive.Memory()) >= 2 })

	snap, err := w.Chats().Snapshot(context.Background(), in.ChatID)
	if err != nil {
		t.Fatal(err)
	}

	// Diverge: add an agent the snapshot does not know.
	createAgent(t, w, "Turing")

	if err := w.Chats().Restore(context.Background(), in.ChatID, snap); err != nil {
		t.Fatal(err)
	}

	if _, ok := w.Agent("turing"); ok {
		t.Error("agent absent from snapshot should be removed")
	}
	ada, ok := w.Agent("ada")
	if !ok {
		t.Fatal("snapshot agent missing after restore")
	}

	var chatEntries int
	for _, m := range ada.Memory() {
		if m.ChatID == in.ChatID {
			chatEntries++
		}
	}
	if chatEntries != len(snap.Messages) {
		t.Errorf("restored entries = %d, want %d", chatEntries, len(snap.Messages))
	}
	if w.Chats().ActiveID() != in.ChatID {
		t.Error("restore should activate the snapshot's chat")
	}
}

func TestRestoreRejectsNewerSchema(t *testing.T) {
	_, w, _ := newTestWorld(t, &scriptProvider{})
	chat, err := w.Chats().Create(context.Background(), "Target", "")
	if err != nil {
		t.Fatal(err)
	}

	snap := WorldChat{Metadata: WorldChatMeta{SchemaVersion: WorldChatSchemaVersion + 1}}
	var verr *ErrValidation
	if err := w.Chats().Restore(context.Background(), chat.ID, snap); !errors.As(err, &verr) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
