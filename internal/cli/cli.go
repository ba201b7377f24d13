// Package cli implements the flat slash-command surface over a world
// manager. Plain input becomes a HUMAN message in the active world;
// commands that mutate world state report a refresh flag so the caller can
// redraw its view.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nevindra/agentworld"
	"github.com/nevindra/agentworld/export"
)

// Result is the outcome of handling one input line.
type Result struct {
	Output  string
	Refresh bool
	Quit    bool
}

// Session tracks the active world across commands.
type Session struct {
	manager *agentworld.Manager
	world   *agentworld.World
}

// New creates a command session over the manager.
func New(manager *agentworld.Manager) *Session {
	return &Session{manager: manager}
}

// World returns the active world, or nil when none is selected.
func (s *Session) World() *agentworld.World { return s.world }

// Handle processes one line of input. Lines starting with "/" are commands;
// anything else is published as a HUMAN message into the active world.
func (s *Session) Handle(ctx context.Context, line string) (Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, nil
	}

	if !strings.HasPrefix(line, "/") {
		if s.world == nil {
			return Result{}, fmt.Errorf("no world selected; use /world select <id>")
		}
		if _, err := s.world.PostMessage(ctx, "", line); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}

	fields := strings.Fields(line)
	cmd := strings.TrimPrefix(fields[0], "/")
	args := fields[1:]

	switch cmd {
	case "world", "w":
		return s.handleWorld(ctx, args)
	case "agent", "a":
		return s.handleAgent(ctx, args)
	case "chat", "c":
		return s.handleChat(ctx, args)
	case "approve":
		return s.handleApproval(args, true)
	case "deny", "cancel":
		return s.handleApproval(args, false)
	case "help", "h":
		return Result{Output: helpText}, nil
	case "quit", "exit", "q":
		return Result{Quit: true}, nil
	default:
		return Result{}, fmt.Errorf("unknown command /%s (try /help)", cmd)
	}
}

const helpText = `Commands:
  /world list|show|create <name> [desc]|update <k=v>...|delete <id>|select <id>|export [file]
  /agent list|show <id>|create <name> [prompt]|update <id> <k=v>...|delete <id>|clear <id>
  /chat  list [--active]|create [name]|select <id>|switch <id>|delete <id>|rename <id> <name> [desc]|export [id] [file]
  /approve <toolCallId> [once|session]   approve a pending tool call
  /deny <toolCallId>                     deny a pending tool call
  /help                                  show this help
  /quit                                  exit
Plain input is sent to the active world as HUMAN.`

func (s *Session) handleWorld(ctx context.Context, args []string) (Result, error) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "list", "ls":
		worlds, err := s.manager.ListWorlds(ctx)
		if err != nil {
			return Result{}, err
		}
		if len(worlds) == 0 {
			return Result{Output: "no worlds"}, nil
		}
		var b strings.Builder
		for _, w := range worlds {
			marker := " "
			if s.world != nil && s.world.ID() == w.ID {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %-20s %s\n", marker, w.ID, w.Name)
		}
		return Result{Output: strings.TrimRight(b.String(), "\n")}, nil

	case "show":
		w, err := s.targetWorld(ctx, args)
		if err != nil {
			return Result{}, err
		}
		cfg := w.Config()
		var b strings.Builder
		fmt.Fprintf(&b, "id:          %s\n", cfg.ID)
		fmt.Fprintf(&b, "name:        %s\n", cfg.Name)
		fmt.Fprintf(&b, "description: %s\n", cfg.Description)
		fmt.Fprintf(&b, "turn limit:  %d\n", cfg.TurnLimit)
		fmt.Fprintf(&b, "active chat: %s\n", cfg.ActiveChatID)
		fmt.Fprintf(&b, "agents:      %d", len(w.Agents()))
		return Result{Output: b.String()}, nil

	case "create":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /world create <name> [description]")
		}
		name := args[0]
		desc := strings.Join(args[1:], " ")
		w, err := s.manager.CreateWorld(ctx, name, desc, 0)
		if err != nil {
			return Result{}, err
		}
		s.world = w
		return Result{Output: "created world " + w.ID(), Refresh: true}, nil

	case "update":
		if s.world == nil {
			return Result{}, fmt.Errorf("no world selected")
		}
		kv, err := parseKV(args)
		if err != nil {
			return Result{}, err
		}
		_, err = s.world.UpdateConfig(ctx, func(cfg *agentworld.WorldConfig) {
			if v, ok := kv["name"]; ok {
				cfg.Name = v
			}
			if v, ok := kv["desc"]; ok {
				cfg.Description = v
			}
			if v, ok := kv["turnlimit"]; ok {
				if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
					cfg.TurnLimit = n
				}
			}
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Output: "updated", Refresh: true}, nil

	case "delete", "rm":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /world delete <id>")
		}
		if err := s.manager.DeleteWorld(ctx, args[0]); err != nil {
			return Result{}, err
		}
		if s.world != nil && s.world.ID() == args[0] {
			s.world = nil
		}
		return Result{Output: "deleted world " + args[0], Refresh: true}, nil

	case "select", "use":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /world select <id>")
		}
		w, err := s.manager.GetWorld(ctx, args[0])
		if err != nil {
			return Result{}, err
		}
		s.world = w
		return Result{Output: "selected world " + w.ID(), Refresh: true}, nil

	case "export":
		return s.exportChat(ctx, "", args)

	default:
		return Result{}, fmt.Errorf("unknown subcommand: world %s", sub)
	}
}

func (s *Session) handleAgent(ctx context.Context, args []string) (Result, error) {
	if s.world == nil {
		return Result{}, fmt.Errorf("no world selected")
	}
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "list", "ls":
		agents := s.world.Agents()
		if len(agents) == 0 {
			return Result{Output: "no agents"}, nil
		}
		var b strings.Builder
		for _, a := range agents {
			cfg := a.Config()
			fmt.Fprintf(&b, "%-20s %-20s %s/%s\n", cfg.ID, cfg.Name, cfg.Provider, cfg.Model)
		}
		return Result{Output: strings.TrimRight(b.String(), "\n")}, nil

	case "show":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /agent show <id>")
		}
		a, ok := s.world.Agent(args[0])
		if !ok {
			return Result{}, &agentworld.ErrNotFound{Kind: "agent", ID: args[0]}
		}
		cfg := a.Config()
		var b strings.Builder
		fmt.Fprintf(&b, "id:          %s\n", cfg.ID)
		fmt.Fprintf(&b, "name:        %s\n", cfg.Name)
		fmt.Fprintf(&b, "provider:    %s\n", cfg.Provider)
		fmt.Fprintf(&b, "model:       %s\n", cfg.Model)
		fmt.Fprintf(&b, "llm calls:   %d\n", cfg.LLMCallCount)
		fmt.Fprintf(&b, "last active: %s\n", cfg.LastActive.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "prompt:      %s", truncate(cfg.SystemPrompt, 200))
		return Result{Output: b.String()}, nil

	case "create":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /agent create <name> [system prompt]")
		}
		cfg := agentworld.AgentConfig{
			Name:         args[0],
			SystemPrompt: strings.Join(args[1:], " "),
		}
		a, err := s.world.CreateAgent(ctx, cfg)
		if err != nil {
			return Result{}, err
		}
		return Result{Output: "created agent " + a.ID(), Refresh: true}, nil

	case "update":
		if len(args) < 2 {
			return Result{}, fmt.Errorf("usage: /agent update <id> <k=v>...")
		}
		a, ok := s.world.Agent(args[0])
		if !ok {
			return Result{}, &agentworld.ErrNotFound{Kind: "agent", ID: args[0]}
		}
		kv, err := parseKV(args[1:])
		if err != nil {
			return Result{}, err
		}
		cfg := a.Config()
		if v, ok := kv["name"]; ok {
			cfg.Name = v
		}
		if v, ok := kv["provider"]; ok {
			cfg.Provider = v
		}
		if v, ok := kv["model"]; ok {
			cfg.Model = v
		}
		if v, ok := kv["prompt"]; ok {
			cfg.SystemPrompt = v
		}
		if err := a.UpdateConfig(ctx, cfg); err != nil {
			return Result{}, err
		}
		return Result{Output: "updated agent " + a.ID(), Refresh: true}, nil

	case "delete", "rm":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /agent delete <id>")
		}
		if err := s.world.DeleteAgent(ctx, args[0]); err != nil {
			return Result{}, err
		}
		return Result{Output: "deleted agent " + args[0], Refresh: true}, nil

	case "clear":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /agent clear <id>")
		}
		a, ok := s.world.Agent(args[0])
		if !ok {
			return Result{}, &agentworld.ErrNotFound{Kind: "agent", ID: args[0]}
		}
		if err := a.ClearMemory(ctx); err != nil {
			return Result{}, err
		}
		return Result{Output: "cleared memory of " + a.ID()}, nil

	default:
		return Result{}, fmt.Errorf("unknown subcommand: agent %s", sub)
	}
}

func (s *Session) handleChat(ctx context.Context, args []string) (Result, error) {
	if s.world == nil {
		return Result{}, fmt.Errorf("no world selected")
	}
	chats := s.world.Chats()

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "list", "ls":
		activeOnly := len(args) > 0 && args[0] == "--active"
		list, err := chats.List(ctx)
		if err != nil {
			return Result{}, err
		}
		active := chats.ActiveID()
		var b strings.Builder
		for _, c := range list {
			if activeOnly && c.ID != active {
				continue
			}
			marker := " "
			if c.ID == active {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %-36s %-20s %d msgs\n", marker, c.ID, c.Name, c.MessageCount)
		}
		out := strings.TrimRight(b.String(), "\n")
		if out == "" {
			out = "no chats"
		}
		return Result{Output: out}, nil

	case "create":
		var (
			c   agentworld.Chat
			err error
		)
		if len(args) > 0 {
			c, err = chats.Create(ctx, strings.Join(args, " "), "")
		} else {
			c, err = chats.NewChat(ctx)
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Output: "created chat " + c.ID, Refresh: true}, nil

	case "select", "switch":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /chat %s <id>", sub)
		}
		if err := chats.Set(ctx, args[0]); err != nil {
			return Result{}, err
		}
		return Result{Output: "switched to chat " + args[0], Refresh: true}, nil

	case "delete", "rm":
		if len(args) == 0 {
			return Result{}, fmt.Errorf("usage: /chat delete <id>")
		}
		if err := chats.Delete(ctx, args[0]); err != nil {
			return Result{}, err
		}
		return Result{Output: "deleted chat " + args[0], Refresh: true}, nil

	case "rename":
		if len(args) < 2 {
			return Result{}, fmt.Errorf("usage: /chat rename <id> <name> [description]")
		}
		desc := ""
		if len(args) > 2 {
			desc = strings.Join(args[2:], " ")
		}
		if _, err := chats.Update(ctx, args[0], args[1], desc); err != nil {
			return Result{}, err
		}
		return Result{Output: "renamed chat " + args[0], Refresh: true}, nil

	case "export":
		chatID := ""
		if len(args) > 0 && !strings.Contains(args[0], ".") {
			chatID = args[0]
			args = args[1:]
		}
		return s.exportChat(ctx, chatID, args)

	default:
		return Result{}, fmt.Errorf("unknown subcommand: chat %s", sub)
	}
}

// exportChat snapshots a chat and writes it as Markdown, or HTML when the
// target filename ends in .html.
func (s *Session) exportChat(ctx context.Context, chatID string, args []string) (Result, error) {
	if s.world == nil {
		return Result{}, fmt.Errorf("no world selected")
	}
	if chatID == "" {
		chatID = s.world.Chats().ActiveID()
	}
	if chatID == "" {
		return Result{}, fmt.Errorf("no active chat to export")
	}

	snap, err := s.world.Chats().Snapshot(ctx, chatID)
	if err != nil {
		return Result{}, err
	}

	file := s.world.ID() + "-" + chatID + ".md"
	if len(args) > 0 {
		file = args[0]
	}

	var data []byte
	if strings.HasSuffix(file, ".html") {
		data, err = export.HTML(snap)
		if err != nil {
			return Result{}, err
		}
	} else {
		data = export.Markdown(snap)
	}

	if err := os.WriteFile(file, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("write export: %w", err)
	}
	return Result{Output: fmt.Sprintf("exported %d messages to %s", len(snap.Messages), file)}, nil
}

// handleApproval publishes an approval response envelope for a pending tool
// call.
func (s *Session) handleApproval(args []string, approve bool) (Result, error) {
	if s.world == nil {
		return Result{}, fmt.Errorf("no world selected")
	}
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /approve <toolCallId> [once|session] or /deny <toolCallId>")
	}
	callID := args[0]

	agentID, ok := s.world.Approvals().PendingFor(callID)
	if !ok {
		return Result{}, fmt.Errorf("no pending approval for %s", callID)
	}

	decision := agentworld.ApprovalDecision{Decision: "deny"}
	if approve {
		decision.Decision = "approve"
		decision.Scope = "once"
		if len(args) > 1 && (args[1] == "session" || args[1] == "always") {
			decision.Scope = "session"
		}
	}

	content, err := agentworld.EncodeApprovalResponse(callID, agentID, decision)
	if err != nil {
		return Result{}, err
	}
	s.world.PublishMessage(agentworld.MessageEvent{
		MessageID: agentworld.NewID(),
		Sender:    "HUMAN",
		Content:   content,
	})

	verb := "denied"
	if approve {
		verb = "approved"
	}
	return Result{Output: verb + " " + callID}, nil
}

func parseKV(args []string) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		kv[strings.ToLower(k)] = v
	}
	return kv, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (s *Session) targetWorld(ctx context.Context, args []string) (*agentworld.World, error) {
	if len(args) > 0 {
		return s.manager.GetWorld(ctx, args[0])
	}
	if s.world == nil {
		return nil, fmt.Errorf("no world selected")
	}
	return s.world, nil
}
