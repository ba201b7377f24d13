package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/agentworld"
	"github.com/nevindra/agentworld/internal/cli"
	"github.com/nevindra/agentworld/internal/config"
	"github.com/nevindra/agentworld/observer"
	"github.com/nevindra/agentworld/provider/resolve"
	"github.com/nevindra/agentworld/store/file"
	"github.com/nevindra/agentworld/store/memory"
	"github.com/nevindra/agentworld/store/postgres"
	"github.com/nevindra/agentworld/store/sqlite"
	httptool "github.com/nevindra/agentworld/tools/http"
	"github.com/nevindra/agentworld/tools/shell"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentworld:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg := config.Load("")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Observability
	var inst *observer.Instruments
	var tracer agentworld.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return fmt.Errorf("observer init: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		tracer = observer.NewTracer()
	}

	// 3. Storage backend
	storage, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	// 4. Providers
	resolver := resolve.Resolver()
	if inst != nil {
		base := resolver
		resolver = agentworld.ProviderResolverFunc(func(llm agentworld.LLMConfig) (agentworld.Provider, error) {
			p, err := base.Resolve(llm)
			if err != nil {
				return nil, err
			}
			return observer.WrapProvider(p, llm.Model, inst), nil
		})
	}

	// 5. Tools
	tools := agentworld.NewToolRegistry()
	shellTimeout := time.Duration(cfg.Workspace.ShellTimeoutSec) * time.Second
	var shellTool agentworld.Tool = shell.New(cfg.Workspace.Path, shellTimeout)
	var fetchTool agentworld.Tool = httptool.New()
	if inst != nil {
		shellTool = observer.WrapTool(shellTool, inst)
		fetchTool = observer.WrapTool(fetchTool, inst)
	}
	tools.Add(shellTool)
	tools.AddTrusted(fetchTool)

	// 6. World manager
	opts := []agentworld.ManagerOption{
		agentworld.WithLogger(logger),
		agentworld.WithProviderResolver(resolver),
		agentworld.WithToolRegistry(tools),
		agentworld.WithDefaultLLM(agentworld.LLMConfig{
			Provider:   cfg.LLM.Provider,
			Model:      cfg.LLM.Model,
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			Deployment: cfg.LLM.Deployment,
			APIVersion: cfg.LLM.APIVersion,
		}),
	}
	if tracer != nil {
		opts = append(opts, agentworld.WithTracer(tracer))
	}
	manager := agentworld.NewManager(storage, opts...)
	defer manager.Teardown()

	// 7. REPL
	return repl(ctx, manager)
}

// openStorage builds the configured storage backend. The returned close
// function releases any held connections.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (agentworld.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case "file", "":
		s, err := file.New(cfg.Storage.DataPath, file.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("file store: %w", err)
		}
		return s, func() {}, nil

	case "memory":
		return memory.New(), func() {}, nil

	case "sqlite":
		s := sqlite.New(cfg.Storage.SQLitePath, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres init: %w", err)
		}
		return s, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// repl reads lines from stdin, dispatches them through the command session,
// and prints wire frames from the selected world's bus.
func repl(ctx context.Context, manager *agentworld.Manager) error {
	session := cli.New(manager)

	var current *agentworld.World
	var cancels []agentworld.CancelFunc
	unsubscribe := func() {
		for _, c := range cancels {
			c()
		}
		cancels = nil
	}
	defer unsubscribe()

	attach := func(w *agentworld.World) {
		unsubscribe()
		current = w
		if w == nil {
			return
		}
		bus := w.Bus()
		cancels = append(cancels,
			bus.SubscribeMessages(func(ev agentworld.MessageEvent) { printFrame(ev) }),
			bus.SubscribeSSE(func(ev agentworld.SSEEvent) { printFrame(ev) }),
			bus.SubscribeSystem(func(ev agentworld.SystemEvent) { printFrame(ev) }),
		)
	}

	fmt.Println("agentworld ready. /help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := session.Handle(ctx, scanner.Text())
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if res.Output != "" {
			fmt.Println(res.Output)
		}
		if res.Quit {
			return nil
		}
		if session.World() != current {
			attach(session.World())
		}
	}
}

func printFrame(ev agentworld.Event) {
	data, err := agentworld.EncodeFrame(ev)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}
