// Command cordon is the resilience gateway between a tool-dispatch front
// end and remote AI model provider endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voletro/cordon/internal/app"
	"github.com/voletro/cordon/internal/config"
	"github.com/voletro/cordon/internal/observe"
	"github.com/voletro/cordon/pkg/provider"
	"github.com/voletro/cordon/pkg/provider/anthropic"
	"github.com/voletro/cordon/pkg/provider/anyllm"
	"github.com/voletro/cordon/pkg/provider/mock"
	"github.com/voletro/cordon/pkg/provider/openai"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	validateOnly := flag.Bool("validate", false, "load and validate the configuration, then exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cordon", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cordon: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cordon: %v\n", err)
		}
		return 1
	}
	if *validateOnly {
		fmt.Printf("cordon: %s is valid (%d endpoints, %d mcp servers)\n",
			*configPath, len(cfg.Endpoints), len(cfg.Tools.MCPServers))
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	logger := newLogger(cfg.Server.LogLevel, levelVar)
	slog.SetDefault(logger)

	slog.Info("cordon starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cordon",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Adapter registry ──────────────────────────────────────────────────
	reg := provider.NewRegistry()
	registerBuiltinAdapters(reg)

	// ── Startup summary ───────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, reg,
		app.WithLogger(logger),
		app.WithLogLevelVar(levelVar),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload (log level only; topology needs a restart) ──────
	watcher, err := config.NewWatcher(*configPath, application.ApplyDiff)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("gateway ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Adapter wiring ────────────────────────────────────────────────────────────

// anyLLMBackends are the provider names served through the universal
// any-llm adapter. OpenAI and Anthropic get their dedicated SDK adapters
// instead, so they are absent here.
var anyLLMBackends = []string{
	"gemini", "ollama", "groq", "mistral", "deepseek", "llamacpp", "llamafile",
}

// registerBuiltinAdapters wires every adapter constructor that ships with
// cordon into reg. Endpoints select one by their `provider` field.
func registerBuiltinAdapters(reg *provider.Registry) {
	reg.Register("openai", openai.FromSettings)
	reg.Register("anthropic", anthropic.FromSettings)
	for _, name := range anyLLMBackends {
		reg.Register(name, anyllm.FromSettings)
	}
	reg.Register("mock", mock.FromSettings)

	for _, name := range reg.Names() {
		slog.Debug("registered provider adapter", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Cordon — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, ep := range cfg.Endpoints {
		value := ep.Provider + " / " + ep.Model
		if len(value) > 19 {
			value = value[:16] + "…"
		}
		name := ep.ID
		if len(name) > 12 {
			name = name[:11] + "…"
		}
		fmt.Printf("║  %-12s    : %-19s ║\n", name, value)
	}
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Tools.MCPServers))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The level lives in lvl so config
// hot reloads can adjust verbosity without rebuilding the handler.
func newLogger(level config.LogLevel, lvl *slog.LevelVar) *slog.Logger {
	switch level {
	case config.LogDebug:
		lvl.Set(slog.LevelDebug)
	case config.LogWarn:
		lvl.Set(slog.LevelWarn)
	case config.LogError:
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
