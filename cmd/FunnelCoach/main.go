// FunnelCoach is a conversational job-search funnel tracker: weekly stage
// counts come in over a chat transport, conversion metrics, reflections,
// reminders and exports come out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/FunnelCoach/internal/analyzer"
	"github.com/BTreeMap/FunnelCoach/internal/api"
	"github.com/BTreeMap/FunnelCoach/internal/coach"
	"github.com/BTreeMap/FunnelCoach/internal/genai"
	"github.com/BTreeMap/FunnelCoach/internal/lockfile"
	"github.com/BTreeMap/FunnelCoach/internal/messaging"
	"github.com/BTreeMap/FunnelCoach/internal/reminder"
	"github.com/BTreeMap/FunnelCoach/internal/store"
	"github.com/BTreeMap/FunnelCoach/internal/util"
)

func main() {
	if err := run(); err != nil {
		slog.Error("FunnelCoach failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; environment variables win over file values.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	var (
		dbDSN        = flag.String("db-dsn", util.GetEnv("FUNNELCOACH_DB_DSN", "data/funnelcoach.db"), "database DSN: SQLite file path or PostgreSQL URL")
		deletePolicy = flag.String("channel-delete-policy", util.GetEnv("FUNNELCOACH_CHANNEL_DELETE_POLICY", string(store.ChannelDeleteOrphan)), "week data policy on channel removal: orphan or cascade")
		apiAddr      = flag.String("api-addr", util.GetEnv("FUNNELCOACH_API_ADDR", ":8080"), "HTTP API listen address")
		enableAPI    = flag.Bool("enable-api", util.ParseBoolEnv("FUNNELCOACH_ENABLE_API", true), "serve the HTTP API")
		openaiKey    = flag.String("openai-api-key", util.GetEnv("OPENAI_API_KEY", ""), "OpenAI API key for analyze recommendations (optional)")
		openaiModel  = flag.String("openai-model", util.GetEnv("OPENAI_MODEL", ""), "OpenAI model override")
		lockPath     = flag.String("lock-file", util.GetEnv("FUNNELCOACH_LOCK_FILE", ""), "lock file path (defaults next to the SQLite database)")
		debug        = flag.Bool("debug", util.ParseBoolEnv("FUNNELCOACH_DEBUG", false), "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	lock, err := acquireLock(*lockPath, *dbDSN)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(*dbDSN, store.ChannelDeletePolicy(*deletePolicy))
	if err != nil {
		return err
	}
	defer st.Close()

	var an *analyzer.Analyzer
	if *openaiKey != "" {
		chat, err := genai.NewClient(genai.WithAPIKey(*openaiKey), genai.WithModel(*openaiModel))
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		an = analyzer.New(st, chat)
		slog.Info("AI recommendations enabled")
	} else {
		an = analyzer.New(st, nil)
		slog.Info("AI recommendations disabled: no OpenAI API key")
	}

	msg := messaging.NewConsoleService()
	bot := coach.New(st, msg, an)
	sched := reminder.NewScheduler(st, msg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := msg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reminder scheduler: %w", err)
	}

	var srv *api.Server
	if *enableAPI {
		srv = api.NewServer(*apiAddr, st)
		srv.Start()
	}

	slog.Info("FunnelCoach running", "db", store.DetectDSNType(*dbDSN), "api", *enableAPI)

	// The coach loop ends when the transport closes (stdin EOF) or the
	// context is cancelled by a signal.
	bot.Run(ctx)

	slog.Info("Shutting down")
	sched.Stop()
	if srv != nil {
		if err := srv.Stop(); err != nil {
			slog.Error("API shutdown failed", "error", err)
		}
	}
	if err := msg.Stop(); err != nil {
		slog.Error("Transport shutdown failed", "error", err)
	}
	return nil
}

// acquireLock takes the single-instance lock, defaulting to a file next to
// the SQLite database (or the working directory for PostgreSQL DSNs).
func acquireLock(lockPath, dsn string) (*lockfile.Lock, error) {
	if lockPath == "" {
		dir := "."
		if store.DetectDSNType(dsn) == "sqlite" {
			dir = filepath.Dir(dsn)
		}
		lockPath = filepath.Join(dir, lockfile.DefaultLockName)
	}
	lock, err := lockfile.Acquire(lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	return lock, nil
}

// openStore picks the backend by DSN shape.
func openStore(dsn string, policy store.ChannelDeletePolicy) (store.Store, error) {
	switch store.DetectDSNType(dsn) {
	case "postgres":
		return store.NewPostgresStore(
			store.WithPostgresDSN(dsn),
			store.WithChannelDeletePolicy(policy),
		)
	default:
		return store.NewSQLiteStore(
			store.WithSQLiteDSN(dsn),
			store.WithChannelDeletePolicy(policy),
		)
	}
}
