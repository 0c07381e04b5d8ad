// Package main implements wag, the waggle swarm coordination CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/debug"
	"github.com/untoldecay/waggle/internal/deferred"
	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/hive"
	"github.com/untoldecay/waggle/internal/idgen"
	"github.com/untoldecay/waggle/internal/inference"
	"github.com/untoldecay/waggle/internal/lock"
	"github.com/untoldecay/waggle/internal/mail"
	"github.com/untoldecay/waggle/internal/memory"
	"github.com/untoldecay/waggle/internal/projection"
	"github.com/untoldecay/waggle/internal/reservation"
	"github.com/untoldecay/waggle/internal/schema"
	"github.com/untoldecay/waggle/internal/snapshot"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/storage/sqlite"
	"github.com/untoldecay/waggle/internal/types"
)

// Version is stamped by the release build.
var Version = "0.3.0-dev"

// cliSession binds every mail operation in one wag invocation to the same
// registry session. Each process re-inits, which doubles as the agent's
// activity heartbeat.
const cliSession = "wag-cli"

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc

	jsonOutput  bool
	actorFlag   string
	verboseFlag bool

	// Populated by openServices before any Run that touches the store.
	actor         string
	projectPath   string
	projectKey    string
	relocatedFrom string
	store         storage.Adapter
	evlog         *eventlog.Log
	mailSvc       *mail.Service
	reserveSvc    *reservation.Service
	lockSvc       *lock.Service
	deferSvc      *deferred.Service
	hiveSvc       *hive.Service
	memSvc        *memory.Service
	infClient     *inference.Client
	snapSvc       *snapshot.Service
)

var rootCmd = &cobra.Command{
	Use:   "wag",
	Short: "Durable coordination for coding-agent swarms",
	Long: `wag - shared memory and coordination for coding-agent swarms

Every mutation is an event appended to a SQLite-backed log; tables like
cells, messages and reservations are projections folded from it. Agents
on one machine share the store and coordinate through mail, path
reservations, locks and deferreds without talking to each other directly.

Start here:
  wag init --agent red-panda     Register this agent in the project
  wag cell create "Fix the bug"  File work in the hive
  wag inbox                      Check swarm mail
  wag status                     One-screen project overview`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		debug.SetVerbose(verboseFlag)
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		actor = config.GetIdentity(actorFlag)
		if !needsStore(cmd) {
			return nil
		}
		return openServices(rootCtx)
	},
}

// needsStore reports whether the command requires an open store. Setup
// commands run before any database exists.
func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "config", "completion", "help":
			return false
		}
	}
	return true
}

// openServices resolves the store path, relocates a legacy project-local
// database if one is found, opens the store and wires every service.
func openServices(ctx context.Context) error {
	var err error
	projectPath, err = os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	projectKey = types.ProjectKey(projectPath)

	dbPath, err := config.DBPath()
	if err != nil {
		return err
	}
	logger := newLogger()

	// An explicit db.path opts out of the shared global store, and with
	// it out of legacy relocation.
	if config.GetString("db.path") == "" {
		if legacy := config.LegacyDBPath(); legacy != "" {
			moved, err := schema.RelocateLegacy(ctx, openAdapter, legacy, dbPath, logger)
			if err != nil {
				return err
			}
			if moved {
				relocatedFrom = legacy
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	store, err = sqlite.New(ctx, dbPath)
	if err != nil {
		return err
	}
	if err := schema.Migrate(ctx, store, logger); err != nil {
		store.Close()
		return err
	}

	evlog = eventlog.New(store, logger)
	projection.AttachAll(evlog)

	mailSvc = mail.New(evlog, mail.NewRegistry(), config.GetInt("mail.max_inbox_limit"))
	reserveSvc = reservation.New(evlog)
	lockSvc = lock.New(store, logger)
	deferSvc = deferred.New(store, logger, time.Duration(config.GetInt("deferred.poll_ms"))*time.Millisecond)
	hiveSvc = hive.New(evlog, idgen.DiscoverSlug(projectPath), logger)
	infClient = inference.New(inference.Config{
		Host:       config.GetString("inference.host"),
		EmbedModel: config.GetString("inference.embed_model"),
		APIKey:     config.GetString("inference.api_key"),
		Model:      config.GetString("inference.model"),
	}, logger)
	memSvc = memory.New(store, infClient, memory.Params{
		HalfLifeDays:  config.GetFloat64("memory.half_life_days"),
		LinkThreshold: config.GetFloat64("memory.link_threshold"),
		LinkLimit:     config.GetInt("memory.link_limit"),
		UpsertTopK:    config.GetInt("memory.upsert_top_k"),
		UpsertFloor:   config.GetFloat64("memory.upsert_floor"),
	}, logger)
	snapSvc = snapshot.New(evlog, memSvc, logger)
	return nil
}

func openAdapter(ctx context.Context, path string) (storage.Adapter, error) {
	return sqlite.New(ctx, path)
}

// newLogger routes service logs to stderr when tracing is on and
// swallows them otherwise; wag's stdout belongs to command output.
func newLogger() *slog.Logger {
	if debug.Enabled() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ensureMailSession registers the configured actor for this project and
// returns the session key mail operations authenticate with.
func ensureMailSession() string {
	if _, err := mailSvc.Init(rootCtx, cliSession, projectPath, actor); err != nil {
		FatalError("initializing mail session: %v", err)
	}
	return cliSession
}

func closeStore() {
	if store != nil {
		store.Close()
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Agent identity for this invocation (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "Trace service internals to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "swarm", Title: "Swarm Mail:"},
		&cobra.Group{ID: "paths", Title: "Path Reservations:"},
		&cobra.Group{ID: "hive", Title: "Hive Work Items:"},
		&cobra.Group{ID: "memory", Title: "Semantic Memory:"},
		&cobra.Group{ID: "coord", Title: "Coordination Primitives:"},
		&cobra.Group{ID: "data", Title: "Event Log & Data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()
	defer closeStore()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeStore()
		os.Exit(1)
	}
}
