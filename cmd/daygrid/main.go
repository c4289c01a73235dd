// Daygrid daemon - local planner sync service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/daygrid/daygrid/internal/adapter/googlecal"
	"github.com/daygrid/daygrid/internal/api"
	"github.com/daygrid/daygrid/internal/config"
	"github.com/daygrid/daygrid/internal/credentials"
	"github.com/daygrid/daygrid/internal/logging"
	"github.com/daygrid/daygrid/internal/scheduler"
	"github.com/daygrid/daygrid/internal/storage"
	daysync "github.com/daygrid/daygrid/internal/sync"
)

var (
	configPath string
	dataDir    string
	port       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daygrid",
		Short: "Daygrid daemon - keeps your planner in sync with external calendars",
		RunE:  runDaemon,
	}

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".daygrid")

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir, "Data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if cfg.Features.DebugMode {
		logging.SetLevel(logging.DEBUG)
	}

	passphrase, err := readPassphrase()
	if err != nil {
		return err
	}

	// Open database
	dbPath := filepath.Join(cfg.DataDir, "daygrid.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sealer := credentials.NewSealer(passphrase)
	connections := storage.NewConnectionStore(db)
	creds := storage.NewCredentialStore(db, sealer)

	// Provider adapters
	oauthClient := googlecal.NewOAuthClient(googlecal.OAuthConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
	})
	calAdapter := googlecal.New(oauthClient, creds)

	hub := api.NewStatusHub()

	orch := daysync.NewOrchestrator(daysync.Config{
		PollInterval:     cfg.Sync.PollInterval,
		AdapterTimeout:   cfg.Sync.AdapterTimeout,
		BackoffBase:      cfg.Sync.BackoffBase,
		BackoffCap:       cfg.Sync.BackoffCap,
		MaxAttempts:      cfg.Sync.MaxAttempts,
		AuthFailureLimit: cfg.Sync.AuthFailureLimit,
	}, daysync.Deps{
		Connections: connections,
		Jobs:        storage.NewJobStore(db),
		Registry:    storage.NewExternalItemStore(db),
		Records:     storage.NewRecordStore(db),
		Planner:     storage.NewPlannerStore(db),
		Adapters:    []daysync.Adapter{calAdapter},
		Notifier:    hub,
	})
	if err := orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// Auto-sync timers for connections that want them
	var sched *scheduler.Scheduler
	if cfg.Features.EnableScheduler {
		sched = scheduler.New()
		if err := registerAutoSync(sched, connections, orch); err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	server := api.New(api.Config{
		Port:         cfg.Server.Port,
		DB:           db,
		Orchestrator: orch,
		Scheduler:    sched,
		Hub:          hub,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Info("shutting down")
		if sched != nil {
			sched.Stop()
		}
		orch.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logging.Info("daygrid listening on http://localhost:%d", cfg.Server.Port)
	return server.Start()
}

// readPassphrase takes the credential passphrase from the environment or,
// on a terminal, prompts for it
func readPassphrase() (string, error) {
	if pass := os.Getenv("DAYGRID_PASSPHRASE"); pass != "" {
		return pass, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("DAYGRID_PASSPHRASE not set and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return string(raw), nil
}

// registerAutoSync creates an interval task per connection with auto-sync
// enabled
func registerAutoSync(sched *scheduler.Scheduler, connections *storage.ConnectionStore, orch *daysync.Orchestrator) error {
	conns, err := connections.GetActive()
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	for _, conn := range conns {
		if !conn.Config.AutoSync || conn.Config.Interval <= 0 {
			continue
		}
		connID := conn.ID
		task := scheduler.IntervalTask(
			"auto-sync:"+string(connID),
			"auto-sync "+conn.Name,
			conn.Config.Interval,
			func(ctx context.Context) error {
				_, err := orch.EnqueueAutoSync(connID)
				return err
			},
		)
		if err := sched.Register(task); err != nil {
			return err
		}
	}
	return nil
}
