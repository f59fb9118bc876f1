// Command broker runs the broker agent: it bridges firewalled source
// repositories and the external analysis service. A cobra root command
// with persistent flags falling back to environment variables, a
// signal-aware run() that builds every collaborator in sequence, and a
// version subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/brokererr"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/logging"
	"github.com/fossas/broker/internal/store"
	"github.com/fossas/broker/internal/supervisor"
	"github.com/fossas/broker/internal/transport"
	"github.com/fossas/broker/internal/upload"
	"github.com/fossas/broker/internal/version"
)

const binaryName = "broker"

type cliConfig struct {
	configPath string
	dataRoot   string
	database   string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		useColor := isatty.IsTerminal(os.Stderr.Fd())
		brokererr.Render(os.Stderr, err, useColor)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   binaryName,
		Short: "broker bridges a firewalled git repository and the analysis service",
	}

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("BROKER_CONFIG", ""), "path to the broker's YAML config file (discovered if omitted)")
	root.PersistentFlags().StringVar(&cfg.database, "database", envOrDefault("BROKER_DATABASE", ""), "path to the sqlite state database (defaults under --data-root)")
	root.PersistentFlags().StringVar(&cfg.dataRoot, "data-root", envOrDefault("BROKER_DATA_ROOT", defaultDataRoot()), "directory for persistent state, queues, and the managed analyzer binary")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("BROKER_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(newInitCmd(cfg))
	root.AddCommand(newRunCmd(cfg))
	root.AddCommand(newFixCmd(cfg))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String(binaryName))
		},
	}
}

// newInitCmd satisfies the CLI surface contract; its
// internals (interactive config scaffolding) are out of scope.
func newInitCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new broker configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}

// newFixCmd satisfies the CLI surface contract; it is the diagnostic
// subcommand, out of scope of the core pipeline.
func newFixCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "Diagnose and repair a broken broker installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
}

func newRunCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the broker agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cli *cliConfig) error {
	logger, err := logging.Build(cli.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	configPath, err := config.Discover(cli.configPath)
	if err != nil {
		return brokererr.New("main.discover_config", brokererr.KindConfigurationInvalid, err,
			"pass --config explicitly or place a config.yml in the current directory")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Info("starting broker",
		zap.String("version", version.Version),
		zap.String("config", configPath),
		zap.Int("integrations", len(cfg.Integrations)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cli.dataRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create data root: %w", err)
	}

	procLock := flock.New(filepath.Join(cli.dataRoot, "broker.lock"))
	locked, err := procLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire process lock: %w", err)
	}
	if !locked {
		return brokererr.New("main.process_lock", brokererr.KindAlreadyRunning, nil,
			fmt.Sprintf("another broker process already holds %s; stop it first or point --data-root at a different directory", procLock.Path()))
	}
	defer procLock.Unlock() //nolint:errcheck

	dbPath := cli.database
	if dbPath == "" {
		dbPath = filepath.Join(cli.dataRoot, "db.sqlite")
	}
	st, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer st.Close()

	if err := st.ClaimAgentVersion(ctx, binaryName, version.Version); err != nil {
		return err
	}

	uploader := upload.New(upload.Config{
		Endpoint:     cfg.Endpoint,
		Key:          cfg.Key,
		AgentName:    binaryName,
		AgentVersion: version.Version,
	})

	analyzerMgr := analyzer.New(analyzer.Config{
		DataRoot:   cli.dataRoot,
		BinaryName: "fossa",
		ReleaseURL: "https://github.com/fossas/fossa-cli/releases/latest",
		Logger:     logger,
	})

	sup := supervisor.New(supervisor.Config{
		Broker:   cfg,
		State:    st,
		Analyzer: analyzerMgr,
		Uploader: uploader,
		NewTransport: func(integration config.Integration) (transport.Transport, error) {
			return transport.New(transport.Config{
				Remote: integration.Remote,
				Scheme: integration.Scheme,
				Auth:   integration.Auth,
			})
		},
		DataRoot: cli.dataRoot,
		Logger:   logger,
	})

	err = sup.Run(ctx)
	if ctx.Err() != nil {
		return fmt.Errorf("Shut down at due to OS signal: %w", ctx.Err())
	}
	return err
}

func defaultDataRoot() string {
	home, err := logging.HomeDir()
	if err != nil {
		return ".broker"
	}
	return filepath.Join(home, ".local", "share", "fossa", "broker")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
