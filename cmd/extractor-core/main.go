package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerosumquant/claude-extractor-core/pkg/config"
	"github.com/zerosumquant/claude-extractor-core/pkg/daemon"
	"github.com/zerosumquant/claude-extractor-core/pkg/logger"
	"github.com/zerosumquant/claude-extractor-core/pkg/protocol"
	"github.com/zerosumquant/claude-extractor-core/pkg/schedule"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("extractor-core %s\n", formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func main() {
	var configPath, dbPath, rootPath, logFile string
	var debug bool

	root := &cobra.Command{
		Use:   "extractor-core",
		Short: "Indexes and serves Claude conversation logs over a line-delimited JSON protocol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(configPath, dbPath, rootPath, logFile, debug)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to JSON config file (default: <home>/.claude/extractor-config.json)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")
	root.PersistentFlags().StringVar(&rootPath, "root", "", "override default scan root")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "override structured log file path")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the protocol server on stdin/stdout (default when no subcommand is given)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(configPath, dbPath, rootPath, logFile, debug)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			printVersion()
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(configPath, dbPath, rootPath, logFile string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if rootPath != "" {
		cfg.DefaultRoot = rootPath
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if cfg.LogFile != "" {
		if err := logger.EnableFileLogging(cfg.LogFile); err != nil {
			logger.WarnCF("main", "failed to enable file logging", map[string]any{"error": err.Error()})
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("preparing database directory: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	d := daemon.New(cfg, st, func() int64 { return time.Now().Unix() })
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.InfoC("main", "received shutdown signal")
		cancel()
	}()

	server := protocol.NewServer(os.Stdin, os.Stdout, formatVersion(), d.Handle)

	// The scheduler only ever calls server.Enqueue from its own goroutine,
	// never d.Handle directly: Enqueue just posts onto a channel that
	// Run's single select loop drains, so a scheduled build_index is
	// serialized against stdin-driven requests the same way two stdin
	// requests are serialized against each other.
	sched, err := schedule.New(cfg.ScanCron, schedule.DefaultTick, func(ctx context.Context) {
		server.Enqueue(d.ScheduledBuildIndexRequest())
	})
	if err != nil {
		return fmt.Errorf("configuring scheduler: %w", err)
	}
	go sched.Run(ctx)

	logger.InfoCF("main", "extractor-core starting", map[string]any{"db": cfg.DatabasePath, "root": cfg.DefaultRoot})
	return server.Run(ctx)
}
