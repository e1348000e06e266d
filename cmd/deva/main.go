// Command deva runs a metadata node: the replicated namespace and
// chunk-layout plane of the fabric.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"pain/internal/server"
)

var version = "dev"

func main() {
	var (
		cfg      server.Config
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:     "deva",
		Short:   "Metadata service of the pain storage fabric",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)
			if cfg.NodeID == "" {
				cfg.NodeID = petname.Generate(2, "-")
				logger.Info("generated node id", "node", cfg.NodeID)
			}

			srv, err := server.NewDevaServer(cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("shutting down")
			return srv.Stop()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.NodeID, "node-id", "", "unique node id (generated if empty)")
	flags.StringVar(&cfg.Group, "group", "default", "replication group name")
	flags.StringVar(&cfg.DataPath, "data-path", "./data", "root directory for group state")
	flags.StringVar(&cfg.ListenAddr, "listen-address", "127.0.0.1:8001", "cluster port listen address")
	flags.StringVar(&cfg.AdvertiseAddr, "advertise-address", "", "address peers dial (defaults to listen address)")
	flags.StringVar(&cfg.InitialConfiguration, "initial-configuration", "", "comma-separated id@host:port peers for first boot")
	flags.IntVar(&cfg.ElectionTimeoutMs, "election-timeout-ms", 1000, "election timeout in milliseconds")
	flags.IntVar(&cfg.SnapshotIntervalS, "snapshot-interval-s", 120, "snapshot interval in seconds")
	flags.BoolVar(&cfg.DisableCLI, "disable-cli", false, "leave membership RPCs unregistered")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
