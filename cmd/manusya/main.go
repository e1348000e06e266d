// Command manusya runs a storage node: the chunk bank, its direct
// service surface, and (optionally) the replicated chunk registry.
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
		cfg      server.ManusyaConfig
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:     "manusya",
		Short:   "Chunk storage service of the pain storage fabric",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)
			if cfg.NodeID == "" {
				cfg.NodeID = petname.Generate(2, "-")
				logger.Info("generated node id", "node", cfg.NodeID)
			}

			// The heartbeat sink is the deva client boundary; a
			// standalone node runs without one until the RPC front
			// end is wired in.
			srv, err := server.NewManusyaServer(cfg, nil, logger)
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
	flags.StringVar(&cfg.Group, "group", "manusya", "registry replication group name")
	flags.StringVar(&cfg.DataPath, "data-path", "./data", "root directory for group state")
	flags.StringVar(&cfg.ListenAddr, "listen-address", "127.0.0.1:8101", "cluster port listen address")
	flags.StringVar(&cfg.AdvertiseAddr, "advertise-address", "", "address peers dial (defaults to listen address)")
	flags.StringVar(&cfg.InitialConfiguration, "initial-configuration", "", "comma-separated id@host:port peers for first boot")
	flags.IntVar(&cfg.ElectionTimeoutMs, "election-timeout-ms", 1000, "election timeout in milliseconds")
	flags.IntVar(&cfg.SnapshotIntervalS, "snapshot-interval-s", 120, "snapshot interval in seconds")
	flags.BoolVar(&cfg.DisableCLI, "disable-cli", false, "leave membership RPCs unregistered")
	flags.StringVar(&cfg.StoreURI, "store", "memory://", "chunk store uri (memory:// or local://<dir>)")
	flags.IntVar(&cfg.HeartbeatIntervalS, "heartbeat-interval-s", 0, "heartbeat interval in seconds (0 disables)")
	flags.BoolVar(&cfg.EnableRegistry, "enable-registry", false, "replicate chunk registry membership")
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
