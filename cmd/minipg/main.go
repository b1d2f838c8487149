// Command minipg runs the database server: a single-node,
// PostgreSQL-wire-compatible engine with paged storage, MVCC, and a WAL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/minipg/minipg/internal/config"
	"github.com/minipg/minipg/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "minipg",
		Short: "minipg is a single-node PostgreSQL-compatible database server",
	}
	root.AddCommand(serveCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("minipg %s\n", version)
		},
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		dataDir    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the wire server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}

			log, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			pages, err := cfg.PoolPages()
			if err != nil {
				return err
			}
			cluster, err := server.OpenCluster(cfg.DataDir, cfg.SuperuserPassword, pages, log)
			if err != nil {
				return err
			}
			if segBytes, err := cfg.WALSegmentBytes(); err == nil {
				cluster.WAL.SetMaxSegmentSize(segBytes)
			}

			srv := server.New(cluster, cfg.Listen, log)
			cp := server.NewCheckpointer(srv, log)
			if err := cp.Start(cfg.CheckpointSchedule); err != nil {
				return err
			}
			defer cp.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (overrides config)")
	return cmd
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
