package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/droverhq/drover/pkg/api"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/gateway"
	"github.com/droverhq/drover/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway: recover persisted state, bring the background
loops up, and serve the HTTP API until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
			if err := cfg.MergeFile(configFile); err != nil {
				return err
			}
		}
		if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
			cfg.ListenAddr = addr
		}
		if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
			cfg.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		gw, err := gateway.New(ctx, cfg)
		cancel()
		if err != nil {
			return err
		}
		gw.Start()

		server := api.NewServer(gw, Version)

		g, ctx := errgroup.WithContext(context.Background())
		g.Go(server.Start)
		g.Go(func() error {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				fmt.Printf("Received %s, shutting down...\n", sig)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		gw.Stop()
		return err
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML config file (overrides environment)")
	serveCmd.Flags().String("listen-addr", "", "HTTP listen address (default "+config.DefaultListenAddr+")")
	serveCmd.Flags().String("data-dir", "", "State directory (default "+config.DefaultDataDir+")")
}
