package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/finbase/stockpulse/pkg/agent"
	"github.com/finbase/stockpulse/pkg/api"
	"github.com/finbase/stockpulse/pkg/cache"
	"github.com/finbase/stockpulse/pkg/client"
	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/fabric"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/manager"
	"github.com/finbase/stockpulse/pkg/metrics"
	"github.com/finbase/stockpulse/pkg/store"
	"github.com/finbase/stockpulse/pkg/types"
)

// Set via -ldflags at build time
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "stockpulse",
		Short: "Multi-agent stock analysis orchestrator",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(), submitCmd(), statusCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log.Init(log.Config{
				Level:      log.Level(cfg.Log.Level),
				JSONOutput: cfg.Log.JSONOutput,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer st.Close()

	fab, hub, err := openFabric(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open message fabric: %w", err)
	}
	defer fab.Disconnect()

	docs, err := cache.OpenBolt(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open result cache: %w", err)
	}
	defer docs.Close()

	mgr, err := manager.New(cfg, st, fab, agent.DefaultRegistry(0), cache.NewReuser(docs, cfg))
	if err != nil {
		return err
	}

	mgr.ReconcileOrphans(ctx)
	if _, err := mgr.Checkpoints().GC(cfg.Control.CheckpointMaxAge); err != nil {
		log.Warn().Err(err).Msg("checkpoint garbage collection failed")
	}

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	// Periodic checkpoint GC while serving
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := mgr.Checkpoints().GC(cfg.Control.CheckpointMaxAge); err != nil {
					log.Warn().Err(err).Msg("checkpoint garbage collection failed")
				}
			}
		}
	}()

	srv := api.New(cfg, mgr, hub)
	err = srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := mgr.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("workers did not drain before deadline")
	}
	return err
}

// openFabric resolves the configured fabric backend. The socket hub is
// returned separately so the API can mount its websocket endpoint.
func openFabric(ctx context.Context, cfg *config.Config) (fabric.Fabric, *fabric.SocketHub, error) {
	switch cfg.Fabric.Backend {
	case config.FabricSocket:
		hub := fabric.NewSocketHub()
		if err := hub.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return hub, hub, nil
	case config.FabricRedis:
		r := fabric.NewRedis(cfg.Fabric.RedisURL)
		if err := r.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	default:
		m := fabric.NewMemory()
		if err := m.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	}
}

func submitCmd() *cobra.Command {
	var (
		file   string
		server string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit analysis requests from a JSON or YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			if ext := strings.ToLower(filepath.Ext(file)); ext == ".yaml" || ext == ".yml" {
				var raw any
				if err := yaml.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("failed to parse %s: %w", file, err)
				}
				if data, err = json.Marshal(raw); err != nil {
					return err
				}
			}

			// Accept a single request or an array of them
			var reqs []types.AnalysisRequest
			if err := json.Unmarshal(data, &reqs); err != nil {
				var single types.AnalysisRequest
				if err := json.Unmarshal(data, &single); err != nil {
					return fmt.Errorf("failed to parse %s: %w", file, err)
				}
				reqs = []types.AnalysisRequest{single}
			}

			results, err := client.NewClient(server).StartBatch(cmd.Context(), reqs)
			if err != nil {
				return err
			}
			for i, r := range results {
				if r.Error != "" {
					fmt.Printf("[%d] rejected: %s\n", i, r.Error)
					continue
				}
				fmt.Printf("[%d] %s %s\n", i, r.AnalysisID, r.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML file with one request or an array of requests")
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8620", "orchestrator address")
	cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status <analysis-id>",
		Short: "Show the current state of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := client.NewClient(server).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(task, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8620", "orchestrator address")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stockpulse %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		},
	}
}
