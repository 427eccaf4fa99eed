package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robustmq/robustmq/internal/config"
	"github.com/robustmq/robustmq/internal/infra/buildinfo"
	"github.com/robustmq/robustmq/internal/infra/shutdown"
	jserver "github.com/robustmq/robustmq/internal/journal/server"
	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/logger"
	metarpc "github.com/robustmq/robustmq/internal/meta/rpc"
	jrpc "github.com/robustmq/robustmq/internal/journal/rpc"
	"github.com/robustmq/robustmq/pkg/crypto/adaptive"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("journal-server " + buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Cluster.HasRole("journal") {
		return fmt.Errorf("journal-server: node %d has no \"journal\" role in its cluster config", cfg.Cluster.NodeID)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting journal-server", "version", buildinfo.Version, "node_id", cfg.Cluster.NodeID, "config", *configFile)

	engine, err := kv.NewBadgerEngine(kv.DefaultConfig(cfg.KV.DataDir), slog.Default())
	if err != nil {
		return fmt.Errorf("open kv engine: %w", err)
	}

	var cipher adaptive.Cipher
	if cfg.Journal.EncryptionKey != "" {
		cipher, err = adaptive.New([]byte(cfg.Journal.EncryptionKey))
		if err != nil {
			return fmt.Errorf("init segment cipher: %w", err)
		}
	}

	srv := jserver.New(jserver.Config{
		NodeID:           cfg.Cluster.NodeID,
		DataFold:         cfg.Journal.DataDir,
		IndexGranularity: cfg.Journal.IndexGranularity,
		DurableSync:      cfg.Journal.SyncMode == "sync",
		Cipher:           cipher,
		Logger:           slog.Default(),
	}, engine)

	mux := http.NewServeMux()
	jrpc.RegisterHandlers(mux, srv)
	httpServer := &http.Server{Addr: cfg.Journal.GRPCAddr, Handler: mux}

	metaClient := metarpc.NewClient(http.DefaultClient, "http://"+cfg.Meta.GRPCAddr)
	registerCtx, cancelRegister := context.WithTimeout(context.Background(), 10*time.Second)
	_, err = metaClient.RegisterNode(registerCtx, &v1.RegisterNodeRequest{
		NodeID:   cfg.Cluster.NodeID,
		GRPCAddr: cfg.Journal.GRPCAddr,
		Roles:    []string{"journal"},
	})
	cancelRegister()
	if err != nil {
		log.Warn("journal-server: initial registration with meta failed; heartbeats do not register the node", "error", err)
	}

	stopHeartbeat := startHeartbeatLoop(metaClient, cfg.Cluster.NodeID, 10*time.Second, slog.Default())

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down journal RPC server")
		return httpServer.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping meta heartbeat loop")
		stopHeartbeat()
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing open segments")
		return srv.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing kv engine")
		return engine.Close()
	})

	go func() {
		log.Info("journal RPC server listening", "addr", cfg.Journal.GRPCAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("journal RPC server error", "error", err)
		}
	}()

	log.Info("journal-server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("journal-server stopped gracefully")
	return nil
}

// startHeartbeatLoop periodically reports liveness to the meta leader so
// HeartbeatController doesn't mark this node suspect (spec §4.2). It
// returns a stop function that halts the loop on graceful shutdown.
func startHeartbeatLoop(client *metarpc.Client, nodeID uint64, interval time.Duration, log *slog.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_, err := client.Heartbeat(ctx, &v1.HeartbeatRequest{NodeID: nodeID})
				cancel()
				if err != nil {
					log.Warn("journal-server: heartbeat to meta failed", "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func loadConfig(configFile string) (*config.NodeConfig, error) {
	cfg := config.DefaultNodeConfig()
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	loader := config.NewLoader(opts...)
	if err := loader.Load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func initLogger(cfg *config.NodeConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}
