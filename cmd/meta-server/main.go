package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/robustmq/robustmq/internal/config"
	"github.com/robustmq/robustmq/internal/infra/buildinfo"
	"github.com/robustmq/robustmq/internal/infra/shutdown"
	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/logger"
	"github.com/robustmq/robustmq/internal/meta/controller"
	"github.com/robustmq/robustmq/internal/meta/discovery"
	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/rpc"
	"github.com/robustmq/robustmq/internal/meta/store"
	"github.com/robustmq/robustmq/internal/raft"
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
		fmt.Println("meta-server " + buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Cluster.HasRole("meta") {
		return fmt.Errorf("meta-server: node %d has no \"meta\" role in its cluster config", cfg.Cluster.NodeID)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting meta-server", "version", buildinfo.Version, "node_id", cfg.Cluster.NodeID, "config", *configFile)

	engine, err := kv.NewBadgerEngine(kv.DefaultConfig(cfg.KV.DataDir), slog.Default())
	if err != nil {
		return fmt.Errorf("open kv engine: %w", err)
	}

	st := store.New(engine, slog.Default())
	fsm := router.New(st, slog.Default())

	raftNode, err := raft.New(raft.Config{
		NodeID:             cfg.Cluster.NodeID,
		BindAddr:           cfg.Meta.RaftBindAddr,
		DataDir:            cfg.Meta.DataDir,
		Bootstrap:          cfg.Meta.Bootstrap,
		HeartbeatTimeout:   cfg.Meta.HeartbeatTimeout,
		ElectionTimeout:    cfg.Meta.ElectionTimeout,
		CommitTimeout:      cfg.Meta.CommitTimeout,
		LeaderLeaseTimeout: cfg.Meta.LeaderLeaseTimeout,
		SnapshotInterval:   cfg.Meta.SnapshotInterval,
		SnapshotThreshold:  cfg.Meta.SnapshotThreshold,
		Logger:             slog.Default(),
	}, fsm)
	if err != nil {
		return fmt.Errorf("start raft node: %w", err)
	}

	metaSrv := rpc.NewMetaServer(raftNode, st, slog.Default())

	mux := http.NewServeMux()
	rpc.RegisterHandlers(mux, metaSrv)
	httpServer := &http.Server{Addr: cfg.Meta.GRPCAddr, Handler: mux}

	gossip, err := startDiscovery(cfg, raftNode)
	if err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	heartbeat := controller.NewHeartbeatController(controller.HeartbeatConfig{
		SuspectAfter: cfg.Meta.HeartbeatExpiry / 2,
		DeadAfter:    cfg.Meta.HeartbeatExpiry,
		ScanInterval: 1 * time.Second,
		Logger:       slog.Default(),
	}, st, raftNode)
	gc := controller.NewGCController(controller.DefaultGCConfig(), st, raftNode)
	preferred := controller.NewPreferredReplicaController(controller.DefaultPreferredReplicaConfig(), st, raftNode)
	heartbeat.Start()
	gc.Start()
	preferred.Start()

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down meta RPC server")
		return httpServer.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping background controllers")
		preferred.Stop()
		gc.Stop()
		heartbeat.Stop()
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("leaving gossip cluster")
		return gossip.Leave()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing raft node")
		return raftNode.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing kv engine")
		return engine.Close()
	})

	go func() {
		log.Info("meta RPC server listening", "addr", cfg.Meta.GRPCAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("meta RPC server error", "error", err)
		}
	}()

	log.Info("meta-server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("meta-server stopped gracefully")
	return nil
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

// startDiscovery joins the gossip membership layer and, while this node
// holds Raft leadership, promotes newly-seen meta peers from learner to
// voter once they have a Raft address to advertise (spec §4.2: a new meta
// node joins via gossip before it has any standing in the Raft
// configuration).
func startDiscovery(cfg *config.NodeConfig, node *raft.Node) (*discovery.Gossip, error) {
	bindPort := 7946
	if _, portStr, err := net.SplitHostPort(cfg.Meta.RaftBindAddr); err == nil {
		if p, perr := strconv.Atoi(portStr); perr == nil {
			bindPort = p + 1000
		}
	}

	g, err := discovery.New(discovery.Config{
		NodeID:    cfg.Cluster.NodeID,
		ClusterID: "robustmq",
		BindAddr:  "0.0.0.0",
		BindPort:  bindPort,
		GRPCAddr:  cfg.Meta.GRPCAddr,
		RaftAddr:  cfg.Meta.RaftBindAddr,
		Roles:     cfg.Cluster.Roles,
		SeedNodes: cfg.Cluster.Seeds,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	g.OnJoin(func(meta discovery.NodeMetadata) {
		if !node.IsLeader() || meta.RaftAddr == "" {
			return
		}
		for _, role := range meta.Roles {
			if role != "meta" {
				continue
			}
			if err := node.AddLearner(meta.NodeID, meta.RaftAddr, 10*time.Second); err != nil {
				slog.Default().Warn("meta: add learner failed", "node_id", meta.NodeID, "error", err)
				return
			}
			if err := node.AddVoter(meta.NodeID, meta.RaftAddr, 10*time.Second); err != nil {
				slog.Default().Warn("meta: promote voter failed", "node_id", meta.NodeID, "error", err)
			}
			return
		}
	})

	return g, nil
}
