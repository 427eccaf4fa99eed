package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robustmq/robustmq/internal/config"
	"github.com/robustmq/robustmq/internal/infra/buildinfo"
	"github.com/robustmq/robustmq/internal/infra/shutdown"
	"github.com/robustmq/robustmq/internal/logger"
	metarpc "github.com/robustmq/robustmq/internal/meta/rpc"
	"github.com/robustmq/robustmq/internal/mqtt/broker"
	"github.com/robustmq/robustmq/internal/mqtt/session"
	"github.com/robustmq/robustmq/internal/mqtt/subscription"
	"github.com/robustmq/robustmq/internal/mqtt/transport"

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
		fmt.Println("mqtt-broker " + buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Cluster.HasRole("broker") {
		return fmt.Errorf("mqtt-broker: node %d has no \"broker\" role in its cluster config", cfg.Cluster.NodeID)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting mqtt-broker", "version", buildinfo.Version, "node_id", cfg.Cluster.NodeID, "config", *configFile)

	metaClient := metarpc.NewClient(http.DefaultClient, "http://"+cfg.Meta.GRPCAddr)

	sessions := session.NewTable()
	subs := subscription.NewTable(metaClient, metaClient, slog.Default())

	dispatcher := broker.New(broker.Config{
		NodeID:        cfg.Cluster.NodeID,
		RequireAuth:   cfg.Security.ClusterTLSCAFile != "" || cfg.MQTT.TLS.Enabled,
		MaxPacketSize: int(cfg.MQTT.MaxPacketSize),
	}, sessions, subs, metaClient, slog.Default())

	transportCfg, err := buildTransportConfig(cfg)
	if err != nil {
		return fmt.Errorf("build transport config: %w", err)
	}
	transportSrv := transport.New(transportCfg, dispatcher.Handle, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	if err := transportSrv.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start mqtt listeners: %w", err)
	}

	registerCtx, cancelRegister := context.WithTimeout(context.Background(), 10*time.Second)
	_, err = metaClient.RegisterNode(registerCtx, &v1.RegisterNodeRequest{
		NodeID: cfg.Cluster.NodeID,
		Roles:  []string{"broker"},
	})
	cancelRegister()
	if err != nil {
		log.Warn("mqtt-broker: initial registration with meta failed; heartbeats do not register the node", "error", err)
	}
	stopHeartbeat := startHeartbeatLoop(metaClient, cfg.Cluster.NodeID, 10*time.Second, slog.Default())

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(shCtx context.Context) error {
		log.Info("stopping meta heartbeat loop")
		stopHeartbeat()
		return nil
	})
	shutdownHandler.OnShutdown(func(shCtx context.Context) error {
		log.Info("shutting down mqtt listeners")
		cancel()
		return transportSrv.Shutdown(shCtx)
	})
	shutdownHandler.OnShutdown(func(shCtx context.Context) error {
		log.Info("closing mqtt dispatcher")
		dispatcher.Close()
		return nil
	})

	log.Info("mqtt-broker started", "tcp", cfg.MQTT.TCP.Addr, "ws", cfg.MQTT.WS.Addr)
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("mqtt-broker stopped gracefully")
	return nil
}

// buildTransportConfig maps the node config's per-listener [mqtt]
// sections onto transport.Config, loading TLS material for any enabled
// TLS/WSS/QUIC listener.
func buildTransportConfig(cfg *config.NodeConfig) (*transport.Config, error) {
	tc := transport.DefaultConfig()
	tc.TCPAddress = ""
	tc.MaxPacketSize = int(cfg.MQTT.MaxPacketSize)
	tc.ConnectionRatePerSec = int(cfg.MQTT.ConnectRatePerSecond)

	if cfg.MQTT.TCP.Enabled {
		tc.TCPAddress = cfg.MQTT.TCP.Addr
	}
	if cfg.MQTT.WS.Enabled {
		tc.WSAddress = cfg.MQTT.WS.Addr
	}
	if cfg.MQTT.TLS.Enabled {
		tlsCfg, err := loadTLSConfig(cfg.MQTT.TLS.TLSCertFile, cfg.MQTT.TLS.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt tls listener: %w", err)
		}
		tc.TLSAddress = cfg.MQTT.TLS.Addr
		tc.TLSConfig = tlsCfg
	}
	if cfg.MQTT.WSS.Enabled {
		tlsCfg, err := loadTLSConfig(cfg.MQTT.WSS.TLSCertFile, cfg.MQTT.WSS.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt wss listener: %w", err)
		}
		tc.WSSAddress = cfg.MQTT.WSS.Addr
		tc.TLSConfig = tlsCfg
	}
	if cfg.MQTT.QUIC.Enabled {
		tlsCfg, err := loadTLSConfig(cfg.MQTT.QUIC.TLSCertFile, cfg.MQTT.QUIC.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt quic listener: %w", err)
		}
		tc.QUICAddress = cfg.MQTT.QUIC.Addr
		tc.QUICConfig = tlsCfg
	}
	return tc, nil
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

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
					log.Warn("mqtt-broker: heartbeat to meta failed", "error", err)
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
