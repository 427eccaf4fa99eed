// Package config defines the TOML-backed configuration structures shared
// by the meta service, MQTT broker, and journal server binaries. Each
// binary loads the whole document but only reads the sections relevant to
// its own role, since a single node process can run more than one role in
// a development cluster.
package config

import "time"

// NodeConfig is the root configuration for a RobustMQ node process.
type NodeConfig struct {
	Cluster ClusterSection `koanf:"cluster"`
	Meta    MetaSection    `koanf:"meta"`
	MQTT    MQTTSection    `koanf:"mqtt"`
	Journal JournalSection `koanf:"journal"`
	KV      KVSection      `koanf:"kv"`
	Security SecuritySection `koanf:"security"`
	Log     LogSection     `koanf:"log"`
}

// DefaultNodeConfig returns the built-in defaults used when a field is
// absent from both the config file and the environment.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Cluster: ClusterSection{
			NodeID:  1,
			Roles:   []string{"meta", "broker", "journal"},
			Seeds:   nil,
		},
		Meta: MetaSection{
			DataDir:           "./data/meta",
			RaftBindAddr:      "127.0.0.1:9981",
			GRPCAddr:          "127.0.0.1:9982",
			HeartbeatTimeout:  1000 * time.Millisecond,
			ElectionTimeout:   1000 * time.Millisecond,
			CommitTimeout:     50 * time.Millisecond,
			LeaderLeaseTimeout: 500 * time.Millisecond,
			SnapshotInterval:  2 * time.Minute,
			SnapshotThreshold: 8192,
			HeartbeatExpiry:   30 * time.Second,
			RebalanceRateMB:   20,
			RebalanceConcurrency: 3,
		},
		MQTT: MQTTSection{
			TCP:  ListenerConfig{Enabled: true, Addr: "0.0.0.0:1883"},
			TLS:  ListenerConfig{Enabled: false, Addr: "0.0.0.0:8883"},
			WS:   ListenerConfig{Enabled: false, Addr: "0.0.0.0:8083"},
			WSS:  ListenerConfig{Enabled: false, Addr: "0.0.0.0:8084"},
			QUIC: ListenerConfig{Enabled: false, Addr: "0.0.0.0:14567"},
			MaxPacketSize:        1 << 20,
			MaxInflightMessages:  64,
			MaxKeepAliveSeconds:  3600,
			SessionExpiryMax:     24 * time.Hour,
			ConnectRatePerSecond: 500,
			ConnectRateBurst:     1000,
			RetainedMessageMax:   1_000_000,
		},
		Journal: JournalSection{
			GRPCAddr:          "127.0.0.1:9983",
			DataDir:           "./data/journal",
			IndexGranularity:  256,
			SegmentMaxBytes:   64 << 20,
			SegmentMaxAge:     10 * time.Minute,
			SyncMode:          "batch",
			SyncIntervalMS:    1000,
			RetainSegments:    3,
			CompactionEnabled: true,
		},
		KV: KVSection{
			DataDir:        "./data/kv",
			GCIntervalSec:  600,
			ValueLogGCRatio: 0.5,
		},
		Security: SecuritySection{},
		Log: LogSection{
			Level:  "info",
			Format: "json",
		},
	}
}

// ClusterSection identifies this node within the cluster.
type ClusterSection struct {
	NodeID uint64   `koanf:"node_id"`
	Roles  []string `koanf:"roles"`
	Seeds  []string `koanf:"seeds"`
}

// HasRole reports whether this node runs the given role (meta, broker,
// or journal). Single-binary test clusters typically run all three.
func (c ClusterSection) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// MetaSection configures the Raft-backed meta service.
type MetaSection struct {
	DataDir              string        `koanf:"data_dir"`
	RaftBindAddr         string        `koanf:"raft_bind_addr"`
	GRPCAddr             string        `koanf:"grpc_addr"`
	Bootstrap            bool          `koanf:"bootstrap"`
	HeartbeatTimeout     time.Duration `koanf:"heartbeat_timeout"`
	ElectionTimeout      time.Duration `koanf:"election_timeout"`
	CommitTimeout        time.Duration `koanf:"commit_timeout"`
	LeaderLeaseTimeout   time.Duration `koanf:"leader_lease_timeout"`
	SnapshotInterval     time.Duration `koanf:"snapshot_interval"`
	SnapshotThreshold    uint64        `koanf:"snapshot_threshold"`
	HeartbeatExpiry      time.Duration `koanf:"heartbeat_expiry"`
	RebalanceRateMB      int           `koanf:"rebalance_rate_mb"`
	RebalanceConcurrency int           `koanf:"rebalance_concurrency"`
}

// ListenerConfig toggles and addresses one MQTT transport.
type ListenerConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// MQTTSection configures the MQTT broker edge.
type MQTTSection struct {
	TCP  ListenerConfig `koanf:"tcp"`
	TLS  ListenerConfig `koanf:"tls"`
	WS   ListenerConfig `koanf:"ws"`
	WSS  ListenerConfig `koanf:"wss"`
	QUIC ListenerConfig `koanf:"quic"`

	MaxPacketSize        uint32        `koanf:"max_packet_size"`
	MaxInflightMessages  int           `koanf:"max_inflight_messages"`
	MaxKeepAliveSeconds  uint16        `koanf:"max_keep_alive_seconds"`
	SessionExpiryMax     time.Duration `koanf:"session_expiry_max"`
	ConnectRatePerSecond float64       `koanf:"connect_rate_per_second"`
	ConnectRateBurst     int           `koanf:"connect_rate_burst"`
	RetainedMessageMax   int           `koanf:"retained_message_max"`
}

// JournalSection configures the append-only segment storage tier.
type JournalSection struct {
	GRPCAddr          string        `koanf:"grpc_addr"`
	DataDir           string        `koanf:"data_dir"`
	IndexGranularity  int           `koanf:"index_granularity"`
	SegmentMaxBytes   int64         `koanf:"segment_max_bytes"`
	SegmentMaxAge     time.Duration `koanf:"segment_max_age"`
	SyncMode          string        `koanf:"sync_mode"` // "sync" or "batch"
	SyncIntervalMS    int           `koanf:"sync_interval_ms"`
	RetainSegments    int           `koanf:"retain_segments"`
	CompactionEnabled bool          `koanf:"compaction_enabled"`
	EncryptionKey     string        `koanf:"encryption_key"`
}

// KVSection configures the embedded Badger engine backing the journal
// server's index and offset-commit tables. The meta Raft log and stable
// stores do not use it; they are separate raft-boltdb files.
type KVSection struct {
	DataDir         string  `koanf:"data_dir"`
	GCIntervalSec   int     `koanf:"gc_interval_sec"`
	ValueLogGCRatio float64 `koanf:"value_log_gc_ratio"`
}

// SecuritySection configures cross-cutting TLS/mTLS material for internal
// cluster RPC.
type SecuritySection struct {
	ClusterTLSCAFile   string `koanf:"cluster_tls_ca_file"`
	ClusterTLSCertFile string `koanf:"cluster_tls_cert_file"`
	ClusterTLSKeyFile  string `koanf:"cluster_tls_key_file"`
}

// LogSection configures structured logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
