package main

import (
	"testing"

	"github.com/robustmq/robustmq/internal/config"
)

func TestBuildTransportConfig_DefaultsToTCPOnly(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	cfg.MQTT.TCP.Enabled = true
	cfg.MQTT.TCP.Addr = "0.0.0.0:1883"

	tc, err := buildTransportConfig(&cfg)
	if err != nil {
		t.Fatalf("buildTransportConfig: %v", err)
	}
	if tc.TCPAddress != "0.0.0.0:1883" {
		t.Fatalf("TCPAddress = %q, want 0.0.0.0:1883", tc.TCPAddress)
	}
	if tc.TLSAddress != "" || tc.WSAddress != "" || tc.WSSAddress != "" || tc.QUICAddress != "" {
		t.Fatalf("expected only TCP enabled, got %+v", tc)
	}
}

func TestBuildTransportConfig_TLSRequiresValidKeyPair(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	cfg.MQTT.TLS.Enabled = true
	cfg.MQTT.TLS.Addr = "0.0.0.0:8883"
	cfg.MQTT.TLS.TLSCertFile = "/nonexistent/cert.pem"
	cfg.MQTT.TLS.TLSKeyFile = "/nonexistent/key.pem"

	if _, err := buildTransportConfig(&cfg); err == nil {
		t.Fatal("expected an error loading a nonexistent TLS key pair")
	}
}

func TestBuildTransportConfig_CarriesMaxPacketSizeAndRateLimit(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	cfg.MQTT.MaxPacketSize = 4096
	cfg.MQTT.ConnectRatePerSecond = 50

	tc, err := buildTransportConfig(&cfg)
	if err != nil {
		t.Fatalf("buildTransportConfig: %v", err)
	}
	if tc.MaxPacketSize != 4096 {
		t.Fatalf("MaxPacketSize = %d, want 4096", tc.MaxPacketSize)
	}
	if tc.ConnectionRatePerSec != 50 {
		t.Fatalf("ConnectionRatePerSec = %d, want 50", tc.ConnectionRatePerSec)
	}
}
