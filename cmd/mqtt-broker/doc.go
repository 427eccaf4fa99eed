// Package main provides the entry point for mqtt-broker, the MQTT edge
// process described in spec §4.8-§4.9: multi-protocol connection
// admission (TCP/TLS/WS/WSS/QUIC) feeding the session/subscription core,
// backed by the meta service for authentication, exclusive-subscription
// coordination, and session/retained-message durability.
package main
