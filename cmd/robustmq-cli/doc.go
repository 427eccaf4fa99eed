// Package main provides the entry point for robustmq-cli, the cluster
// administration tool described in spec §6.
package main
