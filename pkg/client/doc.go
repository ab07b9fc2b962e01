// Package client is a thin HTTP JSON client for pkg/adminapi, used by
// cmd/iffd's CLI subcommands to talk to a running node without linking
// against the cluster packages themselves.
package client
