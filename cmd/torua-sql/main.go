// Command torua-sql runs a single peer of the distributed SQL frontend: a
// PostgreSQL wire listener, a gossip exchange worker, and an HTTP peer-RPC
// server, all sharing one catalog and one KV store. There is no separate
// coordinator process; every invocation of this binary is a full peer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time, the way the cuemby-warren
// binaries stamp their own version string.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "torua-sql",
	Short:   "torua-sql runs one peer of a distributed SQL frontend",
	Version: Version,
	RunE:    runNode,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("sql-addr", envDefault("TORUA_SQL_ADDR", ":5432"), "address the PostgreSQL wire listener binds to")
	flags.String("grpc-addr", envDefault("TORUA_GRPC_ADDR", ":7070"), "address the peer RPC listener binds to, and the address this node advertises to peers")
	flags.String("data-dir", envDefault("TORUA_DATA_DIR", "./data"), "directory this node would use for durable storage")
	flags.String("region", envDefault("TORUA_REGION", ""), "region this node belongs to, used for partition constraint matching")
	flags.String("join", envDefault("TORUA_JOIN", ""), "address of an existing peer to join via gossip")
	flags.String("debug-addr", envDefault("TORUA_DEBUG_ADDR", ":9090"), "address the /metrics debug listener binds to")
	flags.String("log-level", envDefault("TORUA_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs in JSON format")

	_ = rootCmd.MarkFlagRequired("sql-addr")
	_ = rootCmd.MarkFlagRequired("grpc-addr")
	_ = rootCmd.MarkFlagRequired("data-dir")
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
