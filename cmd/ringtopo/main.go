package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ringtopo/ringtopo/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ringtopo",
	Short: "ringtopo - cluster topology state machine for a shard-per-core wide-column store",
	Long: `ringtopo drives the cluster topology state machine for a distributed,
shard-per-core, wide-column database: node join/replace/leave/remove/
rebuild, CDC generation rollover, and cluster-wide cleanup, all committed
through Raft consensus before being acted on.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ringtopo version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("admin-addr", "http://127.0.0.1:7090", "Address of the admin HTTP API on a running replica")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
