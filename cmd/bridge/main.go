package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gobridge/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Connect applications to a game host over newline-delimited JSON",
		Long: `bridge keeps one persistent TCP or WebSocket connection to a game
host, routes the host's events to handlers and sends RPCs back.

Settings come from defaults, --config (YAML), .env, BRIDGE_* environment
variables and finally command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		runCmd(),
		rpcCmd(),
		discoverCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// connFlags are the connection settings shared by run and rpc.
type connFlags struct {
	host      string
	port      int
	transport string
	logLevel  string
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "Game host address")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "Game host port")
	cmd.Flags().StringVarP(&f.transport, "transport", "t", "", "tcp or websocket")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
}

// load reads the config and applies the flags that were set.
func (f *connFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = f.transport
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}
