// Package cmd provides the CLI commands for echo-gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/echogate/internal/config"
)

var cfgFile string
var envFile string

var rootCmd = &cobra.Command{
	Use:   "echo-gate",
	Short: "echo-gate - MCP echo server over Streamable HTTP",
	Long: `echo-gate is a Model Context Protocol server exposing one tool, "echo",
over the Streamable HTTP transport. Each client gets its own session,
identified by the Mcp-Session-Id header.

Quick start:
  echo-gate start
  curl -i -X POST http://127.0.0.1:8080/mcp \
    -H 'Content-Type: application/json' \
    -d '{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}'

Configuration:
  Config is loaded from echo-gate.yaml in the current directory,
  $HOME/.echo-gate/, or /etc/echo-gate/.

  Environment variables override config values with the ECHO_GATE_ prefix,
  and a .env file in the working directory is loaded first.
  Example: ECHO_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the server
  stop        Stop the running server
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./echo-gate.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before reading the environment (default: ./.env)")
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	config.InitViper(cfgFile)
}
