package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	root.AddCommand(
		createServeCommand(global),
		createStatusCommand(global),
		createCreateCommand(global),
		createCaptureCommand(global),
		createDeleteCommand(global),
		createStopCommand(global),
		createHistoryCommand(global),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "themerig",
		Short: "Local environment and screenshot helper for theme tuning",
		Long: `themerig provisions per-customer theme files, keeps the backend and
frontend dev servers running and captures numbered screenshot rounds of
the themed UI.

Examples:
  themerig serve                               # MCP tools over stdio
  themerig serve --transport http              # REST API on 127.0.0.1:3000
  themerig create --target acme                # via a running HTTP server
  themerig capture --target acme
  themerig history --target acme --limit 10`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "themerig HTTP API base URL (default from server.addr and server.base_path)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 5*time.Minute, "HTTP API request timeout")
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the themerig version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
