// The relink command is an interactive console client for multiworld
// servers. It drives the session from a single goroutine, polling the
// connection on a fixed tick while reading commands from stdin.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relink-mw/relink/internal/core"
	"github.com/relink-mw/relink/internal/core/debug"
	"github.com/relink-mw/relink/internal/session"
)

var (
	configFlag   string
	serverFlag   string
	slotFlag     string
	passwordFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "relink",
		Short:         "Multiworld console client",
		Long:          "An interactive console client for Archipelago multiworld servers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "./", "Path to the directory containing the client config file")
	rootCmd.Flags().StringVar(&serverFlag, "server", "", "Server address (host:port), overrides the config")
	rootCmd.Flags().StringVar(&slotFlag, "slot", "", "Slot name, overrides the config")
	rootCmd.Flags().StringVar(&passwordFlag, "password", "", "Room password, overrides the config")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	config, err := core.LoadConfig(configFlag)
	if err != nil {
		return err
	}
	if serverFlag != "" {
		config.SetServerAddress(serverFlag)
	}
	if slotFlag != "" {
		config.Client.Slot = slotFlag
	}
	if passwordFlag != "" {
		config.Client.Password = passwordFlag
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	debug.SetEnabled(config.Debugging.FrameLoggingEnabled)

	console := newConsole(session.New(config, logger))
	return console.run()
}
