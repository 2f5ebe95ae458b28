package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/gangway/internal/logger"
)

func main() {
	var logLevel string
	var logFile string

	root := &cobra.Command{
		Use:   "gangway",
		Short: "gangway, a terminal and file session gateway",
		Long:  "Serves browser terminal sessions against the local shell or remote hosts over SSH, with file browsing and editing multiplexed onto the same connection.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logLevel, logFile)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	root.AddCommand(
		serveCmd(),
		attachCmd(),
		probeCmd(),
		fsCmd(),
		hostsCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
