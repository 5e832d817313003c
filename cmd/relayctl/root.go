package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Shared flags
var (
	relayURL string
	verbose  bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate and exercise the speech-to-text relay",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&relayURL, "relay", "http://localhost:8080", "base URL of the relay server")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(registerCmd())
	cmd.AddCommand(simulateCmd())
	cmd.AddCommand(dumpCmd())
	return cmd
}
