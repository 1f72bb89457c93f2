// Matchmaker is the Blockland rendezvous server. Game servers announce
// their addresses with MatchmakerPing; clients ask for an arranged connect
// and both sides are told where to punch through.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  __  __       _       _                     _
 |  \/  | __ _| |_ ___| |__  _ __ ___   __ _| | _____ _ __
 | |\/| |/ _' | __/ __| '_ \| '_ ' _ \ / _' | |/ / _ \ '__|
 | |  | | (_| | || (__| | | | | | | | | (_| |   <  __/ |
 |_|  |_|\__,_|\__\___|_| |_|_| |_| |_|\__,_|_|\_\___|_|
                                                  v%s
`

func main() {
	var configDir, logLevel string

	rootCmd := &cobra.Command{
		Use:   "matchmaker",
		Short: "UDP rendezvous server for Blockland game servers and clients",
		Long: `Matchmaker records the addresses game servers announce and answers
arranged connect requests by notifying both the client and the server
of each other's candidate addresses.

Running without a subcommand starts the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configDir, logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "config", "configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		initCmd(&configDir),
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
