package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "time/tzdata"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "ticketbooth.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ticketbooth",
		Short:        "Ticketbooth: Discord support tickets",
		Long:         "Ticketbooth runs a Discord bot that opens private support ticket channels, lets staff claim them, and archives transcripts on close.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStoreCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ticketbooth %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
