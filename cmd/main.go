package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/append"
	"github.com/alpacahq/marketqueue/cmd/clear"
	"github.com/alpacahq/marketqueue/cmd/connect"
	"github.com/alpacahq/marketqueue/cmd/dump"
	"github.com/alpacahq/marketqueue/cmd/stats"
	"github.com/alpacahq/marketqueue/cmd/tail"
	"github.com/alpacahq/marketqueue/cmd/verify"
	"github.com/alpacahq/marketqueue/utils"
	"github.com/alpacahq/marketqueue/utils/log"
)

// flagPrintVersion set flag to show current marketqueue version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use:           "marketqueue",
		Short:         "Inspect and operate memory-mapped record queues",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Log(log.INFO, "version: %+v", utils.Tag)
				log.Log(log.INFO, "commit hash: %+v", utils.GitHash)
				log.Log(log.INFO, "utc build time: %+v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(appendcmd.Cmd)
	c.AddCommand(tail.Cmd)
	c.AddCommand(dump.Cmd)
	c.AddCommand(stats.Cmd)
	c.AddCommand(verify.Cmd)
	c.AddCommand(clearcmd.Cmd)
	c.AddCommand(connect.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
