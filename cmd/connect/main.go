package connect

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/connect/session"
	"github.com/alpacahq/marketqueue/cmd/flags"
	"github.com/alpacahq/marketqueue/utils/log"
)

const (
	// Command
	// -------------.
	usage   = "connect"
	short   = "Open an interactive session with a queue"
	long    = "This command opens an interactive session to append, read and inspect the records of a queue directory"
	example = "marketqueue connect --dir /var/lib/marketqueue/ticks"
)

var (
	// Cmd is the connect command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"open", "conn"},
		Example:    example,
		Args:       cobra.NoArgs,
		RunE:       executeConnect,
	}

	loc flags.Location
)

func init() {
	loc.Register(Cmd)
}

// executeConnect implements the connect command.
func executeConnect(cmd *cobra.Command, _ []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	defer c.Close()
	q, err := c.GetQueue()
	if err != nil {
		return err
	}

	// Enter command loop
	if err = session.NewClient(q, cmd.OutOrStdout()).Read(); err != nil {
		return err
	}

	log.Info("closed connection")
	return nil
}
