package clearcmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/flags"
)

const (
	usage   = "clear"
	short   = "Delete the segments of a queue"
	long    = "This command retires every segment of a queue, or with --before only the older ones. Indices are never reused after a clear"
	example = "marketqueue clear --dir /var/lib/marketqueue/ticks --yes"

	beforeFlag = "before"
	beforeDesc = "only retire segments whose cycle is below this one; the latest segment is always kept"
	yesFlag    = "yes"
	yesDesc    = "do not ask for confirmation"
)

var (
	// Cmd is the clear command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"purge", "trim"},
		Example:    example,
		Args:       cobra.NoArgs,
		RunE:       executeClear,
	}

	loc    flags.Location
	before uint32
	yes    bool
)

func init() {
	loc.Register(Cmd)
	Cmd.Flags().Uint32Var(&before, beforeFlag, 0, beforeDesc)
	Cmd.Flags().BoolVarP(&yes, yesFlag, "y", false, yesDesc)
}

func executeClear(cmd *cobra.Command, _ []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	if !yes {
		fmt.Fprintf(cmd.OutOrStdout(), "retire segments of %s? [y/N] ", c.GetAbsRootDir())
		var answer string
		_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			return errors.New("aborted")
		}
	}
	defer c.Close()
	q, err := c.GetQueue()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed(beforeFlag) {
		n, err := q.RetireBefore(before)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "retired %d segments below cycle %d\n", n, before)
		return nil
	}
	if err = q.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "cleared")
	return nil
}
