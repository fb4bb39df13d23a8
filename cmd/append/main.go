package appendcmd

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/flags"
)

const (
	usage   = "append [record...]"
	short   = "Append records to a queue"
	long    = "This command appends each argument as a record, or each line of stdin when no arguments are given, and prints the index of every record written"
	example = "marketqueue append --dir /var/lib/marketqueue/ticks 'AAPL 187.20' 'MSFT 402.11'"
)

var (
	// Cmd is the append command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeAppend,
	}

	loc flags.Location
)

func init() {
	loc.Register(Cmd)
}

func executeAppend(cmd *cobra.Command, args []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	defer c.Close()
	q, err := c.GetQueue()
	if err != nil {
		return err
	}
	a, err := q.CreateAppender()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	write := func(p []byte) error {
		idx, err := a.Append(p)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, idx)
		return nil
	}

	if len(args) > 0 {
		for _, arg := range args {
			if err = write([]byte(arg)); err != nil {
				return err
			}
		}
		return nil
	}
	return appendLines(cmd.InOrStdin(), q.Config().MaxFrameSize, write)
}

// appendLines calls write for every line of r, without the line ending.
func appendLines(r io.Reader, maxLen int, write func(p []byte) error) error {
	// the scanner's limit is the larger of max and the buffer's capacity
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, maxLen+1)), maxLen+1)
	for sc.Scan() {
		if err := write(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
