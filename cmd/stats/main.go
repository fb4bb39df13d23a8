package stats

import (
	"fmt"
	"io"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/flags"
	"github.com/alpacahq/marketqueue/queue"
	"github.com/alpacahq/marketqueue/queue/index"
)

const (
	usage   = "stats"
	short   = "Show the header statistics of a queue and its segments"
	long    = "This command prints the queue settings, the first and last record index, and the header fields of every segment"
	example = "marketqueue stats --dir /var/lib/marketqueue/ticks"
)

var (
	// Cmd is the stats command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"info", "status"},
		Example:    example,
		Args:       cobra.NoArgs,
		RunE:       executeStats,
	}

	loc flags.Location
)

func init() {
	loc.Register(Cmd)
}

func executeStats(cmd *cobra.Command, _ []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	defer c.Close()
	q, err := c.GetQueue()
	if err != nil {
		return err
	}
	return Print(cmd.OutOrStdout(), q)
}

// Print writes the statistics of q to w.
func Print(w io.Writer, q *queue.Queue) error {
	first, err := q.FirstAvailableIndex()
	if err != nil {
		return err
	}
	last, err := q.LastWrittenIndex()
	if err != nil {
		return err
	}
	size, err := q.Size()
	if err != nil {
		return err
	}
	segs, err := q.Segments()
	if err != nil {
		return err
	}
	cfg := q.Config()

	fmt.Fprintf(w, "name:        %s\n", q.Name())
	fmt.Fprintf(w, "directory:   %s\n", q.Dir())
	fmt.Fprintf(w, "roll cycle:  %s\n", cfg.RollCycle)
	fmt.Fprintf(w, "seq bits:    %d\n", q.Scheme().SeqBits())
	fmt.Fprintf(w, "first index: %s\n", formatIndex(q, first))
	fmt.Fprintf(w, "last index:  %s\n", formatIndex(q, last))
	fmt.Fprintf(w, "records:     %d\n", size)
	fmt.Fprintf(w, "segments:    %d\n", len(segs))
	if len(segs) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%10s  %10s  %10s  %8s  %10s  %10s  %6s  %s\n",
		"CYCLE", "RECORDS", "FRAMES", "PENDING", "USED", "EXTENT", "SEALED", "CREATED")
	for _, s := range segs {
		fmt.Fprintf(w, "%10d  %10d  %10d  %8d  %10s  %10s  %6t  %s\n",
			s.Cycle, s.Published, s.Count, s.Pending,
			bytefmt.ByteSize(uint64(s.WritePos)), bytefmt.ByteSize(uint64(s.Extent)),
			s.Sealed, s.Created.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

func formatIndex(q *queue.Queue, idx int64) string {
	if idx == index.None {
		return "none"
	}
	return fmt.Sprintf("%d (%s)", idx, q.Scheme().String(idx))
}
