package verify

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/flags"
)

const (
	usage   = "verify"
	short   = "Check every frame of a queue against its checksum"
	long    = "This command decodes every segment of a queue in parallel, checks each record's checksum and reports the first corrupt frame of every damaged segment"
	example = "marketqueue verify --dir /var/lib/marketqueue/ticks --workers 4"

	workersFlag = "workers"
	workersDesc = "number of segments checked concurrently"
)

var (
	// Cmd is the verify command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		Args:    cobra.NoArgs,
		RunE:    executeVerify,
	}

	loc     flags.Location
	workers int
)

func init() {
	loc.Register(Cmd)
	Cmd.Flags().IntVarP(&workers, workersFlag, "w", runtime.NumCPU(), workersDesc)
}

func executeVerify(cmd *cobra.Command, _ []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	defer c.Close()
	q, err := c.GetQueue()
	if err != nil {
		return err
	}
	reports, err := q.Verify(workers)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	damaged := 0
	for _, r := range reports {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
			damaged++
		}
		fmt.Fprintf(out, "cycle %d: %d records, %d void, %d pending: %s\n",
			r.Cycle, r.Records, r.Void, r.Reserved, status)
	}
	if damaged > 0 {
		return fmt.Errorf("%d of %d segments are damaged", damaged, len(reports))
	}
	return nil
}
