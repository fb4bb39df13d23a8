package dump

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/flags"
	"github.com/alpacahq/marketqueue/queue"
	"github.com/alpacahq/marketqueue/queue/errs"
)

const (
	usage   = "dump"
	short   = "Dump every record of a queue with its index"
	long    = "This command prints every available record with its index, cycle, sequence and length, as a table or as CSV"
	example = "marketqueue dump --dir /var/lib/marketqueue/ticks --csv > ticks.csv"

	csvFlag = "csv"
	csvDesc = "write CSV with a header row instead of a table"
	hexFlag = "hex"
	hexDesc = "hex encode payloads"
)

var (
	// Cmd is the dump command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		Args:    cobra.NoArgs,
		RunE:    executeDump,
	}

	loc    flags.Location
	asCSV  bool
	encHex bool
)

func init() {
	loc.Register(Cmd)
	Cmd.Flags().BoolVar(&asCSV, csvFlag, false, csvDesc)
	Cmd.Flags().BoolVar(&encHex, hexFlag, false, hexDesc)
}

// Row is one dumped record.
type Row struct {
	Index   int64  `csv:"index"`
	Cycle   uint32 `csv:"cycle"`
	Seq     uint64 `csv:"seq"`
	Length  int    `csv:"length"`
	Payload string `csv:"payload"`
}

func executeDump(cmd *cobra.Command, _ []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	defer c.Close()
	q, err := c.GetQueue()
	if err != nil {
		return err
	}
	rows, err := Rows(q, encHex)
	if err != nil {
		return err
	}
	return write(cmd.OutOrStdout(), rows, asCSV)
}

// Rows reads every available record of q.
func Rows(q *queue.Queue, hexPayload bool) ([]*Row, error) {
	t, err := q.CreateTailer()
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var rows []*Row
	for {
		b, err := t.Next(nil)
		if errors.Is(err, errs.ErrNotYetAvailable) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		idx := t.LastRead()
		cycle, seq := q.Scheme().Decode(idx)
		r := &Row{Index: idx, Cycle: cycle, Seq: seq, Length: len(b)}
		if hexPayload {
			r.Payload = hex.EncodeToString(b)
		} else {
			r.Payload = string(b)
		}
		rows = append(rows, r)
	}
}

func write(w io.Writer, rows []*Row, asCSV bool) error {
	if asCSV {
		return gocsv.Marshal(rows, w)
	}
	fmt.Fprintf(w, "%20s  %10s  %12s  %8s  %s\n", "INDEX", "CYCLE", "SEQ", "LENGTH", "PAYLOAD")
	for _, r := range rows {
		fmt.Fprintf(w, "%20d  %10d  %12d  %8d  %s\n", r.Index, r.Cycle, r.Seq, r.Length, r.Payload)
	}
	return nil
}
