package session

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/alpacahq/marketqueue/cmd/stats"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/utils/log"
)

const defaultTailLimit = 20

// append writes the rest of the line as a record.
func (c *Client) append(line string) {
	payload := strings.TrimPrefix(strings.TrimPrefix(line, `\append`), " ")
	if payload == "" {
		fmt.Fprintln(c.out, "Not enough arguments - need \"\\append <record>\"")
		return
	}
	ex, err := c.excerpt()
	if err != nil {
		log.Error("failed to open excerpt: %v", err)
		return
	}
	idx, err := ex.AppendNew([]byte(payload))
	if err != nil {
		fmt.Fprintf(c.out, "append failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%d\n", idx)
}

// read prints the record at an index.
func (c *Client) read(line string) {
	args := strings.Fields(line)
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Wrong number of arguments - need \"\\read <index>\"")
		return
	}
	idx, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(c.out, "invalid index %q\n", args[1])
		return
	}
	ex, err := c.excerpt()
	if err != nil {
		log.Error("failed to open excerpt: %v", err)
		return
	}
	b, err := ex.ReadAt(idx, nil)
	if err != nil {
		fmt.Fprintf(c.out, "read failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%d\t%s\n", idx, b)
}

// tail prints records from an index, or the first available one, up to a
// limit.
func (c *Client) tail(line string) {
	args := strings.Fields(line)[1:]
	limit := defaultTailLimit
	t, err := c.q.CreateTailer()
	if err != nil {
		log.Error("failed to open tailer: %v", err)
		return
	}
	defer t.Close()

	if len(args) > 0 {
		idx, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(c.out, "invalid index %q\n", args[0])
			return
		}
		if err = t.MoveTo(idx); err != nil {
			fmt.Fprintf(c.out, "tail failed: %v\n", err)
			return
		}
	}
	if len(args) > 1 {
		if limit, err = strconv.Atoi(args[1]); err != nil || limit < 1 {
			fmt.Fprintf(c.out, "invalid limit %q\n", args[1])
			return
		}
	}

	for n := 0; n < limit; n++ {
		b, err := t.Next(nil)
		if errors.Is(err, errs.ErrNotYetAvailable) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "tail failed: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "%d\t%s\n", t.LastRead(), b)
	}
}

func (c *Client) stats() {
	if err := stats.Print(c.out, c.q); err != nil {
		fmt.Fprintf(c.out, "stats failed: %v\n", err)
	}
}

func (c *Client) verify() {
	reports, err := c.q.Verify(runtime.NumCPU())
	if err != nil {
		fmt.Fprintf(c.out, "verify failed: %v\n", err)
		return
	}
	for _, r := range reports {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(c.out, "cycle %d: %d records: %s\n", r.Cycle, r.Records, status)
	}
}
