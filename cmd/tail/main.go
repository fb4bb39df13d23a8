package tail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/cmd/flags"
	"github.com/alpacahq/marketqueue/metrics"
	"github.com/alpacahq/marketqueue/queue"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/utils/log"
)

const (
	// Command
	// -------------.
	usage   = "tail"
	short   = "Print the records of a queue"
	long    = "This command prints records in index order, one per line as \"<index>\\t<payload>\", optionally following the queue as records are appended"
	example = "marketqueue tail --dir /var/lib/marketqueue/ticks --from end --follow"

	// Flags.
	// -------------
	fromFlag       = "from"
	defaultFrom    = "start"
	fromDesc       = "where to start reading: \"start\", \"end\" or a record index"
	followFlag     = "follow"
	followDesc     = "keep waiting for new records until interrupted"
	timeoutFlag    = "timeout"
	timeoutDesc    = "how long a single wait for the next record may take, overriding the configured wait timeout"
	metricsFlag    = "metrics"
	metricsDesc    = "address to serve prometheus metrics on while tailing, e.g. \":8625\""
	defaultDUEvery = time.Minute
)

var (
	// Cmd is the tail command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"read", "follow"},
		Example:    example,
		Args:       cobra.NoArgs,
		RunE:       executeTail,
	}

	loc         flags.Location
	from        string
	follow      bool
	timeout     time.Duration
	metricsAddr string
)

func init() {
	loc.Register(Cmd)
	Cmd.Flags().StringVar(&from, fromFlag, defaultFrom, fromDesc)
	Cmd.Flags().BoolVarP(&follow, followFlag, "f", false, followDesc)
	Cmd.Flags().DurationVar(&timeout, timeoutFlag, 0, timeoutDesc)
	Cmd.Flags().StringVar(&metricsAddr, metricsFlag, "", metricsDesc)
}

func executeTail(cmd *cobra.Command, _ []string) error {
	c, err := loc.Container()
	if err != nil {
		return err
	}
	defer c.Close()
	if timeout > 0 {
		c.GetEngineConfig().WaitTimeout = timeout
	}
	q, err := c.GetQueue()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := metricsAddr
	if addr == "" {
		addr = c.QueueConfig().MetricsListen
	}
	if addr != "" {
		serveMetrics(ctx, addr)
		interval := c.QueueConfig().DiskUsageInterval
		if interval <= 0 {
			interval = defaultDUEvery
		}
		go metrics.StartDiskUsageMonitor(ctx, metrics.DiskUsageBytes, q.Dir(), interval)
	}

	t, err := q.CreateTailer()
	if err != nil {
		return err
	}
	defer t.Close()
	if err = position(t, from); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		var b []byte
		if follow {
			b, err = t.NextWait(ctx, nil)
		} else {
			b, err = t.Next(nil)
		}
		switch {
		case err == nil:
			fmt.Fprintf(out, "%d\t%s\n", t.LastRead(), b)
		case follow && errors.Is(err, errs.ErrTimeout):
			log.Debug("no new record on %s yet", q.Name())
		case errors.Is(err, errs.ErrNotYetAvailable), errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	}
}

// position moves t according to the --from flag.
func position(t *queue.Tailer, from string) error {
	switch from {
	case "", "start":
		return t.ToStart()
	case "end":
		return t.ToEnd()
	}
	idx, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid --%s %q: %w", fromFlag, from, err)
	}
	return t.MoveTo(idx)
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("launching prometheus metrics server on %s...", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
