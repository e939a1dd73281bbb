package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UniQw/taskq"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run simulated bulk record-creation jobs",
	Long: `Run enqueues a number of batch jobs, each creating a list of records with
random latency and a configurable failure rate, and reports their progress.

The first interrupt asks for confirmation while jobs are running; a confirmed
interrupt cancels everything. With --retry every failed or cancelled job is
retried once with the records that did not succeed.`,
	RunE: runRun,
}

var (
	runJobs            int
	runItems           int
	runFailRate        float64
	runLatency         time.Duration
	runItemConcurrency int
	runStopOnFailure   bool
	runRetry           bool
)

var errRejected = errors.New("record rejected")

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.IntVar(&runJobs, "jobs", 3, "number of jobs to enqueue")
	f.IntVar(&runItems, "items", 10, "records per job")
	f.Float64Var(&runFailRate, "fail-rate", 0.1, "probability that a record fails (0..1)")
	f.DurationVar(&runLatency, "latency", 100*time.Millisecond, "mean time to create a record")
	f.IntVar(&runItemConcurrency, "item-concurrency", 1, "records created in parallel per job")
	f.BoolVar(&runStopOnFailure, "stop-on-failure", false, "stop a job at its first failed record")
	f.BoolVar(&runRetry, "retry", false, "retry failed and cancelled jobs once")
}

type record struct {
	Name string `json:"name"`
	Zone string `json:"zone"`
}

func (r record) ItemID() string { return r.Name + "." + r.Zone }

func createRecord(latency time.Duration, failRate float64) taskq.ItemFunc[record] {
	return func(ctx context.Context, _ *taskq.ItemContext, r record) error {
		d := latency/2 + time.Duration(rand.Int64N(int64(latency)+1))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
		if rand.Float64() < failRate {
			return fmt.Errorf("create %s: %w", r.ItemID(), errRejected)
		}
		return nil
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	if runJobs < 1 || runItems < 1 {
		return errors.New("--jobs and --items must be positive")
	}
	if runLatency < 0 {
		return errors.New("--latency must not be negative")
	}
	log := newLogger()
	cfg, cleanup, err := queueConfig(log)
	if err != nil {
		return err
	}
	defer cleanup()
	q, err := taskq.New(cfg)
	if err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	defer closeQueue(q, log)

	out := cmd.OutOrStdout()
	unsubscribe := q.Subscribe(progressPrinter(out))
	defer unsubscribe()

	opts := []taskq.Option{taskq.ItemConcurrency(runItemConcurrency), taskq.ConfirmBeforeUnload()}
	if runStopOnFailure {
		opts = append(opts, taskq.StopOnFailure())
	}
	handles := make([]*taskq.Handle, 0, runJobs)
	for i := range runJobs {
		zone := fmt.Sprintf("zone%d.example", i+1)
		recs := make([]record, runItems)
		for j := range recs {
			recs[j] = record{Name: fmt.Sprintf("host%03d", j+1), Zone: zone}
		}
		h, err := taskq.EnqueueItems(q, "Create records in "+zone, recs, createRecord(runLatency, runFailRate), opts...)
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		handles = append(handles, h)
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go watchSignals(ctx, q, sig, cmd.ErrOrStderr(), log)

	outcomes := waitAll(ctx, handles)
	if runRetry {
		for i, o := range outcomes {
			if o.Status != taskq.StatusFailed && o.Status != taskq.StatusCancelled {
				continue
			}
			h, err := q.Retry(o.ID)
			if err != nil {
				if errors.Is(err, taskq.ErrQueueClosed) {
					break
				}
				log.Warnf("retry %s: %v", o.ID, err)
				continue
			}
			if ro, err := h.Wait(ctx); err == nil {
				outcomes[i] = ro
			}
		}
	}

	items := make([]taskq.SummaryItem, 0, len(outcomes))
	for _, o := range outcomes {
		t, _ := q.Get(o.ID)
		it := taskq.SummaryItem{Label: t.Title, Status: o.Status}
		if o.Failed > 0 {
			it.Message = fmt.Sprintf("%d of %d records failed", o.Failed, t.Total)
		}
		items = append(items, it)
	}
	q.ShowSummary("Bulk record creation", items)
	printSummary(out, q)
	q.CloseSummary()
	return nil
}

func waitAll(ctx context.Context, handles []*taskq.Handle) []taskq.Outcome {
	outcomes := make([]taskq.Outcome, 0, len(handles))
	for _, h := range handles {
		o, err := h.Wait(ctx)
		if err != nil {
			o = taskq.Outcome{ID: h.ID, Status: taskq.StatusCancelled}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// watchSignals cancels running jobs on interrupt. While jobs flagged
// ConfirmBeforeUnload are active the first interrupt only warns.
func watchSignals(ctx context.Context, q *taskq.Queue, sig <-chan os.Signal, w io.Writer, log taskq.Logger) {
	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if q.HasBlockingTasks() && !warned {
				warned = true
				fmt.Fprintln(w, warnStyle.Render("jobs are still running; interrupt again to cancel them"))
				continue
			}
			log.Warnf("interrupted; cancelling jobs")
			closeQueue(q, log)
			return
		}
	}
}

// progressPrinter prints one line per task whenever its progress changes.
// Listeners run on a single goroutine, so seen needs no lock.
func progressPrinter(w io.Writer) taskq.Listener {
	seen := map[string]string{}
	return func(tasks []taskq.Task) {
		for _, t := range tasks {
			line := fmt.Sprintf("%s %s %s", statusText(t.Status), progress(&t), t.Title)
			if seen[t.ID] == line {
				continue
			}
			seen[t.ID] = line
			fmt.Fprintln(w, line)
		}
	}
}

func printSummary(w io.Writer, q *taskq.Queue) {
	s, ok := q.Summary()
	if !ok {
		return
	}
	fmt.Fprintln(w, titleStyle.Render(s.Title))
	for _, it := range s.Items {
		line := fmt.Sprintf("  %s  %s", statusText(it.Status), it.Label)
		if it.Message != "" {
			line += "  " + mutedStyle.Render(it.Message)
		}
		fmt.Fprintln(w, line)
	}
}

func closeQueue(q *taskq.Queue, log taskq.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		log.Warnf("close queue: %v", err)
	}
}
