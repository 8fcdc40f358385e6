package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/dandriscoll/devlogs/internal/ingest"
	"github.com/dandriscoll/devlogs/internal/operation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	demoCount    int
	demoDuration time.Duration
)

var demoAreas = []string{"web", "billing", "jobs", "auth"}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Write sample operations to the index",
	Long: `Emit a few simulated operations through the logrus hook, each with
nested sub-operations, mixed levels and features, and roll them up when
they finish. Useful for trying tail, search and last-error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		emitter := cli.emitter(ingest.ModeDiagnostics)
		tracker := operation.NewTracker(cli.rollupService(), cli.log)

		appLog := logrus.New()
		appLog.SetOutput(io.Discard)
		appLog.SetLevel(logrus.DebugLevel)
		appLog.AddHook(ingest.NewHook(emitter, &ingest.HookConfig{
			MinLevel:   logrus.DebugLevel,
			LoggerName: "demo",
		}))

		d := &demo{log: appLog, tracker: tracker, pause: demoPause(demoCount, demoDuration)}
		out := cmd.OutOrStdout()
		for i := 0; i < demoCount; i++ {
			id, err := d.operation(cmd.Context(), i)
			if errors.Is(err, context.Canceled) {
				return errInterrupted
			}
			fmt.Fprintf(out, "  operation %s\n", styleMuted.Render(id))
		}
		if emitter.Breaker().State() == ingest.BreakerOpen {
			warn(out, "the store rejected writes; run `devlogs diagnose`")
			return nil
		}
		success(out, "wrote %d operations to %s", demoCount, cli.index())
		return nil
	},
}

// demoPause spreads count operations over total.
func demoPause(count int, total time.Duration) time.Duration {
	if count <= 0 || total <= 0 {
		return 0
	}
	return total / time.Duration(count)
}

type demo struct {
	log     *logrus.Logger
	tracker *operation.Tracker
	pause   time.Duration
}

// operation runs one simulated request with two nested steps.
func (d *demo) operation(ctx context.Context, n int) (string, error) {
	area := demoAreas[n%len(demoAreas)]
	ctx, scope := d.tracker.Start(ctx, operation.WithScopeArea(area))
	defer scope.End()

	log := d.log.WithContext(ctx)
	log.WithField("request", n).Info("request received")

	steps := []string{"load", "process"}
	for _, step := range steps {
		err := d.tracker.Run(ctx, func(ctx context.Context) error {
			stepLog := d.log.WithContext(ctx).WithField("step", step)
			stepLog.Debug("step started")
			took := time.Duration(5+rand.IntN(200)) * time.Millisecond
			stepLog = stepLog.WithField("took_ms", took.Milliseconds())
			switch {
			case took > 180*time.Millisecond:
				stepLog.Error("step timed out")
			case took > 120*time.Millisecond:
				stepLog.Warn("step slow")
			default:
				stepLog.Info("step finished")
			}
			return nil
		}, operation.WithScopeArea(area))
		if err != nil {
			return scope.ID(), err
		}
	}
	log.Info("request completed")

	if d.pause > 0 {
		select {
		case <-ctx.Done():
			return scope.ID(), ctx.Err()
		case <-time.After(d.pause):
		}
	}
	return scope.ID(), nil
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check configuration and connectivity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		index := cli.index()

		check(out, true, "config loaded (OpenSearch %s, index %s)", cli.cfg.OpenSearch.BaseURL(), index)

		if err := cli.store.Ping(ctx); err != nil {
			check(out, false, "OpenSearch reachable: %v", err)
			if hint := hintFor(err); hint != "" {
				fmt.Fprintln(out, styleMuted.Render("  "+hint))
			}
			return nil
		}
		check(out, true, "OpenSearch reachable")

		exists, err := cli.store.IndexExists(ctx, index)
		if err != nil {
			check(out, false, "index lookup: %v", err)
			return nil
		}
		if !exists {
			check(out, false, "index %s exists", index)
			fmt.Fprintln(out, styleMuted.Render("  Run `devlogs init` to create it."))
			return nil
		}
		check(out, true, "index %s exists", index)

		n, err := cli.store.Count(ctx, index, nil)
		if err != nil {
			check(out, false, "count documents: %v", err)
			return nil
		}
		check(out, true, "%d documents", n)

		if _, err := cli.stateDB(); err != nil {
			check(out, false, "state database: %v", err)
			return nil
		}
		check(out, true, "state database (%s)", cli.cfg.Database.Driver)
		return nil
	},
}

func check(w io.Writer, ok bool, format string, args ...any) {
	mark := styleSuccess.Render("✓")
	if !ok {
		mark = styleError.Render("✗")
	}
	fmt.Fprintln(w, mark+" "+fmt.Sprintf(format, args...))
}

func init() {
	demoCmd.Flags().IntVar(&demoCount, "count", 5, "number of operations")
	demoCmd.Flags().DurationVar(&demoDuration, "duration", 0, "spread the operations over this long")
	rootCmd.AddCommand(demoCmd, diagnoseCmd)
}
