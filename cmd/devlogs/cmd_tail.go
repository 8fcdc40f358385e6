package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/spf13/cobra"
)

// filterFlags are shared by the read commands.
type filterFlags struct {
	query       string
	area        string
	operationID string
	level       string
	since       string
	until       string
}

func (f *filterFlags) register(cmd *cobra.Command, withQuery bool) {
	if withQuery {
		cmd.Flags().StringVar(&f.query, "q", "", "free-text query")
	}
	cmd.Flags().StringVar(&f.area, "area", "", "only this area")
	cmd.Flags().StringVarP(&f.operationID, "operation", "o", "", "only this operation id")
	cmd.Flags().StringVar(&f.level, "level", "", "only this level")
	cmd.Flags().StringVar(&f.since, "since", "", "only newer than a duration (30m, 2h, 1d) or timestamp")
	cmd.Flags().StringVar(&f.until, "until", "", "only older than a duration or timestamp")
}

func (f *filterFlags) build() (service.LogFilter, error) {
	now := time.Now()
	since, err := service.ParseSince(f.since, now)
	if err != nil {
		return service.LogFilter{}, fmt.Errorf("--since: %w", err)
	}
	until, err := service.ParseSince(f.until, now)
	if err != nil {
		return service.LogFilter{}, fmt.Errorf("--until: %w", err)
	}
	return service.LogFilter{
		Query:       f.query,
		Area:        f.area,
		OperationID: f.operationID,
		Level:       f.level,
		Since:       since,
		Until:       until,
	}, nil
}

// displayFlags control how entries are printed.
type displayFlags struct {
	utc     bool
	noColor bool
}

func (d *displayFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&d.utc, "utc", false, "print timestamps in UTC")
	cmd.Flags().BoolVar(&d.noColor, "no-color", false, "disable colored output")
}

func (d *displayFlags) formatter() *lineFormatter {
	return newLineFormatter(d.utc, !d.noColor)
}

// printer writes entries and reports anomalies once per page.
type printer struct {
	w       io.Writer
	format  *lineFormatter
	verbose bool
}

func (p *printer) entries(entries []domain.Entry) {
	for _, e := range entries {
		fmt.Fprintln(p.w, p.format.Format(e))
	}
}

func (p *printer) anomalies(a service.Anomalies) {
	if !p.verbose || a.Empty() {
		return
	}
	warn(p.w, "skipped %d malformed documents and %d malformed entries", a.SkippedDocuments, a.SkippedEntries)
	for _, s := range a.Samples {
		fmt.Fprintln(p.w, styleMuted.Render("  "+s))
	}
}

// --- tail ---

var (
	tailFilter     filterFlags
	tailDisplay    displayFlags
	tailLimit      int
	tailFollow     bool
	tailCheckpoint string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent log entries",
	Long: `Show the newest entries in chronological order. With --follow, keep
polling and print new entries as they arrive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := tailFilter.build()
		if err != nil {
			return err
		}
		p := &printer{w: cmd.OutOrStdout(), format: tailDisplay.formatter(), verbose: verbose}
		return runTail(cmd.Context(), cli.logService(), p, f)
	},
}

func init() {
	tailFilter.register(tailCmd, false)
	tailDisplay.register(tailCmd)
	tailCmd.Flags().IntVar(&tailLimit, "limit", service.DefaultTailLimit, "number of entries")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "keep printing new entries")
	tailCmd.Flags().StringVar(&tailCheckpoint, "checkpoint", "", "resume from and save the cursor under this name")
	rootCmd.AddCommand(tailCmd)
}

// tailReader is the part of LogService the tail loop uses.
type tailReader interface {
	Tail(ctx context.Context, f service.LogFilter, limit int, cursor domain.Cursor) (*service.TailPage, error)
}

func runTail(ctx context.Context, logs *service.LogService, p *printer, f service.LogFilter) error {
	var checkpoints *repository.TailCheckpointRepository
	var cursor domain.Cursor
	if tailCheckpoint != "" {
		db, err := cli.stateDB()
		if err != nil {
			return err
		}
		checkpoints = repository.NewTailCheckpointRepository(db)
		cp, err := checkpoints.Get(ctx, tailCheckpoint, logs.Index())
		if err != nil {
			return err
		}
		if cp != nil {
			if cursor, err = domain.ParseCursor(cp.Cursor); err != nil {
				cli.log.WithError(err).Warn("ignoring unreadable checkpoint")
				cursor = nil
			}
		}
	}

	save := func(c domain.Cursor) {
		if checkpoints == nil || c.IsZero() {
			return
		}
		if err := checkpoints.Save(context.WithoutCancel(ctx), tailCheckpoint, logs.Index(), c); err != nil {
			cli.log.WithError(err).Warn("failed to save checkpoint")
		}
	}

	cursor, err := tailOnce(ctx, logs, p, f, tailLimit, cursor)
	if err != nil {
		return err
	}
	save(cursor)
	if !tailFollow {
		return nil
	}

	fl := &follower{log: cli.log}
	return fl.run(ctx, func(ctx context.Context) error {
		next, err := drainTail(ctx, logs, p, f, tailLimit, cursor)
		if err != nil {
			return err
		}
		if next.Encode() != cursor.Encode() {
			cursor = next
			save(cursor)
		}
		return nil
	})
}

// tailOnce prints one page and returns the cursor after it.
func tailOnce(ctx context.Context, r tailReader, p *printer, f service.LogFilter, limit int, cursor domain.Cursor) (domain.Cursor, error) {
	page, err := r.Tail(ctx, f, limit, cursor)
	if err != nil {
		return cursor, err
	}
	p.entries(page.Entries)
	p.anomalies(page.Anomalies)
	return page.Cursor, nil
}

// drainTail prints pages after cursor until a page comes back short.
func drainTail(ctx context.Context, r tailReader, p *printer, f service.LogFilter, limit int, cursor domain.Cursor) (domain.Cursor, error) {
	if limit <= 0 {
		limit = service.DefaultTailLimit
	}
	for {
		page, err := r.Tail(ctx, f, limit, cursor)
		if err != nil {
			return cursor, err
		}
		p.entries(page.Entries)
		p.anomalies(page.Anomalies)
		cursor = page.Cursor
		if len(page.Documents) < limit || cursor.IsZero() {
			return cursor, nil
		}
	}
}

// --- search ---

var (
	searchFilter  filterFlags
	searchDisplay displayFlags
	searchLimit   int
	searchFollow  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search log entries",
	Long: `Search entries by free text and filters. Results are printed newest
first; with --follow, new matches are printed as they arrive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := searchFilter.build()
		if err != nil {
			return err
		}
		logs := cli.logService()
		p := &printer{w: cmd.OutOrStdout(), format: searchDisplay.formatter(), verbose: verbose}

		res, err := logs.Search(cmd.Context(), f, searchLimit)
		if err != nil {
			return err
		}
		p.entries(res.Entries)
		p.anomalies(res.Anomalies)
		if !searchFollow {
			return nil
		}

		// Start following from the newest match.
		page, err := logs.Tail(cmd.Context(), f, 1, nil)
		if err != nil {
			return err
		}
		cursor := page.Cursor
		fl := &follower{log: cli.log}
		return fl.run(cmd.Context(), func(ctx context.Context) error {
			cursor, err = drainTail(ctx, logs, p, f, service.DefaultSearchLimit, cursor)
			return err
		})
	},
}

func init() {
	searchFilter.register(searchCmd, true)
	searchDisplay.register(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", service.DefaultSearchLimit, "maximum results")
	searchCmd.Flags().BoolVarP(&searchFollow, "follow", "f", false, "keep printing new matches")
	rootCmd.AddCommand(searchCmd)
}

// --- last-error ---

var (
	lastErrorFilter  filterFlags
	lastErrorDisplay displayFlags
	lastErrorLimit   int
)

var lastErrorCmd = &cobra.Command{
	Use:   "last-error",
	Short: "Show the most recent error entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := lastErrorFilter.build()
		if err != nil {
			return err
		}
		entries, err := cli.logService().LastErrors(cmd.Context(), f, lastErrorLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			success(out, "no errors found")
			return nil
		}
		p := &printer{w: out, format: lastErrorDisplay.formatter()}
		p.entries(entries)
		return nil
	},
}

func init() {
	lastErrorFilter.register(lastErrorCmd, true)
	lastErrorDisplay.register(lastErrorCmd)
	lastErrorCmd.Flags().IntVar(&lastErrorLimit, "limit", 1, "number of errors")
	rootCmd.AddCommand(lastErrorCmd)
}
