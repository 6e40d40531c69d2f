package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/safeswitch/internal/config"
	"github.com/joeycumines/safeswitch/internal/storage"
)

// ReportCommand summarizes recorded lifecycle events per agent.
type ReportCommand struct {
	*BaseCommand
	config *config.Config
	fs     *flag.FlagSet

	db    string
	run   string
	list  bool
	prune bool
	dry   bool
}

// NewReportCommand creates a new report command.
func NewReportCommand(cfg *config.Config) *ReportCommand {
	return &ReportCommand{
		BaseCommand: NewBaseCommand(
			"report",
			"Summarize recorded episodes: success rate, ACC violation rate, mean steps",
			"report [options]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the report command.
func (c *ReportCommand) SetupFlags(fs *flag.FlagSet) {
	c.fs = fs
	fs.StringVar(&c.db, "events-db", "", "SQLite event database (default from events.db)")
	fs.StringVar(&c.run, "run", "", "Only summarize this run ID")
	fs.BoolVar(&c.list, "runs", false, "List recorded runs instead of summarizing")
	fs.BoolVar(&c.prune, "prune", false, "Remove runs outside events.max-age and events.max-runs")
	fs.BoolVar(&c.dry, "dry-run", false, "With -prune, only list the runs that would be removed")
}

// Execute prints the report.
func (c *ReportCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}

	schema := config.DefaultSchema()
	set := setFlags(c.fs)
	db := c.db
	if !set["events-db"] {
		db = schema.ResolveFor(c.config, c.Name(), config.KeyEventsDB)
	}
	if db == "" {
		return fmt.Errorf("no event database: set %s or pass -events-db", config.KeyEventsDB)
	}
	run := c.run
	if !set["run"] {
		run = schema.ResolveFor(c.config, c.Name(), "run")
	}

	store, err := storage.Open(db, uuid.Nil, discardLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	tw := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)

	if c.prune {
		settings, err := schema.Settings(c.config, c.Name())
		if err != nil {
			return err
		}
		retention := storage.Retention{MaxAge: settings.EventsMaxAge, MaxRuns: settings.EventsMaxRuns, DryRun: c.dry}
		report, err := retention.Apply(ctx, store, "", time.Now())
		if err != nil {
			return err
		}
		verb := "Removed"
		if c.dry {
			verb = "Would remove"
		}
		_, _ = fmt.Fprintf(stdout, "%s %d run(s), kept %d\n", verb, len(report.Removed), report.Kept)
		for _, id := range report.Removed {
			_, _ = fmt.Fprintf(stdout, "  %s\n", id)
		}
		return nil
	}

	if c.list {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(tw, "RUN\tEVENTS\tFIRST\tLAST")
		for _, r := range runs {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.ID, r.Events, r.First.Format("2006-01-02 15:04:05"), r.Last.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	}

	summary, err := store.Summary(ctx, run)
	if err != nil {
		return err
	}
	if len(summary) == 0 {
		_, _ = fmt.Fprintln(stdout, "No episodes recorded.")
		return nil
	}
	_, _ = fmt.Fprintln(tw, "AGENT\tEPISODES\tSUCCESS\tVIOLATION\tLOCAL RESETS\tMEAN STEPS\tMEAN REWARD")
	for _, a := range summary {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.1f%%\t%d\t%.1f\t%.3f\n",
			a.Agent, a.Episodes, 100*a.SuccessRate(), 100*a.ViolationRate(), a.LocalResets, a.MeanSteps, a.MeanReward)
	}
	return tw.Flush()
}
