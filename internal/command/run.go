package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/safeswitch/internal/config"
	"github.com/joeycumines/safeswitch/internal/control"
	"github.com/joeycumines/safeswitch/internal/event"
	"github.com/joeycumines/safeswitch/internal/metrics"
	"github.com/joeycumines/safeswitch/internal/scenario"
	"github.com/joeycumines/safeswitch/internal/storage"
)

// RunCommand runs a scenario's control loop.
type RunCommand struct {
	*BaseCommand
	config *config.Config
	fs     *flag.FlagSet

	scenarioPath string
	steps        int
	period       time.Duration
	maxSteps     int
	logLevel     string
	logFormat    string
	eventsDB     string
	metricsAddr  string
	noCBF        bool
	cbfDebug     bool
	cbfGain      float64

	// ctxFactory creates the execution context. If nil, uses
	// signal.NotifyContext. Tests set this to avoid signal handling races.
	ctxFactory func() (context.Context, context.CancelFunc)
	// onListen, if set, receives the metrics address once it is served.
	onListen func(addr string)
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a scenario's behavior tree against the simulated world",
			"run [options] <scenario.yaml>",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	c.fs = fs
	fs.StringVar(&c.scenarioPath, "scenario", "", "Scenario file (alternative to the positional argument)")
	fs.IntVar(&c.steps, "steps", 0, "Stop after this many ticks; 0 runs until interrupted (default from [run] steps)")
	fs.DurationVar(&c.period, "period", 0, "Tick period; 0 ticks as fast as possible (default from control.period)")
	fs.IntVar(&c.maxSteps, "max-steps", 0, "Ticks between global resets (default from control.max-steps)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&c.eventsDB, "events-db", "", "SQLite database to record lifecycle events in")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&c.noCBF, "no-cbf", false, "Disable action masking")
	fs.BoolVar(&c.cbfDebug, "cbf-debug", false, "Log barrier values for every evaluated action")
	fs.Float64Var(&c.cbfGain, "cbf-gain", 0, "Class-K gain applied to h (default from cbf.gain)")
}

// settings resolves configuration, then applies explicitly set flags.
func (c *RunCommand) settings() (config.Settings, int, error) {
	schema := config.DefaultSchema()
	settings, err := schema.Settings(c.config, c.Name())
	if err != nil {
		return settings, 0, err
	}
	var steps int
	if v := schema.ResolveFor(c.config, c.Name(), "steps"); v != "" {
		if _, err := fmt.Sscan(v, &steps); err != nil {
			return settings, 0, fmt.Errorf("invalid configuration: steps: %w", err)
		}
	}

	set := setFlags(c.fs)
	if set["steps"] {
		steps = c.steps
	}
	if set["period"] {
		settings.Period = c.period
	}
	if set["max-steps"] {
		settings.MaxSteps = c.maxSteps
	}
	if set["events-db"] {
		settings.EventsDB = c.eventsDB
	}
	if set["metrics-addr"] {
		settings.MetricsAddr = c.metricsAddr
	}
	if set["no-cbf"] {
		settings.CBFEnabled = !c.noCBF
	}
	if set["cbf-debug"] {
		settings.CBFDebug = c.cbfDebug
	}
	if set["cbf-gain"] {
		settings.CBFGain = c.cbfGain
	}

	switch {
	case steps < 0:
		return settings, 0, fmt.Errorf("steps must not be negative: %d", steps)
	case settings.Period < 0:
		return settings, 0, fmt.Errorf("period must not be negative: %s", settings.Period)
	case settings.MaxSteps < 0:
		return settings, 0, fmt.Errorf("max-steps must not be negative: %d", settings.MaxSteps)
	case settings.CBFGain <= 0:
		return settings, 0, fmt.Errorf("cbf-gain must be positive: %g", settings.CBFGain)
	}
	return settings, steps, nil
}

// Execute runs the scenario.
func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	path, err := scenarioArg(c.scenarioPath, args)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return err
	}

	settings, steps, err := c.settings()
	if err != nil {
		return err
	}
	lc, err := resolveLogConfig(c.logLevel, c.logFormat, settings)
	if err != nil {
		return err
	}
	logger := lc.logger(stderr)

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if c.ctxFactory != nil {
		ctx, cancel = c.ctxFactory()
	} else {
		ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
	defer cancel()

	runID := uuid.New()
	tally := newTally()
	sinks := event.Fanout{event.LogSink{Logger: logger}, tally}
	controlOpts := []control.Option{
		control.WithRunID(runID),
		control.WithMaxSteps(settings.MaxSteps),
	}

	var store *storage.Store
	if settings.EventsDB != "" {
		store, err = storage.Open(settings.EventsDB, runID, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		retention := storage.Retention{MaxAge: settings.EventsMaxAge, MaxRuns: settings.EventsMaxRuns}
		if _, err := retention.Apply(ctx, store, runID.String(), time.Now()); err != nil {
			return err
		}
		sinks = append(sinks, store)
	}

	var collector *metrics.Collector
	if settings.MetricsAddr != "" {
		collector = metrics.NewCollector(nil)
		sinks = append(sinks, collector)
		controlOpts = append(controlOpts, control.WithTickHook(collector.ObserveTick))
	}

	sys, err := scenario.Build(sc, scenario.Options{
		Sink:       sinks,
		Logger:     logger,
		DisableCBF: !settings.CBFEnabled,
		CBFDebug:   settings.CBFDebug,
		CBFGain:    settings.CBFGain,
		Control:    controlOpts,
	})
	if err != nil {
		return err
	}

	// loopCtx ends when the control loop does, stopping the metrics server
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(loopCtx)

	if collector != nil {
		ln, err := net.Listen("tcp", settings.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info("[run] serving metrics", "addr", ln.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if c.onListen != nil {
			c.onListen(ln.Addr().String())
		}
	}

	g.Go(func() error {
		defer stop()
		logger.Info("[run] starting", "scenario", sc.Name, "run", runID, "steps", steps, "period", settings.Period)
		return sys.Runner.Run(gctx, settings.Period, steps)
	})

	err = g.Wait()

	_, _ = fmt.Fprintf(stdout, "Run %s: %d ticks, %d global resets\n", runID, sys.Runner.TotalSteps(), sys.Runner.Resets())
	tally.write(stdout)
	if store != nil {
		if serr := store.Err(); serr != nil {
			logger.Warn("[run] some events were not recorded", "error", serr)
		}
	}
	return err
}

// scenarioArg picks the scenario path from the flag or the single positional
// argument.
func scenarioArg(flagValue string, args []string) (string, error) {
	switch {
	case flagValue != "" && len(args) == 0:
		return flagValue, nil
	case flagValue == "" && len(args) == 1:
		return args[0], nil
	case flagValue != "" || len(args) > 1:
		return "", fmt.Errorf("expected exactly one scenario file")
	default:
		return "", fmt.Errorf("scenario file required")
	}
}

// tally counts events per agent for the end-of-run summary.
type tally struct {
	mu     sync.Mutex
	counts map[string]map[event.Kind]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]map[event.Kind]int)}
}

// Emit implements event.Sink.
func (t *tally) Emit(e event.Event) {
	if e.Agent == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[e.Agent] == nil {
		t.counts[e.Agent] = make(map[event.Kind]int)
	}
	t.counts[e.Agent][e.Kind]++
}

func (t *tally) write(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.counts) == 0 {
		return
	}
	agents := make([]string, 0, len(t.counts))
	for name := range t.counts {
		agents = append(agents, name)
	}
	sort.Strings(agents)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "AGENT\tEPISODES\tPOST\tHIGHER\tACC\tBUDGET")
	for _, name := range agents {
		c := t.counts[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", name,
			c[event.EpisodeStart], c[event.PostConditionReached], c[event.HigherPostConditionReached],
			c[event.ACCViolated], c[event.LocalReset])
	}
	_ = tw.Flush()
}

var _ event.Sink = (*tally)(nil)

// discardLogger is used by commands that only need a logger for errors.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
