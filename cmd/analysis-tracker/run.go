package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/konveyor/analysis-tracker/classifier"
	"github.com/konveyor/analysis-tracker/config"
	"github.com/konveyor/analysis-tracker/progress"
	"github.com/konveyor/analysis-tracker/progress/collector"
	"github.com/konveyor/analysis-tracker/progress/reporter"
	"github.com/konveyor/analysis-tracker/tracing"
	"github.com/konveyor/analysis-tracker/tracker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

const drainTimeout = 2 * time.Second

var (
	progressOutput string
	progressFormat string
	outputFile     string
	speed          float64
	failStep       string
	failReason     string
)

func RunCmd() *cobra.Command {
	flags := &config.Flags{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis job and report its progress",
		Long:  "Runs the analysis job as a simulated backend would report it, rendering progress as it goes. Ctrl-C stops the job.",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runJob(cmd, flags)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	flags.AddFlags(runCmd)
	runCmd.Flags().StringVar(&progressOutput, "progress-output", "stderr", "where to write progress events (stderr, stdout, or file path, empty disables)")
	runCmd.Flags().StringVar(&progressFormat, "progress-format", "bar", "format for progress output: bar, text, or json")
	runCmd.Flags().StringVar(&outputFile, "output-file", "", "filepath to store the final job state as yaml")
	runCmd.Flags().Float64Var(&speed, "speed", 1, "divides every step estimate, e.g. 60 runs the default job in a few seconds")
	runCmd.Flags().StringVar(&failStep, "fail-step", "", "id of a step that fails halfway through")
	runCmd.Flags().StringVar(&failReason, "fail-reason", "", "error message of the simulated failure")

	return runCmd
}

// runJob returns EXIT_ON_ERROR_CODE when the job failed. Deferred cleanup
// runs before the caller exits.
func runJob(cmd *cobra.Command, flags *config.Flags) (int, error) {
	log := newLogger()
	errLog := log.WithName("run")

	cfg, err := flags.Load(cmd)
	if err != nil {
		errLog.Error(err, "failed to load configuration")
		return 0, err
	}
	if err := validateRunFlags(cfg); err != nil {
		errLog.Error(err, "failed to validate flags")
		return 0, err
	}
	// This will globally prevent the yaml library from auto-wrapping lines at 80 characters
	yaml.FutureLineWrap()

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	tp, err := tracing.InitTracerProvider(log, cfg.TracingOptions())
	if err != nil {
		errLog.Error(err, "failed to initialize tracing")
		return 0, err
	}
	defer tracing.Shutdown(context.Background(), log, tp)

	progressReporter, closeOutput := createProgressReporter()
	defer closeOutput()
	finalReporter := newTerminalReporter(progressReporter)
	jobCollector := collector.NewThrottledCollector(progress.StageTick)
	_, err = progress.New(
		progress.WithCollectors(jobCollector),
		progress.WithReporters(finalReporter),
		progress.WithContext(ctx),
	)
	if err != nil {
		errLog.Error(err, "unable to create progress reporting")
		return 0, err
	}

	opts := append(cfg.TrackerOptions(log.WithName("tracker")),
		tracker.WithCollector(jobCollector),
		tracker.WithSource(&tracker.SimulatedSource{
			Speed:      speed,
			FailStep:   failStep,
			FailReason: failReason,
		}),
	)
	m, err := tracker.New(opts...)
	if err != nil {
		errLog.Error(err, "unable to create tracker")
		return 0, err
	}
	defer m.Close()

	if err := m.Start(); err != nil {
		errLog.Error(err, "unable to start analysis")
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatching := context.WithCancel(gctx)
	g.Go(func() error {
		return stopOnSignal(watchCtx, log, m)
	})
	g.Go(func() error {
		defer stopWatching()
		select {
		case <-m.Done():
		case <-gctx.Done():
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		errLog.Error(err, "analysis interrupted")
	}
	finalReporter.wait(drainTimeout)

	state := m.Snapshot()
	if outputFile != "" {
		if err := writeSnapshot(outputFile, state); err != nil {
			errLog.Error(err, "error writing output file", "file", outputFile)
			return 1, nil
		}
		log.Info("wrote final state", "file", outputFile)
	}

	if !state.HasError {
		return 0, nil
	}
	cl, err := classifier.New(cfg.ClassifierOptions(log.WithName("classifier"))...)
	if err != nil {
		errLog.Error(err, "unable to create classifier")
		return EXIT_ON_ERROR_CODE, nil
	}
	printUserFacingError(os.Stderr, explainFailure(cl, state))
	return EXIT_ON_ERROR_CODE, nil
}

func validateRunFlags(cfg config.Config) error {
	if speed < 0 {
		return fmt.Errorf("speed must not be negative")
	}
	switch progressFormat {
	case "bar", "text", "json":
	default:
		return fmt.Errorf("must select one of bar, text or json for progress format")
	}
	if failStep == "" {
		return nil
	}
	ids := []string{}
	for _, s := range cfg.Job.Steps {
		if s.ID == failStep {
			return nil
		}
		ids = append(ids, s.ID)
	}
	return fmt.Errorf("unknown step %q, must be one of %s", failStep, strings.Join(ids, ", "))
}

// stopOnSignal stops the job on SIGINT or SIGTERM.
func stopOnSignal(ctx context.Context, log logr.Logger, m *tracker.Machine) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("received signal, stopping analysis", "signal", sig.String())
		if err := m.Stop(); err != nil && !errors.Is(err, tracker.ErrClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// createProgressReporter creates a progress reporter based on CLI flags. The
// returned func closes the output file, if one was opened.
func createProgressReporter() (progress.Reporter, func()) {
	noop := func() {}
	if progressOutput == "" {
		return progress.NewNoopReporter(), noop
	}

	var writer *os.File
	switch progressOutput {
	case "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		// It's a file path
		file, err := os.Create(progressOutput)
		if err != nil {
			// If we can't create the file, fallback to stderr
			fmt.Fprintf(os.Stderr, "Warning: failed to create progress output file %s: %v\n", progressOutput, err)
			writer = os.Stderr
		} else {
			writer = file
			noop = func() { file.Close() }
		}
	}

	switch progressFormat {
	case "json":
		return reporter.NewJSONReporter(writer), noop
	case "text":
		return reporter.NewTextReporter(writer), noop
	default:
		return reporter.NewProgressBarReporter(writer), noop
	}
}

// terminalReporter forwards to a reporter and remembers when the event that
// ends a run went through, so the command can exit after it was rendered.
type terminalReporter struct {
	progress.Reporter
	once sync.Once
	done chan struct{}
}

func newTerminalReporter(r progress.Reporter) *terminalReporter {
	return &terminalReporter{Reporter: r, done: make(chan struct{})}
}

func (t *terminalReporter) Report(event progress.Event) {
	t.Reporter.Report(event)
	switch event.Stage {
	case progress.StageComplete, progress.StageError, progress.StageStopped:
		t.once.Do(func() { close(t.done) })
	}
}

func (t *terminalReporter) wait(timeout time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func writeSnapshot(path string, state progress.State) error {
	b, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func explainFailure(cl *classifier.Classifier, state progress.State) classifier.UserFacingError {
	step, _ := state.ActiveStep()
	return cl.Classify(state.ErrorMessage, classifier.Context{
		Component: "analysis job",
		Action:    strings.ToLower(step.Title),
	})
}

func printUserFacingError(w io.Writer, e classifier.UserFacingError) {
	fmt.Fprintf(w, "\n%s\n", e.Title)
	if e.Detail != "" {
		fmt.Fprintf(w, "  %s\n", e.Detail)
	}
	for _, line := range e.Guidance {
		fmt.Fprintf(w, "  - %s\n", line)
	}
}
