package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/konveyor/analysis-tracker/classifier"
	"github.com/konveyor/analysis-tracker/config"
	"github.com/konveyor/analysis-tracker/probe"
	"github.com/konveyor/analysis-tracker/tracing"
	"github.com/spf13/cobra"
)

var probeJSON bool

func ProbeCmd() *cobra.Command {
	flags := &config.Flags{}

	probeCmd := &cobra.Command{
		Use:   "probe [endpoint]",
		Short: "Check connectivity to the analysis backend",
		Long:  "Performs one round trip against the backend and reports its response time and status. Exits with 1 when the backend cannot be reached.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := runProbe(cmd, flags, args)
			if err != nil {
				return err
			}
			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}

	flags.AddFlags(probeCmd)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print the result as json")
	return probeCmd
}

func runProbe(cmd *cobra.Command, flags *config.Flags, args []string) (bool, error) {
	log := newLogger()

	cfg, err := flags.Load(cmd)
	if err != nil {
		log.Error(err, "failed to load configuration")
		return false, err
	}
	endpoint := cfg.Probe.Endpoint
	if len(args) == 1 {
		endpoint = args[0]
	}

	tp, err := tracing.InitTracerProvider(log, cfg.TracingOptions())
	if err != nil {
		log.Error(err, "failed to initialize tracing")
		return false, err
	}
	defer tracing.Shutdown(context.Background(), log, tp)

	p := probe.New(cfg.ProbeOptions(log.WithName("probe"))...)
	defer p.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res := p.Probe(ctx, endpoint)
	if probeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return false, err
		}
	} else {
		printProbeResult(os.Stdout, res)
	}
	if res.Success {
		return true, nil
	}

	cl, err := classifier.New(cfg.ClassifierOptions(log.WithName("classifier"))...)
	if err != nil {
		log.Error(err, "unable to create classifier")
		return false, nil
	}
	printUserFacingError(os.Stderr, cl.Classify(res.Error, classifier.Context{
		Component: "connectivity probe",
		Action:    "reach " + endpoint,
	}))
	return false, nil
}

func printProbeResult(w io.Writer, res probe.Result) {
	if res.Success {
		fmt.Fprintf(w, "✓ Connected to %s\n", res.Endpoint)
		fmt.Fprintf(w, "  Response time: %.1fms\n", res.ResponseTimeMs)
		fmt.Fprintf(w, "  Status: %s\n", res.Status)
		return
	}
	fmt.Fprintf(w, "✗ Connection to %s failed\n", res.Endpoint)
	fmt.Fprintf(w, "  Error: %s\n", res.Error)
	fmt.Fprintln(w, "  Troubleshooting:")
	for _, item := range probe.Checklist() {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}
