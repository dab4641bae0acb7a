package main

import (
	"os"

	logrusr "github.com/bombsimon/logrusr/v3"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	EXIT_ON_ERROR_CODE = 3
)

var logLevel int

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "analysis-tracker",
		Short: "Track, diagnose and explain long-running analysis jobs",
		// usage is noise for runtime failures
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().IntVar(&logLevel, "verbose", 0, "level for logging output")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(ProbeCmd())
	rootCmd.AddCommand(MCPCmd())
	return rootCmd
}

// newLogger writes to stderr so stdout stays free for progress output and
// the MCP stdio transport.
func newLogger() logr.Logger {
	logrusLog := logrus.New()
	logrusLog.SetOutput(os.Stderr)
	logrusLog.SetFormatter(&logrus.TextFormatter{})
	// Adding 5 here to move logs to info level
	// setting verbose 1 -> V(2) logs show up
	// setting verbose 2 -> V(3) logs show up
	logrusLog.SetLevel(logrus.Level(logLevel + 5))
	return logrusr.New(logrusLog)
}

func main() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
