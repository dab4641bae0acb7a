package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// TokenEnv names the environment variable holding the probe bearer token.
const TokenEnv = "ANALYSIS_TRACKER_TOKEN"

// Flags holds command line overrides of a Config. Only flags the user set
// are applied, so a config file value survives an unset flag.
//
//	flags := &config.Flags{}
//	cmd := &cobra.Command{
//	    RunE: func(cmd *cobra.Command, args []string) error {
//	        cfg, err := flags.Load(cmd)
//	        ...
//	    },
//	}
//	flags.AddFlags(cmd)
type Flags struct {
	ConfigFile     string
	Endpoint       string
	ProbeTimeout   time.Duration
	StatusPath     string
	Token          string
	TickInterval   time.Duration
	EstimatedTime  string
	EnableJaeger   bool
	JaegerEndpoint string
}

// AddFlags binds the overrides to cmd.
func (f *Flags) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ConfigFile, "config", "", "Path to the tracker config file")
	cmd.Flags().StringVar(&f.Endpoint, "endpoint", DefaultEndpoint, "Analysis backend endpoint (http, https, grpc or grpcs)")
	cmd.Flags().DurationVar(&f.ProbeTimeout, "probe-timeout", 30*time.Second, "Upper bound of one connectivity probe")
	cmd.Flags().StringVar(&f.StatusPath, "status-path", "//status", "jsonquery path of the status field in the health response")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv(TokenEnv), "Bearer token sent to the backend (defaults to $"+TokenEnv+")")
	cmd.Flags().DurationVar(&f.TickInterval, "tick-interval", DefaultTickInterval, "How often the estimated percentage is raised, 0 disables it")
	cmd.Flags().StringVar(&f.EstimatedTime, "estimated-time", "", "Duration hint shown when the job starts")
	cmd.Flags().BoolVar(&f.EnableJaeger, "enable-jaeger", false, "Enable tracer exports to jaeger endpoint")
	cmd.Flags().StringVar(&f.JaegerEndpoint, "jaeger-endpoint", "http://localhost:14268/api/traces", "Jaeger endpoint to collect tracing data")
}

// Load reads the config file, if one was given, and applies the flags the
// user set on cmd.
func (f *Flags) Load(cmd *cobra.Command) (Config, error) {
	c := Default()
	if f.ConfigFile != "" {
		var err error
		c, err = Load(f.ConfigFile)
		if err != nil {
			return c, err
		}
	}
	f.Apply(cmd, &c)
	return c, c.Validate()
}

// Apply copies every changed flag into c.
func (f *Flags) Apply(cmd *cobra.Command, c *Config) {
	changed := cmd.Flags().Changed
	if changed("endpoint") {
		c.Probe.Endpoint = f.Endpoint
	}
	if changed("probe-timeout") {
		c.Probe.Timeout = Duration(f.ProbeTimeout)
	}
	if changed("status-path") {
		c.Probe.StatusPath = f.StatusPath
	}
	// the token default comes from the environment
	if changed("token") || (c.Probe.Token == "" && f.Token != "") {
		c.Probe.Token = f.Token
	}
	if changed("tick-interval") {
		c.Job.TickInterval = Duration(f.TickInterval)
	}
	if changed("estimated-time") {
		c.Job.EstimatedTime = f.EstimatedTime
	}
	if changed("enable-jaeger") {
		c.Tracing.EnableJaeger = f.EnableJaeger
	}
	if changed("jaeger-endpoint") || (c.Tracing.EnableJaeger && c.Tracing.JaegerEndpoint == "") {
		c.Tracing.JaegerEndpoint = f.JaegerEndpoint
	}
}
