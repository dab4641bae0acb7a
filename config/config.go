// Package config loads the tracker configuration file and binds its
// command line overrides.
//
// The file is YAML:
//
//	version: "1.0"
//	job:
//	  name: analysis
//	  estimatedTime: 3-5 minutes
//	  tickInterval: 500ms
//	  steps:
//	  - id: prepare
//	    title: Preparing analysis
//	    estimate: 20s
//	probe:
//	  endpoint: http://localhost:8000/api/health
//	  timeout: 30s
//	  proxyConfig:
//	    httpsProxy: http://proxy.internal:3128
//	classifier:
//	  rules:
//	  - pattern: quota exceeded
//	    category: rate_limit
//	tracing:
//	  enableJaeger: false
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
	"github.com/konveyor/analysis-tracker/classifier"
	"github.com/konveyor/analysis-tracker/probe"
	"github.com/konveyor/analysis-tracker/tracing"
	"github.com/konveyor/analysis-tracker/tracker"
	"golang.org/x/net/http/httpproxy"
	"gopkg.in/yaml.v2"
)

const (
	// CurrentVersion is written by Default.
	CurrentVersion = "1.0"
	// SupportedVersions is the constraint a loaded file must satisfy.
	SupportedVersions = ">= 1.0, < 2.0"

	DefaultEndpoint     = "http://localhost:8000/api/health"
	DefaultTickInterval = 500 * time.Millisecond
)

// Duration is a time.Duration written as a string in YAML ("500ms", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Step struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title,omitempty"`
	Estimate Duration `yaml:"estimate,omitempty"`
}

type Job struct {
	Name          string   `yaml:"name,omitempty"`
	EstimatedTime string   `yaml:"estimatedTime,omitempty"`
	TickInterval  Duration `yaml:"tickInterval,omitempty"`
	Steps         []Step   `yaml:"steps,omitempty"`
}

type Probe struct {
	Endpoint   string   `yaml:"endpoint,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
	StatusPath string   `yaml:"statusPath,omitempty"`
	// Token is sent as a bearer token. Prefer the ANALYSIS_TRACKER_TOKEN
	// environment variable over writing it to the file.
	Token string `yaml:"token,omitempty"`
	// Proxy overrides the HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment.
	Proxy *Proxy `yaml:"proxyConfig,omitempty"`
}

type Proxy struct {
	HTTPProxy  string `yaml:"httpProxy,omitempty"`
	HTTPSProxy string `yaml:"httpsProxy,omitempty"`
	NoProxy    string `yaml:"noProxy,omitempty"`
}

type Classifier struct {
	Rules []classifier.Rule `yaml:"rules,omitempty"`
}

type Tracing struct {
	EnableJaeger   bool   `yaml:"enableJaeger,omitempty"`
	JaegerEndpoint string `yaml:"jaegerEndpoint,omitempty"`
}

// Config is the whole configuration file.
type Config struct {
	Version    string     `yaml:"version"`
	Job        Job        `yaml:"job"`
	Probe      Probe      `yaml:"probe"`
	Classifier Classifier `yaml:"classifier,omitempty"`
	Tracing    Tracing    `yaml:"tracing,omitempty"`
}

// Default is the four step analysis job probing a local backend.
func Default() Config {
	c := Config{
		Version: CurrentVersion,
		Job: Job{
			Name:          "analysis",
			EstimatedTime: tracker.DefaultEstimatedTime,
			TickInterval:  Duration(DefaultTickInterval),
		},
		Probe: Probe{
			Endpoint:   DefaultEndpoint,
			Timeout:    Duration(probe.DefaultTimeout),
			StatusPath: probe.DefaultStatusPath,
		},
	}
	for _, s := range tracker.DefaultSteps() {
		c.Job.Steps = append(c.Job.Steps, Step{ID: s.ID, Title: s.Title, Estimate: Duration(s.Estimate)})
	}
	return c
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value; a file that sets job.steps replaces the default steps.
func Load(path string) (Config, error) {
	c := Default()
	content, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := Parse(content, &c); err != nil {
		return c, fmt.Errorf("unable to parse config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes content into c and validates the result. Unknown keys are
// rejected.
func Parse(content []byte, c *Config) error {
	if err := yaml.UnmarshalStrict(content, c); err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks the version and the values the components would reject.
func (c Config) Validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}
	if len(c.Job.Steps) == 0 {
		return fmt.Errorf("validation failed: job has no steps")
	}
	seen := map[string]bool{}
	for i, s := range c.Job.Steps {
		if s.ID == "" {
			return fmt.Errorf("validation failed: step %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("validation failed: duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Estimate < 0 {
			return fmt.Errorf("validation failed: step %q has a negative estimate", s.ID)
		}
	}
	if c.Job.TickInterval < 0 {
		return fmt.Errorf("validation failed: tickInterval must not be negative")
	}
	if c.Probe.Timeout < 0 {
		return fmt.Errorf("validation failed: probe timeout must not be negative")
	}
	for _, r := range c.Classifier.Rules {
		if !r.Category.Valid() {
			return fmt.Errorf("validation failed: rule %q has unknown category %q", r.Pattern, r.Category)
		}
	}
	if c.Tracing.EnableJaeger && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("validation failed: jaegerEndpoint is required when jaeger is enabled")
	}
	return nil
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("validation failed: version is required")
	}
	constraint, err := version.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	parsed, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("validation failed: invalid version %q: %w", v, err)
	}
	if !constraint.Check(parsed) {
		return fmt.Errorf("validation failed: config version %s is not supported (want %s)", v, SupportedVersions)
	}
	return nil
}

// StepDefinitions converts the configured steps.
func (c Config) StepDefinitions() []tracker.StepDefinition {
	defs := make([]tracker.StepDefinition, 0, len(c.Job.Steps))
	for _, s := range c.Job.Steps {
		defs = append(defs, tracker.StepDefinition{ID: s.ID, Title: s.Title, Estimate: s.Estimate.Duration()})
	}
	return defs
}

// TrackerOptions configures a tracker.Machine. Callers append the source
// and collector.
func (c Config) TrackerOptions(log logr.Logger) []tracker.Option {
	opts := []tracker.Option{
		tracker.WithSteps(c.StepDefinitions()...),
		tracker.WithTickInterval(c.Job.TickInterval.Duration()),
		tracker.WithLogger(log),
	}
	if c.Job.Name != "" {
		opts = append(opts, tracker.WithJobName(c.Job.Name))
	}
	if c.Job.EstimatedTime != "" {
		opts = append(opts, tracker.WithEstimatedTime(c.Job.EstimatedTime))
	}
	return opts
}

func (c Config) ProbeOptions(log logr.Logger) []probe.Option {
	opts := []probe.Option{
		probe.WithTimeout(c.Probe.Timeout.Duration()),
		probe.WithStatusPath(c.Probe.StatusPath),
		probe.WithLogger(log),
		probe.WithProxy(c.proxy()),
	}
	if c.Probe.Token != "" {
		opts = append(opts, probe.WithToken(c.Probe.Token))
	}
	return opts
}

func (c Config) proxy() *httpproxy.Config {
	if c.Probe.Proxy == nil {
		return httpproxy.FromEnvironment()
	}
	return &httpproxy.Config{
		HTTPProxy:  c.Probe.Proxy.HTTPProxy,
		HTTPSProxy: c.Probe.Proxy.HTTPSProxy,
		NoProxy:    c.Probe.Proxy.NoProxy,
	}
}

func (c Config) ClassifierOptions(log logr.Logger) []classifier.Option {
	return []classifier.Option{
		classifier.WithRules(c.Classifier.Rules...),
		classifier.WithLogger(log),
	}
}

func (c Config) TracingOptions() tracing.Options {
	return tracing.Options{
		EnableJaeger:   c.Tracing.EnableJaeger,
		JaegerEndpoint: c.Tracing.JaegerEndpoint,
	}
}
