package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/konveyor/analysis-tracker/classifier"
	"github.com/konveyor/analysis-tracker/config"
	"github.com/konveyor/analysis-tracker/probe"
	"github.com/konveyor/analysis-tracker/progress"
	"github.com/konveyor/analysis-tracker/progress/collector"
	"github.com/konveyor/analysis-tracker/progress/reporter"
	"github.com/konveyor/analysis-tracker/tracker"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "analysis-tracker-mcp"
	serverVersion = "0.1.0"

	defaultWaitTimeout = time.Minute
	maxWaitTimeout     = 10 * time.Minute
)

// MCPServer exposes one analysis job, the connectivity probe and the error
// classifier as MCP tools.
type MCPServer struct {
	server     *mcp.Server
	log        logr.Logger
	cfg        config.Config
	machine    *tracker.Machine
	prober     *probe.Prober
	classifier *classifier.Classifier

	// job events reach feed through a progress hub
	feed       *eventFeed
	stopEvents context.CancelFunc
}

// HTTPConfig holds HTTP transport configuration
type HTTPConfig struct {
	// JWTSecret enables bearer authentication on /mcp. Tokens must be HS256
	// signed with this secret.
	JWTSecret string
}

// NewMCPServer creates a new MCP server with all tools registered
func NewMCPServer(log logr.Logger, cfg config.Config) (*MCPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &MCPServer{
		log:  log,
		cfg:  cfg,
		feed: newEventFeed(),
	}

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	jobCollector := collector.New()
	events := reporter.NewChannelReporter(eventsCtx, reporter.WithLogger(log.WithName("events")))
	_, err := progress.New(
		progress.WithCollectors(jobCollector),
		progress.WithReporters(events),
		progress.WithContext(eventsCtx),
	)
	if err != nil {
		stopEvents()
		return nil, fmt.Errorf("failed to create progress hub: %w", err)
	}
	go s.feed.run(events.Events())

	opts := append(cfg.TrackerOptions(log.WithName("tracker")), tracker.WithCollector(jobCollector))
	m, err := tracker.New(opts...)
	if err != nil {
		stopEvents()
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	c, err := classifier.New(cfg.ClassifierOptions(log.WithName("classifier"))...)
	if err != nil {
		m.Close()
		stopEvents()
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	s.stopEvents = stopEvents
	s.machine = m
	s.classifier = c
	s.prober = probe.New(cfg.ProbeOptions(log.WithName("probe"))...)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		nil,
	)

	if err := s.registerTools(mcpServer); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	s.server = mcpServer
	return s, nil
}

// Close stops the running job, the probe in flight and event delivery.
func (s *MCPServer) Close() {
	s.machine.Close()
	s.prober.Close()
	s.stopEvents()
}

type toolDef struct {
	name        string
	description string
	params      interface{}
	handler     mcp.ToolHandler
}

// registerTools registers all available MCP tools
func (s *MCPServer) registerTools(server *mcp.Server) error {
	tools := []toolDef{
		{
			name:        "analysis_start",
			description: "Start the analysis job. Does nothing while a job is running; an error must be cleared first.",
			params:      AnalysisStartParams{},
			handler:     s.handleAnalysisStart,
		},
		{
			name:        "analysis_stop",
			description: "Stop the running analysis job. Progress is frozen where it was.",
			params:      EmptyParams{},
			handler:     s.handleAnalysisStop,
		},
		{
			name:        "analysis_reset",
			description: "Return a finished, stopped or cleared job to idle with all steps pending",
			params:      EmptyParams{},
			handler:     s.handleAnalysisReset,
		},
		{
			name:        "analysis_clear_error",
			description: "Dismiss the error of a failed job so it can be started again",
			params:      EmptyParams{},
			handler:     s.handleAnalysisClearError,
		},
		{
			name:        "analysis_status",
			description: "Get the current progress of the analysis job",
			params:      EmptyParams{},
			handler:     s.handleAnalysisStatus,
		},
		{
			name:        "analysis_wait",
			description: "Block until the running analysis job completes, fails or is stopped, or the timeout passes. Returns at once when no job is running.",
			params:      AnalysisWaitParams{},
			handler:     s.handleAnalysisWait,
		},
		{
			name:        "connectivity_probe",
			description: "Check that the analysis backend is reachable and measure its response time",
			params:      ConnectivityProbeParams{},
			handler:     s.handleConnectivityProbe,
		},
		{
			name:        "error_explain",
			description: "Turn a raw error message into a title and troubleshooting guidance",
			params:      ErrorExplainParams{},
			handler:     s.handleErrorExplain,
		},
	}

	for _, t := range tools {
		schema, err := inputSchema(t.params)
		if err != nil {
			return fmt.Errorf("schema for %s: %w", t.name, err)
		}
		server.AddTool(
			&mcp.Tool{
				Name:        t.name,
				Description: t.description,
				InputSchema: schema,
			},
			t.handler,
		)
	}
	return nil
}

// wrapError converts common errors to MCP protocol errors
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, tracker.ErrActive), errors.Is(err, tracker.ErrErrorNotCleared):
		return fmt.Errorf("invalid state: %w", err)
	case errors.Is(err, tracker.ErrClosed):
		return fmt.Errorf("server is shutting down: %w", err)
	case strings.Contains(err.Error(), "invalid parameters"):
		return fmt.Errorf("parse error: %w", err)
	case strings.Contains(err.Error(), "validation"):
		return fmt.Errorf("validation error: %w", err)
	default:
		return fmt.Errorf("internal error: %w", err)
	}
}

func decode(request *mcp.CallToolRequest, params interface{}) error {
	if request.Params == nil || len(request.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(request.Params.Arguments, params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func textResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, wrapError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}, nil
}

func (s *MCPServer) handleAnalysisStart(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params AnalysisStartParams
	if err := decode(request, &params); err != nil {
		return nil, wrapError(err)
	}
	if err := params.validate(s.machine.Steps()); err != nil {
		return nil, wrapError(err)
	}

	source := &tracker.SimulatedSource{
		Speed:      params.Speed,
		FailStep:   params.FailStep,
		FailReason: params.FailReason,
	}
	if err := s.machine.StartWith(source); err != nil {
		return nil, wrapError(err)
	}
	return s.status()
}

func (s *MCPServer) handleAnalysisStop(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.machine.Stop(); err != nil {
		return nil, wrapError(err)
	}
	return s.status()
}

func (s *MCPServer) handleAnalysisReset(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.machine.Reset(); err != nil {
		return nil, wrapError(err)
	}
	return s.status()
}

func (s *MCPServer) handleAnalysisClearError(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.machine.ClearError(); err != nil {
		return nil, wrapError(err)
	}
	return s.status()
}

func (s *MCPServer) handleAnalysisStatus(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.status()
}

func (s *MCPServer) handleAnalysisWait(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params AnalysisWaitParams
	if err := decode(request, &params); err != nil {
		return nil, wrapError(err)
	}
	timeout, err := params.timeout()
	if err != nil {
		return nil, wrapError(err)
	}

	// subscribe before looking at the state so the terminal event can't slip by
	events, unsubscribe := s.feed.subscribe()
	defer unsubscribe()

	result := WaitResult{}
	if !s.machine.Snapshot().IsActive {
		result.Status = s.statusOf(s.machine.Snapshot())
		return textResult(result)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil, wrapError(tracker.ErrClosed)
			}
			if event.Stage.IsTransition() {
				result.Transitions = append(result.Transitions, Transition{
					Stage:     event.Stage,
					Message:   event.Message,
					Percent:   event.Percent,
					Timestamp: event.Timestamp,
				})
			}
			// a late event of an earlier run can't end the wait
			if event.State == nil || !event.State.Terminal() {
				continue
			}
			state := s.machine.Snapshot()
			if state.IsActive {
				continue
			}
			result.Status = s.statusOf(state)
			return textResult(result)
		case <-timer.C:
			result.TimedOut = true
			result.Status = s.statusOf(s.machine.Snapshot())
			return textResult(result)
		case <-ctx.Done():
			return nil, wrapError(ctx.Err())
		}
	}
}

func (s *MCPServer) status() (*mcp.CallToolResult, error) {
	return textResult(s.statusOf(s.machine.Snapshot()))
}

func (s *MCPServer) statusOf(state progress.State) StatusResult {
	result := StatusResult{
		Mode:  state.Mode(),
		State: state,
	}
	if state.HasError {
		step, _ := state.ActiveStep()
		explained := s.classifier.Classify(state.ErrorMessage, classifier.Context{
			Component: "analysis job",
			Action:    strings.ToLower(step.Title),
		})
		result.Error = &explained
	}
	return result
}

func (s *MCPServer) handleConnectivityProbe(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ConnectivityProbeParams
	if err := decode(request, &params); err != nil {
		return nil, wrapError(err)
	}
	endpoint := params.Endpoint
	if endpoint == "" {
		endpoint = s.cfg.Probe.Endpoint
	}

	res := s.prober.Probe(ctx, endpoint)
	result := ProbeResult{Result: res}
	if !res.Success {
		result.Checklist = probe.Checklist()
		explained := s.classifier.Classify(res.Error, classifier.Context{
			Component: "connectivity probe",
			Action:    "reach " + endpoint,
		})
		result.Explanation = &explained
	}
	return textResult(result)
}

func (s *MCPServer) handleErrorExplain(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ErrorExplainParams
	if err := decode(request, &params); err != nil {
		return nil, wrapError(err)
	}
	if strings.TrimSpace(params.Message) == "" {
		return nil, wrapError(fmt.Errorf("validation: message is required"))
	}
	return textResult(s.classifier.Classify(params.Message, classifier.Context{
		Component: params.Component,
		Action:    params.Action,
	}))
}

// ServeStdio starts the MCP server using stdio transport
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	s.log.Info("starting MCP server with stdio transport")

	transport := &mcp.StdioTransport{}

	session, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		s.log.Error(err, "failed to connect server to stdio transport")
		return err
	}
	defer session.Close()

	<-ctx.Done()
	s.log.Info("stdio server stopped")
	return nil
}

// ServeHTTP starts the MCP server using the streamable HTTP transport
func (s *MCPServer) ServeHTTP(ctx context.Context, port int, config HTTPConfig) error {
	return serveHTTP(ctx, s, port, config)
}
