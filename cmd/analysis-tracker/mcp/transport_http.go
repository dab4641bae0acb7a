package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

// HealthResponse is served on /health. Its status field is what the
// connectivity probe reads with the default status path.
type HealthResponse struct {
	Status string `json:"status" description:"Always healthy while the server runs"`
	Server string `json:"server"`
	Job    string `json:"job" description:"Mode of the analysis job: idle, active, completed, error or stopped"`
}

// serveHTTP starts the MCP server using the streamable HTTP transport
func serveHTTP(ctx context.Context, s *MCPServer, port int, config HTTPConfig) error {
	s.log.Info("starting MCP server with HTTP transport", "port", port)

	handler, err := s.httpHandler(config)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *MCPServer) httpHandler(config HTTPConfig) (http.Handler, error) {
	spec, err := openAPISpec()
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi spec: %w", err)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status: "healthy",
			Server: serverName,
			Job:    string(s.machine.Snapshot().Mode()),
		})
	})

	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})

	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
	var mcpHandler http.Handler = streamable
	if config.JWTSecret != "" {
		mcpHandler = s.requireToken(config.JWTSecret, streamable)
	}
	mux.Handle("/mcp", mcpHandler)

	return mux, nil
}

// requireToken rejects requests without a valid HS256 bearer token.
func (s *MCPServer) requireToken(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(strings.TrimPrefix(authHeader, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			s.log.V(1).Info("rejected MCP request", "reason", fmt.Sprint(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		sub, _ := token.Claims.GetSubject()
		s.log.V(3).Info("user making request", "subject", sub)
		next.ServeHTTP(w, r)
	})
}

// openAPISpec documents the plain HTTP endpoints served next to /mcp.
func openAPISpec() ([]byte, error) {
	reflector := openapi3.Reflector{}
	reflector.Spec = &openapi3.Spec{Openapi: "3.0.3"}
	reflector.Spec.Info.
		WithTitle(serverName).
		WithVersion(serverVersion)

	health, err := reflector.NewOperationContext(http.MethodGet, "/health")
	if err != nil {
		return nil, err
	}
	health.AddRespStructure(new(HealthResponse), func(cu *openapi.ContentUnit) {
		cu.HTTPStatus = http.StatusOK
	})
	if err := reflector.AddOperation(health); err != nil {
		return nil, err
	}
	return reflector.Spec.MarshalJSON()
}
