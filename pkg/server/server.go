// Package server exposes the bound analysis workspace as an MCP tool
// surface. Every tool call maps to exactly one session scope (or one batch
// run), so external agents and the host GUI always observe a consistently
// ordered workspace.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/godeps/revlink/pkg/batch"
	"github.com/godeps/revlink/pkg/config"
	"github.com/godeps/revlink/pkg/observability"
	"github.com/godeps/revlink/pkg/session"
	"github.com/godeps/revlink/pkg/telemetry"
)

const serverName = "revlink"

// Option customizes a Server.
type Option func(*Server)

// WithLogger overrides the shared logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithTelemetry attaches a telemetry manager; nil is valid and disables
// instrumentation.
func WithTelemetry(tel *telemetry.Manager) Option {
	return func(s *Server) { s.tel = tel }
}

// WithVersion sets the version advertised to MCP clients.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// Server is the tool boundary bound to one session handle.
type Server struct {
	handle  *session.Handle
	mcp     *mcp.Server
	log     *slog.Logger
	tel     *telemetry.Manager
	version string
}

// New builds a Server with its full tool surface registered.
func New(handle *session.Handle, opts ...Option) *Server {
	s := &Server{
		handle:  handle,
		log:     observability.Logger(),
		version: "0.0.0-dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: s.version}, nil)
	s.register()
	return s
}

// Run serves MCP over the configured transport until ctx is canceled.
func (s *Server) Run(ctx context.Context, cfg config.Config) error {
	switch cfg.Transport {
	case config.TransportStdio:
		s.log.Info("serving MCP over stdio")
		return s.mcp.Run(ctx, &mcp.StdioTransport{})
	case config.TransportHTTP:
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		httpServer := &http.Server{Addr: cfg.Addr(), Handler: handler}
		errc := make(chan error, 1)
		go func() {
			s.log.Info("serving MCP over http", "addr", cfg.Addr())
			errc <- httpServer.ListenAndServe()
		}()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	default:
		return fmt.Errorf("server: unknown transport %q", cfg.Transport)
	}
}

// Connect attaches the underlying MCP server to a transport. Exposed for
// in-process clients and tests.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// instrument wraps a tool body with tracing, metrics, logging and error-kind
// tagging. Failures reach the client as tool errors prefixed with a stable
// taxonomy kind, never as unclassified failures.
func instrument[In, Out any](s *Server, name string, fn func(ctx context.Context, in In) (Out, error)) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		ctx, span := s.tel.StartSpan(ctx, "tool/"+name)
		out, err := fn(ctx, in)
		telemetry.EndSpan(span, err)

		kind := ""
		if err != nil {
			kind = classify(err)
		}
		s.tel.RecordToolCall(ctx, telemetry.ToolData{
			Name:      name,
			Duration:  time.Since(start),
			ErrorKind: kind,
			Error:     err,
		})
		if err != nil {
			s.log.Error("tool call failed", "tool", name, "kind", kind, "error", err)
			var zero Out
			return nil, zero, fmt.Errorf("%s: %w", kind, err)
		}
		s.log.Debug("tool call ok", "tool", name, "duration", time.Since(start))
		return nil, out, nil
	}
}

func classify(err error) string {
	if errors.Is(err, errInvalidArgument) {
		return batch.KindInvalidArgument
	}
	return batch.Classify(err)
}
