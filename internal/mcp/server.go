package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kaizen-ai-systems/msgraph-mcp/internal/logger"
)

const (
	ServerName      = "microsoft-graph-mcp"
	ProtocolVersion = "2024-11-05"
)

// Server dispatches JSON-RPC requests to the tool set. It holds no per-request
// state and is safe for concurrent use by any number of transports.
type Server struct {
	tools       *toolset
	logger      *slog.Logger
	metrics     *Metrics
	version     string
	callTimeout time.Duration
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithCallTimeout bounds each directory call. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.callTimeout = d
	}
}

func NewServer(dir Directory, opts ...Option) *Server {
	s := &Server{
		tools:       newToolset(userTools(dir)...),
		logger:      logger.Void(),
		version:     "1.0.0",
		callTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ToolDefinitions returns the static tools/list payload.
func (s *Server) ToolDefinitions() []toolDefinition {
	return s.tools.definitions()
}

// Handle produces exactly one response for req. Callers decide whether a
// notification's response is written.
func (s *Server) Handle(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	s.metrics.observeRequest(req.Method)

	var (
		result interface{}
		rpcErr *jsonRPCError
	)

	switch req.Method {
	case "initialize":
		result = initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			ServerInfo: implementation{
				Name:    ServerName,
				Version: s.version,
			},
		}
	case "notifications/initialized", "initialized", "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = listToolsResult{Tools: s.tools.definitions()}
	case "tools/call":
		result, rpcErr = s.handleToolCall(ctx, req.Params)
	default:
		rpcErr = &jsonRPCError{Code: codeMethodNotFound, Message: "Method not found: " + req.Method}
	}

	return jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	}
}

func (s *Server) handleToolCall(ctx context.Context, raw json.RawMessage) (interface{}, *jsonRPCError) {
	var params toolsCallParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &jsonRPCError{Code: codeInvalidParams, Message: "invalid tool call params", Data: err.Error()}
		}
	}

	t, ok := s.tools.lookup(params.Name)
	if !ok {
		s.metrics.observeToolCall("unknown", "unknown_tool")
		return textResult("Unknown tool: " + params.Name), nil
	}

	// The directory call outlives a departed client; only the timeout stops it.
	ctx = context.WithoutCancel(ctx)
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	args := arguments(params.Arguments)
	if args == nil {
		args = arguments{}
	}

	start := time.Now()
	text, err := t.handle(ctx, args)
	if err != nil {
		kind, msg := describeFailure(t, args, err)
		s.metrics.observeToolCall(params.Name, string(kind))
		s.logger.Warn("tool call failed",
			"tool", params.Name,
			"kind", kind,
			"duration", time.Since(start),
			"error", err,
		)
		res := textResult(msg)
		res.IsError = true
		return res, nil
	}

	s.metrics.observeToolCall(params.Name, "ok")
	s.logger.Info("tool call succeeded", "tool", params.Name, "duration", time.Since(start))
	return textResult(text), nil
}
