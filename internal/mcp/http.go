package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kaizen-ai-systems/msgraph-mcp/internal/logger"
)

type HTTPOptions struct {
	// EndpointPath serves SSE on GET and JSON-RPC on POST.
	EndpointPath string
	MaxBodyBytes int64
	// StrictSessions rejects POSTs whose session_id is not a live SSE stream.
	StrictSessions bool
	SessionTTL     time.Duration
	// PingInterval emits SSE comment frames while idle. Zero disables them.
	PingInterval time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
}

// HTTPTransport exposes a Server over HTTP POST with an SSE handshake on GET.
type HTTPTransport struct {
	server   *Server
	opts     HTTPOptions
	sessions *sessionRegistry
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewHTTPTransport(s *Server, opts HTTPOptions) *HTTPTransport {
	if opts.EndpointPath == "" {
		opts.EndpointPath = "/mcp"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &HTTPTransport{
		server:   s,
		opts:     opts,
		sessions: newSessionRegistry(opts.SessionTTL),
		logger:   s.logger,
		done:     make(chan struct{}),
	}
}

// Close releases every open SSE stream. http.Server.Shutdown does not cancel
// hijack-free streaming handlers, so register this with RegisterOnShutdown.
func (t *HTTPTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

func (t *HTTPTransport) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(t.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodOptions, http.MethodHead,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"*"},
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writePlain(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writePlain(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get(t.opts.EndpointPath, t.handleSSE)
	r.Post(t.opts.EndpointPath, t.handlePost)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writePlain(w, http.StatusOK, "ok")
	})
	if t.opts.MetricsPath != "" && t.server.metrics != nil {
		r.Method(http.MethodGet, t.opts.MetricsPath, t.server.metrics.Handler())
	}
	return r
}

func (t *HTTPTransport) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		log := t.logger.With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))
		log.Debug("http request",
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writePlain(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sessionID := t.sessions.open()
	defer t.sessions.close(sessionID)
	t.server.metrics.streamOpened()
	defer t.server.metrics.streamClosed()

	log := logger.From(r.Context()).With("session_id", sessionID)
	log.Info("sse stream opened", "remote", r.RemoteAddr, "open_streams", t.sessions.count())
	defer func() {
		log.Info("sse stream closed", "open_streams", t.sessions.count())
	}()

	endpoint := t.opts.EndpointPath + "?session_id=" + sessionID
	if err := writeEvent(w, "endpoint", endpoint); err != nil {
		log.Warn("failed to write endpoint event", "error", err)
		return
	}
	flusher.Flush()

	var ping <-chan time.Time
	if t.opts.PingInterval > 0 {
		ticker := time.NewTicker(t.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	var refresh <-chan time.Time
	if every := t.sessions.refreshInterval(); every > 0 {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-t.done:
			return
		case <-refresh:
			t.sessions.touch(sessionID)
		case <-ping:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if !t.sessions.known(sessionID) {
		if t.opts.StrictSessions {
			writeJSON(w, http.StatusNotFound, errorResponse(nil, codeInvalidRequest, "unknown session"))
			return
		}
		if sessionID != "" {
			logger.From(r.Context()).Debug("post references no live sse session", "session_id", sessionID)
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, codeInvalidRequest, "request body too large"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse(nil, codeInternalError, err.Error()))
		return
	}

	var req jsonRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(extractID(body), codeInternalError, err.Error()))
		return
	}

	resp, err := t.dispatch(r.Context(), req)
	if err != nil {
		logger.From(r.Context()).Error("dispatch failed", "rpc_method", req.Method, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse(req.ID, codeInternalError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *HTTPTransport) dispatch(ctx context.Context, req jsonRPCRequest) (resp jsonRPCResponse, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()
	return t.server.Handle(ctx, req), nil
}

// extractID salvages the id of a body that is valid JSON but not a valid
// request envelope.
func extractID(body []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.ID
}

func writeJSON(w http.ResponseWriter, status int, resp jsonRPCResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		status = http.StatusInternalServerError
		payload, _ = json.Marshal(errorResponse(resp.ID, codeInternalError, err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
