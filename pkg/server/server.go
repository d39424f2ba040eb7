// Package server exposes the governance decision API over HTTP:
// message authorization, vector store filter authorization and
// health. Handlers are thin; policy evaluation, scanning and audit
// live in their own packages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/observability"
	"github.com/wardenlabs/warden/pkg/policy"
	"github.com/wardenlabs/warden/pkg/scanner"
)

// maxBodyBytes bounds request bodies; prompts are capped upstream.
const maxBodyBytes = 1 << 20

// Options wires the server's collaborators.
type Options struct {
	Engine   *policy.Engine
	Scanners *scanner.Pipeline
	Audit    *audit.Writer
	Limiter  *Limiter
	Telem    *observability.Provider
	Logger   *slog.Logger

	// JWTSecret enables bearer auth when set.
	JWTSecret string
}

// Server is the HTTP decision endpoint.
type Server struct {
	opts    Options
	valid   *validator
	handler http.Handler
	log     *slog.Logger
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	valid, err := newValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{opts: opts, valid: valid, log: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /v1/authorize/vectordb", s.handleAuthorizeVectorDB)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = authMiddleware(opts.JWTSecret, s.limitMiddleware(mux))
	return s, nil
}

// Handler returns the composed HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) limitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Limiter == nil || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		tenant := "anonymous"
		if c := claimsFrom(r.Context()); c != nil {
			tenant = c.TenantID
		}
		if !s.opts.Limiter.Allow(r.Context(), tenant) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := s.telem().StartSpan(r.Context(), "authorize")
	defer span.End()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req contracts.AuthorizationRequest
	if err := check(s.valid.authorize, raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c := claimsFrom(ctx); c != nil && c.TenantID != req.TenantID {
		writeError(w, http.StatusForbidden, "token tenant does not match request tenant")
		return
	}
	if req.RequestTime.IsZero() {
		req.RequestTime = time.Now().UTC()
	}

	// Scanners enrich the request's traits with what they detect in
	// the message text.
	var maskValues map[string]string
	if s.opts.Scanners != nil && len(req.RequestText) > 0 {
		scanned := s.opts.Scanners.Scan(ctx, strings.Join(req.RequestText, "\n"))
		req.Traits = unionTraits(req.Traits, scanned.Traits)
		maskValues = scanned.MaskedValues
	}

	decision, err := s.opts.Engine.Authorize(ctx, &req, maskValues)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.telem().RecordDecision(ctx, decision.Authorized, string(req.RequestType), time.Since(start))

	if s.opts.Audit != nil {
		rec := contracts.NewAuditRecord(&req, *decision)
		rec.MaskedContent = maskedContent(decision, maskValues)
		if err := s.opts.Audit.Submit(rec); err != nil {
			// Only surfaces when audit failure reporting is on.
			s.log.Error("audit submit failed", "requestId", req.RequestID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "audit pipeline saturated")
			return
		}
	}

	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleAuthorizeVectorDB(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := s.telem().StartSpan(r.Context(), "authorize_vectordb")
	defer span.End()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req contracts.VectorStoreAuthzRequest
	if err := check(s.valid.vectorDB, raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c := claimsFrom(ctx); c != nil && c.TenantID != req.TenantID {
		writeError(w, http.StatusForbidden, "token tenant does not match request tenant")
		return
	}

	decision, err := s.opts.Engine.AuthorizeVectorStore(ctx, &req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.telem().RecordDecision(ctx, decision.Authorized, "rag_filter", time.Since(start))
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.opts.Audit != nil {
		stats := s.opts.Audit.Stats()
		status["auditQueueLen"] = stats.QueueLen
		status["auditDropped"] = stats.Dropped
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contracts.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, policy.ErrStoreUnavailable):
		// Fail closed: the caller must not proceed without a decision.
		writeError(w, http.StatusServiceUnavailable, "policy store unavailable")
	default:
		s.log.Error("decision failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// telem returns the wired provider; a nil provider is a safe no-op.
func (s *Server) telem() *observability.Provider {
	return s.opts.Telem
}

// maskedContent picks the redacted rendition to audit: any mask value
// of a redacted trait, since every value is the full masked text.
func maskedContent(d *contracts.AuthorizationDecision, maskValues map[string]string) string {
	for trait := range d.MaskedTraits {
		if v, ok := maskValues[trait]; ok && v != "" {
			return v
		}
	}
	return ""
}

func unionTraits(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range [][]string{a, b} {
		for _, t := range s {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the server until ctx is canceled, then shuts
// down gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
