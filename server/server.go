// CLAUDE:SUMMARY HTTP and MCP front for on-demand comparisons: chi routes for compare, run history, artifacts, health; MCP tool wirediff_compare.
// Package server exposes the comparison pipeline over HTTP (chi) and MCP.
// Comparisons are serialized: the pipeline shares one browser and is
// designed to run one comparison at a time.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/wirediff/compare"
	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/horosafe"
	"github.com/hazyhaar/wirediff/idgen"
	"github.com/hazyhaar/wirediff/kit"
	"github.com/hazyhaar/wirediff/shield"
	"github.com/hazyhaar/wirediff/store"
)

const maxRequestBody = 1 << 20

// errHistoryDisabled is returned by history routes when no store is set.
var errHistoryDisabled = errors.New("run history disabled")

// Config configures a Server.
type Config struct {
	// ArtifactRoot is served under /artifacts/.
	ArtifactRoot string
	// DocumentRoot confines request documents: pdf_path is resolved inside
	// it and may not escape. Default ".".
	DocumentRoot string
	// Store is optional; without it comparisons are not recorded and the
	// run routes answer 404.
	Store   *store.Store
	Logger  *slog.Logger
	Version string
}

// Server serves comparisons and their history.
type Server struct {
	runner  compare.Runner
	cfg     Config
	mu      sync.Mutex
	compare kit.Endpoint
}

// New creates a Server around runner.
func New(runner compare.Runner, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DocumentRoot == "" {
		cfg.DocumentRoot = "."
	}
	if abs, err := filepath.Abs(cfg.DocumentRoot); err == nil {
		cfg.DocumentRoot = abs
	}
	if cfg.ArtifactRoot != "" {
		if abs, err := filepath.Abs(cfg.ArtifactRoot); err == nil {
			cfg.ArtifactRoot = abs
		}
	}
	s := &Server{runner: runner, cfg: cfg}
	s.compare = kit.Chain(
		kit.Logging(cfg.Logger, "compare"),
		s.admit,
		s.exclusive,
	)(s.compareEndpoint)
	return s
}

// CompareResponse is a comparison result with the run it was recorded in.
type CompareResponse struct {
	RunID string `json:"run_id"`
	compare.Result
}

// admit validates a request coming from the network. Pages must be http or
// https, and the document is resolved inside DocumentRoot.
func (s *Server) admit(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		r := req.(*compare.Request).Normalize()
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, err := horosafe.CheckScheme(r.URL, "http", "https"); err != nil {
			return nil, fault.Wrap(fault.KindInvalid, "validate", "url", err)
		}
		doc, err := horosafe.SafePath(s.cfg.DocumentRoot, r.DocumentPath)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalid, "validate", "pdf_path", err)
		}
		r.DocumentPath = doc
		return next(ctx, &r)
	}
}

// exclusive runs one comparison at a time.
func (s *Server) exclusive(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return next(ctx, req)
	}
}

func (s *Server) compareEndpoint(ctx context.Context, req any) (any, error) {
	r := *req.(*compare.Request)

	bc := compare.BatchConfig{Logger: s.cfg.Logger}
	if s.cfg.Store != nil {
		bc.Recorder = s.cfg.Store
	}
	rep := compare.NewBatch(s.runner, bc).Run(ctx, []compare.Request{r})
	return &CompareResponse{RunID: rep.RunID, Result: rep.Results[0]}, nil
}

// Handler returns the HTTP routes, including the MCP endpoint at /mcp.
func (s *Server) Handler() http.Handler {
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "wirediff", Version: s.cfg.Version}, nil)
	s.RegisterMCP(mcpSrv)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	for _, mw := range shield.APIStack(s.cfg.Logger) {
		r.Use(mw)
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/compare", s.handleCompare)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{run_id}", s.handleRun)
	})

	r.Get("/artifacts/*", s.handleArtifact)

	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	return r
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compare.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), middleware.GetReqID(r.Context()))
	resp, err := s.compare(ctx, &req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, r, http.StatusNotFound, errHistoryDisabled)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.cfg.Store.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, r, http.StatusNotFound, errHistoryDisabled)
		return
	}
	runID, err := idgen.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	results, err := s.cfg.Store.Results(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("run %s not found", runID))
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "results": results})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ArtifactRoot == "" {
		writeError(w, r, http.StatusNotFound, errors.New("artifact not found"))
		return
	}
	path, err := horosafe.SafePath(s.cfg.ArtifactRoot, chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		writeError(w, r, http.StatusNotFound, errors.New("artifact not found"))
		return
	}
	http.ServeFile(w, r, path)
}

func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("server: request failed", "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
