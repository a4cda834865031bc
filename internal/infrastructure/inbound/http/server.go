package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/domain/trace"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
	"github.com/sophialabs/apiscenario/internal/infrastructure/usecases"
)

const maxBodySize = 1 << 20

// Loader loads every definition below the configured root.
type Loader interface {
	ExecuteAll(ctx context.Context) ([]*usecases.LoadResult, error)
}

// Runner executes one run of a loaded definition.
type Runner interface {
	Run(ctx context.Context, file *definition.File, opts usecases.RunOptions) (*usecases.RunReport, error)
}

// Definitions is an immutable set of loaded definitions keyed by path.
type Definitions struct {
	byPath map[string]*usecases.LoadResult
	paths  []string
}

// NewDefinitions indexes results by file path.
func NewDefinitions(results []*usecases.LoadResult) *Definitions {
	d := &Definitions{byPath: make(map[string]*usecases.LoadResult, len(results))}
	for _, r := range results {
		d.byPath[r.File.Path] = r
		d.paths = append(d.paths, r.File.Path)
	}
	sort.Strings(d.paths)
	return d
}

// Len returns the number of definitions.
func (d *Definitions) Len() int { return len(d.paths) }

// Get returns the definition loaded from path.
func (d *Definitions) Get(path string) (*usecases.LoadResult, bool) {
	r, ok := d.byPath[path]
	return r, ok
}

// Server is the admin HTTP API of serve mode.
type Server struct {
	router   *chi.Mux
	defs     atomic.Pointer[Definitions]
	reloadMu sync.Mutex
	loader   Loader
	runner   Runner
	traceBuf *trace.RingBuffer
	logger   ports.Logger
}

// NewServer creates a new Server.
func NewServer(loader Loader, runner Runner, traceBuf *trace.RingBuffer, logger ports.Logger) *Server {
	s := &Server{
		loader:   loader,
		runner:   runner,
		traceBuf: traceBuf,
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/__admin", func(r chi.Router) {
		r.Get("/definitions", s.handleListDefinitions)
		r.Get("/trace", s.handleGetTrace)
		r.Post("/reload", s.handleReload)
		r.Post("/runs", s.handleRun)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
	})
	return r
}

// Rebuild atomically swaps the served definitions.
func (s *Server) Rebuild(defs *Definitions) {
	s.defs.Store(defs)
	s.logger.Info("definitions updated", "count", defs.Len())
}

// Reload loads every definition and swaps them in. Concurrent reloads are
// serialized; a failed reload keeps the previous set.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	results, err := s.loader.ExecuteAll(ctx)
	if err != nil {
		return err
	}
	s.Rebuild(NewDefinitions(results))
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	defs := s.defs.Load()
	if defs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "definitions not loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "definitions": defs.Len()})
}

type stepView struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Prepare bool   `json:"prepare,omitempty"`
}

type scenarioView struct {
	Index       int        `json:"index"`
	Description string     `json:"description,omitempty"`
	ShareScope  bool       `json:"shareScope"`
	Required    []string   `json:"requiredVariables,omitempty"`
	Steps       []stepView `json:"steps"`
}

type definitionView struct {
	File      string         `json:"file"`
	Scope     string         `json:"scope"`
	Scenarios []scenarioView `json:"scenarios"`
	Coverage  any            `json:"coverage"`
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, _ *http.Request) {
	defs := s.defs.Load()
	views := []definitionView{}
	if defs != nil {
		for _, p := range defs.paths {
			views = append(views, viewOf(defs.byPath[p]))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func viewOf(res *usecases.LoadResult) definitionView {
	f := res.File
	v := definitionView{File: f.Path, Scope: f.Scope, Coverage: res.Coverage}
	for i, sc := range f.Scenarios {
		sv := scenarioView{
			Index:       i,
			Description: sc.Description,
			ShareScope:  sc.ShareScope,
			Required:    sc.RequiredVariables,
		}
		for _, st := range sc.ResolvedSteps {
			sv.Steps = append(sv.Steps, stepView{Name: st.Name, Kind: st.Kind.String(), Prepare: st.IsPrepareStep})
		}
		v.Scenarios = append(v.Scenarios, sv)
	}
	return v
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	n := 10
	if lastParam := r.URL.Query().Get("last"); lastParam != "" {
		if parsed, err := strconv.Atoi(lastParam); err == nil && parsed > 0 {
			n = parsed
		}
	}

	var entries []trace.Entry
	if runID := r.URL.Query().Get("run"); runID != "" {
		entries = s.traceBuf.ForRun(runID, n)
	} else {
		entries = s.traceBuf.Last(n)
	}
	if entries == nil {
		entries = []trace.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "reload_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"definitions": s.defs.Load().Len(),
	})
}

type runRequest struct {
	File        string         `json:"file"`
	Scenarios   []int          `json:"scenarios,omitempty"`
	Env         map[string]any `json:"env,omitempty"`
	RunID       string         `json:"runId,omitempty"`
	From        string         `json:"from,omitempty"`
	To          string         `json:"to,omitempty"`
	SkipCleanup bool           `json:"skipCleanup,omitempty"`
}

type runResponse struct {
	Report *usecases.RunReport `json:"report,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	defs := s.defs.Load()
	if defs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "definitions not loaded")
		return
	}
	res, ok := defs.Get(req.File)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "definition not loaded: "+req.File)
		return
	}

	opts := usecases.RunOptions{
		RunID:       req.RunID,
		Env:         req.Env,
		Scenarios:   req.Scenarios,
		SkipCleanup: req.SkipCleanup,
		From:        req.From,
		To:          req.To,
	}
	report, err := s.runner.Run(r.Context(), res.File, opts)
	if err != nil && report == nil {
		status := http.StatusInternalServerError
		if errs.IsKind(err, errs.KindVariable) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "run_failed", err.Error())
		return
	}

	resp := runResponse{Report: report}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
		s.logger.Warn("run finished with errors", "file", req.File, "run", report.RunID, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
