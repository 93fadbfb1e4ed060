package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ternarybob/vloop/internal/dashboard"
	"github.com/ternarybob/vloop/internal/project"
	"github.com/ternarybob/vloop/internal/store"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/section"
)

// version is set via -ldflags at build time
var version = "dev"

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
}

// Response types

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string     `json:"error"`
	Code  fault.Code `json:"code,omitempty"`
}

// ProjectResponse represents a project in API responses.
type ProjectResponse struct {
	ID           string         `json:"id"`
	Path         string         `json:"path"`
	Name         string         `json:"name"`
	RegisteredAt string         `json:"registered_at"`
	Busy         bool           `json:"busy"`
	LastRun      *store.Summary `json:"last_run,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// RegisterProjectRequest is the request body for registering a project.
type RegisterProjectRequest struct {
	Path string `json:"path"`
}

// StartRunRequest is the request body for starting a run.
type StartRunRequest struct {
	ChangeType sdk.ChangeType `json:"change_type"`
	Feature    string         `json:"feature,omitempty"`
}

// StepResponse is the response for a single step.
type StepResponse struct {
	Outcome sdk.StageOutcome `json:"outcome"`
	Report  *sdk.Report      `json:"report"`
}

// AddCriterionRequest is the request body for adding a criterion.
type AddCriterionRequest struct {
	Feature     string `json:"feature"`
	Description string `json:"description"`
}

// CompleteCriterionRequest names the run that verified a criterion. An
// empty RunID means the current run.
type CompleteCriterionRequest struct {
	RunID string `json:"run_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version: version,
		Service: "vloop",
	})
}

func (s *Server) projectResponse(p *project.Project) ProjectResponse {
	pr := ProjectResponse{
		ID:           p.ID,
		Path:         p.Path,
		Name:         p.Name,
		RegisteredAt: p.RegisteredAt.Format(time.RFC3339),
	}
	ws, err := s.manager.Workspace(p.ID)
	if err != nil {
		pr.Error = err.Error()
		return pr
	}
	pr.Busy = ws.Busy()
	if runs, err := ws.Runs.List(); err == nil && len(runs) > 0 {
		pr.LastRun = &runs[0]
	}
	return pr
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.manager.List()
	response := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		response = append(response, s.projectResponse(p))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	var req RegisterProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "Path is required")
		return
	}

	p, err := s.manager.RegisterProject(req.Path)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.projectResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.projectResponse(p))
}

func (s *Server) handleUnregisterProject(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.UnregisterProject(chi.URLParam(r, "id")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Reload(); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.projectResponse(ws.Project))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	panels := dashboard.Compose(r.Context(), ws.Dashboard())
	writeJSON(w, http.StatusOK, struct {
		Panels []section.Panel `json:"panels"`
		Failed []string        `json:"failed"`
	}{panels, section.Failed(panels)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	runs, err := ws.Runs.List()
	if err != nil {
		writeFault(w, err)
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleStartRun saves a new run and drives it in the background. Progress
// is reported on /events and by polling the run.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	run, drive, err := ws.Launch(req.ChangeType, req.Feature)
	if err != nil {
		writeFault(w, err)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		rep, err := drive(s.ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("run", run.ID).Msg("Background run ended early")
			return
		}
		s.logger.Info().Str("run", run.ID).Str("status", report.Status(rep)).Msg("Background run finished")
	}()

	w.Header().Set("Location", "/projects/"+ws.Project.ID+"/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run.Report())
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	run, err := ws.Runs.Current()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Report())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	rep, err := ws.Runs.Report(chi.URLParam(r, "run"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	rep, err := ws.Runs.Report(chi.URLParam(r, "run"))
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(report.Markdown(rep)))
}

// handleStep executes the current stage once. It blocks for as long as
// the stage takes.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	run, out, err := ws.Step(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StepResponse{Outcome: out, Report: run.Report()})
}

func (s *Server) handleListCriteria(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	list := ws.Tracker.List(r.URL.Query().Get("feature"))
	if list == nil {
		list = []sdk.Criterion{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddCriterion(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req AddCriterionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c, err := ws.Tracker.Add(req.Feature, req.Description)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleStartCriterion(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	c, err := ws.Tracker.Start(chi.URLParam(r, "cid"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCompleteCriterion(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var req CompleteCriterionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	load := ws.Runs.Current
	if req.RunID != "" {
		load = func() (*loop.Run, error) { return ws.Runs.Load(req.RunID) }
	}
	run, err := load()
	if err != nil {
		writeFault(w, err)
		return
	}
	c, err := ws.Tracker.Complete(chi.URLParam(r, "cid"), run)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRemoveCriterion(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Tracker.Remove(chi.URLParam(r, "cid")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// workspace resolves the {id} route parameter, writing the error response
// when it cannot.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*project.Workspace, bool) {
	ws, err := s.manager.Workspace(chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return nil, false
	}
	return ws, true
}

// Helper functions

// statusFor maps an error to an HTTP status by its fault code.
func statusFor(err error) int {
	if errors.Is(err, project.ErrProjectNotFound) {
		return http.StatusNotFound
	}
	switch fault.CodeOf(err) {
	case fault.EUsage, fault.EConfig, fault.EVagueCriterion:
		return http.StatusBadRequest
	case fault.ERunNotFound, fault.ECriterionNotFound:
		return http.StatusNotFound
	case fault.ENotVerified, fault.ERunTerminal, fault.EStageOrder:
		return http.StatusConflict
	case fault.EUnavailable:
		return http.StatusServiceUnavailable
	case fault.ECancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeFault(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if _, ok := fault.As(err); ok {
		resp.Code = fault.CodeOf(err)
	}
	writeJSON(w, statusFor(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
