package api

import (
	"html/template"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ternarybob/vloop/internal/dashboard"
	"github.com/ternarybob/vloop/internal/store"
	"github.com/ternarybob/vloop/pkg/section"
	"github.com/ternarybob/vloop/web"
)

// Web UI template data types

// WebIndexData is the data for the index page template.
type WebIndexData struct {
	Version  string
	Projects []ProjectResponse
}

// WebProjectData is the data for the project page template.
type WebProjectData struct {
	Version string
	Project ProjectResponse
	Panels  []section.Panel
	Runs    []store.Summary
}

func (s *Server) handleWebRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/web/", http.StatusFound)
}

func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request) {
	projects := s.manager.List()
	data := WebIndexData{
		Version:  version,
		Projects: make([]ProjectResponse, 0, len(projects)),
	}
	for _, p := range projects {
		data.Projects = append(data.Projects, s.projectResponse(p))
	}
	renderTemplate(w, "templates/index.html", data)
}

func (s *Server) renderProjectPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data := WebProjectData{
		Version: version,
		Project: s.projectResponse(p),
	}
	if ws, err := s.manager.Workspace(p.ID); err == nil {
		data.Panels = dashboard.Compose(r.Context(), ws.Dashboard())
		data.Runs, _ = ws.Runs.List()
	}
	renderTemplate(w, "templates/project.html", data)
}

func renderTemplate(w http.ResponseWriter, name string, data any) {
	tmpl, err := template.ParseFS(web.Templates, "templates/layout.html", name)
	if err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, "Template execution error: "+err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) serveStaticFile(w http.ResponseWriter, r *http.Request) {
	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	name := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	switch filepath.Ext(name) {
	case ".css":
		w.Header().Set("Content-Type", "text/css")
	case ".js":
		w.Header().Set("Content-Type", "application/javascript")
	case ".svg":
		w.Header().Set("Content-Type", "image/svg+xml")
	}

	data, err := fs.ReadFile(staticFS, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}
