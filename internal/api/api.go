// Package api provides Centinela's read-only HTTP inspection surface:
// loopback-only, unauthenticated, GET-only routes over the data store's
// current state.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/patternseek/centinela/internal/model"
	"github.com/patternseek/centinela/internal/store"
)

// DefaultAddr is the loopback listen address for the inspection surface.
const DefaultAddr = "127.0.0.1:8694"

// Server holds the dependencies needed by the inspection handlers.
type Server struct {
	store *store.Store
}

// NewServer creates a Server backed by st.
func NewServer(st *store.Store) *Server {
	return &Server{store: st}
}

// NewRouter returns a configured chi.Router exposing four
// read-only routes.
//
//	GET /fileset                       – JSON array of FileSetIds
//	GET /fileset/{id}/monitor          – JSON array of MonitorIds, or 404
//	GET /fileset/{id}/monitor/{mid}    – MonitorData JSON, or 404
//	GET /dump                          – full in-memory snapshot JSON
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/fileset", srv.handleListFileSets)
	r.Get("/fileset/{id}/monitor", srv.handleListMonitors)
	r.Get("/fileset/{id}/monitor/{mid}", srv.handleMonitorData)
	r.Get("/dump", srv.handleDump)

	return r
}

func (s *Server) handleListFileSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.FileSetIDs())
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	fsID := model.FileSetId(chi.URLParam(r, "id"))
	ids, ok := s.store.MonitorIDs(fsID)
	if !ok {
		writeError(w, http.StatusNotFound, "fileset not found")
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleMonitorData(w http.ResponseWriter, r *http.Request) {
	fsID := model.FileSetId(chi.URLParam(r, "id"))
	monID := model.MonitorId(chi.URLParam(r, "mid"))
	md, ok := s.store.MonitorData(fsID, monID)
	if !ok {
		writeError(w, http.StatusNotFound, "fileset or monitor not found")
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Dump())
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
