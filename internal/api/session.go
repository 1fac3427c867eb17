package api

import (
	"encoding/json"
	"net/http"

	"github.com/godlp/godlp/internal/media"
	"github.com/godlp/godlp/internal/reconcile"
	"github.com/godlp/godlp/internal/utils"
)

func (s *Server) locatorParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	locator, err := utils.ValidateLocator(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return locator, true
}

// analyze returns either a playlist or a single video, parsed.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	locator, ok := s.locatorParam(w, r)
	if !ok {
		return
	}
	result, err := media.Analyze(r.Context(), s.deps.Host, locator)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// analyzePlaylist passes the host's playlist document through untouched.
func (s *Server) analyzePlaylist(w http.ResponseWriter, r *http.Request) {
	locator, ok := s.locatorParam(w, r)
	if !ok {
		return
	}
	raw, err := s.deps.Host.AnalyzePlaylist(r.Context(), locator)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) getDirect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session.Direct())
}

func (s *Server) startDirect(w http.ResponseWriter, r *http.Request) {
	var d reconcile.DirectDownload
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	locator, err := utils.ValidateLocator(d.Locator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.Locator = locator
	if d.Destination == "" {
		d.Destination = utils.DestinationPath(s.defaultDir, d.Title)
	}

	if err := s.deps.Session.StartDirect(r.Context(), d); err != nil {
		writeErr(w, err)
		return
	}
	s.Publish()
	writeJSON(w, http.StatusAccepted, s.deps.Session.Direct())
}

func (s *Server) cancelDirect(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.CancelDirect(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) leaveDirect(w http.ResponseWriter, r *http.Request) {
	s.deps.Session.LeaveDirect()
	s.Publish()
	writeJSON(w, http.StatusOK, s.deps.Session.Direct())
}

// ConvertRequest is the body of POST /convert.
type ConvertRequest struct {
	SourcePath   string `json:"sourcePath"`
	TargetFormat string `json:"targetFormat"`
}

func (s *Server) getConversion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session.Conversion())
}

func (s *Server) startConversion(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SourcePath == "" || req.TargetFormat == "" {
		writeError(w, http.StatusBadRequest, "sourcePath and targetFormat are required")
		return
	}
	if err := s.deps.Session.StartConversion(r.Context(), req.SourcePath, req.TargetFormat); err != nil {
		writeErr(w, err)
		return
	}
	s.Publish()
	writeJSON(w, http.StatusAccepted, s.deps.Session.Conversion())
}

func (s *Server) cancelConversion(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.CancelConversion(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) getSetup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session.Setup())
}
