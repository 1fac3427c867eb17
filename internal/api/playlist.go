package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/godlp/godlp/internal/media"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/utils"
)

// PlaylistAddRequest is the body of POST /queue/playlist. Entries holds
// entry ids and Items 1-based positions; with neither, the whole playlist
// is queued.
type PlaylistAddRequest struct {
	URL       string   `json:"url"`
	Entries   []string `json:"entries,omitempty"`
	Items     []int    `json:"items,omitempty"`
	OutputDir string   `json:"outputDir,omitempty"`
	Priority  string   `json:"priority,omitempty"`
}

// PlaylistAddResponse lists the queue items created or matched.
type PlaylistAddResponse struct {
	Playlist string       `json:"playlist"`
	FormatID string       `json:"formatID"`
	Items    []queue.Item `json:"items"`
}

// addPlaylist queues each selected entry as its own item under a folder
// named after the playlist, all with the best format of the first entry.
func (s *Server) addPlaylist(w http.ResponseWriter, r *http.Request) {
	var req PlaylistAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	locator, err := utils.ValidateLocator(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prio := s.defaultPriority
	if req.Priority != "" {
		if prio, err = queue.ParsePriority(req.Priority); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	raw, err := s.deps.Host.AnalyzePlaylist(r.Context(), locator)
	if err != nil {
		writeErr(w, err)
		return
	}
	playlist, err := media.ParsePlaylist(raw)
	if err != nil || len(playlist.Entries) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "not a playlist")
		return
	}
	entries := playlist.Select(req.Entries, req.Items)
	if len(entries) == 0 {
		writeError(w, http.StatusBadRequest, "no playlist entries selected")
		return
	}

	best, err := media.EntryFormat(r.Context(), s.deps.Host, entries[0])
	if errors.Is(err, media.ErrNoFormat) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	dir := req.OutputDir
	if dir == "" {
		dir = s.defaultDir
	}
	dir = filepath.Join(dir, utils.SanitizeFilename(playlist.Folder()))

	resp := PlaylistAddResponse{Playlist: playlist.Title, FormatID: best.FormatID}
	for _, e := range entries {
		entryURL, err := utils.ValidateLocator(e.URL)
		if err != nil {
			utils.Debug("API: skipping playlist entry %q: %v", e.Title, err)
			continue
		}
		name := e.Title
		if name == "" {
			name = "%(title)s"
		}
		resp.Items = append(resp.Items, s.deps.Queue.Enqueue(queue.Request{
			Locator:     entryURL,
			Format:      best.FormatID,
			Destination: utils.DestinationPath(dir, name),
			Title:       e.Title,
			Priority:    prio,
		}))
	}
	s.Publish()
	writeJSON(w, http.StatusCreated, resp)
}
