package webui

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"genforge/pkg/logx"
	"genforge/pkg/persistence"
)

// handleRuns implements GET /api/runs?limit=N, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	store := s.runner.Store()
	if store == nil {
		http.Error(w, "Run history is not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := persistence.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs: %v", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*persistence.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleRun implements GET /api/runs/{id} with the run's journaled file events.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	store := s.runner.Store()
	if store == nil {
		http.Error(w, "Run history is not enabled", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	run, err := store.GetRun(r.Context(), id)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to load run %s: %v", id, err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	events, err := store.FileEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to load file events for %s: %v", id, err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []persistence.FileEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run, "file_events": events})
}

// handleRunLogs implements GET /api/runs/{id}/logs?level=LEVEL from the in-memory
// log buffer. Only lines logged since the process started are available.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	level := strings.ToUpper(r.URL.Query().Get("level"))

	entries := logx.RecentEntries(id)
	logs := make([]logx.Entry, 0, len(entries))
	for i := range entries {
		if level != "" && entries[i].Level != level {
			continue
		}
		logs = append(logs, entries[i])
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "logs": logs})
}
