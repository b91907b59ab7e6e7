package webui

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"

	"genforge/pkg/proto"
	"genforge/pkg/sandbox"
)

// FileNode is one entry of the project tree returned by /api/files.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Children []FileNode `json:"children,omitempty"`
}

// handleFiles implements GET /api/files.
func (s *Server) handleFiles(w http.ResponseWriter, _ *http.Request) {
	sb, err := s.runner.Sandbox()
	if err != nil {
		s.logger.Error("Failed to open project root: %v", err)
		http.Error(w, "Failed to open project root", http.StatusInternalServerError)
		return
	}

	tree, err := buildTree(sb, sb.Root())
	if err != nil {
		s.logger.Error("Failed to list project files: %v", err)
		http.Error(w, "Failed to list project files", http.StatusInternalServerError)
		return
	}
	response := map[string]any{"files": tree, "root": sb.Root()}
	if len(tree) == 0 {
		response["message"] = "No project generated yet"
	}
	s.writeJSON(w, http.StatusOK, response)
}

// buildTree lists dir with directories first, then files, each sorted by name.
func buildTree(sb *sandbox.Sandbox, dir string) ([]FileNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err //nolint:wrapcheck // caller logs
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	nodes := make([]FileNode, 0, len(entries))
	for _, e := range entries {
		abs := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			children, err := buildTree(sb, abs)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, FileNode{Name: e.Name(), Path: sb.Rel(abs), Type: "directory", Children: children})
		case e.Type().IsRegular():
			nodes = append(nodes, FileNode{Name: e.Name(), Path: sb.Rel(abs), Type: "file"})
		}
	}
	return nodes, nil
}

// resolveFile maps the request's {path} to a regular file inside the project
// root and writes the error response when it cannot.
func (s *Server) resolveFile(w http.ResponseWriter, r *http.Request) (*sandbox.Sandbox, string, fs.FileInfo, bool) {
	sb, err := s.runner.Sandbox()
	if err != nil {
		http.Error(w, "Failed to open project root", http.StatusInternalServerError)
		return nil, "", nil, false
	}
	rel := r.PathValue("path")
	abs, err := sb.Resolve(rel)
	if err != nil {
		if errors.Is(err, sandbox.ErrSandboxViolation) {
			s.logger.Warn("Rejected path outside project root: %s", rel)
			http.Error(w, "Access denied", http.StatusForbidden)
			return nil, "", nil, false
		}
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return nil, "", nil, false
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "File not found", http.StatusNotFound)
		return nil, "", nil, false
	}
	if err != nil {
		http.Error(w, "Failed to stat file", http.StatusInternalServerError)
		return nil, "", nil, false
	}
	if !info.Mode().IsRegular() {
		http.Error(w, "Path is not a file", http.StatusBadRequest)
		return nil, "", nil, false
	}
	return sb, abs, info, true
}

// handleFileRead implements GET /api/file/{path}.
func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	sb, abs, info, ok := s.resolveFile(w, r)
	if !ok {
		return
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		s.logger.Error("Failed to read %s: %v", abs, err)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	content := string(data)
	if !utf8.Valid(data) {
		content = "[Binary file: " + filepath.Ext(abs) + "]"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"path":     sb.Rel(abs),
		"content":  content,
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	})
}

// handleFileDelete implements DELETE /api/file/{path}. The deletion is
// reported on the active run's stream when there is one.
func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	sb, abs, _, ok := s.resolveFile(w, r)
	if !ok {
		return
	}
	rel := sb.Rel(abs)

	var deleted sandbox.FileOp
	observed := sb.WithObserver(sandbox.ObserverFunc(func(op sandbox.FileOp) { deleted = op }))
	if err := observed.Delete(rel); err != nil {
		s.logger.Error("Failed to delete %s: %v", rel, err)
		http.Error(w, "Failed to delete file", http.StatusInternalServerError)
		return
	}
	s.runner.EmitToActive(proto.NewFileEvent(deleted))

	s.logger.Info("Deleted %s", rel)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "File " + rel + " deleted successfully",
		"path":    rel,
	})
}
