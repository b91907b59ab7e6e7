package webui

import (
	"encoding/json"
	"net/http"
	"strings"

	"genforge/pkg/config"
)

// SecretEntry represents a secret for the API response (name only, no value).
type SecretEntry struct {
	Name string `json:"name"`
}

// handleSecretsList implements GET /api/secrets.
// Values are never returned.
func (s *Server) handleSecretsList(w http.ResponseWriter, _ *http.Request) {
	names := config.SecretNames()
	entries := make([]SecretEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, SecretEntry{Name: name})
	}
	s.writeJSON(w, http.StatusOK, entries)
	s.logger.Debug("Served secrets list: %d secrets", len(entries))
}

// handleSecretsSet implements POST /api/secrets.
func (s *Server) handleSecretsSet(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if reqBody.Name == "" {
		http.Error(w, "Secret name is required", http.StatusBadRequest)
		return
	}
	if reqBody.Value == "" {
		http.Error(w, "Secret value is required", http.StatusBadRequest)
		return
	}
	if sanitizeSecretName(reqBody.Name) != reqBody.Name {
		http.Error(w, "Secret name must contain only alphanumeric characters and underscores", http.StatusBadRequest)
		return
	}

	config.SetSecret(reqBody.Name, reqBody.Value)
	s.persistSecrets()

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": reqBody.Name})
	s.logger.Info("Secret %q set successfully", reqBody.Name)
}

// handleSecretsDelete implements DELETE /api/secrets/{name}.
func (s *Server) handleSecretsDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "Secret name required", http.StatusBadRequest)
		return
	}
	if !config.DeleteSecret(name) {
		http.Error(w, "Secret not found", http.StatusNotFound)
		return
	}
	s.persistSecrets()

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": name})
	s.logger.Info("Secret %q deleted successfully", name)
}

// persistSecrets writes the in-memory secrets to the encrypted file. Without a
// secrets path or password the change lives in memory only.
func (s *Server) persistSecrets() {
	password := config.ProjectPassword()
	if s.secrets == "" || password == "" {
		s.logger.Warn("No secrets file or password configured - secrets stored in memory only")
		return
	}
	if err := config.SaveSecretsToFile(s.secrets, password); err != nil {
		// The in-memory change stands.
		s.logger.Error("Failed to persist secrets to file: %v", err)
	}
}

// sanitizeSecretName ensures secret name contains only valid characters.
func sanitizeSecretName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
