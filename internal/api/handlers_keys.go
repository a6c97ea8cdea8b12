package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// GenerateKeyRequest asks for a fresh API key for a browser install.
type GenerateKeyRequest struct {
	UserID       string `json:"user_id"`
	InstanceID   string `json:"instance_id"`
	InstanceName string `json:"instance_name"`
	BrowserInfo  string `json:"browser_info"`
}

// handleGenerateKey issues a new API key. The gateway's own user login is
// out of scope here, so generation is guarded by the admin secret.
func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		writeUnauthorized(w)
		return
	}

	var req GenerateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	plaintext, key, err := s.registry.GenerateKey(req.UserID, req.InstanceID, req.InstanceName, req.BrowserInfo)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	// The plaintext key is returned once and never stored.
	writeJSON(w, http.StatusOK, map[string]any{
		"api_key": plaintext,
		"key":     key,
	})
}

// handleListKeys lists the caller's keys, newest first.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticateRequest(r, "")
	if err != nil {
		writeMappedError(w, err)
		return
	}

	keys, err := s.registry.ListKeys(userID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// handleRevokeKey soft-deletes one of the caller's keys.
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticateRequest(r, "")
	if err != nil {
		writeMappedError(w, err)
		return
	}

	var req struct {
		KeyID string `json:"key_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || req.KeyID == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "key_id is required")
		return
	}

	if err := s.registry.DeleteKey(userID, req.KeyID); err != nil {
		writeError(w, http.StatusNotFound, CodeValidationFailed, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleUpdateCSRF stores a fresh CSRF token pushed by the extension.
func (s *Server) handleUpdateCSRF(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticateRequest(r, "")
	if err != nil {
		writeMappedError(w, err)
		return
	}

	var req struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || req.CSRFToken == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "csrf_token is required")
		return
	}

	if err := s.registry.UpdateCSRF(userID, req.CSRFToken); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleUpdateCookies stores a fresh cookie jar pushed by the extension.
func (s *Server) handleUpdateCookies(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticateRequest(r, "")
	if err != nil {
		writeMappedError(w, err)
		return
	}

	var req struct {
		Cookies map[string]string `json:"cookies"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || len(req.Cookies) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "cookies are required")
		return
	}

	if err := s.registry.UpdateCookies(userID, req.Cookies); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleUpdateGemini stores the opaque Gemini credential blob.
func (s *Server) handleUpdateGemini(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticateRequest(r, "")
	if err != nil {
		writeMappedError(w, err)
		return
	}

	var req struct {
		Gemini json.RawMessage `json:"gemini"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || len(req.Gemini) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "gemini credentials are required")
		return
	}

	if err := s.registry.UpdateGemini(userID, req.Gemini); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// authorizeAdmin checks the Bearer admin secret with constant-time
// comparison.
func (s *Server) authorizeAdmin(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.config.SecretKey)) == 1
}
