package api

import (
	"net/http"
)

// Version is the gateway's own semver.
const Version = "1.3.0"

// MinExtensionVersion is the oldest extension release this backend will
// serve. The extension refuses to connect below it.
const MinExtensionVersion = "1.1.0"

// handleHealth returns liveness unconditionally.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion reports version compatibility and feature flags for the
// extension's handshake check.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":               Version,
		"min_extension_version": MinExtensionVersion,
		"features": map[string]bool{
			"multi_key_support": true,
			"proxy_mode":        true,
			"direct_mode":       s.config.ServerCallAllowed(),
		},
	})
}

// handleServerInfo reports edition and identity, used by client capability
// checks (server_call is silently ignored on SaaS).
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"edition":           s.config.Edition,
		"channel":           s.config.Channel,
		"server_name":       s.config.ServerName,
		"version":           Version,
		"is_default_server": s.config.IsDefaultServer,
	})
}

// handleLinkedInConfigStatus reports whether the OAuth app credentials are
// configured. The OAuth flow itself lives outside this core.
func (s *Server) handleLinkedInConfigStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_configured": s.config.LinkedInOAuthConfigured(),
	})
}
