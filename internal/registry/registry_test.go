package registry

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"linkedin-gateway/internal/auth"
	"linkedin-gateway/internal/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGenerateAndAuthenticate(t *testing.T) {
	r := newTestRegistry(t)

	plaintext, key, err := r.GenerateKey("user-1", "inst-1", "Chrome on Linux", "Chrome/144")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, auth.KeyPrefixTag+"_") {
		t.Errorf("plaintext %q missing tag prefix", plaintext)
	}
	if !auth.LooksLikeKey(plaintext) {
		t.Errorf("generated key %q fails shape check", plaintext)
	}
	if key.UserID != "user-1" || !key.Active {
		t.Errorf("key record = %+v", key)
	}
	if key.Prefix == "" || strings.Contains(plaintext, key.Prefix) == false {
		t.Errorf("display prefix %q not derived from plaintext %q", key.Prefix, plaintext)
	}

	userID, err := r.Authenticate(plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("userID = %q", userID)
	}

	if _, err := r.Authenticate("LKG_dead_beef"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown key: err = %v, want ErrUnauthorized", err)
	}
	if _, err := r.Authenticate(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty key: err = %v, want ErrUnauthorized", err)
	}
}

func TestGenerateSupersedesSameInstance(t *testing.T) {
	r := newTestRegistry(t)

	old, _, err := r.GenerateKey("user-1", "inst-1", "", "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	fresh, _, err := r.GenerateKey("user-1", "inst-1", "", "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	// A second browser instance keeps its own key.
	other, _, err := r.GenerateKey("user-1", "inst-2", "", "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if _, err := r.Authenticate(old); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("superseded key still authenticates: %v", err)
	}
	if _, err := r.Authenticate(fresh); err != nil {
		t.Errorf("fresh key rejected: %v", err)
	}
	if _, err := r.Authenticate(other); err != nil {
		t.Errorf("other-instance key rejected: %v", err)
	}

	keys, err := r.ListKeys("user-1")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}
	active := 0
	for _, k := range keys {
		if k.Active {
			active++
		} else if k.RevokedAt == nil {
			t.Errorf("inactive key %s has no revoked_at", k.ID)
		}
	}
	if active != 2 {
		t.Errorf("got %d active keys, want 2 (one per instance)", active)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.UpdateCSRF("user-1", "tok"); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("update without key: err = %v, want ErrNoActiveKey", err)
	}
	if _, err := r.GetCredentials("user-1"); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("read without key: err = %v, want ErrNoActiveKey", err)
	}

	if _, _, err := r.GenerateKey("user-1", "inst-1", "", ""); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	// Fresh key carries empty credentials, not an error.
	creds, err := r.GetCredentials("user-1")
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if creds.CSRFToken != "" || len(creds.Cookies) != 0 {
		t.Errorf("fresh creds not empty: %+v", creds)
	}

	// Quoted values are stripped on ingest (JSESSIONID arrives quoted from
	// the browser).
	if err := r.UpdateCSRF("user-1", `"ajax:987"`); err != nil {
		t.Fatalf("UpdateCSRF: %v", err)
	}
	if err := r.UpdateCookies("user-1", map[string]string{
		"JSESSIONID": `"ajax:987"`,
		"li_at":      "AQEDAtest",
	}); err != nil {
		t.Fatalf("UpdateCookies: %v", err)
	}
	if err := r.UpdateGemini("user-1", json.RawMessage(`{"api_key":"g-123"}`)); err != nil {
		t.Fatalf("UpdateGemini: %v", err)
	}

	creds, err = r.GetCredentials("user-1")
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if creds.CSRFToken != "ajax:987" {
		t.Errorf("CSRFToken = %q, want quotes stripped", creds.CSRFToken)
	}
	if creds.Cookies["JSESSIONID"] != "ajax:987" {
		t.Errorf("JSESSIONID = %q, want quotes stripped", creds.Cookies["JSESSIONID"])
	}
	if creds.Cookies["li_at"] != "AQEDAtest" {
		t.Errorf("li_at = %q", creds.Cookies["li_at"])
	}
	if string(creds.Gemini) != `{"api_key":"g-123"}` {
		t.Errorf("Gemini = %s", creds.Gemini)
	}
}

func TestDeleteKey(t *testing.T) {
	r := newTestRegistry(t)

	plaintext, key, err := r.GenerateKey("user-1", "inst-1", "", "")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if err := r.DeleteKey("other-user", key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user delete: err = %v, want ErrNotFound", err)
	}
	if err := r.DeleteKey("user-1", key.ID); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if err := r.DeleteKey("user-1", key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}

	if _, err := r.Authenticate(plaintext); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("deleted key still authenticates: %v", err)
	}
	if _, err := r.GetCredentials("user-1"); !errors.Is(err, ErrNoActiveKey) {
		t.Errorf("creds after delete: err = %v, want ErrNoActiveKey", err)
	}
}

func TestGetCredentialsUsesNewestActiveKey(t *testing.T) {
	r := newTestRegistry(t)

	if _, _, err := r.GenerateKey("user-1", "inst-1", "", ""); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := r.UpdateCSRF("user-1", "old-token"); err != nil {
		t.Fatalf("UpdateCSRF: %v", err)
	}

	// Regenerating the same instance supersedes the old key; its
	// credentials go with it.
	if _, _, err := r.GenerateKey("user-1", "inst-1", "", ""); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	creds, err := r.GetCredentials("user-1")
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if creds.CSRFToken != "" {
		t.Errorf("CSRFToken = %q, want empty after key rotation", creds.CSRFToken)
	}
}
