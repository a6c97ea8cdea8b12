package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"linkedin-gateway/internal/auth"
)

// Key is one API-key record. The plaintext secret is never stored; only its
// hash and a short display prefix survive generation.
type Key struct {
	ID           string     `json:"key_id"`
	UserID       string     `json:"user_id"`
	Prefix       string     `json:"key_prefix"`
	InstanceID   string     `json:"instance_id"`
	InstanceName string     `json:"instance_name"`
	BrowserInfo  string     `json:"browser_info,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// Credentials is the per-user LinkedIn credential set read by the direct
// client and the URL fabric. Gemini is carried as an opaque blob; the
// LinkedIn path never parses it.
type Credentials struct {
	CSRFToken string            `json:"csrf_token"`
	Cookies   map[string]string `json:"cookies"`
	Gemini    json.RawMessage   `json:"gemini,omitempty"`
}

const timeLayout = time.RFC3339Nano

// GenerateKey issues a fresh key for (userID, instanceID), deactivating any
// prior active key for the same instance in the same transaction. The
// plaintext is returned exactly once.
func (r *Registry) GenerateKey(userID, instanceID, instanceName, browserInfo string) (string, *Key, error) {
	plaintext, prefix, hash, err := auth.GenerateKey()
	if err != nil {
		return "", nil, err
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	now := time.Now().UTC()
	key := &Key{
		ID:           uuid.NewString(),
		UserID:       userID,
		Prefix:       prefix,
		InstanceID:   instanceID,
		InstanceName: instanceName,
		BrowserInfo:  browserInfo,
		Active:       true,
		CreatedAt:    now,
	}

	tx, err := r.db.Begin()
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO users (id, created_at_utc) VALUES (?, ?)`,
		userID, now.Format(timeLayout),
	); err != nil {
		return "", nil, fmt.Errorf("ensure user: %w", err)
	}

	// Exactly one active key per (user, instance): soft-revoke priors.
	if _, err := tx.Exec(
		`UPDATE api_keys SET active = 0, revoked_at_utc = ?
		 WHERE user_id = ? AND instance_id = ? AND active = 1`,
		now.Format(timeLayout), userID, instanceID,
	); err != nil {
		return "", nil, fmt.Errorf("deactivate prior keys: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO api_keys
			(id, user_id, key_prefix, key_hash, instance_id, instance_name, browser_info, active, created_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		key.ID, userID, prefix, hash, instanceID, instanceName, browserInfo, now.Format(timeLayout),
	); err != nil {
		return "", nil, fmt.Errorf("insert key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}

	r.log.Info().Str("user_id", userID).Str("instance_id", instanceID).Msg("api key generated")
	return plaintext, key, nil
}

// Authenticate resolves a presented plaintext key to its owning user id.
// It updates last_used_at on success.
func (r *Registry) Authenticate(presented string) (string, error) {
	if presented == "" {
		return "", ErrUnauthorized
	}
	hash := auth.HashKey(presented)

	var keyID, userID string
	err := r.db.QueryRow(
		`SELECT id, user_id FROM api_keys WHERE key_hash = ? AND active = 1`,
		hash,
	).Scan(&keyID, &userID)
	if err == sql.ErrNoRows {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}

	if _, err := r.db.Exec(
		`UPDATE api_keys SET last_used_at_utc = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), keyID,
	); err != nil {
		r.log.Warn().Err(err).Str("key_id", keyID).Msg("failed to update last_used_at")
	}
	return userID, nil
}

// GetCredentials returns the credential set attached to the user's most
// recently issued active key.
func (r *Registry) GetCredentials(userID string) (Credentials, error) {
	var csrf, cookiesJSON string
	var gemini sql.NullString
	err := r.db.QueryRow(
		`SELECT csrf_token, cookies_json, gemini_json FROM api_keys
		 WHERE user_id = ? AND active = 1
		 ORDER BY created_at_utc DESC LIMIT 1`,
		userID,
	).Scan(&csrf, &cookiesJSON, &gemini)
	if err == sql.ErrNoRows {
		return Credentials{}, ErrNoActiveKey
	}
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{CSRFToken: csrf, Cookies: map[string]string{}}
	if cookiesJSON != "" {
		if err := json.Unmarshal([]byte(cookiesJSON), &creds.Cookies); err != nil {
			return Credentials{}, fmt.Errorf("decode stored cookies: %w", err)
		}
	}
	if gemini.Valid && gemini.String != "" {
		creds.Gemini = json.RawMessage(gemini.String)
	}
	return creds, nil
}

// UpdateCSRF replaces the stored CSRF token for the user's active key.
// Surrounding double quotes are stripped on ingest.
func (r *Registry) UpdateCSRF(userID, token string) error {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return r.updateActiveKey(userID, `csrf_token = ?`, stripQuotes(token))
}

// UpdateCookies replaces the stored cookie jar for the user's active key.
// Cookie values arriving from the browser sometimes come wrapped in double
// quotes (LinkedIn's JSESSIONID in particular); one surrounding pair is
// stripped on ingest.
func (r *Registry) UpdateCookies(userID string, cookies map[string]string) error {
	cleaned := make(map[string]string, len(cookies))
	for name, value := range cookies {
		cleaned[name] = stripQuotes(value)
	}
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return r.updateActiveKey(userID, `cookies_json = ?`, string(encoded))
}

// UpdateGemini replaces the opaque Gemini credential blob.
func (r *Registry) UpdateGemini(userID string, blob json.RawMessage) error {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return r.updateActiveKey(userID, `gemini_json = ?`, string(blob))
}

func (r *Registry) updateActiveKey(userID, setClause string, value any) error {
	res, err := r.db.Exec(
		`UPDATE api_keys SET `+setClause+` WHERE user_id = ? AND active = 1`,
		value, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoActiveKey
	}
	return nil
}

// DeleteKey soft-deletes a key by id, scoped to its owner.
func (r *Registry) DeleteKey(userID, keyID string) error {
	res, err := r.db.Exec(
		`UPDATE api_keys SET active = 0, revoked_at_utc = ?
		 WHERE id = ? AND user_id = ? AND active = 1`,
		time.Now().UTC().Format(timeLayout), keyID, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListKeys returns all keys ever issued to a user, newest first.
func (r *Registry) ListKeys(userID string) ([]Key, error) {
	rows, err := r.db.Query(
		`SELECT id, user_id, key_prefix, instance_id, instance_name, browser_info,
		        active, created_at_utc, last_used_at_utc, revoked_at_utc
		 FROM api_keys WHERE user_id = ?
		 ORDER BY created_at_utc DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		var active int
		var createdAt string
		var lastUsed, revoked sql.NullString
		if err := rows.Scan(&k.ID, &k.UserID, &k.Prefix, &k.InstanceID, &k.InstanceName,
			&k.BrowserInfo, &active, &createdAt, &lastUsed, &revoked); err != nil {
			return nil, err
		}
		k.Active = active == 1
		k.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		k.LastUsedAt = parseNullTime(lastUsed)
		k.RevokedAt = parseNullTime(revoked)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// stripQuotes removes one surrounding pair of double quotes, if present.
func stripQuotes(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}
