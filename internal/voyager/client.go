package voyager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"linkedin-gateway/internal/logger"
	"linkedin-gateway/internal/registry"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"
	clientTimeout    = 30 * time.Second
	maxResponseBody  = 5 << 20 // 5 MiB
)

// FetchFunc executes a LinkedIn GET and returns the parsed JSON envelope.
// The orchestrator binds one per run, closing over the caller's mode and
// credentials, so URL-level helpers stay mode-agnostic.
type FetchFunc func(ctx context.Context, url string) (map[string]any, error)

// Client executes LinkedIn GraphQL URLs server-side using stored
// credentials.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	log       *logger.Logger
}

// NewClient creates the direct LinkedIn client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: clientTimeout},
		UserAgent: defaultUserAgent,
		log:       log.WithComponent("voyager"),
	}
}

// GetJSON performs an authenticated GET and decodes the JSON body.
// 401/403 surface ErrAuthStale; other non-2xx statuses surface *HTTPError;
// network failures surface ErrTransport.
func (c *Client) GetJSON(ctx context.Context, rawURL string, creds registry.Credentials) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("user-agent", c.UserAgent)
	req.Header.Set("accept", "application/vnd.linkedin.normalized+json+2.1")
	req.Header.Set("x-restli-protocol-version", "2.0.0")
	req.Header.Set("csrf-token", creds.CSRFToken)
	if cookie := CookieHeader(creds.Cookies); cookie != "" {
		req.Header.Set("cookie", cookie)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.log.Warn().Int("status", resp.StatusCode).Msg("linkedin rejected stored credentials")
		return nil, ErrAuthStale
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: snippet}
	}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode linkedin response: %w", err)
	}
	return envelope, nil
}

// CookieHeader assembles a Cookie header value from the stored jar.
// Names are sorted for determinism.
func CookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cookies[name])
	}
	return b.String()
}
