// Package voyager speaks LinkedIn's private Voyager/GraphQL API: URL
// assembly, URN handling, the direct HTTP client, and response
// normalization.
package voyager

import (
	"errors"
	"fmt"
)

// ErrParse is returned when a LinkedIn post or profile URL cannot be
// reduced to a URN or vanity name.
var ErrParse = errors.New("unrecognized linkedin url")

// ErrAuthStale is returned when LinkedIn rejects the stored credentials
// (401/403 on the direct path). The caller should retry via proxy mode.
var ErrAuthStale = errors.New("linkedin rejected stored credentials")

// ErrTransport is returned on network failure talking to LinkedIn.
var ErrTransport = errors.New("linkedin transport failure")

// ErrConversionFailed is returned when an activity URN cannot be resolved
// to its ugcPost form. Callers treat this as non-fatal.
var ErrConversionFailed = errors.New("urn conversion failed")

// HTTPError is a non-2xx reply from LinkedIn.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("linkedin returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("linkedin returned HTTP %d: %s", e.StatusCode, e.Body)
}
