// Package api provides the gateway's public REST surface: request
// validation, API-key authentication, and response shaping.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"linkedin-gateway/internal/registry"
	"linkedin-gateway/internal/voyager"
	"linkedin-gateway/internal/wsproxy"
)

// Error codes surfaced to callers.
const (
	CodeUnauthorized            = "Unauthorized"
	CodeServerExecutionDisabled = "ServerExecutionDisabled"
	CodeNoProxyConnection       = "NoProxyConnection"
	CodeValidationFailed        = "ValidationFailed"
	CodeParseError              = "ParseError"
	CodeProxyTimeout            = "ProxyTimeout"
	CodeProxyBackpressure       = "ProxyBackpressure"
	CodeUpstreamHTTPError       = "UpstreamHttpError"
	CodeUpstreamTransportError  = "UpstreamTransportError"
	CodeAuthStale               = "AuthStale"
	CodeInternalError           = "InternalError"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// errServerExecutionDisabled is raised when server_call=true on an edition
// that forbids it.
var errServerExecutionDisabled = errors.New("server-side execution disabled for this edition")

// validationError marks request-body schema failures.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalidRequest(msg string) error { return &validationError{msg: msg} }

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with the given status and code.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail, Code: code})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid or missing API key")
}

// writeMappedError translates core error kinds to the REST error table.
func writeMappedError(w http.ResponseWriter, err error) {
	var vErr *validationError
	var httpErr *voyager.HTTPError
	switch {
	case errors.Is(err, registry.ErrUnauthorized):
		writeUnauthorized(w)
	case errors.Is(err, registry.ErrNoActiveKey):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "No active API key with stored credentials")
	case errors.Is(err, errServerExecutionDisabled):
		writeError(w, http.StatusForbidden, CodeServerExecutionDisabled, "server_call is not permitted on this edition")
	case errors.Is(err, wsproxy.ErrNoProxyConnection):
		writeError(w, http.StatusNotFound, CodeNoProxyConnection, "No browser extension connected for this user")
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, CodeValidationFailed, vErr.msg)
	case errors.Is(err, voyager.ErrParse):
		writeError(w, http.StatusBadRequest, CodeParseError, err.Error())
	case errors.Is(err, wsproxy.ErrProxyTimeout):
		writeError(w, http.StatusGatewayTimeout, CodeProxyTimeout, "Browser extension did not answer in time")
	case errors.Is(err, wsproxy.ErrProxyBackpressure):
		writeError(w, http.StatusServiceUnavailable, CodeProxyBackpressure, "Proxy connection is backpressured, retry later")
	case errors.Is(err, voyager.ErrAuthStale):
		writeError(w, http.StatusBadGateway, CodeAuthStale,
			"LinkedIn rejected the stored credentials; refresh them via the extension and retry with server_call=false")
	case errors.As(err, &httpErr):
		writeError(w, http.StatusBadGateway, CodeUpstreamHTTPError, httpErr.Error())
	case errors.Is(err, voyager.ErrTransport):
		writeError(w, http.StatusBadGateway, CodeUpstreamTransportError, "Network failure reaching LinkedIn")
	default:
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
	}
}
