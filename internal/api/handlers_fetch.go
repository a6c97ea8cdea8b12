package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"linkedin-gateway/internal/orchestrator"
	"linkedin-gateway/internal/voyager"
)

// Request body limits.
const (
	maxRequestBody  = 1 << 20 // 1 MiB
	defaultCount    = 10
	maxCount        = 10000
	defaultPageSize = 10
	maxPageSize     = 100
	defaultMinDelay = 2.0
	defaultMaxDelay = 5.0
	minDelayCeiling = 30.0
	maxDelayCeiling = 60.0
)

// endpointSpec describes which anchor a fetch endpoint requires.
type endpointSpec struct {
	kind         voyager.EndpointKind
	needsPost    bool
	needsProfile bool
}

var (
	planFeed            = endpointSpec{kind: voyager.KindFeed}
	planPostComments    = endpointSpec{kind: voyager.KindPostComments, needsPost: true}
	planPostReactions   = endpointSpec{kind: voyager.KindPostReactions, needsPost: true}
	planProfilePosts    = endpointSpec{kind: voyager.KindProfilePosts, needsProfile: true}
	planProfileComments = endpointSpec{kind: voyager.KindProfileComments, needsProfile: true}
)

// fetchRequest is the shared body schema of every fetch endpoint.
type fetchRequest struct {
	PostURL    string   `json:"post_url"`
	ProfileURL string   `json:"profile_url"`
	Count      *int     `json:"count"`
	PageSize   *int     `json:"page_size"`
	APIKey     string   `json:"api_key"`
	ServerCall bool     `json:"server_call"`
	MinDelay   *float64 `json:"min_delay"`
	MaxDelay   *float64 `json:"max_delay"`
}

// fetchResponse is the uniform success envelope.
type fetchResponse struct {
	Data []map[string]any `json:"data"`
}

// fetchHandler builds the handler for one fetch endpoint.
func (s *Server) fetchHandler(spec endpointSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fetchRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "Invalid request body")
			return
		}

		userID, err := s.authenticateRequest(r, req.APIKey)
		if err != nil {
			writeMappedError(w, err)
			return
		}

		plan, err := s.buildPlan(spec, userID, &req)
		if err != nil {
			writeMappedError(w, err)
			return
		}

		items, err := s.orch.Run(r.Context(), *plan)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if items == nil {
			items = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, fetchResponse{Data: items})
	}
}

// buildPlan validates the request and assembles the orchestrator plan.
func (s *Server) buildPlan(spec endpointSpec, userID string, req *fetchRequest) (*orchestrator.Plan, error) {
	count := defaultCount
	if req.Count != nil {
		count = *req.Count
	}
	if count != orchestrator.FetchAll && (count < 1 || count > maxCount) {
		return nil, invalidRequest(fmt.Sprintf("count must be -1 or between 1 and %d", maxCount))
	}

	pageSize := defaultPageSize
	if req.PageSize != nil {
		pageSize = *req.PageSize
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return nil, invalidRequest(fmt.Sprintf("page_size must be between 1 and %d", maxPageSize))
	}

	minDelay := defaultMinDelay
	if req.MinDelay != nil {
		minDelay = *req.MinDelay
	}
	maxDelay := defaultMaxDelay
	if req.MaxDelay != nil {
		maxDelay = *req.MaxDelay
	}
	if minDelay < 0 || minDelay > minDelayCeiling {
		return nil, invalidRequest(fmt.Sprintf("min_delay must be between 0 and %g seconds", minDelayCeiling))
	}
	if maxDelay < 0 || maxDelay > maxDelayCeiling {
		return nil, invalidRequest(fmt.Sprintf("max_delay must be between 0 and %g seconds", maxDelayCeiling))
	}
	if maxDelay < minDelay {
		return nil, invalidRequest("max_delay must be greater than or equal to min_delay")
	}

	mode := orchestrator.ModeProxy
	if req.ServerCall {
		if !s.config.ServerCallAllowed() {
			return nil, errServerExecutionDisabled
		}
		mode = orchestrator.ModeDirect
	}

	plan := &orchestrator.Plan{
		UserID:       userID,
		Kind:         spec.kind,
		Count:        count,
		PageSize:     pageSize,
		Mode:         mode,
		MinDelay:     time.Duration(minDelay * float64(time.Second)),
		MaxDelay:     time.Duration(maxDelay * float64(time.Second)),
		ProxyTimeout: s.config.ProxyTimeout,
	}

	if spec.needsPost {
		urn, err := voyager.ParsePostURL(req.PostURL)
		if err != nil {
			return nil, err
		}
		plan.ThreadURN = urn
	}
	if spec.needsProfile {
		vanity, err := voyager.ParseProfileURL(req.ProfileURL)
		if err != nil {
			return nil, err
		}
		plan.ProfileVanity = vanity
	}
	return plan, nil
}
