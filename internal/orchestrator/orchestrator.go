// Package orchestrator runs the mode-agnostic paginated fetch loop:
// build page URL, dispatch direct or via proxy, normalize, accumulate,
// sleep a jittered interval, repeat.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"linkedin-gateway/internal/logger"
	"linkedin-gateway/internal/registry"
	"linkedin-gateway/internal/voyager"
	"linkedin-gateway/internal/wsproxy"
)

// Mode selects the execution path for LinkedIn requests.
type Mode string

const (
	// ModeDirect executes requests from the gateway process with stored
	// credentials.
	ModeDirect Mode = "direct"
	// ModeProxy forwards requests through the user's browser extension.
	ModeProxy Mode = "proxy"
)

// FetchAll requests every available item.
const FetchAll = -1

// maxPages is a hard ceiling against endpoints that never stop returning
// pagination tokens.
const maxPages = 500

// Plan describes one fetch: what to get, for whom, and how.
type Plan struct {
	UserID string
	Kind   voyager.EndpointKind
	// ThreadURN anchors comments/reactions (activity or ugcPost form).
	ThreadURN string
	// ProfileVanity anchors profile endpoints (public identifier).
	ProfileVanity string
	// Count is the requested total; FetchAll means everything.
	Count    int
	PageSize int
	Mode     Mode
	MinDelay time.Duration
	MaxDelay time.Duration
	// ProxyTimeout bounds each extension-side request.
	ProxyTimeout time.Duration
}

// Orchestrator wires the URL builder, the two execution paths, and the
// normalizer into the pagination loop.
type Orchestrator struct {
	builder    *voyager.Builder
	normalizer *voyager.Normalizer
	converter  *voyager.Converter
	client     *voyager.Client
	registry   *registry.Registry
	router     *wsproxy.Router
	log        *logger.Logger

	// sleep is swappable so tests can count and skip the jitter waits.
	sleep func(ctx context.Context, d time.Duration) error
	// jitter returns a uniform duration in [min, max].
	jitter func(min, max time.Duration) time.Duration
}

// New creates an Orchestrator.
func New(builder *voyager.Builder, normalizer *voyager.Normalizer, converter *voyager.Converter,
	client *voyager.Client, reg *registry.Registry, router *wsproxy.Router, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		builder:    builder,
		normalizer: normalizer,
		converter:  converter,
		client:     client,
		registry:   reg,
		router:     router,
		log:        log.WithComponent("orchestrator"),
		sleep:      sleepContext,
		jitter:     uniformJitter,
	}
}

// Run executes the plan and returns the accumulated items. On an upstream
// HTTP error after at least one page of items, it returns what it has.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) ([]map[string]any, error) {
	if plan.PageSize <= 0 {
		plan.PageSize = 10
	}

	fetch, err := o.fetchFunc(plan)
	if err != nil {
		return nil, err
	}

	req := voyager.PageRequest{
		Kind:  plan.Kind,
		Count: plan.PageSize,
	}
	switch plan.Kind {
	case voyager.KindPostComments, voyager.KindPostReactions:
		req.ThreadURN = o.builder.ResolveThreadURN(ctx, plan.ThreadURN, fetch)
	case voyager.KindProfilePosts, voyager.KindProfileComments:
		id, err := o.converter.ResolveProfileID(ctx, plan.ProfileVanity, fetch)
		if err != nil {
			return nil, err
		}
		req.ProfileID = id
	}

	var accumulated []map[string]any
	log := o.log.WithUserID(plan.UserID)

	for page := 0; page < maxPages; page++ {
		url, err := o.builder.PageURL(req)
		if err != nil {
			return nil, err
		}

		envelope, err := fetch(ctx, url)
		if err != nil {
			var httpErr *voyager.HTTPError
			if errors.As(err, &httpErr) && len(accumulated) > 0 {
				// Partial success: keep what we have.
				log.Warn().Int("status", httpErr.StatusCode).Int("items", len(accumulated)).
					Str("kind", string(plan.Kind)).Msg("upstream error mid-pagination, returning partial results")
				return accumulated, nil
			}
			return nil, err
		}

		result := o.normalizer.ParsePage(envelope, plan.Kind)
		if len(result.Items) == 0 {
			break
		}
		accumulated = append(accumulated, result.Items...)

		if plan.Count >= 0 && len(accumulated) >= plan.Count {
			accumulated = accumulated[:plan.Count]
			break
		}
		if result.PaginationToken == "" {
			break
		}

		req.Start += plan.PageSize
		req.PaginationToken = result.PaginationToken

		if err := o.sleep(ctx, o.jitter(plan.MinDelay, plan.MaxDelay)); err != nil {
			return nil, err
		}
	}

	log.Info().Str("kind", string(plan.Kind)).Int("items", len(accumulated)).Msg("fetch complete")
	return accumulated, nil
}

// fetchFunc binds the plan's mode and credentials into a FetchFunc.
func (o *Orchestrator) fetchFunc(plan Plan) (voyager.FetchFunc, error) {
	switch plan.Mode {
	case ModeDirect:
		creds, err := o.registry.GetCredentials(plan.UserID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, url string) (map[string]any, error) {
			return o.client.GetJSON(ctx, url, creds)
		}, nil

	case ModeProxy:
		if !o.router.Connected(plan.UserID) {
			return nil, wsproxy.ErrNoProxyConnection
		}
		return func(ctx context.Context, url string) (map[string]any, error) {
			resp, err := o.router.Proxy(ctx, plan.UserID, wsproxy.ProxyRequest{
				URL:    url,
				Method: "GET",
				Headers: map[string]string{
					"accept":                    "application/vnd.linkedin.normalized+json+2.1",
					"x-restli-protocol-version": "2.0.0",
				},
				ResponseType:       "json",
				IncludeCredentials: true,
				Timeout:            plan.ProxyTimeout,
			})
			if err != nil {
				return nil, err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &voyager.HTTPError{StatusCode: resp.StatusCode}
			}
			var envelope map[string]any
			if err := json.Unmarshal([]byte(resp.Body), &envelope); err != nil {
				return nil, fmt.Errorf("decode proxied response: %w", err)
			}
			return envelope, nil
		}, nil
	}
	return nil, fmt.Errorf("unknown mode %q", plan.Mode)
}

// uniformJitter picks a duration uniformly from the closed interval
// [min, max].
func uniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
