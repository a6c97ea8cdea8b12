package voyager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"linkedin-gateway/internal/logger"
)

// Converter resolves LinkedIn identifiers that require a lookup call:
// activity id → ugcPost URN, and profile vanity name → fsd_profile id.
// Results are cached for the life of the process; concurrent misses for
// the same key collapse into one outstanding request.
type Converter struct {
	BaseURL string

	mu       sync.Mutex
	posts    map[string]string
	profiles map[string]string
	group    singleflight.Group
	log      *logger.Logger
}

// NewConverter creates a Converter.
func NewConverter(log *logger.Logger) *Converter {
	return &Converter{
		BaseURL:  DefaultBaseURL,
		posts:    make(map[string]string),
		profiles: make(map[string]string),
		log:      log.WithComponent("converter"),
	}
}

// ResolveUgcPost resolves an activity id to its ugcPost URN via LinkedIn's
// single-post endpoint. Failure returns ErrConversionFailed.
func (c *Converter) ResolveUgcPost(ctx context.Context, activityID string, fetch FetchFunc) (string, error) {
	c.mu.Lock()
	if urn, ok := c.posts[activityID]; ok {
		c.mu.Unlock()
		return urn, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("post:"+activityID, func() (any, error) {
		url := fmt.Sprintf("%s/feed/updates/%s",
			strings.TrimSuffix(c.BaseURL, "/"), encodeComponent(ActivityURN(activityID)))
		envelope, err := fetch(ctx, url)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
		}
		urn := findUgcPostURN(envelope)
		if urn == "" {
			return "", fmt.Errorf("%w: no ugcPost urn in response for activity %s", ErrConversionFailed, activityID)
		}
		c.mu.Lock()
		c.posts[activityID] = urn
		c.mu.Unlock()
		c.log.Debug().Str("activity_id", activityID).Str("ugc_urn", urn).Msg("resolved activity urn")
		return urn, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ResolveProfileID resolves a profile vanity name to the fsd_profile id
// LinkedIn's profile-updates endpoints require.
func (c *Converter) ResolveProfileID(ctx context.Context, vanity string, fetch FetchFunc) (string, error) {
	c.mu.Lock()
	if id, ok := c.profiles[vanity]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("profile:"+vanity, func() (any, error) {
		url := fmt.Sprintf(
			"%s/identity/dash/profiles?q=memberIdentity&memberIdentity=%s&decorationId=com.linkedin.voyager.dash.deco.identity.profile.WebTopCardCore-19",
			strings.TrimSuffix(c.BaseURL, "/"), encodeComponent(vanity))
		envelope, err := fetch(ctx, url)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
		}
		id := findProfileID(envelope)
		if id == "" {
			return "", fmt.Errorf("%w: no fsd_profile urn in response for %s", ErrConversionFailed, vanity)
		}
		c.mu.Lock()
		c.profiles[vanity] = id
		c.mu.Unlock()
		c.log.Debug().Str("vanity", vanity).Str("profile_id", id).Msg("resolved profile id")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// findUgcPostURN locates the ugcPost URN in a single-post envelope. The
// URN lives in an updateMetadata object; a whole-tree scan tolerates the
// envelope's nesting variance.
func findUgcPostURN(envelope map[string]any) string {
	var found string
	walkMaps(envelope, func(m map[string]any) bool {
		meta, ok := m["updateMetadata"].(map[string]any)
		if !ok {
			return false
		}
		if urn, _ := meta["urn"].(string); strings.HasPrefix(urn, ugcPostPrefix) {
			found = urn
			return true
		}
		return false
	})
	if found != "" {
		return found
	}
	// Fallback: some envelope variants carry the ugcPost urn directly on
	// an entity.
	walkMaps(envelope, func(m map[string]any) bool {
		for _, key := range []string{"urn", "entityUrn", "shareUrn"} {
			if urn, _ := m[key].(string); strings.HasPrefix(urn, ugcPostPrefix) {
				found = urn
				return true
			}
		}
		return false
	})
	return found
}

// findProfileID locates the fsd_profile id in a profile lookup envelope.
func findProfileID(envelope map[string]any) string {
	var found string
	walkMaps(envelope, func(m map[string]any) bool {
		if urn, _ := m["entityUrn"].(string); strings.HasPrefix(urn, profilePrefix) {
			found = strings.TrimPrefix(urn, profilePrefix)
			return true
		}
		return false
	})
	return found
}

// walkMaps visits every JSON object in the tree until visit returns true.
func walkMaps(v any, visit func(map[string]any) bool) bool {
	switch t := v.(type) {
	case map[string]any:
		if visit(t) {
			return true
		}
		for _, child := range t {
			if walkMaps(child, visit) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if walkMaps(child, visit) {
				return true
			}
		}
	}
	return false
}
