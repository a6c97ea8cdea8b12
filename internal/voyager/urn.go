package voyager

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// URN kind prefixes this gateway understands.
const (
	activityPrefix = "urn:li:activity:"
	ugcPostPrefix  = "urn:li:ugcPost:"
	profilePrefix  = "urn:li:fsd_profile:"
)

var (
	activityURNRe = regexp.MustCompile(`urn:li:activity:(\d+)`)
	ugcPostURNRe  = regexp.MustCompile(`urn:li:ugcPost:(\d+)`)
	// Path segment forms: .../activity-7280.../ or .../activity:7280...
	activityPathRe = regexp.MustCompile(`activity[-:](\d+)`)
)

// ActivityURN returns the canonical activity URN for an id.
func ActivityURN(id string) string {
	return activityPrefix + id
}

// IsActivityURN reports whether urn is an activity URN.
func IsActivityURN(urn string) bool {
	return strings.HasPrefix(urn, activityPrefix)
}

// ActivityID extracts the numeric id from an activity URN.
func ActivityID(urn string) string {
	return strings.TrimPrefix(urn, activityPrefix)
}

// ParsePostURL extracts a post URN from any LinkedIn post URL form:
// a bare urn:li:activity:<id> or urn:li:ugcPost:<id>, percent-encoded
// variants, and feed URLs with activity-<id> or activity:<id> path
// segments. Activity ids are canonicalized to urn:li:activity:<id>.
func ParsePostURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", ErrParse)
	}
	// Percent-encoded URNs inside share links.
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}

	if m := ugcPostURNRe.FindStringSubmatch(raw); m != nil {
		return ugcPostPrefix + m[1], nil
	}
	if m := activityURNRe.FindStringSubmatch(raw); m != nil {
		return ActivityURN(m[1]), nil
	}
	if m := activityPathRe.FindStringSubmatch(raw); m != nil {
		return ActivityURN(m[1]), nil
	}
	return "", fmt.Errorf("%w: %q", ErrParse, raw)
}

// ParseProfileURL extracts the public identifier (vanity name) from a
// LinkedIn profile URL. Accepts "https://www.linkedin.com/in/jane-doe/",
// "linkedin.com/in/jane-doe", "@jane-doe", or a bare vanity name.
func ParseProfileURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	s = strings.Trim(s, "/")
	if s == "" {
		return "", fmt.Errorf("%w: empty profile url", ErrParse)
	}

	if strings.Contains(s, "linkedin.com/") {
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrParse, raw)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i < len(parts)-1; i++ {
			switch parts[i] {
			case "in", "pub":
				return parts[i+1], nil
			}
		}
		return "", fmt.Errorf("%w: %q", ErrParse, raw)
	}

	if strings.ContainsAny(s, "/?#") {
		return "", fmt.Errorf("%w: %q", ErrParse, raw)
	}
	return s, nil
}
