package voyager

import (
	"context"
	"fmt"
	"strings"

	"linkedin-gateway/internal/logger"
)

// DefaultBaseURL is LinkedIn's Voyager API root.
const DefaultBaseURL = "https://www.linkedin.com/voyager/api"

// EndpointKind selects the per-endpoint GraphQL variable template.
type EndpointKind string

const (
	KindFeed            EndpointKind = "feed"
	KindPostComments    EndpointKind = "post_comments"
	KindPostReactions   EndpointKind = "post_reactions"
	KindProfilePosts    EndpointKind = "profile_posts"
	KindProfileComments EndpointKind = "profile_comments"
)

// QueryIDs holds the per-endpoint GraphQL query ids. LinkedIn rotates
// these, so deployments override them via configuration.
type QueryIDs struct {
	Comments       string
	Reactions      string
	ProfileUpdates string
	Feed           string
}

// PageRequest carries the inputs for one page URL.
type PageRequest struct {
	Kind  EndpointKind
	Count int
	Start int
	// ThreadURN anchors comments/reactions: urn:li:ugcPost:<id> preferred,
	// urn:li:activity:<id> accepted.
	ThreadURN string
	// ProfileID anchors profile endpoints: the raw fsd_profile id.
	ProfileID string
	// PaginationToken, when present, is echoed into the next URL.
	PaginationToken string
}

// Builder assembles LinkedIn GraphQL URLs. The variables CSV between
// "variables=(" and ")" is emitted literally; only URN and token values
// are percent-encoded, with an empty safe set.
type Builder struct {
	BaseURL string
	IDs     QueryIDs

	conv *Converter
	log  *logger.Logger
}

// NewBuilder creates a Builder with the given query ids and URN converter.
func NewBuilder(ids QueryIDs, conv *Converter, log *logger.Logger) *Builder {
	return &Builder{
		BaseURL: DefaultBaseURL,
		IDs:     ids,
		conv:    conv,
		log:     log.WithComponent("urlbuilder"),
	}
}

// PageURL builds the GraphQL URL for one page of the given endpoint.
func (b *Builder) PageURL(req PageRequest) (string, error) {
	base := strings.TrimSuffix(b.BaseURL, "/") + "/graphql"

	switch req.Kind {
	case KindPostComments:
		if req.ThreadURN == "" {
			return "", fmt.Errorf("post comments: thread urn is required")
		}
		csv := fmt.Sprintf("count:%d,numReplies:1,socialDetailUrn:%s,sortOrder:RELEVANCE,start:%d",
			req.Count, encodeComponent(socialDetailURN(req.ThreadURN)), req.Start)
		return fmt.Sprintf("%s?variables=(%s)&queryId=%s", base, csv, b.IDs.Comments), nil

	case KindPostReactions:
		if req.ThreadURN == "" {
			return "", fmt.Errorf("post reactions: thread urn is required")
		}
		csv := fmt.Sprintf("count:%d,start:%d,threadUrn:%s",
			req.Count, req.Start, encodeComponent(req.ThreadURN))
		return fmt.Sprintf("%s?includeWebMetadata=true&variables=(%s)&queryId=%s", base, csv, b.IDs.Reactions), nil

	case KindProfilePosts, KindProfileComments:
		if req.ProfileID == "" {
			return "", fmt.Errorf("%s: profile id is required", req.Kind)
		}
		// The profile URN is assembled pre-encoded by concatenation, never
		// by encoding a formed urn:li:fsd_profile:<id> string.
		csv := fmt.Sprintf("count:%d,start:%d,profileUrn:urn%%3Ali%%3Afsd_profile%%3A%s",
			req.Count, req.Start, req.ProfileID)
		if req.PaginationToken != "" {
			csv += ",paginationToken:" + encodeComponent(req.PaginationToken)
		}
		return fmt.Sprintf("%s?variables=(%s)&queryId=%s", base, csv, b.IDs.ProfileUpdates), nil

	case KindFeed:
		csv := fmt.Sprintf("count:%d,startIndex:%d", req.Count, req.Start)
		return fmt.Sprintf("%s?variables=(%s)&queryId=%s", base, csv, b.IDs.Feed), nil
	}

	return "", fmt.Errorf("unknown endpoint kind %q", req.Kind)
}

// ResolveThreadURN converts an activity URN to its ugcPost form for
// endpoints that prefer it. Conversion failure is non-fatal: the activity
// URN is returned unchanged and the failure is logged.
func (b *Builder) ResolveThreadURN(ctx context.Context, urn string, fetch FetchFunc) string {
	if !IsActivityURN(urn) {
		return urn
	}
	resolved, err := b.conv.ResolveUgcPost(ctx, ActivityID(urn), fetch)
	if err != nil {
		b.log.Warn().Err(err).Str("urn", urn).Msg("urn conversion failed, using activity urn")
		return urn
	}
	return resolved
}

// socialDetailURN wraps a thread URN into the composite socialDetail URN
// LinkedIn's comments endpoint expects.
func socialDetailURN(threadURN string) string {
	return fmt.Sprintf("urn:li:fsd_socialDetail:(%s,%s,urn:li:highlightedReply:-)", threadURN, threadURN)
}

// encodeComponent percent-encodes s with an empty safe set: every byte
// outside the unreserved set (ALPHA / DIGIT / "-" / "." / "_" / "~") is
// escaped. In particular ":" becomes %3A and "(" ")" "," become
// %28 %29 %2C.
func encodeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
