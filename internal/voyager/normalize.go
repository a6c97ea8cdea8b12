package voyager

import (
	"strings"

	"linkedin-gateway/internal/logger"
)

// LinkedIn's $type discriminators for the entities this gateway projects.
const (
	typeComment  = "com.linkedin.voyager.dash.social.Comment"
	typeReaction = "com.linkedin.voyager.dash.social.Reaction"
	typeUpdate   = "com.linkedin.voyager.dash.feed.Update"
)

// PageResult is the normalizer's output for one page.
type PageResult struct {
	Items           []map[string]any
	PaginationToken string
	TotalCount      int
	HasTotal        bool
	RawHadError     bool
}

// Normalizer unwraps LinkedIn's nested data/included envelopes into flat,
// endpoint-specific item projections. It never fails on benign shape
// variance; only a missing envelope sets RawHadError.
type Normalizer struct {
	log *logger.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{log: log.WithComponent("normalizer")}
}

// ParsePage extracts items, the pagination token, and the total count from
// a LinkedIn GraphQL envelope.
func (n *Normalizer) ParsePage(envelope map[string]any, kind EndpointKind) PageResult {
	if envelope == nil {
		return PageResult{RawHadError: true}
	}

	var result PageResult
	root := envelopeRoot(envelope)
	if root != nil {
		result.PaginationToken = digString(root, "metadata", "paginationToken")
		if total, ok := digFloat(root, "paging", "total"); ok {
			result.TotalCount = int(total)
			result.HasTotal = true
		}
	}

	included, _ := envelope["included"].([]any)

	switch kind {
	case KindPostComments:
		result.Items = n.collect(included, typeComment, n.projectComment)
	case KindPostReactions:
		result.Items = n.collect(included, typeReaction, n.projectReaction)
	case KindFeed, KindProfilePosts:
		result.Items = n.collect(included, typeUpdate, n.projectUpdate)
	case KindProfileComments:
		result.Items = n.joinProfileComments(root, included)
	}
	return result
}

// envelopeRoot walks data.data.<endpoint-specific-root>, type-checking
// every hop. The root key name varies per endpoint, so the first object
// value under data.data is taken.
func envelopeRoot(envelope map[string]any) map[string]any {
	inner := digMap(envelope, "data", "data")
	if inner == nil {
		return nil
	}
	for _, v := range inner {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// collect filters included by $type and applies the projection, dropping
// items whose required fields are missing.
func (n *Normalizer) collect(included []any, wantType string, project func(map[string]any) (map[string]any, bool)) []map[string]any {
	items := make([]map[string]any, 0, len(included))
	for _, raw := range included {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["$type"].(string); t != wantType {
			continue
		}
		item, ok := project(m)
		if !ok {
			n.log.Warn().Str("type", wantType).Msg("dropping item missing required fields")
			continue
		}
		items = append(items, item)
	}
	return items
}

// joinProfileComments handles the sideloaded profile-comments shape: the
// root's elements list references Update entities by URN; each update's
// highlighted comments reference Comment entities by URN. The update's
// header text decides whether it is a top-level comment ("commented on")
// or a reply ("replied to"); only top-level comments are kept.
func (n *Normalizer) joinProfileComments(root map[string]any, included []any) []map[string]any {
	byEntityURN := make(map[string]map[string]any)
	byURN := make(map[string]map[string]any)
	byUpdateURN := make(map[string]map[string]any)
	for _, raw := range included {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if urn, _ := m["entityUrn"].(string); urn != "" {
			byEntityURN[urn] = m
		}
		if urn, _ := m["urn"].(string); urn != "" {
			byURN[urn] = m
		}
		if urn := digString(m, "updateMetadata", "urn"); urn != "" {
			byUpdateURN[urn] = m
		}
	}
	lookup := func(urn string) map[string]any {
		if m, ok := byEntityURN[urn]; ok {
			return m
		}
		if m, ok := byURN[urn]; ok {
			return m
		}
		return byUpdateURN[urn]
	}

	items := make([]map[string]any, 0, len(included))
	for _, raw := range elementsList(root) {
		ref, ok := raw.(string)
		if !ok {
			continue
		}
		update := lookup(ref)
		if update == nil {
			continue
		}
		header := digString(update, "header", "text", "text")
		switch {
		case strings.Contains(header, "commented on"):
		case strings.Contains(header, "replied to"):
			n.log.Debug().Str("update", ref).Msg("skipping reply update")
			continue
		default:
			continue
		}

		postURN, _ := update["entityUrn"].(string)
		for _, commentRef := range commentRefs(update) {
			comment := lookup(commentRef)
			if comment == nil {
				continue
			}
			if t, _ := comment["$type"].(string); t != typeComment {
				continue
			}
			item, ok := n.projectComment(comment)
			if !ok {
				n.log.Warn().Str("comment", commentRef).Msg("dropping joined comment missing required fields")
				continue
			}
			item["post_urn"] = postURN
			item["header_text"] = header
			items = append(items, item)
		}
	}
	return items
}

// elementsList returns the root's elements, whichever spelling the
// endpoint uses ("*elements" holds URN references in normalized replies).
func elementsList(root map[string]any) []any {
	if root == nil {
		return nil
	}
	if l, ok := root["*elements"].([]any); ok {
		return l
	}
	l, _ := root["elements"].([]any)
	return l
}

// commentRefs returns the URNs of an update's highlighted comments.
func commentRefs(update map[string]any) []string {
	raw, ok := update["*highlightedComments"].([]any)
	if !ok {
		raw, _ = update["highlightedComments"].([]any)
	}
	refs := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			refs = append(refs, s)
		}
	}
	return refs
}

func (n *Normalizer) projectComment(m map[string]any) (map[string]any, bool) {
	text := digString(m, "commentary", "text")
	actorName := digString(m, "commenter", "title", "text")
	if text == "" || actorName == "" {
		return nil, false
	}

	item := map[string]any{
		"comment_text": text,
		"actor_name":   actorName,
		"entity_urn":   digString(m, "entityUrn"),
	}
	setIfPresent(item, "actor_headline", digString(m, "commenter", "subtitle"))
	setIfPresent(item, "connection_degree", digString(m, "commenter", "supplementaryActorInfo", "text"))
	if urn := digString(m, "commenter", "actorUrn"); urn != "" {
		item["actor_urn"] = urn
		item["actor_id"] = urnTail(urn)
	}
	if created, ok := digFloat(m, "createdAt"); ok {
		item["created_at"] = int64(created)
	}
	return item, true
}

func (n *Normalizer) projectReaction(m map[string]any) (map[string]any, bool) {
	kind := digString(m, "reactionType")
	actorName := digString(m, "reactorLockup", "title", "text")
	if kind == "" || actorName == "" {
		return nil, false
	}

	item := map[string]any{
		"reaction_type": kind,
		"actor_name":    actorName,
	}
	setIfPresent(item, "actor_headline", digString(m, "reactorLockup", "subtitle", "text"))
	setIfPresent(item, "connection_degree", digString(m, "reactorLockup", "label", "text"))
	if urn := digString(m, "actorUrn"); urn != "" {
		item["actor_urn"] = urn
		item["actor_id"] = urnTail(urn)
	}
	return item, true
}

func (n *Normalizer) projectUpdate(m map[string]any) (map[string]any, bool) {
	urn := digString(m, "entityUrn")
	if urn == "" {
		return nil, false
	}

	item := map[string]any{"urn": urn}
	setIfPresent(item, "post_text", digString(m, "commentary", "text", "text"))
	setIfPresent(item, "actor_name", digString(m, "actor", "name", "text"))
	setIfPresent(item, "actor_headline", digString(m, "actor", "description", "text"))
	setIfPresent(item, "header_text", digString(m, "header", "text", "text"))
	if total, ok := digFloat(m, "socialDetail", "totalSocialActivityCounts", "numComments"); ok {
		item["num_comments"] = int(total)
	}
	return item, true
}

func setIfPresent(item map[string]any, key, value string) {
	if value != "" {
		item[key] = value
	}
}

func urnTail(urn string) string {
	if i := strings.LastIndex(urn, ":"); i >= 0 {
		return urn[i+1:]
	}
	return urn
}

// dig walks nested maps, returning nil on any missing or non-object hop.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, key := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func digMap(m map[string]any, keys ...string) map[string]any {
	v, _ := dig(m, keys...).(map[string]any)
	return v
}

func digString(m map[string]any, keys ...string) string {
	v, _ := dig(m, keys...).(string)
	return v
}

func digFloat(m map[string]any, keys ...string) (float64, bool) {
	v, ok := dig(m, keys...).(float64)
	return v, ok
}
