package parser

import (
	"fmt"
	"strings"

	"github.com/ppiankov/traceguard/internal/model"
)

// Accepted spellings per canonical field, after foldKey
var (
	idKeys          = []string{"id", "naturalid", "evidenceid", "key", "code"}
	titleKeys       = []string{"title", "name"}
	descriptionKeys = []string{"description", "summary"}
	statusKeys      = []string{"status", "state", "result"}
	riskKeys        = []string{"risklevel", "risk"}
	contentKeys     = []string{"jws", "signature", "signed", "content"}
	parentKeys      = []string{"parent", "parentid", "parentref"}
)

// kindParentKeys are parent spellings named after the parent kind
var kindParentKeys = map[model.Kind][]string{
	model.KindStory:    {"requirement", "requirementid", "req"},
	model.KindSpec:     {"story", "storyid", "userstory"},
	model.KindEvidence: {"spec", "specid", "specification"},
}

// claim names that describe the signature, not the artifact
var signatureClaims = map[string]bool{
	"iat": true, "exp": true, "nbf": true, "iss": true, "aud": true, "jti": true, "sub": true,
}

// foldKey lowercases and drops separators so parent_id, parentId and
// parent-id compare equal
func foldKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalize maps a loosely spelled field set onto the canonical artifact.
// Unrecognised fields are kept as metadata.
func normalize(kind model.Kind, fields map[string]any) *model.Artifact {
	folded := make(map[string]string, len(fields))
	for k := range fields {
		folded[foldKey(k)] = k
	}

	used := make(map[string]bool)
	take := func(keys []string) string {
		for _, k := range keys {
			orig, ok := folded[k]
			if !ok {
				continue
			}
			used[orig] = true
			if s := scalar(fields[orig]); s != "" {
				return s
			}
		}
		return ""
	}

	a := &model.Artifact{Kind: kind}
	a.NaturalID = take(idKeys)
	a.Title = take(titleKeys)
	a.Description = StripHTML(take(descriptionKeys))
	a.Status = take(statusKeys)
	if kind == model.KindRequirement {
		a.RiskLevel = strings.ToLower(take(riskKeys))
	}
	if kind == model.KindEvidence {
		a.Content = take(contentKeys)
	}
	if _, ok := kind.ParentKind(); ok {
		a.ParentRef = take(parentKeys)
		if a.ParentRef == "" {
			a.ParentRef = take(kindParentKeys[kind])
		}
	}

	for k, v := range fields {
		if used[k] || signatureClaims[foldKey(k)] {
			continue
		}
		if a.Metadata == nil {
			a.Metadata = make(map[string]any)
		}
		a.Metadata[k] = v
	}
	return a
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return scalar(t[0])
		}
		return ""
	case map[string]any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
