// Package xref finds issue references in free text such as merge request
// descriptions.
package xref

import (
	"regexp"
	"strings"

	"issuelinks/internal/issue"
)

var (
	// "#12" not glued to a word character on the left, no leading zero
	ownProjectPattern = regexp.MustCompile(`(?:\W|^)#([1-9]\d*)\b`)
	// Jira style keys like "ABC-123"
	foreignKeyPattern = regexp.MustCompile(`[A-Z0-9]+-[1-9]\d*`)
)

// Reference points at an issue mentioned in text
type Reference struct {
	Service issue.Backend `json:"service"`
	Project string        `json:"project"`
	IssueID string        `json:"issueId"`
}

// Key returns the issue key the reference points at
func (r Reference) Key() issue.Key {
	return issue.NewKey(r.Service, r.Project, r.IssueID, false)
}

// Parse extracts references from text. Same-project shorthand references
// come first, then foreign keys, each in encounter order with duplicates kept.
func Parse(text string, own issue.Backend, project string, foreign issue.Backend) []Reference {
	refs := []Reference{}

	for _, m := range ownProjectPattern.FindAllStringSubmatch(text, -1) {
		refs = append(refs, Reference{Service: own, Project: project, IssueID: m[1]})
	}

	for _, m := range foreignKeyPattern.FindAllString(text, -1) {
		key, number, _ := strings.Cut(m, "-")
		refs = append(refs, Reference{Service: foreign, Project: key, IssueID: number})
	}

	return refs
}

// MergeRequestText is the text scanned for references of a merge request
func MergeRequestText(i *issue.Issue) string {
	return i.Summary + " " + i.Description
}
