package issue

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSyntax is wrapped by errors for text that names no issue
var ErrInvalidSyntax = errors.New("invalid issue syntax")

// Backend identifies a remote issue tracker
type Backend string

const (
	BackendGitLab Backend = "gitlab"
	BackendGitHub Backend = "github"
	BackendJira   Backend = "jira"
)

// Key identifies an issue or merge request within a backend and project.
// It is comparable and used as the cache identity.
type Key struct {
	Service        Backend `json:"service"`
	Project        string  `json:"project"`
	Number         string  `json:"number"`
	IsMergeRequest bool    `json:"isMergeRequest"`
}

// NewKey builds a Key
func NewKey(service Backend, project, number string, isMergeRequest bool) Key {
	return Key{
		Service:        service,
		Project:        project,
		Number:         number,
		IsMergeRequest: isMergeRequest,
	}
}

// Separator returns the character between project and number
func Separator(isMergeRequest bool) string {
	if isMergeRequest {
		return "!"
	}
	return "#"
}

// String returns the canonical project#number or project!number form
func (k Key) String() string {
	return k.Project + Separator(k.IsMergeRequest) + k.Number
}

// ParseKey parses project#number or project!number for the given backend.
// The merge request separator is checked first.
func ParseKey(service Backend, text string) (Key, error) {
	text = strings.TrimSpace(text)

	sep, isMergeRequest := "#", false
	if strings.Contains(text, "!") {
		sep, isMergeRequest = "!", true
	}

	project, number, found := strings.Cut(text, sep)
	if !found || project == "" || number == "" {
		return Key{}, fmt.Errorf("%w %q", ErrInvalidSyntax, text)
	}

	for _, r := range number {
		if r < '0' || r > '9' {
			return Key{}, fmt.Errorf("%w: bad number in %q", ErrInvalidSyntax, text)
		}
	}

	return NewKey(service, project, number, isMergeRequest), nil
}
