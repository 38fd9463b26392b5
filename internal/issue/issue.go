// Package issue holds the canonical issue record shared by all backends,
// its identity and its load/save lifecycle against the store.
package issue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the normalized issue type derived from labels
type Type string

const (
	TypeBug         Type = "bug"
	TypeImprovement Type = "improvement"
	TypeStory       Type = "story"
	TypeUnknown     Type = "unknown"
)

// ErrInvalidIssue is returned when an issue without summary or status is saved
var ErrInvalidIssue = errors.New("issue is missing summary or status")

// Label is a remote label with its display color
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Assignee is the user an issue is assigned to
type Assignee struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Issue is the normalized record of a remote issue or merge request
type Issue struct {
	Key         Key       `json:"key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Type        Type      `json:"type"`
	Updated     time.Time `json:"updated"`
	DueDate     string    `json:"dueDate,omitempty"`
	Labels      []Label   `json:"labels,omitempty"`
	Versions    []string  `json:"versions,omitempty"`
	Assignee    *Assignee `json:"assignee,omitempty"`
}

// New returns an empty issue for the key
func New(key Key) *Issue {
	return &Issue{Key: key, Type: TypeUnknown}
}

// IsMergeRequest reports whether the issue is a merge or pull request
func (i *Issue) IsMergeRequest() bool {
	return i.Key.IsMergeRequest
}

// IsValid reports whether summary and status are both non-blank
func (i *Issue) IsValid() bool {
	return strings.TrimSpace(i.Summary) != "" && strings.TrimSpace(i.Status) != ""
}

// SetLabels replaces the label list, keeping known colors of labels that stay
func (i *Issue) SetLabels(names []string) {
	colors := make(map[string]string, len(i.Labels))
	for _, l := range i.Labels {
		colors[l.Name] = l.Color
	}

	labels := make([]Label, 0, len(names))
	for _, name := range names {
		labels = append(labels, Label{Name: name, Color: colors[name]})
	}
	i.Labels = labels
}

// SetLabelColor sets the color of a label the issue carries
func (i *Issue) SetLabelColor(name, color string) {
	for idx := range i.Labels {
		if i.Labels[idx].Name == name {
			i.Labels[idx].Color = color
		}
	}
}

// SetAssignee sets the assignee, or clears it when name is empty
func (i *Issue) SetAssignee(name, avatarURL string) {
	if name == "" {
		i.Assignee = nil
		return
	}
	i.Assignee = &Assignee{Name: name, AvatarURL: avatarURL}
}

// LabelNames returns the label names in order
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// TypeRules lists the labels that indicate each type
type TypeRules struct {
	Bug         []string
	Improvement []string
	Story       []string
}

// DefaultTypeRules matches the label vocabulary of GitLab and GitHub
var DefaultTypeRules = TypeRules{
	Bug:         []string{"bug"},
	Improvement: []string{"enhancement"},
	Story:       []string{"feature"},
}

// TypeFromLabels maps labels to a type. Bug wins over improvement, which
// wins over story, independent of label order.
func TypeFromLabels(labels []string, rules TypeRules) Type {
	switch {
	case intersects(labels, rules.Bug):
		return TypeBug
	case intersects(labels, rules.Improvement):
		return TypeImprovement
	case intersects(labels, rules.Story):
		return TypeStory
	default:
		return TypeUnknown
	}
}

func intersects(labels, candidates []string) bool {
	for _, l := range labels {
		for _, c := range candidates {
			if strings.EqualFold(strings.TrimSpace(l), c) {
				return true
			}
		}
	}
	return false
}

// MappingError reports a remote record that lacks a required field
type MappingError struct {
	Key   Key
	Field string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s %s: required field %q is missing", e.Key.Service, e.Key, e.Field)
}
