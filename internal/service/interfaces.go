package service

import (
	"context"
	"net/http"

	"issuelinks/internal/issue"
)

// Repository is a remote project together with the state of our webhook on it
type Repository struct {
	FullName    string `json:"fullName"`
	DisplayName string `json:"displayName"`
	// HookID is set when one of the project's hooks is ours
	HookID string `json:"hookId,omitempty"`
	// Error is the status of a failed hook lookup
	Error int `json:"error,omitempty"`
}

// HookResult is the outcome of a webhook create or delete call
type HookResult struct {
	HookID     string `json:"hookId,omitempty"`
	StatusCode int    `json:"status"`
	Message    string `json:"message,omitempty"`
}

// OK reports whether the remote call succeeded
func (h HookResult) OK() bool {
	return h.StatusCode >= 200 && h.StatusCode < 300
}

// ImportPage reports one step of a bulk import
type ImportPage struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	// Fetched is the number of remote records on the page, before mapping
	Fetched    int `json:"fetched"`
	NextCursor int `json:"nextCursor"`
	// Estimate is the estimated size of the whole collection
	Estimate int `json:"estimate"`
	// More is set when any endpoint returned a full page
	More bool `json:"more"`
}

// Done reports whether the page was the last one
func (p *ImportPage) Done() bool {
	return !p.More
}

// WebhookRequest is an inbound webhook delivery
type WebhookRequest struct {
	Header http.Header
	Body   []byte
}

// Service is the contract every issue tracker backend implements
type Service interface {
	issue.Fetcher

	// Backend returns the backend identifier
	Backend() issue.Backend

	// IsConfigured checks credentials against the remote API
	IsConfigured(ctx context.Context) bool

	// ConfigError explains the last failed IsConfigured call
	ConfigError() string

	// UserString names the authenticated user after IsConfigured succeeded
	UserString() string

	// GetListOfAllUserOrganisations lists the organisations of the user, sorted and deduplicated
	GetListOfAllUserOrganisations(ctx context.Context) ([]string, error)

	// GetListOfAllReposAndHooks lists the projects of an organisation with our hook state
	GetListOfAllReposAndHooks(ctx context.Context, organisation string) ([]Repository, error)

	// CreateWebhook registers a webhook on the project and stores its secret
	CreateWebhook(ctx context.Context, project string) HookResult

	// DeleteWebhook removes a webhook and forgets its secret
	DeleteWebhook(ctx context.Context, project, hookID string) HookResult

	// GetIssueURL returns the web URL of an issue or merge request
	GetIssueURL(project, number string, isMergeRequest bool) string

	// ParseIssueSyntax turns shorthand into an issue hydrated from the store
	ParseIssueSyntax(ctx context.Context, text string) (*issue.Issue, error)

	// RetrieveAllIssues imports one page of issues starting at cursor
	RetrieveAllIssues(ctx context.Context, project string, cursor int) (*ImportPage, error)

	// GetTotalIssuesBeingImported returns the estimate of the last RetrieveAllIssues call
	GetTotalIssuesBeingImported() int

	// IsOurWebhook reports whether the delivery was sent by this backend
	IsOurWebhook(req *WebhookRequest) bool

	// ValidateWebhook returns nil for an authentic delivery
	ValidateWebhook(ctx context.Context, req *WebhookRequest) *RequestResult

	// HandleWebhook refreshes the issue a delivery is about
	HandleWebhook(ctx context.Context, req *WebhookRequest) RequestResult
}
