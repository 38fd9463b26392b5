package repository

import (
	"context"

	"issuelinks/internal/issue"
	"issuelinks/internal/xref"
)

// KeyValueStore holds plain configuration values such as backend credentials
type KeyValueStore interface {
	// GetKeyValue returns the stored value or "" when unset
	GetKeyValue(ctx context.Context, name string) (string, error)

	// SaveKeyValuePair stores a value
	SaveKeyValuePair(ctx context.Context, name, value string) error
}

// WebhookStore holds the shared secrets of registered webhooks
type WebhookStore interface {
	// SaveWebhook records a registered hook and its secret
	SaveWebhook(ctx context.Context, backend issue.Backend, project, hookID, secret string) error

	// DeleteWebhook removes a hook record
	DeleteWebhook(ctx context.Context, backend issue.Backend, project, hookID string) error

	// GetWebhookSecrets returns every secret registered for the project
	GetWebhookSecrets(ctx context.Context, backend issue.Backend, project string) ([]string, error)
}

// IssueStore persists normalized issues and their cross references
type IssueStore interface {
	issue.Store

	// SaveIssueLinks replaces the references found in an issue
	SaveIssueLinks(ctx context.Context, key issue.Key, refs []xref.Reference) error

	// GetIssueLinks returns the references stored for an issue
	GetIssueLinks(ctx context.Context, key issue.Key) ([]xref.Reference, error)
}

// CursorStore remembers bulk sync progress so an import can resume
type CursorStore interface {
	GetSyncCursor(ctx context.Context, backend issue.Backend, project string) (int, error)
	SaveSyncCursor(ctx context.Context, backend issue.Backend, project string, cursor int) error
	ClearSyncCursor(ctx context.Context, backend issue.Backend, project string) error
}

// StorageRepository combines every store the engine uses
type StorageRepository interface {
	KeyValueStore
	WebhookStore
	IssueStore
	CursorStore
}
