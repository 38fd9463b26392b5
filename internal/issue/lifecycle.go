package issue

import (
	"context"
	"fmt"
	"log/slog"
)

// Store persists whole issue records. GetIssue returns nil, nil when the
// key is unknown.
type Store interface {
	GetIssue(ctx context.Context, key Key) (*Issue, error)
	SaveIssue(ctx context.Context, issue *Issue) error
}

// Fetcher overwrites an issue's fields with the remote state
type Fetcher interface {
	RetrieveIssue(ctx context.Context, issue *Issue) error
}

// Load returns the issue for key, hydrated from the store when present
func Load(ctx context.Context, store Store, key Key) (*Issue, error) {
	i := New(key)
	if _, err := i.GetFromDB(ctx, store); err != nil {
		return nil, err
	}
	return i, nil
}

// GetFromDB hydrates the issue from the store and reports whether it was found
func (i *Issue) GetFromDB(ctx context.Context, store Store) (bool, error) {
	stored, err := store.GetIssue(ctx, i.Key)
	if err != nil {
		return false, fmt.Errorf("failed to load issue %s: %w", i.Key, err)
	}
	if stored == nil {
		slog.Debug("Issue not cached", "service", i.Key.Service, "issue", i.Key.String())
		return false, nil
	}

	*i = *stored
	return true, nil
}

// SaveToDB writes the complete record in one operation. Invalid issues are rejected.
func (i *Issue) SaveToDB(ctx context.Context, store Store) error {
	if !i.IsValid() {
		return fmt.Errorf("refusing to save %s %s: %w", i.Key.Service, i.Key, ErrInvalidIssue)
	}

	if err := store.SaveIssue(ctx, i); err != nil {
		return fmt.Errorf("failed to save issue %s: %w", i.Key, err)
	}
	return nil
}

// GetFromService refreshes the issue from its backend and persists it
func (i *Issue) GetFromService(ctx context.Context, fetcher Fetcher, store Store) error {
	slog.Debug("Refreshing issue from service", "service", i.Key.Service, "issue", i.Key.String())

	if err := fetcher.RetrieveIssue(ctx, i); err != nil {
		return fmt.Errorf("failed to retrieve issue %s: %w", i.Key, err)
	}

	return i.SaveToDB(ctx, store)
}

// Resolve completes an issue produced by a store lookup or by
// ParseIssueSyntax. A valid record is kept as is; anything else is fetched
// from the backend and saved. Invalid remote records are never surfaced.
func Resolve(ctx context.Context, store Store, fetcher Fetcher, i *Issue) error {
	if i.IsValid() {
		return nil
	}
	return i.GetFromService(ctx, fetcher, store)
}
