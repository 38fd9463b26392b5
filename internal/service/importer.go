package service

import (
	"context"
	"fmt"
	"log/slog"

	"issuelinks/internal/repository"
)

// ImportResult summarizes a bulk import
type ImportResult struct {
	Backend  string `json:"backend"`
	Project  string `json:"project"`
	Pages    int    `json:"pages"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	// Estimate is the last reported collection size, an estimate
	Estimate int `json:"estimate"`
	// Cursor is where a resumed import would continue
	Cursor int `json:"cursor"`
}

// Importer drives RetrieveAllIssues page by page and persists the cursor
// after every page, so an interrupted import resumes where it stopped.
type Importer struct {
	storage repository.CursorStore
}

// NewImporter creates a new importer instance
func NewImporter(storage repository.CursorStore) *Importer {
	return &Importer{storage: storage}
}

// Import imports every page of project. Cancellation is checked between
// pages; progress, when set, is called after each page.
func (im *Importer) Import(ctx context.Context, svc Service, project string, progress func(*ImportPage)) (*ImportResult, error) {
	backend := svc.Backend()

	cursor, err := im.storage.GetSyncCursor(ctx, backend, project)
	if err != nil {
		slog.Error("Failed to load sync cursor", "error", err, "service", backend, "project", project)
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}

	result := &ImportResult{Backend: string(backend), Project: project, Cursor: cursor}
	if cursor > 0 {
		slog.Info("Resuming import", "service", backend, "project", project, "cursor", cursor)
	} else {
		slog.Info("Starting import", "service", backend, "project", project)
	}

	for {
		if err := ctx.Err(); err != nil {
			slog.Warn("Import interrupted", "service", backend, "project", project, "cursor", cursor)
			return result, err
		}

		page, err := svc.RetrieveAllIssues(ctx, project, cursor)
		if err != nil {
			slog.Error("Import page failed", "error", err, "service", backend, "project", project, "cursor", cursor)
			return result, fmt.Errorf("failed to import %s at %d: %w", project, cursor, err)
		}

		result.Pages++
		result.Imported += page.Imported
		result.Skipped += page.Skipped
		result.Estimate = page.Estimate
		if progress != nil {
			progress(page)
		}

		if page.Done() {
			if err := im.storage.ClearSyncCursor(ctx, backend, project); err != nil {
				return result, fmt.Errorf("failed to clear sync cursor: %w", err)
			}
			result.Cursor = 0
			break
		}

		cursor = page.NextCursor
		result.Cursor = cursor
		if err := im.storage.SaveSyncCursor(ctx, backend, project, cursor); err != nil {
			return result, fmt.Errorf("failed to save sync cursor: %w", err)
		}
	}

	slog.Info("Import completed",
		"service", backend,
		"project", project,
		"pages", result.Pages,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"estimate", result.Estimate,
	)
	return result, nil
}
