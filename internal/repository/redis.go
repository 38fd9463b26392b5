package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"issuelinks/internal/issue"
	"issuelinks/internal/xref"
)

const (
	configKey  = "issuelinks:config"
	syncKey    = "issuelinks:sync"
	hookPrefix = "issuelinks:webhooks:"
	issuePref  = "issuelinks:issue:"
	linkPrefix = "issuelinks:links:"
)

// RedisRepository implements StorageRepository on Redis. Every write of a
// record is a single command, so readers never observe a partial record.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// WebhookKey is the hash holding hookID -> secret for one project
func WebhookKey(backend issue.Backend, project string) string {
	return hookPrefix + string(backend) + ":" + project
}

// IssueKey is the string key holding one issue record
func IssueKey(key issue.Key) string {
	return issuePref + string(key.Service) + ":" + key.String()
}

// LinksKey is the string key holding the references found in one issue
func LinksKey(key issue.Key) string {
	return linkPrefix + string(key.Service) + ":" + key.String()
}

func cursorField(backend issue.Backend, project string) string {
	return string(backend) + ":" + project
}

// GetKeyValue retrieves a configuration value
func (r *RedisRepository) GetKeyValue(ctx context.Context, name string) (string, error) {
	slog.Debug("Getting config value", "name", name)

	value, err := r.client.HGet(ctx, configKey, name).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		slog.Error("Failed to get config value", "name", name)
		return "", fmt.Errorf("error getting config value %s: %w", name, err)
	}

	return value, nil
}

// SaveKeyValuePair stores a configuration value
func (r *RedisRepository) SaveKeyValuePair(ctx context.Context, name, value string) error {
	slog.Debug("Saving config value", "name", name)

	if err := r.client.HSet(ctx, configKey, name, value).Err(); err != nil {
		slog.Error("Failed to save config value", "name", name)
		return fmt.Errorf("error saving config value %s: %w", name, err)
	}

	return nil
}

// SaveWebhook records a hook and its secret in one HSET
func (r *RedisRepository) SaveWebhook(ctx context.Context, backend issue.Backend, project, hookID, secret string) error {
	key := WebhookKey(backend, project)
	slog.Debug("Saving webhook", "key", key, "hook_id", hookID)

	if err := r.client.HSet(ctx, key, hookID, secret).Err(); err != nil {
		slog.Error("Failed to save webhook", "key", key, "hook_id", hookID)
		return fmt.Errorf("error saving webhook %s: %w", hookID, err)
	}

	slog.Info("Webhook saved", "service", backend, "project", project, "hook_id", hookID)
	return nil
}

// DeleteWebhook removes a hook record
func (r *RedisRepository) DeleteWebhook(ctx context.Context, backend issue.Backend, project, hookID string) error {
	key := WebhookKey(backend, project)
	slog.Debug("Deleting webhook", "key", key, "hook_id", hookID)

	if err := r.client.HDel(ctx, key, hookID).Err(); err != nil {
		slog.Error("Failed to delete webhook", "key", key, "hook_id", hookID)
		return fmt.Errorf("error deleting webhook %s: %w", hookID, err)
	}

	slog.Info("Webhook deleted", "service", backend, "project", project, "hook_id", hookID)
	return nil
}

// GetWebhookSecrets returns all secrets registered for a project
func (r *RedisRepository) GetWebhookSecrets(ctx context.Context, backend issue.Backend, project string) ([]string, error) {
	key := WebhookKey(backend, project)

	secrets, err := r.client.HVals(ctx, key).Result()
	if err != nil {
		slog.Error("Failed to get webhook secrets", "key", key)
		return nil, fmt.Errorf("error getting webhook secrets: %w", err)
	}

	slog.Debug("Webhook secrets retrieved", "key", key, "count", len(secrets))
	return secrets, nil
}

// GetIssue retrieves an issue record, nil when unknown
func (r *RedisRepository) GetIssue(ctx context.Context, key issue.Key) (*issue.Issue, error) {
	redisKey := IssueKey(key)

	data, err := r.client.Get(ctx, redisKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		slog.Error("Failed to get issue", "key", redisKey)
		return nil, fmt.Errorf("error getting issue: %w", err)
	}

	var stored issue.Issue
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		slog.Error("Failed to decode stored issue", "error", err, "key", redisKey)
		return nil, fmt.Errorf("error decoding issue: %w", err)
	}

	return &stored, nil
}

// SaveIssue writes the complete issue record
func (r *RedisRepository) SaveIssue(ctx context.Context, i *issue.Issue) error {
	redisKey := IssueKey(i.Key)

	data, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("error encoding issue: %w", err)
	}

	if err := r.client.Set(ctx, redisKey, string(data), 0).Err(); err != nil {
		slog.Error("Failed to save issue", "key", redisKey)
		return fmt.Errorf("error saving issue: %w", err)
	}

	slog.Debug("Issue saved", "key", redisKey)
	return nil
}

// SaveIssueLinks replaces the references of an issue
func (r *RedisRepository) SaveIssueLinks(ctx context.Context, key issue.Key, refs []xref.Reference) error {
	redisKey := LinksKey(key)
	if refs == nil {
		refs = []xref.Reference{}
	}

	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("error encoding issue links: %w", err)
	}

	if err := r.client.Set(ctx, redisKey, string(data), 0).Err(); err != nil {
		slog.Error("Failed to save issue links", "key", redisKey)
		return fmt.Errorf("error saving issue links: %w", err)
	}

	slog.Debug("Issue links saved", "key", redisKey, "count", len(refs))
	return nil
}

// GetIssueLinks returns the references stored for an issue
func (r *RedisRepository) GetIssueLinks(ctx context.Context, key issue.Key) ([]xref.Reference, error) {
	redisKey := LinksKey(key)

	data, err := r.client.Get(ctx, redisKey).Result()
	if err != nil {
		if err == redis.Nil {
			return []xref.Reference{}, nil
		}
		return nil, fmt.Errorf("error getting issue links: %w", err)
	}

	var refs []xref.Reference
	if err := json.Unmarshal([]byte(data), &refs); err != nil {
		return nil, fmt.Errorf("error decoding issue links: %w", err)
	}
	return refs, nil
}

// GetSyncCursor returns the saved import cursor, 0 when none
func (r *RedisRepository) GetSyncCursor(ctx context.Context, backend issue.Backend, project string) (int, error) {
	field := cursorField(backend, project)

	value, err := r.client.HGet(ctx, syncKey, field).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("error getting sync cursor: %w", err)
	}

	cursor, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid sync cursor, restarting import", "field", field, "value", value)
		return 0, nil
	}
	return cursor, nil
}

// SaveSyncCursor stores import progress
func (r *RedisRepository) SaveSyncCursor(ctx context.Context, backend issue.Backend, project string, cursor int) error {
	field := cursorField(backend, project)

	if err := r.client.HSet(ctx, syncKey, field, strconv.Itoa(cursor)).Err(); err != nil {
		return fmt.Errorf("error saving sync cursor: %w", err)
	}
	return nil
}

// ClearSyncCursor forgets import progress once an import is complete
func (r *RedisRepository) ClearSyncCursor(ctx context.Context, backend issue.Backend, project string) error {
	field := cursorField(backend, project)

	if err := r.client.HDel(ctx, syncKey, field).Err(); err != nil {
		return fmt.Errorf("error clearing sync cursor: %w", err)
	}
	return nil
}
