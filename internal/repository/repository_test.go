//go:build unit

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuelinks/internal/issue"
	"issuelinks/internal/xref"
)

func testIssue() *issue.Issue {
	i := issue.New(issue.NewKey(issue.BackendGitLab, "group/project", "42", false))
	i.Summary = "Broken build"
	i.Status = "opened"
	i.Type = issue.TypeBug
	i.Updated = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	i.SetLabels([]string{"bug"})
	return i
}

// TestRedisRepository_KeyValue tests config value storage
func TestRedisRepository_KeyValue(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		setupMock     func(mock redismock.ClientMock)
		expectedValue string
		expectError   bool
	}{
		{
			name: "stored value",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGet("issuelinks:config", "gitlab_url").SetVal("https://gitlab.example.com")
			},
			expectedValue: "https://gitlab.example.com",
		},
		{
			name: "unset value",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGet("issuelinks:config", "gitlab_url").RedisNil()
			},
			expectedValue: "",
		},
		{
			name: "redis failure",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGet("issuelinks:config", "gitlab_url").SetErr(errors.New("connection refused"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			repo := NewRedisRepository(client)

			tt.setupMock(mock)

			value, err := repo.GetKeyValue(ctx, "gitlab_url")
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedValue, value)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisRepository_SaveKeyValuePair(t *testing.T) {
	client, mock := redismock.NewClientMock()
	repo := NewRedisRepository(client)

	mock.ExpectHSet("issuelinks:config", "gitlab_token", "secret-token").SetVal(1)

	assert.NoError(t, repo.SaveKeyValuePair(context.Background(), "gitlab_token", "secret-token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRedisRepository_Webhooks tests the webhook secret lifecycle
func TestRedisRepository_Webhooks(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	repo := NewRedisRepository(client)
	key := "issuelinks:webhooks:gitlab:group/project"

	mock.ExpectHSet(key, "17", "s3cret").SetVal(1)
	mock.ExpectHVals(key).SetVal([]string{"s3cret", "older"})
	mock.ExpectHDel(key, "17").SetVal(1)
	mock.ExpectHVals(key).SetVal([]string{"older"})

	require.NoError(t, repo.SaveWebhook(ctx, issue.BackendGitLab, "group/project", "17", "s3cret"))

	secrets, err := repo.GetWebhookSecrets(ctx, issue.BackendGitLab, "group/project")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3cret", "older"}, secrets)

	require.NoError(t, repo.DeleteWebhook(ctx, issue.BackendGitLab, "group/project", "17"))

	secrets, err = repo.GetWebhookSecrets(ctx, issue.BackendGitLab, "group/project")
	require.NoError(t, err)
	assert.Equal(t, []string{"older"}, secrets)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_WebhookSaveError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	repo := NewRedisRepository(client)

	mock.ExpectHSet("issuelinks:webhooks:github:o/r", "1", "x").SetErr(errors.New("READONLY"))

	err := repo.SaveWebhook(context.Background(), issue.BackendGitHub, "o/r", "1", "x")
	assert.ErrorContains(t, err, "READONLY")
}

// TestRedisRepository_Issues tests issue persistence
func TestRedisRepository_Issues(t *testing.T) {
	ctx := context.Background()
	i := testIssue()
	data, err := json.Marshal(i)
	require.NoError(t, err)
	key := "issuelinks:issue:gitlab:group/project#42"

	t.Run("save writes the full record", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		repo := NewRedisRepository(client)

		mock.ExpectSet(key, string(data), 0).SetVal("OK")

		assert.NoError(t, repo.SaveIssue(ctx, i))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get decodes the record", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		repo := NewRedisRepository(client)

		mock.ExpectGet(key).SetVal(string(data))

		stored, err := repo.GetIssue(ctx, i.Key)
		require.NoError(t, err)
		assert.Equal(t, i, stored)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get unknown issue", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		repo := NewRedisRepository(client)

		mock.ExpectGet(key).RedisNil()

		stored, err := repo.GetIssue(ctx, i.Key)
		assert.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("corrupt record", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		repo := NewRedisRepository(client)

		mock.ExpectGet(key).SetVal("{not json")

		_, err := repo.GetIssue(ctx, i.Key)
		assert.Error(t, err)
	})
}

func TestRedisRepository_MergeRequestKey(t *testing.T) {
	key := issue.NewKey(issue.BackendGitLab, "group/project", "42", true)
	assert.Equal(t, "issuelinks:issue:gitlab:group/project!42", IssueKey(key))
	assert.Equal(t, "issuelinks:links:gitlab:group/project!42", LinksKey(key))
}

// TestRedisRepository_IssueLinks tests cross reference storage
func TestRedisRepository_IssueLinks(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	repo := NewRedisRepository(client)

	key := issue.NewKey(issue.BackendGitLab, "group/project", "3", true)
	refs := []xref.Reference{
		{Service: issue.BackendGitLab, Project: "group/project", IssueID: "1"},
		{Service: issue.BackendJira, Project: "ABC", IssueID: "123"},
	}
	data, err := json.Marshal(refs)
	require.NoError(t, err)

	mock.ExpectSet("issuelinks:links:gitlab:group/project!3", string(data), 0).SetVal("OK")
	mock.ExpectGet("issuelinks:links:gitlab:group/project!3").SetVal(string(data))
	mock.ExpectGet("issuelinks:links:gitlab:group/project!4").RedisNil()

	require.NoError(t, repo.SaveIssueLinks(ctx, key, refs))

	stored, err := repo.GetIssueLinks(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, refs, stored)

	none, err := repo.GetIssueLinks(ctx, issue.NewKey(issue.BackendGitLab, "group/project", "4", true))
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_EmptyLinks(t *testing.T) {
	client, mock := redismock.NewClientMock()
	repo := NewRedisRepository(client)

	mock.ExpectSet("issuelinks:links:github:o/r!9", "[]", 0).SetVal("OK")

	key := issue.NewKey(issue.BackendGitHub, "o/r", "9", true)
	assert.NoError(t, repo.SaveIssueLinks(context.Background(), key, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRedisRepository_SyncCursor tests resumable import progress
func TestRedisRepository_SyncCursor(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		setupMock      func(mock redismock.ClientMock)
		expectedCursor int
	}{
		{
			name: "saved cursor",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGet("issuelinks:sync", "gitlab:group/project").SetVal("300")
			},
			expectedCursor: 300,
		},
		{
			name: "no cursor",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGet("issuelinks:sync", "gitlab:group/project").RedisNil()
			},
			expectedCursor: 0,
		},
		{
			name: "garbage cursor",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGet("issuelinks:sync", "gitlab:group/project").SetVal("abc")
			},
			expectedCursor: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			repo := NewRedisRepository(client)

			tt.setupMock(mock)

			cursor, err := repo.GetSyncCursor(ctx, issue.BackendGitLab, "group/project")
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedCursor, cursor)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisRepository_SaveAndClearSyncCursor(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	repo := NewRedisRepository(client)

	mock.ExpectHSet("issuelinks:sync", "jira:ABC", "200").SetVal(1)
	mock.ExpectHDel("issuelinks:sync", "jira:ABC").SetVal(1)

	require.NoError(t, repo.SaveSyncCursor(ctx, issue.BackendJira, "ABC", 200))
	require.NoError(t, repo.ClearSyncCursor(ctx, issue.BackendJira, "ABC"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
