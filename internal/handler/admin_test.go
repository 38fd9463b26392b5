//go:build unit

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"issuelinks/internal/client"
	"issuelinks/internal/issue"
	"issuelinks/internal/service"
	"issuelinks/internal/xref"
)

// MockService is a mock implementation of a backend, GitLab unless backend is set
type MockService struct {
	service.Service
	mock.Mock
	backend issue.Backend
}

func (m *MockService) Backend() issue.Backend {
	if m.backend == "" {
		return issue.BackendGitLab
	}
	return m.backend
}

func (m *MockService) IsConfigured(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockService) UserString() string {
	return m.Called().String(0)
}

func (m *MockService) ConfigError() string {
	return m.Called().String(0)
}

func (m *MockService) GetListOfAllUserOrganisations(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockService) GetListOfAllReposAndHooks(ctx context.Context, organisation string) ([]service.Repository, error) {
	args := m.Called(ctx, organisation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.Repository), args.Error(1)
}

func (m *MockService) CreateWebhook(ctx context.Context, project string) service.HookResult {
	return m.Called(ctx, project).Get(0).(service.HookResult)
}

func (m *MockService) DeleteWebhook(ctx context.Context, project, hookID string) service.HookResult {
	return m.Called(ctx, project, hookID).Get(0).(service.HookResult)
}

func (m *MockService) RetrieveAllIssues(ctx context.Context, project string, cursor int) (*service.ImportPage, error) {
	args := m.Called(ctx, project, cursor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ImportPage), args.Error(1)
}

func (m *MockService) RetrieveIssue(ctx context.Context, i *issue.Issue) error {
	return m.Called(ctx, i).Error(0)
}

func (m *MockService) ParseIssueSyntax(ctx context.Context, text string) (*issue.Issue, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*issue.Issue), args.Error(1)
}

func (m *MockService) GetIssueURL(project, number string, isMergeRequest bool) string {
	return m.Called(project, number, isMergeRequest).String(0)
}

// MockImporter is a mock implementation of BulkImporter
type MockImporter struct {
	mock.Mock
}

func (m *MockImporter) Import(ctx context.Context, svc service.Service, project string, progress func(*service.ImportPage)) (*service.ImportResult, error) {
	args := m.Called(ctx, svc, project)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ImportResult), args.Error(1)
}

// MockIssueStore is a mock implementation of repository.IssueStore
type MockIssueStore struct {
	mock.Mock
}

func (m *MockIssueStore) GetIssue(ctx context.Context, key issue.Key) (*issue.Issue, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*issue.Issue), args.Error(1)
}

func (m *MockIssueStore) SaveIssue(ctx context.Context, i *issue.Issue) error {
	return m.Called(ctx, i).Error(0)
}

func (m *MockIssueStore) SaveIssueLinks(ctx context.Context, key issue.Key, refs []xref.Reference) error {
	return m.Called(ctx, key, refs).Error(0)
}

func (m *MockIssueStore) GetIssueLinks(ctx context.Context, key issue.Key) ([]xref.Reference, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]xref.Reference), args.Error(1)
}

type adminFixture struct {
	svc      *MockService
	importer *MockImporter
	store    *MockIssueStore
	mux      *http.ServeMux
}

func newAdminFixture() *adminFixture {
	return newAdminFixtureFor(issue.BackendGitLab)
}

func newAdminFixtureFor(backend issue.Backend) *adminFixture {
	f := &adminFixture{
		svc:      &MockService{backend: backend},
		importer: new(MockImporter),
		store:    new(MockIssueStore),
		mux:      http.NewServeMux(),
	}
	h := NewAdminHandler(service.NewRegistryOf(f.svc), f.importer, f.store, NewResponseWriter())
	h.Register(f.mux, func(next http.Handler) http.Handler { return next })
	return f
}

func (f *adminFixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestAdminHandler_UnknownBackend(t *testing.T) {
	f := newAdminFixture()

	rec := f.do("GET", "/admin/bitbucket/status")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Unknown backend: bitbucket\n", rec.Body.String())
}

func TestAdminHandler_Status(t *testing.T) {
	f := newAdminFixture()
	f.svc.On("IsConfigured", mock.Anything).Return(false).Once()
	f.svc.On("UserString").Return("").Once()
	f.svc.On("ConfigError").Return("Authentication token is missing!").Once()

	rec := f.do("GET", "/admin/gitlab/status")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"backend": "gitlab", "configured": false, "error": "Authentication token is missing!"}`, rec.Body.String())
	f.svc.AssertExpectations(t)
}

func TestAdminHandler_Organisations(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("GetListOfAllUserOrganisations", mock.Anything).Return([]string{"alpha", "beta"}, nil).Once()

		rec := f.do("GET", "/admin/gitlab/orgs")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `["alpha", "beta"]`, rec.Body.String())
	})

	t.Run("not configured", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("GetListOfAllUserOrganisations", mock.Anything).Return(nil, service.ErrNotConfigured).Once()

		rec := f.do("GET", "/admin/gitlab/orgs")

		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	})

	t.Run("transport error", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("GetListOfAllUserOrganisations", mock.Anything).
			Return(nil, &client.TransportError{StatusCode: http.StatusGatewayTimeout, Err: context.DeadlineExceeded}).Once()

		rec := f.do("GET", "/admin/gitlab/orgs")

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestAdminHandler_Repositories(t *testing.T) {
	f := newAdminFixture()

	rec := f.do("GET", "/admin/gitlab/repos")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing query parameter: org\n", rec.Body.String())

	f.svc.On("GetListOfAllReposAndHooks", mock.Anything, "alpha").
		Return([]service.Repository{{FullName: "alpha/api", DisplayName: "API", HookID: "7"}}, nil).Once()

	rec = f.do("GET", "/admin/gitlab/repos?org=alpha")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"fullName": "alpha/api", "displayName": "API", "hookId": "7"}]`, rec.Body.String())
}

func TestAdminHandler_Hooks(t *testing.T) {
	f := newAdminFixture()
	f.svc.On("CreateWebhook", mock.Anything, "alpha/api").Return(service.HookResult{HookID: "7", StatusCode: http.StatusCreated}).Once()
	f.svc.On("DeleteWebhook", mock.Anything, "alpha/api", "7").Return(service.HookResult{HookID: "7", StatusCode: http.StatusNotFound, Message: "404 Not found"}).Once()

	rec := f.do("POST", "/admin/gitlab/hooks?project=alpha/api")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"hookId": "7", "status": 201}`, rec.Body.String())

	rec = f.do("DELETE", "/admin/gitlab/hooks?project=alpha/api")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("DELETE", "/admin/gitlab/hooks?project=alpha/api&hook=7")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"hookId": "7", "status": 404, "message": "404 Not found"}`, rec.Body.String())

	f.svc.AssertExpectations(t)
}

func TestAdminHandler_Import(t *testing.T) {
	t.Run("single page", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("RetrieveAllIssues", mock.Anything, "alpha/api", 100).
			Return(&service.ImportPage{Imported: 3, Fetched: 3, NextCursor: 200, Estimate: 103}, nil).Once()

		rec := f.do("POST", "/admin/gitlab/import?project=alpha/api&cursor=100")

		assert.Equal(t, http.StatusOK, rec.Code)
		var page service.ImportPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 200, page.NextCursor)
		f.importer.AssertNotCalled(t, "Import", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		f := newAdminFixture()

		rec := f.do("POST", "/admin/gitlab/import?project=alpha/api&cursor=-1")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("full import", func(t *testing.T) {
		f := newAdminFixture()
		f.importer.On("Import", mock.Anything, f.svc, "alpha/api").
			Return(&service.ImportResult{Backend: "gitlab", Project: "alpha/api", Pages: 2, Imported: 150}, nil).Once()

		rec := f.do("POST", "/admin/gitlab/import?project=alpha/api")

		assert.Equal(t, http.StatusOK, rec.Code)
		var result service.ImportResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 150, result.Imported)
		f.importer.AssertExpectations(t)
	})

	t.Run("import failure", func(t *testing.T) {
		f := newAdminFixture()
		f.importer.On("Import", mock.Anything, f.svc, "alpha/api").
			Return(&service.ImportResult{Pages: 1}, errors.New("redis down")).Once()

		rec := f.do("POST", "/admin/gitlab/import?project=alpha/api")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestAdminHandler_Issue(t *testing.T) {
	key := issue.NewKey(issue.BackendGitLab, "alpha/api", "12", true)

	t.Run("fetches uncached issue", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("ParseIssueSyntax", mock.Anything, "alpha/api!12").Return(issue.New(key), nil).Once()
		f.svc.On("RetrieveIssue", mock.Anything, mock.AnythingOfType("*issue.Issue")).Run(func(args mock.Arguments) {
			i := args.Get(1).(*issue.Issue)
			i.Summary = "Fix login"
			i.Status = "opened"
		}).Return(nil).Once()
		f.store.On("SaveIssue", mock.Anything, mock.AnythingOfType("*issue.Issue")).Return(nil).Once()
		f.store.On("GetIssueLinks", mock.Anything, key).
			Return([]xref.Reference{{Service: issue.BackendGitLab, Project: "alpha/api", IssueID: "3"}}, nil).Once()
		f.svc.On("GetIssueURL", "alpha/api", "12", true).Return("https://gitlab.example.com/alpha/api/merge_requests/12").Once()

		rec := f.do("GET", "/admin/gitlab/issue?ref=alpha/api!12")

		require.Equal(t, http.StatusOK, rec.Code)
		var resp IssueResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Fix login", resp.Issue.Summary)
		assert.Equal(t, key, resp.Issue.Key)
		assert.Equal(t, "https://gitlab.example.com/alpha/api/merge_requests/12", resp.URL)
		assert.Len(t, resp.Links, 1)
		f.store.AssertExpectations(t)
		f.svc.AssertExpectations(t)
	})

	t.Run("jira native key served from cache", func(t *testing.T) {
		f := newAdminFixtureFor(issue.BackendJira)
		jiraKey := issue.NewKey(issue.BackendJira, "ABC", "123", false)
		cached := issue.New(jiraKey)
		cached.Summary = "Login fails"
		cached.Status = "To Do"
		f.svc.On("ParseIssueSyntax", mock.Anything, "ABC-123").Return(cached, nil).Once()
		f.store.On("GetIssueLinks", mock.Anything, jiraKey).Return(nil, nil).Once()
		f.svc.On("GetIssueURL", "ABC", "123", false).Return("https://jira.example.com/browse/ABC-123").Once()

		rec := f.do("GET", "/admin/jira/issue?ref=ABC-123")

		require.Equal(t, http.StatusOK, rec.Code)
		var resp IssueResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Login fails", resp.Issue.Summary)
		assert.Equal(t, jiraKey, resp.Issue.Key)
		assert.Equal(t, "https://jira.example.com/browse/ABC-123", resp.URL)
		f.svc.AssertNotCalled(t, "RetrieveIssue", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "SaveIssue", mock.Anything, mock.Anything)
	})

	t.Run("invalid reference", func(t *testing.T) {
		f := newAdminFixture()
		_, parseErr := issue.ParseKey(issue.BackendGitLab, "no-number")
		f.svc.On("ParseIssueSyntax", mock.Anything, "no-number").Return(nil, parseErr).Once()

		rec := f.do("GET", "/admin/gitlab/issue?ref=no-number")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store read failure", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("ParseIssueSyntax", mock.Anything, "alpha/api!12").Return(nil, errors.New("redis down")).Once()

		rec := f.do("GET", "/admin/gitlab/issue?ref=alpha/api!12")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("remote record unusable", func(t *testing.T) {
		f := newAdminFixture()
		f.svc.On("ParseIssueSyntax", mock.Anything, "alpha/api!12").Return(issue.New(key), nil).Once()
		f.svc.On("RetrieveIssue", mock.Anything, mock.Anything).
			Return(&issue.MappingError{Key: key, Field: "title"}).Once()

		rec := f.do("GET", "/admin/gitlab/issue?ref=alpha/api!12")

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
