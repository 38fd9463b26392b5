//go:build unit

package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"issuelinks/internal/client"
	"issuelinks/internal/config"
	"issuelinks/internal/issue"
	"issuelinks/internal/xref"
)

const testWebhookURL = "https://wiki.example.com/webhook"

// memStore is an in-memory StorageRepository
type memStore struct {
	mu      sync.Mutex
	kv      map[string]string
	hooks   map[string]map[string]string
	issues  map[issue.Key][]byte
	links   map[issue.Key][]xref.Reference
	cursors map[string]int
	saveErr error
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{
		kv:      map[string]string{},
		hooks:   map[string]map[string]string{},
		issues:  map[issue.Key][]byte{},
		links:   map[issue.Key][]xref.Reference{},
		cursors: map[string]int{},
	}
}

func hookBucket(backend issue.Backend, project string) string {
	return string(backend) + ":" + project
}

func (m *memStore) GetKeyValue(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kv[name], nil
}

func (m *memStore) SaveKeyValuePair(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[name] = value
	return nil
}

func (m *memStore) SaveWebhook(_ context.Context, backend issue.Backend, project, hookID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	bucket := hookBucket(backend, project)
	if m.hooks[bucket] == nil {
		m.hooks[bucket] = map[string]string{}
	}
	m.hooks[bucket][hookID] = secret
	return nil
}

func (m *memStore) DeleteWebhook(_ context.Context, backend issue.Backend, project, hookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hooks[hookBucket(backend, project)], hookID)
	return nil
}

func (m *memStore) GetWebhookSecrets(_ context.Context, backend issue.Backend, project string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secrets := []string{}
	for _, s := range m.hooks[hookBucket(backend, project)] {
		secrets = append(secrets, s)
	}
	return secrets, nil
}

func (m *memStore) GetIssue(_ context.Context, key issue.Key) (*issue.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.issues[key]
	if !ok {
		return nil, nil
	}
	var i issue.Issue
	if err := json.Unmarshal(data, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (m *memStore) SaveIssue(_ context.Context, i *issue.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(i)
	if err != nil {
		return err
	}
	m.issues[i.Key] = data
	return nil
}

func (m *memStore) SaveIssueLinks(_ context.Context, key issue.Key, refs []xref.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[key] = refs
	return nil
}

func (m *memStore) GetIssueLinks(_ context.Context, key issue.Key) ([]xref.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[key], nil
}

func (m *memStore) GetSyncCursor(_ context.Context, backend issue.Backend, project string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[hookBucket(backend, project)], nil
}

func (m *memStore) SaveSyncCursor(_ context.Context, backend issue.Backend, project string, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[hookBucket(backend, project)] = cursor
	return nil
}

func (m *memStore) ClearSyncCursor(_ context.Context, backend issue.Backend, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, hookBucket(backend, project))
	return nil
}

func (m *memStore) stored(t *testing.T, key issue.Key) *issue.Issue {
	t.Helper()
	i, err := m.GetIssue(context.Background(), key)
	if err != nil {
		t.Fatalf("stored issue %s is unreadable: %v", key, err)
	}
	return i
}

// routes maps "METHOD /escaped/path" to a handler of the API double
type routes map[string]http.HandlerFunc

// newTestServer starts an API double and returns a config pointing at it.
// Unknown routes answer 404.
func newTestServer(t *testing.T, r routes) (*httptest.Server, *config.Config) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handler, ok := r[req.Method+" "+req.URL.EscapedPath()]
		if !ok {
			writeJSON(w, http.StatusNotFound, `{"message": "404 Not Found"}`)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.WebhookURL = testWebhookURL
	cfg.GitLab = config.GitLabConfig{URL: server.URL, Token: "gl-token"}
	cfg.GitHub = config.GitHubConfig{APIURL: server.URL, WebURL: "https://github.com", Token: "gh-token"}
	cfg.Jira = config.JiraConfig{URL: server.URL, User: "me@example.com", Token: "jira-token"}
	return server, cfg
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, body)
	}
}

func newTestSender(cfg *config.Config) client.Sender {
	return client.NewHTTPClient(cfg)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
