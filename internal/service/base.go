package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/iter"

	"issuelinks/internal/client"
	"issuelinks/internal/issue"
	"issuelinks/internal/metrics"
	"issuelinks/internal/repository"
	"issuelinks/internal/xref"
)

// hookLookupWorkers bounds concurrent per-project hook requests
const hookLookupWorkers = 8

// ErrNotConfigured is returned by operations of a backend without credentials
var ErrNotConfigured = errors.New("service is not configured")

// base carries the state and helpers shared by every backend
type base struct {
	backend    issue.Backend
	sender     client.Sender
	storage    repository.StorageRepository
	webhookURL string

	mu          sync.RWMutex
	configError string
	userString  string
	siteURL     string

	total atomic.Int64
}

func newBase(backend issue.Backend, sender client.Sender, storage repository.StorageRepository, webhookURL string) base {
	return base{
		backend:    backend,
		sender:     sender,
		storage:    storage,
		webhookURL: webhookURL,
	}
}

// Backend returns the backend identifier
func (b *base) Backend() issue.Backend {
	return b.backend
}

// ConfigError explains the last failed IsConfigured call
func (b *base) ConfigError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.configError
}

// UserString names the user the credentials belong to
func (b *base) UserString() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userString
}

func (b *base) setConfigError(msg string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configError = msg
	b.userString = ""
	slog.Warn("Service is not configured", "service", b.backend, "reason", msg)
	return false
}

func (b *base) setUser(user string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configError = ""
	b.userString = user
	return true
}

// rememberSiteURL keeps the last resolved base URL for building web links
func (b *base) rememberSiteURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.siteURL = u
}

func (b *base) knownSiteURL(configured string) string {
	if configured != "" {
		return configured
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.siteURL
}

// GetTotalIssuesBeingImported returns the estimate of the last import page
func (b *base) GetTotalIssuesBeingImported() int {
	return int(b.total.Load())
}

func (b *base) setTotal(n int) {
	b.total.Store(int64(n))
}

// setting returns the configured value or, when empty, the stored one
func (b *base) setting(ctx context.Context, configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	value, err := b.storage.GetKeyValue(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

// send performs the request and decodes the JSON response into out
func (b *base) send(ctx context.Context, req client.Request, out interface{}) (*client.Response, error) {
	resp, err := b.sender.SendRequest(ctx, req)
	if err != nil {
		metrics.TransportErrorsTotal.WithLabelValues(string(b.backend), strconv.Itoa(client.StatusCode(err))).Inc()
		return nil, err
	}

	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			slog.Error("Failed to decode API response", "error", err, "service", b.backend, "url", req.URL)
			return nil, &client.TransportError{
				StatusCode: http.StatusBadGateway,
				Method:     req.Method,
				URL:        req.URL,
				Message:    "invalid JSON in response",
				Err:        err,
			}
		}
	}

	return resp, nil
}

// hookError turns a failed remote hook call into a HookResult
func hookError(err error) HookResult {
	msg := err.Error()
	var tErr *client.TransportError
	if errors.As(err, &tErr) && tErr.Message != "" {
		msg = tErr.Message
	}
	return HookResult{StatusCode: client.StatusCode(err), Message: msg}
}

// prepareHook checks the callback URL and creates a fresh secret
func (b *base) prepareHook() (string, *HookResult) {
	if b.webhookURL == "" {
		return "", &HookResult{StatusCode: http.StatusBadRequest, Message: "WEBHOOK_URL is not configured"}
	}

	secret, err := newSecret()
	if err != nil {
		slog.Error("Failed to generate webhook secret", "error", err)
		return "", &HookResult{StatusCode: http.StatusInternalServerError, Message: "failed to generate webhook secret"}
	}
	return secret, nil
}

// commitHook stores the secret of a hook the remote side accepted
func (b *base) commitHook(ctx context.Context, project, hookID, secret string, status int) HookResult {
	if err := b.storage.SaveWebhook(ctx, b.backend, project, hookID, secret); err != nil {
		slog.Error("Webhook registered but secret not stored", "error", err, "service", b.backend, "project", project, "hook_id", hookID)
		return HookResult{HookID: hookID, StatusCode: http.StatusInternalServerError, Message: "webhook created but its secret could not be stored"}
	}

	slog.Info("Webhook created", "service", b.backend, "project", project, "hook_id", hookID)
	return HookResult{HookID: hookID, StatusCode: status}
}

// forgetHook removes the secret of a hook the remote side deleted
func (b *base) forgetHook(ctx context.Context, project, hookID string, status int) HookResult {
	if err := b.storage.DeleteWebhook(ctx, b.backend, project, hookID); err != nil {
		slog.Error("Webhook deleted but secret not removed", "error", err, "service", b.backend, "project", project, "hook_id", hookID)
		return HookResult{HookID: hookID, StatusCode: http.StatusInternalServerError, Message: "webhook deleted but its secret could not be removed"}
	}

	slog.Info("Webhook deleted", "service", b.backend, "project", project, "hook_id", hookID)
	return HookResult{HookID: hookID, StatusCode: status}
}

// lookupHooks runs lookup for every repository with bounded concurrency.
// The output keeps the input order.
func lookupHooks(repos []Repository, lookup func(*Repository)) []Repository {
	mapper := iter.Mapper[Repository, Repository]{MaxGoroutines: hookLookupWorkers}
	return mapper.Map(repos, func(r *Repository) Repository {
		repo := *r
		lookup(&repo)
		return repo
	})
}

// cached returns the issue for key hydrated from the store. Imported records
// are merged into it, so fields a remote record omits keep their stored values.
func (b *base) cached(ctx context.Context, key issue.Key) (*issue.Issue, error) {
	i, err := issue.Load(ctx, b.storage, key)
	if err != nil {
		slog.Error("Failed to load stored issue", "error", err, "service", b.backend, "issue", key.String())
		return nil, err
	}
	return i, nil
}

// parseIssueSyntax resolves project#number shorthand against the store
func (b *base) parseIssueSyntax(ctx context.Context, text string) (*issue.Issue, error) {
	key, err := issue.ParseKey(b.backend, text)
	if err != nil {
		return nil, err
	}
	return issue.Load(ctx, b.storage, key)
}

// saveLinks stores the references found in a merge request
func (b *base) saveLinks(ctx context.Context, i *issue.Issue) error {
	refs := xref.Parse(xref.MergeRequestText(i), i.Key.Service, i.Key.Project, issue.BackendJira)
	if err := b.storage.SaveIssueLinks(ctx, i.Key, refs); err != nil {
		return fmt.Errorf("failed to save links of %s: %w", i.Key, err)
	}
	return nil
}

// store saves one mapped import record. Records that failed mapping are
// counted and skipped; store failures abort the page.
func (b *base) store(ctx context.Context, i *issue.Issue, mapErr error, page *ImportPage) (bool, error) {
	if mapErr == nil {
		mapErr = i.SaveToDB(ctx, b.storage)
		if mapErr != nil && !errors.Is(mapErr, issue.ErrInvalidIssue) {
			return false, mapErr
		}
	}

	if mapErr != nil {
		slog.Warn("Skipping remote record", "service", b.backend, "issue", i.Key.String(), "error", mapErr)
		metrics.MappingFailuresTotal.WithLabelValues(string(b.backend)).Inc()
		page.Skipped++
		return false, nil
	}

	page.Imported++
	metrics.IssuesImportedTotal.WithLabelValues(string(b.backend)).Inc()
	return true, nil
}

// validateSecret checks a delivery for project against its stored secrets
func (b *base) validateSecret(ctx context.Context, project string, matches func(secrets []string) bool) *RequestResult {
	if project == "" {
		return &RequestResult{StatusCode: http.StatusBadRequest, Message: "webhook payload names no project"}
	}

	secrets, err := b.storage.GetWebhookSecrets(ctx, b.backend, project)
	if err != nil {
		slog.Error("Failed to load webhook secrets", "error", err, "service", b.backend, "project", project)
		return &RequestResult{StatusCode: http.StatusInternalServerError, Message: "failed to load webhook secrets"}
	}

	if !matches(secrets) {
		slog.Warn("Webhook secret does not match", "service", b.backend, "project", project)
		return &RequestResult{StatusCode: http.StatusForbidden, Message: "Token does not match!"}
	}

	return nil
}

// refresh reloads an issue from its backend after a webhook delivery
func (b *base) refresh(ctx context.Context, fetcher issue.Fetcher, key issue.Key) RequestResult {
	i := issue.New(key)
	if _, err := i.GetFromDB(ctx, b.storage); err != nil {
		slog.Error("Failed to load issue", "error", err, "service", b.backend, "issue", key.String())
		return RequestResult{StatusCode: http.StatusInternalServerError, Message: "failed to load issue"}
	}

	if err := i.GetFromService(ctx, fetcher, b.storage); err != nil {
		slog.Error("Failed to refresh issue", "error", err, "service", b.backend, "issue", key.String())

		var mapErr *issue.MappingError
		if errors.As(err, &mapErr) || errors.Is(err, issue.ErrInvalidIssue) {
			return RequestResult{StatusCode: http.StatusUnprocessableEntity, Message: err.Error()}
		}
		return RequestResult{StatusCode: client.StatusCode(err), Message: err.Error()}
	}

	slog.Info("Issue refreshed from webhook", "service", b.backend, "issue", key.String())
	return RequestResult{StatusCode: http.StatusOK, Message: "OK."}
}

// newSecret returns 32 random bytes, hex encoded
func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// tokenMatches compares a shared-secret header with every known secret
func tokenMatches(token string, secrets []string) bool {
	if token == "" {
		return false
	}
	for _, secret := range secrets {
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}

// Sign returns the sha256=<hex> HMAC signature of body
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// signatureMatches checks a sha256=<hex> signature against every known secret
func signatureMatches(body []byte, signature string, secrets []string) bool {
	sig, found := strings.CutPrefix(signature, "sha256=")
	if !found {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}

	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if hmac.Equal(got, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

// sortedUnique sorts and deduplicates organisation names
func sortedUnique(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != "" {
			out = append(out, item)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// parseTime accepts RFC 3339 and Jira's millisecond offset format
func parseTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// dateOnly trims a timestamp to its YYYY-MM-DD prefix
func dateOnly(value string) string {
	if len(value) > 10 {
		return value[:10]
	}
	return value
}
