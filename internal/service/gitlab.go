package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"issuelinks/internal/client"
	"issuelinks/internal/config"
	"issuelinks/internal/issue"
	"issuelinks/internal/pagination"
	"issuelinks/internal/repository"
)

// GitLab implements Service against the GitLab REST API v4
type GitLab struct {
	base
	cfg       config.GitLabConfig
	typeRules issue.TypeRules
}

// gitlabIssue is the part of an issue or merge request the engine reads
type gitlabIssue struct {
	IID         int      `json:"iid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	UpdatedAt   string   `json:"updated_at"`
	DueDate     string   `json:"due_date"`
	Labels      []string `json:"labels"`
	Milestone   *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	Assignee *struct {
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"assignee"`
}

type gitlabHook struct {
	ID                    int    `json:"id"`
	URL                   string `json:"url"`
	EnableSSLVerification bool   `json:"enable_ssl_verification"`
	PushEvents            bool   `json:"push_events"`
	IssuesEvents          bool   `json:"issues_events"`
	MergeRequestsEvents   bool   `json:"merge_requests_events"`
}

type gitlabEvent struct {
	EventType  string `json:"event_type"`
	ObjectKind string `json:"object_kind"`
	Project    struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	ObjectAttributes struct {
		IID int `json:"iid"`
	} `json:"object_attributes"`
}

// NewGitLab creates the GitLab backend
func NewGitLab(cfg *config.Config, sender client.Sender, storage repository.StorageRepository) *GitLab {
	return &GitLab{
		base:      newBase(issue.BackendGitLab, sender, storage, cfg.WebhookURL),
		cfg:       cfg.GitLab,
		typeRules: issue.DefaultTypeRules,
	}
}

func (g *GitLab) settings(ctx context.Context) (string, string, error) {
	baseURL, err := g.setting(ctx, g.cfg.URL, "gitlab_url")
	if err != nil {
		return "", "", err
	}
	token, err := g.setting(ctx, g.cfg.Token, "gitlab_token")
	if err != nil {
		return "", "", err
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL != "" {
		g.rememberSiteURL(baseURL)
	}
	return baseURL, token, nil
}

// request calls endpoint below /api/v4 and decodes the response into out
func (g *GitLab) request(ctx context.Context, method, endpoint string, body, out interface{}) (*client.Response, error) {
	baseURL, token, err := g.settings(ctx)
	if err != nil {
		return nil, err
	}
	if baseURL == "" || token == "" {
		return nil, fmt.Errorf("gitlab: %w", ErrNotConfigured)
	}

	return g.send(ctx, client.Request{
		Method: method,
		URL:    baseURL + "/api/v4" + endpoint,
		Header: http.Header{"PRIVATE-TOKEN": []string{token}},
		Body:   body,
	}, out)
}

func projectPath(project string) string {
	return "/projects/" + url.PathEscape(project)
}

// IsConfigured checks the stored URL and token against /user
func (g *GitLab) IsConfigured(ctx context.Context) bool {
	baseURL, token, err := g.settings(ctx)
	if err != nil {
		return g.setConfigError(err.Error())
	}
	if baseURL == "" {
		return g.setConfigError("GitLab URL not set!")
	}
	if token == "" {
		return g.setConfigError("Authentication token is missing!")
	}

	var user struct {
		Name   string `json:"name"`
		WebURL string `json:"web_url"`
	}
	if _, err := g.request(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return g.setConfigError("The GitLab authentication failed with message: " + hookError(err).Message)
	}

	return g.setUser(fmt.Sprintf("%s (%s)", user.Name, user.WebURL))
}

// GetListOfAllUserOrganisations lists the full paths of the user's groups
func (g *GitLab) GetListOfAllUserOrganisations(ctx context.Context) ([]string, error) {
	var groups []struct {
		FullPath string `json:"full_path"`
	}
	if _, err := g.request(ctx, http.MethodGet, "/groups?per_page=100", nil, &groups); err != nil {
		return nil, fmt.Errorf("failed to list GitLab groups: %w", err)
	}

	names := make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.FullPath)
	}
	return sortedUnique(names), nil
}

// GetListOfAllReposAndHooks lists the projects of a group with our hook, if any
func (g *GitLab) GetListOfAllReposAndHooks(ctx context.Context, organisation string) ([]Repository, error) {
	var projects []struct {
		PathWithNamespace string `json:"path_with_namespace"`
		Name              string `json:"name"`
	}
	endpoint := "/groups/" + url.PathEscape(organisation) + "/projects?per_page=100"
	if _, err := g.request(ctx, http.MethodGet, endpoint, nil, &projects); err != nil {
		return nil, fmt.Errorf("failed to list projects of %s: %w", organisation, err)
	}

	repos := make([]Repository, 0, len(projects))
	for _, p := range projects {
		repos = append(repos, Repository{FullName: p.PathWithNamespace, DisplayName: p.Name})
	}

	return lookupHooks(repos, func(repo *Repository) {
		var hooks []gitlabHook
		if _, err := g.request(ctx, http.MethodGet, projectPath(repo.FullName)+"/hooks?per_page=100", nil, &hooks); err != nil {
			slog.Warn("Failed to list project hooks", "error", err, "project", repo.FullName)
			repo.Error = client.StatusCode(err)
			return
		}
		for _, h := range hooks {
			if g.isOurIssueHook(h) {
				repo.HookID = strconv.Itoa(h.ID)
				return
			}
		}
	}), nil
}

// isOurIssueHook matches hooks created by CreateWebhook
func (g *GitLab) isOurIssueHook(h gitlabHook) bool {
	return h.URL == g.webhookURL &&
		h.EnableSSLVerification &&
		!h.PushEvents &&
		h.IssuesEvents &&
		h.MergeRequestsEvents
}

// CreateWebhook registers an issue and merge request hook on the project
func (g *GitLab) CreateWebhook(ctx context.Context, project string) HookResult {
	secret, failed := g.prepareHook()
	if failed != nil {
		return *failed
	}

	data := map[string]interface{}{
		"url":                     g.webhookURL,
		"enable_ssl_verification": true,
		"token":                   secret,
		"push_events":             false,
		"issues_events":           true,
		"merge_requests_events":   true,
	}

	var created gitlabHook
	resp, err := g.request(ctx, http.MethodPost, projectPath(project)+"/hooks", data, &created)
	if err != nil {
		slog.Error("Failed to create GitLab webhook", "error", err, "project", project)
		return hookError(err)
	}

	return g.commitHook(ctx, project, strconv.Itoa(created.ID), secret, resp.StatusCode)
}

// DeleteWebhook removes the hook and its stored secret
func (g *GitLab) DeleteWebhook(ctx context.Context, project, hookID string) HookResult {
	resp, err := g.request(ctx, http.MethodDelete, projectPath(project)+"/hooks/"+url.PathEscape(hookID), nil, nil)
	if err != nil {
		slog.Error("Failed to delete GitLab webhook", "error", err, "project", project, "hook_id", hookID)
		return hookError(err)
	}

	return g.forgetHook(ctx, project, hookID, resp.StatusCode)
}

// GetIssueURL returns the web URL of an issue or merge request
func (g *GitLab) GetIssueURL(project, number string, isMergeRequest bool) string {
	kind := "/issues/"
	if isMergeRequest {
		kind = "/merge_requests/"
	}
	return g.knownSiteURL(g.cfg.URL) + "/" + project + kind + number
}

// ParseIssueSyntax parses group/project#1 or group/project!1
func (g *GitLab) ParseIssueSyntax(ctx context.Context, text string) (*issue.Issue, error) {
	return g.parseIssueSyntax(ctx, text)
}

// RetrieveIssue fetches one issue or merge request with its label colors
func (g *GitLab) RetrieveIssue(ctx context.Context, i *issue.Issue) error {
	notable := "/issues/"
	if i.IsMergeRequest() {
		notable = "/merge_requests/"
	}

	var info gitlabIssue
	endpoint := projectPath(i.Key.Project) + notable + url.PathEscape(i.Key.Number)
	if _, err := g.request(ctx, http.MethodGet, endpoint, nil, &info); err != nil {
		return err
	}
	if err := g.setIssueData(i, &info); err != nil {
		return err
	}

	var labels []struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if _, err := g.request(ctx, http.MethodGet, projectPath(i.Key.Project)+"/labels?per_page=100", nil, &labels); err != nil {
		slog.Warn("Failed to load project labels", "error", err, "project", i.Key.Project)
	}
	for _, l := range labels {
		i.SetLabelColor(l.Name, l.Color)
	}

	if i.IsMergeRequest() {
		return g.saveLinks(ctx, i)
	}
	return nil
}

// setIssueData normalizes a GitLab record into i
func (g *GitLab) setIssueData(i *issue.Issue, info *gitlabIssue) error {
	if strings.TrimSpace(info.Title) == "" {
		return &issue.MappingError{Key: i.Key, Field: "title"}
	}
	if strings.TrimSpace(info.State) == "" {
		return &issue.MappingError{Key: i.Key, Field: "state"}
	}

	i.Summary = info.Title
	i.Description = info.Description
	i.Type = issue.TypeFromLabels(info.Labels, g.typeRules)
	i.Status = info.State
	i.Updated = parseTime(info.UpdatedAt)
	i.SetLabels(info.Labels)
	if info.Milestone != nil {
		i.Versions = []string{info.Milestone.Title}
	}
	if info.DueDate != "" {
		i.DueDate = info.DueDate
	}
	if info.Assignee != nil {
		i.SetAssignee(info.Assignee.Name, info.Assignee.AvatarURL)
	} else {
		i.SetAssignee("", "")
	}
	return nil
}

// RetrieveAllIssues imports one page of issues and one page of merge requests
func (g *GitLab) RetrieveAllIssues(ctx context.Context, project string, cursor int) (*ImportPage, error) {
	page := pagination.PageForCursor(cursor, pagination.PageSize)
	query := fmt.Sprintf("?page=%d&per_page=%d", page, pagination.PageSize)

	var issues []gitlabIssue
	resp, err := g.request(ctx, http.MethodGet, projectPath(project)+"/issues"+query, nil, &issues)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues of %s: %w", project, err)
	}
	total := pagination.Estimate(resp.Header, pagination.PageSize, len(issues))

	var mrs []gitlabIssue
	resp, err = g.request(ctx, http.MethodGet, projectPath(project)+"/merge_requests"+query, nil, &mrs)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge requests of %s: %w", project, err)
	}
	total += pagination.Estimate(resp.Header, pagination.PageSize, len(mrs))
	g.setTotal(total)

	result := &ImportPage{
		Fetched:    len(issues) + len(mrs),
		NextCursor: cursor + pagination.PageSize,
		Estimate:   total,
		More:       len(issues) == pagination.PageSize || len(mrs) == pagination.PageSize,
	}

	for idx := range issues {
		i, err := g.cached(ctx, issue.NewKey(issue.BackendGitLab, project, strconv.Itoa(issues[idx].IID), false))
		if err != nil {
			return nil, err
		}
		if _, err := g.store(ctx, i, g.setIssueData(i, &issues[idx]), result); err != nil {
			return nil, err
		}
	}

	for idx := range mrs {
		i, err := g.cached(ctx, issue.NewKey(issue.BackendGitLab, project, strconv.Itoa(mrs[idx].IID), true))
		if err != nil {
			return nil, err
		}
		saved, err := g.store(ctx, i, g.setIssueData(i, &mrs[idx]), result)
		if err != nil {
			return nil, err
		}
		if saved {
			if err := g.saveLinks(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	slog.Info("Imported GitLab page",
		"project", project,
		"page", page,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"estimate", total,
	)
	return result, nil
}

// IsOurWebhook reports whether the delivery carries a GitLab token header
func (g *GitLab) IsOurWebhook(req *WebhookRequest) bool {
	return req.Header.Get("X-Gitlab-Token") != ""
}

// ValidateWebhook compares the X-Gitlab-Token header with the project's secrets
func (g *GitLab) ValidateWebhook(ctx context.Context, req *WebhookRequest) *RequestResult {
	var event gitlabEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return &RequestResult{StatusCode: http.StatusBadRequest, Message: "invalid webhook payload"}
	}

	token := req.Header.Get("X-Gitlab-Token")
	return g.validateSecret(ctx, event.Project.PathWithNamespace, func(secrets []string) bool {
		return tokenMatches(token, secrets)
	})
}

// HandleWebhook refreshes the issue or merge request named by the event
func (g *GitLab) HandleWebhook(ctx context.Context, req *WebhookRequest) RequestResult {
	var event gitlabEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return RequestResult{StatusCode: http.StatusBadRequest, Message: "invalid webhook payload"}
	}

	eventType := event.EventType
	if eventType == "" {
		eventType = event.ObjectKind
	}
	if eventType != "issue" && eventType != "merge_request" {
		return NewRequestResult(http.StatusNotAcceptable, "Invalid event type: %s", eventType)
	}
	if event.ObjectAttributes.IID <= 0 {
		return RequestResult{StatusCode: http.StatusBadRequest, Message: "webhook payload names no issue"}
	}

	key := issue.NewKey(
		issue.BackendGitLab,
		event.Project.PathWithNamespace,
		strconv.Itoa(event.ObjectAttributes.IID),
		eventType == "merge_request",
	)
	return g.refresh(ctx, g, key)
}
