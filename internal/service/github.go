package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"issuelinks/internal/client"
	"issuelinks/internal/config"
	"issuelinks/internal/issue"
	"issuelinks/internal/pagination"
	"issuelinks/internal/repository"
)

// GitHub implements Service against the GitHub REST API v3. Pull requests
// are the merge requests of this backend.
type GitHub struct {
	base
	cfg       config.GitHubConfig
	typeRules issue.TypeRules
}

type githubLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// githubIssue is an issue as returned by the issues API, pull requests included
type githubIssue struct {
	Number    int           `json:"number"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	State     string        `json:"state"`
	UpdatedAt string        `json:"updated_at"`
	Labels    []githubLabel `json:"labels"`
	Milestone *struct {
		Title string `json:"title"`
		DueOn string `json:"due_on"`
	} `json:"milestone"`
	Assignee *struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"assignee"`
	PullRequest json.RawMessage `json:"pull_request"`
}

func (gi *githubIssue) isPullRequest() bool {
	return len(gi.PullRequest) > 0 && string(gi.PullRequest) != "null"
}

type githubHook struct {
	ID     int      `json:"id"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
	Config struct {
		URL         string      `json:"url"`
		ContentType string      `json:"content_type"`
		InsecureSSL interface{} `json:"insecure_ssl"`
	} `json:"config"`
}

type githubEvent struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue *struct {
		Number      int             `json:"number"`
		PullRequest json.RawMessage `json:"pull_request"`
	} `json:"issue"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
}

// NewGitHub creates the GitHub backend
func NewGitHub(cfg *config.Config, sender client.Sender, storage repository.StorageRepository) *GitHub {
	return &GitHub{
		base:      newBase(issue.BackendGitHub, sender, storage, cfg.WebhookURL),
		cfg:       cfg.GitHub,
		typeRules: issue.DefaultTypeRules,
	}
}

func (g *GitHub) token(ctx context.Context) (string, error) {
	return g.setting(ctx, g.cfg.Token, "github_token")
}

// request calls endpoint below the API URL and decodes the response into out
func (g *GitHub) request(ctx context.Context, method, endpoint string, body, out interface{}) (*client.Response, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("github: %w", ErrNotConfigured)
	}

	return g.send(ctx, client.Request{
		Method: method,
		URL:    g.cfg.APIURL + endpoint,
		Header: http.Header{
			"Authorization": []string{"token " + token},
			"Accept":        []string{"application/vnd.github.v3+json"},
		},
		Body: body,
	}, out)
}

func repoPath(project string) string {
	owner, name, _ := strings.Cut(project, "/")
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

// IsConfigured checks the token against /user
func (g *GitHub) IsConfigured(ctx context.Context) bool {
	token, err := g.token(ctx)
	if err != nil {
		return g.setConfigError(err.Error())
	}
	if token == "" {
		return g.setConfigError("Authentication token is missing!")
	}

	var user struct {
		Login   string `json:"login"`
		HTMLURL string `json:"html_url"`
	}
	if _, err := g.request(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return g.setConfigError("The GitHub authentication failed with message: " + hookError(err).Message)
	}

	return g.setUser(fmt.Sprintf("%s (%s)", user.Login, user.HTMLURL))
}

// GetListOfAllUserOrganisations lists the user's organisations and the user itself
func (g *GitHub) GetListOfAllUserOrganisations(ctx context.Context) ([]string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if _, err := g.request(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return nil, fmt.Errorf("failed to load GitHub user: %w", err)
	}

	var orgs []struct {
		Login string `json:"login"`
	}
	if _, err := g.request(ctx, http.MethodGet, "/user/orgs?per_page=100", nil, &orgs); err != nil {
		return nil, fmt.Errorf("failed to list GitHub organisations: %w", err)
	}

	names := []string{user.Login}
	for _, org := range orgs {
		names = append(names, org.Login)
	}
	return sortedUnique(names), nil
}

// reposEndpoint lists private repositories too: the user's own through
// /user/repos, an organisation's through /orgs/{org}/repos?type=all
func (g *GitHub) reposEndpoint(ctx context.Context, organisation string) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if _, err := g.request(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return "", fmt.Errorf("failed to load GitHub user: %w", err)
	}

	if strings.EqualFold(user.Login, organisation) {
		return "/user/repos?affiliation=owner&per_page=100", nil
	}
	return "/orgs/" + url.PathEscape(organisation) + "/repos?type=all&per_page=100", nil
}

// GetListOfAllReposAndHooks lists the repositories of an owner with our hook, if any
func (g *GitHub) GetListOfAllReposAndHooks(ctx context.Context, organisation string) ([]Repository, error) {
	endpoint, err := g.reposEndpoint(ctx, organisation)
	if err != nil {
		return nil, err
	}

	var remote []struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	}
	if _, err := g.request(ctx, http.MethodGet, endpoint, nil, &remote); err != nil {
		return nil, fmt.Errorf("failed to list repositories of %s: %w", organisation, err)
	}

	repos := make([]Repository, 0, len(remote))
	for _, r := range remote {
		repos = append(repos, Repository{FullName: r.FullName, DisplayName: r.Name})
	}

	return lookupHooks(repos, func(repo *Repository) {
		var hooks []githubHook
		if _, err := g.request(ctx, http.MethodGet, repoPath(repo.FullName)+"/hooks?per_page=100", nil, &hooks); err != nil {
			slog.Warn("Failed to list repository hooks", "error", err, "repo", repo.FullName)
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
func (g *GitHub) isOurIssueHook(h githubHook) bool {
	return h.Active &&
		h.Config.URL == g.webhookURL &&
		h.Config.ContentType == "json" &&
		fmt.Sprint(h.Config.InsecureSSL) == "0" &&
		slices.Contains(h.Events, "issues") &&
		slices.Contains(h.Events, "pull_request") &&
		!slices.Contains(h.Events, "push")
}

// CreateWebhook registers an issues and pull_request hook on the repository
func (g *GitHub) CreateWebhook(ctx context.Context, project string) HookResult {
	secret, failed := g.prepareHook()
	if failed != nil {
		return *failed
	}

	data := map[string]interface{}{
		"name":   "web",
		"active": true,
		"events": []string{"issues", "pull_request"},
		"config": map[string]string{
			"url":          g.webhookURL,
			"content_type": "json",
			"insecure_ssl": "0",
			"secret":       secret,
		},
	}

	var created githubHook
	resp, err := g.request(ctx, http.MethodPost, repoPath(project)+"/hooks", data, &created)
	if err != nil {
		slog.Error("Failed to create GitHub webhook", "error", err, "repo", project)
		return hookError(err)
	}

	return g.commitHook(ctx, project, strconv.Itoa(created.ID), secret, resp.StatusCode)
}

// DeleteWebhook removes the hook and its stored secret
func (g *GitHub) DeleteWebhook(ctx context.Context, project, hookID string) HookResult {
	resp, err := g.request(ctx, http.MethodDelete, repoPath(project)+"/hooks/"+url.PathEscape(hookID), nil, nil)
	if err != nil {
		slog.Error("Failed to delete GitHub webhook", "error", err, "repo", project, "hook_id", hookID)
		return hookError(err)
	}

	return g.forgetHook(ctx, project, hookID, resp.StatusCode)
}

// GetIssueURL returns the web URL of an issue or pull request
func (g *GitHub) GetIssueURL(project, number string, isMergeRequest bool) string {
	kind := "/issues/"
	if isMergeRequest {
		kind = "/pull/"
	}
	return g.cfg.WebURL + "/" + project + kind + number
}

// ParseIssueSyntax parses owner/repo#1 or owner/repo!1
func (g *GitHub) ParseIssueSyntax(ctx context.Context, text string) (*issue.Issue, error) {
	return g.parseIssueSyntax(ctx, text)
}

// RetrieveIssue fetches one issue or pull request through the issues API
func (g *GitHub) RetrieveIssue(ctx context.Context, i *issue.Issue) error {
	var info githubIssue
	endpoint := repoPath(i.Key.Project) + "/issues/" + url.PathEscape(i.Key.Number)
	if _, err := g.request(ctx, http.MethodGet, endpoint, nil, &info); err != nil {
		return err
	}
	if err := g.setIssueData(i, &info); err != nil {
		return err
	}

	if i.IsMergeRequest() {
		return g.saveLinks(ctx, i)
	}
	return nil
}

// setIssueData normalizes a GitHub record into i
func (g *GitHub) setIssueData(i *issue.Issue, info *githubIssue) error {
	if strings.TrimSpace(info.Title) == "" {
		return &issue.MappingError{Key: i.Key, Field: "title"}
	}
	if strings.TrimSpace(info.State) == "" {
		return &issue.MappingError{Key: i.Key, Field: "state"}
	}

	names := make([]string, 0, len(info.Labels))
	for _, l := range info.Labels {
		names = append(names, l.Name)
	}

	i.Summary = info.Title
	i.Description = info.Body
	i.Type = issue.TypeFromLabels(names, g.typeRules)
	i.Status = info.State
	i.Updated = parseTime(info.UpdatedAt)
	i.SetLabels(names)
	for _, l := range info.Labels {
		i.SetLabelColor(l.Name, "#"+l.Color)
	}
	if info.Milestone != nil {
		i.Versions = []string{info.Milestone.Title}
		if info.Milestone.DueOn != "" {
			i.DueDate = dateOnly(info.Milestone.DueOn)
		}
	}
	if info.Assignee != nil {
		i.SetAssignee(info.Assignee.Login, info.Assignee.AvatarURL)
	} else {
		i.SetAssignee("", "")
	}
	return nil
}

// RetrieveAllIssues imports one page of issues and pull requests
func (g *GitHub) RetrieveAllIssues(ctx context.Context, project string, cursor int) (*ImportPage, error) {
	page := pagination.PageForCursor(cursor, pagination.PageSize)
	endpoint := fmt.Sprintf("%s/issues?state=all&page=%d&per_page=%d", repoPath(project), page, pagination.PageSize)

	var issues []githubIssue
	resp, err := g.request(ctx, http.MethodGet, endpoint, nil, &issues)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues of %s: %w", project, err)
	}
	total := pagination.Estimate(resp.Header, pagination.PageSize, len(issues))
	g.setTotal(total)

	result := &ImportPage{
		Fetched:    len(issues),
		NextCursor: cursor + pagination.PageSize,
		Estimate:   total,
		More:       len(issues) == pagination.PageSize,
	}

	for idx := range issues {
		data := &issues[idx]
		i, err := g.cached(ctx, issue.NewKey(issue.BackendGitHub, project, strconv.Itoa(data.Number), data.isPullRequest()))
		if err != nil {
			return nil, err
		}
		saved, err := g.store(ctx, i, g.setIssueData(i, data), result)
		if err != nil {
			return nil, err
		}
		if saved && i.IsMergeRequest() {
			if err := g.saveLinks(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	slog.Info("Imported GitHub page",
		"repo", project,
		"page", page,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"estimate", total,
	)
	return result, nil
}

// IsOurWebhook reports whether the delivery carries a GitHub event header
func (g *GitHub) IsOurWebhook(req *WebhookRequest) bool {
	return req.Header.Get("X-GitHub-Event") != ""
}

// ValidateWebhook checks the X-Hub-Signature-256 HMAC against the repository's secrets
func (g *GitHub) ValidateWebhook(ctx context.Context, req *WebhookRequest) *RequestResult {
	var event githubEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return &RequestResult{StatusCode: http.StatusBadRequest, Message: "invalid webhook payload"}
	}

	signature := req.Header.Get("X-Hub-Signature-256")
	return g.validateSecret(ctx, event.Repository.FullName, func(secrets []string) bool {
		return signatureMatches(req.Body, signature, secrets)
	})
}

// HandleWebhook refreshes the issue or pull request named by the event
func (g *GitHub) HandleWebhook(ctx context.Context, req *WebhookRequest) RequestResult {
	eventType := req.Header.Get("X-GitHub-Event")
	if eventType == "ping" {
		return RequestResult{StatusCode: http.StatusAccepted, Message: "pong"}
	}
	if eventType != "issues" && eventType != "pull_request" {
		return NewRequestResult(http.StatusNotAcceptable, "Invalid event type: %s", eventType)
	}

	var event githubEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return RequestResult{StatusCode: http.StatusBadRequest, Message: "invalid webhook payload"}
	}

	var number int
	var isPullRequest bool
	switch {
	case eventType == "pull_request" && event.PullRequest != nil:
		number, isPullRequest = event.PullRequest.Number, true
	case event.Issue != nil:
		pr := event.Issue.PullRequest
		number, isPullRequest = event.Issue.Number, len(pr) > 0 && string(pr) != "null"
	}
	if number <= 0 {
		return RequestResult{StatusCode: http.StatusBadRequest, Message: "webhook payload names no issue"}
	}

	key := issue.NewKey(issue.BackendGitHub, event.Repository.FullName, strconv.Itoa(number), isPullRequest)
	return g.refresh(ctx, g, key)
}
