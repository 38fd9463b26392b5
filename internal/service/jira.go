package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"

	"issuelinks/internal/client"
	"issuelinks/internal/config"
	"issuelinks/internal/issue"
	"issuelinks/internal/pagination"
	"issuelinks/internal/repository"
)

// jiraFields is the field list requested for every issue
const jiraFields = "summary,description,status,issuetype,updated,duedate,labels,fixVersions,assignee"

var jiraKeyPattern = regexp.MustCompile(`^([A-Z][A-Z0-9]*)-([1-9]\d*)$`)

// jiraTypeRules also matches Jira issue type names
var jiraTypeRules = issue.TypeRules{
	Bug:         []string{"bug"},
	Improvement: []string{"improvement", "enhancement"},
	Story:       []string{"story", "feature", "new feature"},
}

// Jira implements Service against the Jira REST API v2. Jira has no merge
// requests; its projects are keyed like ABC and issues like ABC-123.
type Jira struct {
	base
	cfg config.JiraConfig
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string   `json:"summary"`
		Description string   `json:"description"`
		Updated     string   `json:"updated"`
		DueDate     string   `json:"duedate"`
		Labels      []string `json:"labels"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		FixVersions []struct {
			Name string `json:"name"`
		} `json:"fixVersions"`
		Assignee *struct {
			DisplayName string            `json:"displayName"`
			AvatarURLs  map[string]string `json:"avatarUrls"`
		} `json:"assignee"`
	} `json:"fields"`
}

type jiraHook struct {
	Self    string            `json:"self"`
	URL     string            `json:"url"`
	Enabled bool              `json:"enabled"`
	Events  []string          `json:"events"`
	Filters map[string]string `json:"filters"`
}

type jiraEvent struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key string `json:"key"`
	} `json:"issue"`
}

// NewJira creates the Jira backend
func NewJira(cfg *config.Config, sender client.Sender, storage repository.StorageRepository) *Jira {
	return &Jira{
		base: newBase(issue.BackendJira, sender, storage, cfg.WebhookURL),
		cfg:  cfg.Jira,
	}
}

type jiraSettings struct {
	url, user, token string
}

func (j *Jira) settings(ctx context.Context) (jiraSettings, error) {
	var s jiraSettings
	var err error
	if s.url, err = j.setting(ctx, j.cfg.URL, "jira_url"); err != nil {
		return s, err
	}
	if s.user, err = j.setting(ctx, j.cfg.User, "jira_user"); err != nil {
		return s, err
	}
	if s.token, err = j.setting(ctx, j.cfg.Token, "jira_token"); err != nil {
		return s, err
	}

	s.url = strings.TrimRight(s.url, "/")
	if s.url != "" {
		j.rememberSiteURL(s.url)
	}
	return s, nil
}

func jiraAuthHeader(user, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+token))
}

// request calls endpoint below the site URL and decodes the response into out
func (j *Jira) request(ctx context.Context, method, endpoint string, body, out interface{}) (*client.Response, error) {
	s, err := j.settings(ctx)
	if err != nil {
		return nil, err
	}
	if s.url == "" || s.user == "" || s.token == "" {
		return nil, fmt.Errorf("jira: %w", ErrNotConfigured)
	}

	return j.send(ctx, client.Request{
		Method: method,
		URL:    s.url + endpoint,
		Header: http.Header{"Authorization": []string{jiraAuthHeader(s.user, s.token)}},
		Body:   body,
	}, out)
}

// IsConfigured checks the credentials against /myself
func (j *Jira) IsConfigured(ctx context.Context) bool {
	s, err := j.settings(ctx)
	if err != nil {
		return j.setConfigError(err.Error())
	}
	switch {
	case s.url == "":
		return j.setConfigError("Jira URL not set!")
	case s.user == "":
		return j.setConfigError("Jira user is missing!")
	case s.token == "":
		return j.setConfigError("Authentication token is missing!")
	}

	var user struct {
		DisplayName string `json:"displayName"`
		AccountID   string `json:"accountId"`
	}
	if _, err := j.request(ctx, http.MethodGet, "/rest/api/2/myself", nil, &user); err != nil {
		return j.setConfigError("The Jira authentication failed with message: " + hookError(err).Message)
	}

	profile := s.url + "/jira/people/" + user.AccountID
	return j.setUser(fmt.Sprintf("%s (%s)", user.DisplayName, profile))
}

// GetListOfAllUserOrganisations returns the site host, Jira's only organisation level
func (j *Jira) GetListOfAllUserOrganisations(ctx context.Context) ([]string, error) {
	s, err := j.settings(ctx)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(s.url)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("jira: %w", ErrNotConfigured)
	}
	return []string{u.Host}, nil
}

// GetListOfAllReposAndHooks lists all projects with our hook, if any.
// Jira webhooks are site wide, so they are fetched once and matched by filter.
func (j *Jira) GetListOfAllReposAndHooks(ctx context.Context, organisation string) ([]Repository, error) {
	var projects []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if _, err := j.request(ctx, http.MethodGet, "/rest/api/2/project", nil, &projects); err != nil {
		return nil, fmt.Errorf("failed to list Jira projects of %s: %w", organisation, err)
	}

	var hooks []jiraHook
	_, hookErr := j.request(ctx, http.MethodGet, "/rest/webhooks/1.0/webhook", nil, &hooks)
	if hookErr != nil {
		slog.Warn("Failed to list Jira webhooks", "error", hookErr)
	}

	repos := make([]Repository, 0, len(projects))
	for _, p := range projects {
		repo := Repository{FullName: p.Key, DisplayName: p.Name}
		if hookErr != nil {
			repo.Error = client.StatusCode(hookErr)
		}
		for _, h := range hooks {
			if j.isOurIssueHook(h, p.Key) {
				repo.HookID = path.Base(h.Self)
				break
			}
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func projectFilter(project string) string {
	return "project = " + project
}

// isOurIssueHook matches hooks created by CreateWebhook for project
func (j *Jira) isOurIssueHook(h jiraHook, project string) bool {
	if !h.Enabled || h.URL != j.webhookURL {
		return false
	}
	if h.Filters["issue-related-events-section"] != projectFilter(project) {
		return false
	}
	created, updated := false, false
	for _, e := range h.Events {
		created = created || e == "jira:issue_created"
		updated = updated || e == "jira:issue_updated"
	}
	return created && updated
}

// CreateWebhook registers a site webhook filtered to the project
func (j *Jira) CreateWebhook(ctx context.Context, project string) HookResult {
	secret, failed := j.prepareHook()
	if failed != nil {
		return *failed
	}

	data := map[string]interface{}{
		"name":    "issuelinks " + project,
		"url":     j.webhookURL,
		"events":  []string{"jira:issue_created", "jira:issue_updated"},
		"filters": map[string]string{"issue-related-events-section": projectFilter(project)},
		"enabled": true,
		"secret":  secret,
	}

	var created jiraHook
	resp, err := j.request(ctx, http.MethodPost, "/rest/webhooks/1.0/webhook", data, &created)
	if err != nil {
		slog.Error("Failed to create Jira webhook", "error", err, "project", project)
		return hookError(err)
	}

	return j.commitHook(ctx, project, path.Base(created.Self), secret, resp.StatusCode)
}

// DeleteWebhook removes the hook and its stored secret
func (j *Jira) DeleteWebhook(ctx context.Context, project, hookID string) HookResult {
	resp, err := j.request(ctx, http.MethodDelete, "/rest/webhooks/1.0/webhook/"+url.PathEscape(hookID), nil, nil)
	if err != nil {
		slog.Error("Failed to delete Jira webhook", "error", err, "project", project, "hook_id", hookID)
		return hookError(err)
	}

	return j.forgetHook(ctx, project, hookID, resp.StatusCode)
}

// GetIssueURL returns the browse URL of an issue
func (j *Jira) GetIssueURL(project, number string, _ bool) string {
	return j.knownSiteURL(j.cfg.URL) + "/browse/" + project + "-" + number
}

// ParseIssueSyntax accepts ABC-123 as well as ABC#123
func (j *Jira) ParseIssueSyntax(ctx context.Context, text string) (*issue.Issue, error) {
	if m := jiraKeyPattern.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		return issue.Load(ctx, j.storage, issue.NewKey(issue.BackendJira, m[1], m[2], false))
	}
	return j.parseIssueSyntax(ctx, text)
}

// RetrieveIssue fetches one issue
func (j *Jira) RetrieveIssue(ctx context.Context, i *issue.Issue) error {
	if i.IsMergeRequest() {
		return fmt.Errorf("jira has no merge requests: %s", i.Key)
	}

	var info jiraIssue
	endpoint := "/rest/api/2/issue/" + url.PathEscape(i.Key.Project+"-"+i.Key.Number) + "?fields=" + jiraFields
	if _, err := j.request(ctx, http.MethodGet, endpoint, nil, &info); err != nil {
		return err
	}
	return j.setIssueData(i, &info)
}

// setIssueData normalizes a Jira record into i
func (j *Jira) setIssueData(i *issue.Issue, info *jiraIssue) error {
	f := &info.Fields
	if strings.TrimSpace(f.Summary) == "" {
		return &issue.MappingError{Key: i.Key, Field: "summary"}
	}
	if strings.TrimSpace(f.Status.Name) == "" {
		return &issue.MappingError{Key: i.Key, Field: "status"}
	}

	i.Summary = f.Summary
	i.Description = f.Description
	i.Type = issue.TypeFromLabels(append(slices.Clone(f.Labels), f.IssueType.Name), jiraTypeRules)
	i.Status = f.Status.Name
	i.Updated = parseTime(f.Updated)
	i.SetLabels(f.Labels)
	if len(f.FixVersions) > 0 {
		versions := make([]string, 0, len(f.FixVersions))
		for _, v := range f.FixVersions {
			versions = append(versions, v.Name)
		}
		i.Versions = versions
	}
	if f.DueDate != "" {
		i.DueDate = f.DueDate
	}
	if f.Assignee != nil {
		i.SetAssignee(f.Assignee.DisplayName, f.Assignee.AvatarURLs["48x48"])
	} else {
		i.SetAssignee("", "")
	}
	return nil
}

// RetrieveAllIssues imports one search page. Jira reports the total, which
// becomes the estimate.
func (j *Jira) RetrieveAllIssues(ctx context.Context, project string, cursor int) (*ImportPage, error) {
	query := url.Values{}
	query.Set("jql", fmt.Sprintf("project = %q ORDER BY key ASC", project))
	query.Set("startAt", fmt.Sprint(cursor))
	query.Set("maxResults", fmt.Sprint(pagination.PageSize))
	query.Set("fields", jiraFields)

	var search struct {
		Total  int         `json:"total"`
		Issues []jiraIssue `json:"issues"`
	}
	if _, err := j.request(ctx, http.MethodGet, "/rest/api/2/search?"+query.Encode(), nil, &search); err != nil {
		return nil, fmt.Errorf("failed to search issues of %s: %w", project, err)
	}
	total := pagination.FromTotal(search.Total, len(search.Issues))
	j.setTotal(total)

	result := &ImportPage{
		Fetched:    len(search.Issues),
		NextCursor: cursor + pagination.PageSize,
		Estimate:   total,
		More:       len(search.Issues) > 0 && cursor+len(search.Issues) < search.Total,
	}

	for idx := range search.Issues {
		data := &search.Issues[idx]
		key, number, _ := strings.Cut(data.Key, "-")
		i, err := j.cached(ctx, issue.NewKey(issue.BackendJira, key, number, false))
		if err != nil {
			return nil, err
		}
		if _, err := j.store(ctx, i, j.setIssueData(i, data), result); err != nil {
			return nil, err
		}
	}

	slog.Info("Imported Jira page",
		"project", project,
		"start_at", cursor,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"estimate", total,
	)
	return result, nil
}

// IsOurWebhook reports whether the delivery carries an Atlassian webhook header
func (j *Jira) IsOurWebhook(req *WebhookRequest) bool {
	return req.Header.Get("X-Atlassian-Webhook-Identifier") != ""
}

// ValidateWebhook checks the X-Hub-Signature HMAC against the project's secrets
func (j *Jira) ValidateWebhook(ctx context.Context, req *WebhookRequest) *RequestResult {
	var event jiraEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return &RequestResult{StatusCode: http.StatusBadRequest, Message: "invalid webhook payload"}
	}

	project, _, _ := strings.Cut(event.Issue.Key, "-")
	signature := req.Header.Get("X-Hub-Signature")
	return j.validateSecret(ctx, project, func(secrets []string) bool {
		return signatureMatches(req.Body, signature, secrets)
	})
}

// HandleWebhook refreshes the issue named by the event
func (j *Jira) HandleWebhook(ctx context.Context, req *WebhookRequest) RequestResult {
	var event jiraEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return RequestResult{StatusCode: http.StatusBadRequest, Message: "invalid webhook payload"}
	}

	if event.WebhookEvent != "jira:issue_created" && event.WebhookEvent != "jira:issue_updated" {
		return NewRequestResult(http.StatusNotAcceptable, "Invalid event type: %s", event.WebhookEvent)
	}

	m := jiraKeyPattern.FindStringSubmatch(event.Issue.Key)
	if m == nil {
		return RequestResult{StatusCode: http.StatusBadRequest, Message: "webhook payload names no issue"}
	}
	return j.refresh(ctx, j, issue.NewKey(issue.BackendJira, m[1], m[2], false))
}
