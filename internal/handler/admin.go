package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"issuelinks/internal/client"
	"issuelinks/internal/issue"
	"issuelinks/internal/repository"
	"issuelinks/internal/service"
	"issuelinks/internal/xref"
)

// StatusResponse reports whether a backend's credentials work
type StatusResponse struct {
	Backend    string `json:"backend"`
	Configured bool   `json:"configured"`
	User       string `json:"user,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IssueResponse is a resolved issue with its web URL and stored references
type IssueResponse struct {
	Issue *issue.Issue     `json:"issue"`
	URL   string           `json:"url"`
	Links []xref.Reference `json:"links"`
}

// AdminHandler serves the operator endpoints under /admin/{backend}
type AdminHandler struct {
	services ServiceLocator
	importer BulkImporter
	issues   repository.IssueStore
	writer   ResponseWriter
}

// NewAdminHandler creates a new admin handler instance
func NewAdminHandler(services ServiceLocator, importer BulkImporter, issues repository.IssueStore, writer ResponseWriter) *AdminHandler {
	return &AdminHandler{
		services: services,
		importer: importer,
		issues:   issues,
		writer:   writer,
	}
}

// Register mounts the admin endpoints on mux, each wrapped by wrap
func (h *AdminHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"GET /admin/{backend}/status":   h.HandleStatus,
		"GET /admin/{backend}/orgs":     h.HandleOrganisations,
		"GET /admin/{backend}/repos":    h.HandleRepositories,
		"POST /admin/{backend}/hooks":   h.HandleCreateHook,
		"DELETE /admin/{backend}/hooks": h.HandleDeleteHook,
		"POST /admin/{backend}/import":  h.HandleImport,
		"GET /admin/{backend}/issue":    h.HandleIssue,
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, wrap(handler))
	}
}

// HandleStatus checks the backend credentials
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	configured := svc.IsConfigured(r.Context())
	_ = h.writer.WriteJSON(w, http.StatusOK, StatusResponse{
		Backend:    string(svc.Backend()),
		Configured: configured,
		User:       svc.UserString(),
		Error:      svc.ConfigError(),
	})
}

// HandleOrganisations lists the organisations of the authenticated user
func (h *AdminHandler) HandleOrganisations(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	orgs, err := svc.GetListOfAllUserOrganisations(r.Context())
	if err != nil {
		h.fail(w, svc, "list organisations", err)
		return
	}
	_ = h.writer.WriteJSON(w, http.StatusOK, orgs)
}

// HandleRepositories lists the projects of an organisation and our hook state
func (h *AdminHandler) HandleRepositories(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	org, ok := h.required(w, r, "org")
	if !ok {
		return
	}

	repos, err := svc.GetListOfAllReposAndHooks(r.Context(), org)
	if err != nil {
		h.fail(w, svc, "list repositories", err)
		return
	}
	_ = h.writer.WriteJSON(w, http.StatusOK, repos)
}

// HandleCreateHook registers our webhook on a project
func (h *AdminHandler) HandleCreateHook(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	project, ok := h.required(w, r, "project")
	if !ok {
		return
	}

	result := svc.CreateWebhook(r.Context(), project)
	_ = h.writer.WriteJSON(w, result.StatusCode, result)
}

// HandleDeleteHook removes our webhook from a project
func (h *AdminHandler) HandleDeleteHook(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	project, ok := h.required(w, r, "project")
	if !ok {
		return
	}
	hookID, ok := h.required(w, r, "hook")
	if !ok {
		return
	}

	result := svc.DeleteWebhook(r.Context(), project, hookID)
	_ = h.writer.WriteJSON(w, result.StatusCode, result)
}

// HandleImport imports a project. With a cursor parameter only that page is
// imported; without one the import runs to completion from the stored cursor.
func (h *AdminHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	project, ok := h.required(w, r, "project")
	if !ok {
		return
	}

	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor, err := strconv.Atoi(raw)
		if err != nil || cursor < 0 {
			_ = h.writer.WriteError(w, "Invalid cursor: "+raw, http.StatusBadRequest)
			return
		}

		page, err := svc.RetrieveAllIssues(r.Context(), project, cursor)
		if err != nil {
			h.fail(w, svc, "import page", err)
			return
		}
		_ = h.writer.WriteJSON(w, http.StatusOK, page)
		return
	}

	result, err := h.importer.Import(r.Context(), svc, project, nil)
	if err != nil {
		h.fail(w, svc, "import project", err)
		return
	}
	_ = h.writer.WriteJSON(w, http.StatusOK, result)
}

// HandleIssue resolves an issue reference in any form the backend accepts,
// such as group/project#12 or a Jira key like ABC-123
func (h *AdminHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	ref, ok := h.required(w, r, "ref")
	if !ok {
		return
	}

	i, err := svc.ParseIssueSyntax(r.Context(), ref)
	if errors.Is(err, issue.ErrInvalidSyntax) {
		_ = h.writer.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.fail(w, svc, "load issue", err)
		return
	}

	if err := issue.Resolve(r.Context(), h.issues, svc, i); err != nil {
		h.fail(w, svc, "resolve issue", err)
		return
	}

	key := i.Key
	links, err := h.issues.GetIssueLinks(r.Context(), key)
	if err != nil {
		h.fail(w, svc, "load issue links", err)
		return
	}

	_ = h.writer.WriteJSON(w, http.StatusOK, IssueResponse{
		Issue: i,
		URL:   svc.GetIssueURL(key.Project, key.Number, key.IsMergeRequest),
		Links: links,
	})
}

// service looks up the backend named in the path
func (h *AdminHandler) service(w http.ResponseWriter, r *http.Request) (service.Service, bool) {
	backend := r.PathValue("backend")
	svc, err := h.services.Get(issue.Backend(backend))
	if err != nil {
		_ = h.writer.WriteError(w, "Unknown backend: "+backend, http.StatusNotFound)
		return nil, false
	}
	return svc, true
}

func (h *AdminHandler) required(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		_ = h.writer.WriteError(w, "Missing query parameter: "+name, http.StatusBadRequest)
		return "", false
	}
	return value, true
}

func (h *AdminHandler) fail(w http.ResponseWriter, svc service.Service, action string, err error) {
	status := errorStatus(err)
	slog.Error("Admin request failed", "error", err, "service", svc.Backend(), "action", action, "status", status)
	_ = h.writer.WriteError(w, err.Error(), status)
}

// errorStatus maps a service error to the status answered to the operator
func errorStatus(err error) int {
	var tErr *client.TransportError
	var mapErr *issue.MappingError
	switch {
	case errors.As(err, &tErr):
		return tErr.StatusCode
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &mapErr), errors.Is(err, issue.ErrInvalidIssue):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
