package service

import (
	"fmt"

	"issuelinks/internal/client"
	"issuelinks/internal/config"
	"issuelinks/internal/issue"
	"issuelinks/internal/repository"
)

// Registry holds one Service per backend in a fixed order
type Registry struct {
	services []Service
}

// NewRegistry builds the GitLab, GitHub and Jira backends
func NewRegistry(cfg *config.Config, sender client.Sender, storage repository.StorageRepository) *Registry {
	return NewRegistryOf(
		NewGitLab(cfg, sender, storage),
		NewGitHub(cfg, sender, storage),
		NewJira(cfg, sender, storage),
	)
}

// NewRegistryOf builds a registry from explicit services
func NewRegistryOf(services ...Service) *Registry {
	return &Registry{services: services}
}

// All returns the services in registration order
func (r *Registry) All() []Service {
	return r.services
}

// Get returns the service of a backend
func (r *Registry) Get(backend issue.Backend) (Service, error) {
	for _, s := range r.services {
		if s.Backend() == backend {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}
