package service

import (
	"context"
	"sync"

	"github.com/governed-io/governed/internal/domain/policy"
	"github.com/governed-io/governed/internal/domain/template"
)

// TemplateService is the in-memory store of reusable policy templates
// (spec §4.3), wrapping template.Resolve to derive concrete manifests
// and handing the result to the orchestrator for registration.
type TemplateService struct {
	mu          sync.Mutex
	templates   map[string]*template.Template
	orchestrator *UpdateOrchestratorService
}

// NewTemplateService creates an empty template store bound to an
// orchestrator for derived-policy registration.
func NewTemplateService(orchestrator *UpdateOrchestratorService) *TemplateService {
	return &TemplateService{
		templates:    make(map[string]*template.Template),
		orchestrator: orchestrator,
	}
}

// CreateTemplate validates and stores a template.
func (s *TemplateService) CreateTemplate(t template.Template) (string, error) {
	if errs := template.Validate(t); len(errs) > 0 {
		return "", errs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := t
	s.templates[t.ID] = &stored
	return t.ID, nil
}

// GetTemplate returns the template for id, or ErrNotFound.
func (s *TemplateService) GetTemplate(id string) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return template.Template{}, &policy.NotFoundError{Kind: "template", ID: id}
	}
	return *t, nil
}

// ListTemplates returns every stored template.
func (s *TemplateService) ListTemplates() []template.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]template.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, *t)
	}
	return out
}

// RemoveTemplate deletes a template, failing with template.ErrInUse if
// any policy still derives from it (spec §8 invariant 9).
func (s *TemplateService) RemoveTemplate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return &policy.NotFoundError{Kind: "template", ID: id}
	}
	if !t.CanRemove() {
		return template.ErrInUse
	}
	delete(s.templates, id)
	return nil
}

// DeriveAndRegister resolves a concrete manifest from a template via
// the given inheritance directives, then registers it through the
// orchestrator under the immediate rollout strategy.
func (s *TemplateService) DeriveAndRegister(ctx context.Context, id, name, version string, inh template.Inheritance) (string, error) {
	s.mu.Lock()
	t, ok := s.templates[inh.TemplateID]
	s.mu.Unlock()
	if !ok {
		return "", &policy.NotFoundError{Kind: "template", ID: inh.TemplateID}
	}

	m, err := template.Resolve(t, id, name, version, inh)
	if err != nil {
		return "", err
	}
	return s.orchestrator.CreatePolicy(ctx, m)
}
