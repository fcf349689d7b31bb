package turf

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"turfboard.app/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// development server and the HTTP tests.
type InMemory struct {
	mu     sync.RWMutex
	rows   map[string]*Login // slug -> login
	byName map[string]string // display name -> slug
	orgs   map[string]Organization
	now    func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		rows:   make(map[string]*Login),
		byName: make(map[string]string),
		orgs:   make(map[string]Organization),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) ListAll(ctx context.Context) ([]Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Login, 0, len(s.rows))
	for _, l := range s.rows {
		out = append(out, s.withOrgLocked(*l))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].Slug < out[j].Slug
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out, nil
}

func (s *InMemory) GetBySlug(ctx context.Context, slug string) (Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.rows[slug]
	if !ok {
		return Login{}, ErrNotFound
	}
	return s.withOrgLocked(*l), nil
}

func (s *InMemory) UpdateCounts(ctx context.Context, slug string, on, off int64) (Login, error) {
	if on < 0 || off < 0 {
		return Login{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[slug]
	if !ok {
		return Login{}, ErrNotFound
	}
	l.OnCount = on
	l.OffCount = off
	// UpdatedAt must move forward even when the clock has not.
	now := s.now()
	if !now.After(l.UpdatedAt) {
		now = l.UpdatedAt.Add(time.Microsecond)
	}
	l.UpdatedAt = now
	return s.withOrgLocked(*l), nil
}

func (s *InMemory) CreateFromImport(ctx context.Context, item ImportItem) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(item)
}

func (s *InMemory) Import(ctx context.Context, items []ImportItem) ([]ImportResult, error) {
	for i, item := range items {
		if strings.TrimSpace(item.DisplayName) == "" {
			return nil, fmt.Errorf("%w: item %d has no login", ErrInvalidInput, i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]ImportResult, 0, len(items))
	for _, item := range items {
		res, err := s.createLocked(item)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *InMemory) createLocked(item ImportItem) (ImportResult, error) {
	name := strings.TrimSpace(item.DisplayName)
	if name == "" {
		return ImportResult{}, fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	if slug, ok := s.byName[name]; ok {
		return ImportResult{DisplayName: name, Status: ImportExists, ID: s.rows[slug].ID, Slug: slug}, nil
	}
	slug := ids.Slug(name)
	for _, taken := s.rows[slug]; taken; _, taken = s.rows[slug] {
		slug = ids.Slug(name)
	}
	l := &Login{
		ID:          ids.New(),
		DisplayName: name,
		Slug:        slug,
		OnCount:     max(item.OnCount, 0),
		OffCount:    max(item.OffCount, 0),
		UpdatedAt:   s.now(),
	}
	if item.OrganizationID != nil && *item.OrganizationID != "" {
		org := *item.OrganizationID
		l.OrganizationID = &org
	}
	s.rows[slug] = l
	s.byName[name] = slug
	return ImportResult{DisplayName: name, Status: ImportCreated, ID: l.ID, Slug: slug}, nil
}

func (s *InMemory) Organizations(ctx context.Context) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) EnsureOrganization(ctx context.Context, name, companyName string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orgs {
		if o.Name == name {
			return o, nil
		}
	}
	org := Organization{ID: ids.New(), Name: name, CompanyName: strings.TrimSpace(companyName), CreatedAt: s.now()}
	s.orgs[org.ID] = org
	return org, nil
}

// AssignOrganization moves a login into an organization. Used for seeding.
func (s *InMemory) AssignOrganization(slug, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[slug]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.orgs[orgID]; !ok {
		return ErrNotFound
	}
	l.OrganizationID = &orgID
	return nil
}

func (s *InMemory) withOrgLocked(l Login) Login {
	if l.OrganizationID != nil {
		org := *l.OrganizationID
		l.OrganizationID = &org
		l.OrganizationName = s.orgs[org].Name
	}
	return l
}
