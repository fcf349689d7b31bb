// Package board implements the dashboard operations on top of the row store,
// the access evaluator and the response cache.
//
// Every operation takes the caller email. An empty email is the legacy
// anonymous mode: rows are listed and edited without any membership check.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"turfboard.app/internal/access"
	"turfboard.app/internal/audit"
	"turfboard.app/internal/cache"
	"turfboard.app/internal/events"
	"turfboard.app/internal/ids"
	"turfboard.app/internal/obs"
	"turfboard.app/internal/stats"
	"turfboard.app/internal/turf"
)

// Service is safe for concurrent use.
type Service struct {
	store     turf.Store
	access    *access.Evaluator
	cache     *cache.Cache
	publisher events.Publisher
	now       func() time.Time
}

type Option func(*Service)

func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store turf.Store, evaluator *access.Evaluator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("row store is required")
	}
	if evaluator == nil {
		return nil, errors.New("access evaluator is required")
	}
	s := &Service{
		store:     store,
		access:    evaluator,
		cache:     cache.New(cache.DefaultTTL),
		publisher: events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Listing is a list result plus whether it came from the cache.
type Listing struct {
	Rows   []turf.Login
	Cached bool
}

func (s *Service) allRows(ctx context.Context) ([]turf.Login, bool, error) {
	if rows, ok := s.cache.GetAll(); ok {
		return rows, true, nil
	}
	gen := s.cache.Generation()
	rows, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list logins: %w", err)
	}
	s.cache.PutAll(gen, rows)
	return rows, false, nil
}

// List returns the rows visible to email, optionally narrowed to one organization.
func (s *Service) List(ctx context.Context, email, organizationID string) (Listing, error) {
	rows, cached, err := s.allRows(ctx)
	if err != nil {
		return Listing{}, err
	}
	organizationID = strings.TrimSpace(organizationID)
	if access.NormalizeEmail(email) == "" {
		if organizationID != "" {
			rows = filterByOrg(rows, organizationID)
		}
		return Listing{Rows: rows, Cached: cached}, nil
	}
	grants, err := s.access.Grants(ctx, email)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Rows: grants.FilterRows(rows, organizationID), Cached: cached}, nil
}

func filterByOrg(rows []turf.Login, organizationID string) []turf.Login {
	out := make([]turf.Login, 0, len(rows))
	for _, r := range rows {
		if r.OrgID() == organizationID {
			out = append(out, r)
		}
	}
	return out
}

// Get returns one row. With an identity the caller must be able to view the
// row's organization.
func (s *Service) Get(ctx context.Context, email, slug string) (turf.Login, bool, error) {
	row, cached := s.cache.Get(slug)
	if !cached {
		gen := s.cache.Generation()
		var err error
		row, err = s.store.GetBySlug(ctx, slug)
		if err != nil {
			return turf.Login{}, false, err
		}
		s.cache.Put(gen, row)
	}
	if access.NormalizeEmail(email) == "" {
		return row, cached, nil
	}
	grants, err := s.access.Grants(ctx, email)
	if err != nil {
		return turf.Login{}, false, err
	}
	if row.OrgID() == "" || !grants.CanView(row.OrgID()) {
		return turf.Login{}, false, access.ErrPermissionDenied
	}
	return row, cached, nil
}

// Update sets both counters of slug in one write.
func (s *Service) Update(ctx context.Context, email, slug string, on, off int64) (turf.Login, error) {
	if on < 0 || off < 0 || on > stats.MaxCount || off > stats.MaxCount {
		obs.CounterUpdates.WithLabelValues("invalid").Inc()
		return turf.Login{}, turf.ErrInvalidInput
	}
	if access.NormalizeEmail(email) != "" {
		if err := s.authorizeEdit(ctx, email, slug); err != nil {
			obs.CounterUpdates.WithLabelValues(outcome(err)).Inc()
			return turf.Login{}, err
		}
	}
	row, err := s.store.UpdateCounts(ctx, slug, on, off)
	if err != nil {
		obs.CounterUpdates.WithLabelValues(outcome(err)).Inc()
		return turf.Login{}, err
	}
	s.cache.InvalidateAll()
	obs.CounterUpdates.WithLabelValues("ok").Inc()

	fields := map[string]any{"slug": row.Slug, "on_turf": row.OnCount, "off_turf": row.OffCount}
	_ = audit.LogEvent(ctx, events.TypeLoginUpdated, fields)
	s.publish(ctx, email, events.TypeLoginUpdated, row)
	return row, nil
}

func (s *Service) authorizeEdit(ctx context.Context, email, slug string) error {
	row, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	org := row.OrgID()
	if org == "" {
		return access.ErrPermissionDenied
	}
	grants, err := s.access.Grants(ctx, email)
	if err != nil {
		return err
	}
	if !grants.CanView(org) || !grants.CanEdit(org) {
		return access.ErrPermissionDenied
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, turf.ErrNotFound):
		return "not_found"
	case errors.Is(err, turf.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, access.ErrPermissionDenied):
		return "denied"
	}
	return "error"
}

// Summary aggregates the rows List would return.
func (s *Service) Summary(ctx context.Context, email, organizationID string) (stats.Aggregate, error) {
	listing, err := s.List(ctx, email, organizationID)
	if err != nil {
		return stats.Aggregate{}, err
	}
	return stats.Summarize(listing.Rows), nil
}

// ImportSummary reports a batch import.
type ImportSummary struct {
	Message string              `json:"message"`
	Results []turf.ImportResult `json:"results"`
	Total   int                 `json:"total"`
	Created int                 `json:"created"`
	Exists  int                 `json:"exists"`
	Skipped int                 `json:"skipped"`
}

// Import creates missing logins. Items without a display name are skipped.
func (s *Service) Import(ctx context.Context, email string, items []turf.ImportItem) (ImportSummary, error) {
	if len(items) == 0 {
		return ImportSummary{}, fmt.Errorf("%w: no logins provided", turf.ErrInvalidInput)
	}
	valid := make([]turf.ImportItem, 0, len(items))
	for _, it := range items {
		it.DisplayName = strings.TrimSpace(it.DisplayName)
		if it.DisplayName == "" {
			continue
		}
		valid = append(valid, it)
	}
	sum := ImportSummary{Total: len(items), Skipped: len(items) - len(valid), Results: []turf.ImportResult{}}
	if len(valid) > 0 {
		results, err := s.store.Import(ctx, valid)
		if err != nil {
			return ImportSummary{}, fmt.Errorf("import logins: %w", err)
		}
		s.cache.InvalidateAll()
		sum.Results = results
	}
	for _, r := range sum.Results {
		switch r.Status {
		case turf.ImportCreated:
			sum.Created++
		case turf.ImportExists:
			sum.Exists++
		}
	}
	obs.ImportedLogins.WithLabelValues(string(turf.ImportCreated)).Add(float64(sum.Created))
	obs.ImportedLogins.WithLabelValues(string(turf.ImportExists)).Add(float64(sum.Exists))
	sum.Message = fmt.Sprintf("import finished: %d created, %d already existed", sum.Created, sum.Exists)
	if sum.Skipped > 0 {
		sum.Message += fmt.Sprintf(", %d skipped", sum.Skipped)
	}

	_ = audit.LogEvent(ctx, events.TypeLoginsImported, map[string]any{
		"total": sum.Total, "created": sum.Created, "exists": sum.Exists, "skipped": sum.Skipped,
	})
	if sum.Created > 0 {
		s.publish(ctx, email, events.TypeLoginsImported, sum)
	}
	return sum, nil
}

// Organizations lists every organization for anonymous callers, otherwise
// only those the caller belongs to.
func (s *Service) Organizations(ctx context.Context, email string) ([]turf.Organization, error) {
	orgs, err := s.store.Organizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	if access.NormalizeEmail(email) == "" {
		return orgs, nil
	}
	grants, err := s.access.Grants(ctx, email)
	if err != nil {
		return nil, err
	}
	out := make([]turf.Organization, 0, len(orgs))
	for _, o := range orgs {
		if grants.RoleIn(o.ID) != access.RoleNone {
			out = append(out, o)
		}
	}
	return out, nil
}

// UserOrganizations lists the memberships of email ordered by organization name.
func (s *Service) UserOrganizations(ctx context.Context, email string) ([]access.Membership, error) {
	return s.access.OrganizationsFor(ctx, email)
}

// Grant gives email role inside an existing organization.
func (s *Service) Grant(ctx context.Context, email, organizationID string, role access.Role) (access.Membership, error) {
	orgs, err := s.store.Organizations(ctx)
	if err != nil {
		return access.Membership{}, fmt.Errorf("list organizations: %w", err)
	}
	found := false
	for _, o := range orgs {
		if o.ID == organizationID {
			found = true
			break
		}
	}
	if !found {
		return access.Membership{}, fmt.Errorf("organization %s: %w", organizationID, turf.ErrNotFound)
	}
	m, err := s.access.Grant(ctx, email, organizationID, role)
	if err != nil {
		return access.Membership{}, err
	}
	_ = audit.LogEvent(ctx, "membership.granted", map[string]any{
		"user_email": m.UserEmail, "organization_id": m.OrganizationID, "role": m.Role.String(),
	})
	return m, nil
}

func (s *Service) publish(ctx context.Context, email, typ string, data any) {
	ev := events.Event{
		ID:         ids.New(),
		Type:       typ,
		OccurredAt: s.now(),
		UserEmail:  access.NormalizeEmail(email),
		RequestID:  audit.RequestIDFromContext(ctx),
		Data:       data,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		obs.Error("event publish failed", err, map[string]any{"event": typ, "request_id": ev.RequestID})
	}
}
