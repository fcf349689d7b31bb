package turf

import (
	"context"
	"errors"
	"time"

	"turfboard.app/internal/stats"
)

// Login is one row of the dashboard: a named login with its two counters.
type Login struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"login"`
	Slug             string    `json:"slug"`
	OnCount          int64     `json:"onTurf"`
	OffCount         int64     `json:"offTurf"`
	OrganizationID   *string   `json:"organizationId,omitempty"`
	OrganizationName string    `json:"organizationName,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Counters implements stats.Counts.
func (l Login) Counters() (int64, int64) { return l.OnCount, l.OffCount }

// Stats derives the row statistics.
func (l Login) Stats() stats.Stats { return stats.Compute(l.OnCount, l.OffCount) }

// OrgID returns the organization reference or "" when the row has none.
func (l Login) OrgID() string {
	if l.OrganizationID == nil {
		return ""
	}
	return *l.OrganizationID
}

// Organization groups logins; creation happens outside the dashboard.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CompanyName string    `json:"companyName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ImportItem is one entry of a batch import.
type ImportItem struct {
	DisplayName    string  `json:"login"`
	OnCount        int64   `json:"onTurf"`
	OffCount       int64   `json:"offTurf"`
	OrganizationID *string `json:"organizationId,omitempty"`
}

// ImportStatus reports what happened to a single import item.
type ImportStatus string

const (
	ImportCreated ImportStatus = "created"
	ImportExists  ImportStatus = "exists"
)

// ImportResult is the per-item outcome of an import.
type ImportResult struct {
	DisplayName string       `json:"login"`
	Status      ImportStatus `json:"status"`
	ID          string       `json:"id"`
	Slug        string       `json:"slug,omitempty"`
}

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid values")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the row store behind the dashboard.
type Store interface {
	// ListAll returns every login ordered by display name, then slug, comparing
	// bytes so every backend agrees on mixed-case names.
	ListAll(ctx context.Context) ([]Login, error)
	GetBySlug(ctx context.Context, slug string) (Login, error)
	// UpdateCounts atomically sets both counters and refreshes UpdatedAt.
	UpdateCounts(ctx context.Context, slug string, on, off int64) (Login, error)
	// CreateFromImport is idempotent on DisplayName.
	CreateFromImport(ctx context.Context, item ImportItem) (ImportResult, error)
	// Import applies CreateFromImport to every item, all-or-nothing.
	Import(ctx context.Context, items []ImportItem) ([]ImportResult, error)

	Organizations(ctx context.Context) ([]Organization, error)
	EnsureOrganization(ctx context.Context, name, companyName string) (Organization, error)
}
