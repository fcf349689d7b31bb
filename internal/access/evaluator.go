// Package access decides which organizations, and therefore which dashboard
// rows, a user may see or edit.
//
// Visibility follows two rules: a user sees organizations they belong to, and a
// user holding admin in any organization may view every organization. Editing
// never uses the second rule; it needs at least vendor inside the target
// organization itself.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"turfboard.app/internal/turf"
)

// Membership grants a user a role inside one organization.
type Membership struct {
	UserEmail        string    `json:"userEmail"`
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	CompanyName      string    `json:"companyName,omitempty"`
	Role             Role      `json:"role"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// MembershipStore persists memberships, unique per (email, organization).
type MembershipStore interface {
	MembershipsForUser(ctx context.Context, email string) ([]Membership, error)
	// UpsertMembership replaces the role of an existing pair and bumps UpdatedAt.
	UpsertMembership(ctx context.Context, email, organizationID string, role Role) (Membership, error)
}

// NormalizeEmail is applied to every email before it reaches a store.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Grants is the resolved set of memberships for one user.
type Grants struct {
	Email         string
	Memberships   []Membership
	roles         map[string]Role
	adminAnywhere bool
}

// NewGrants indexes memberships for fast checks.
func NewGrants(email string, memberships []Membership) Grants {
	g := Grants{
		Email:       NormalizeEmail(email),
		Memberships: memberships,
		roles:       make(map[string]Role, len(memberships)),
	}
	for _, m := range memberships {
		if m.Role > g.roles[m.OrganizationID] {
			g.roles[m.OrganizationID] = m.Role
		}
		if m.Role == RoleAdmin {
			g.adminAnywhere = true
		}
	}
	return g
}

// RoleIn returns the user's own role in organizationID, RoleNone if absent.
func (g Grants) RoleIn(organizationID string) Role {
	return g.roles[organizationID]
}

// AdminAnywhere reports whether the user is admin in at least one organization.
func (g Grants) AdminAnywhere() bool { return g.adminAnywhere }

// CanView: direct membership, or admin in any organization.
func (g Grants) CanView(organizationID string) bool {
	if _, ok := g.roles[organizationID]; ok {
		return true
	}
	return g.adminAnywhere
}

// CanEdit requires CanView and at least vendor inside organizationID itself.
func (g Grants) CanEdit(organizationID string) bool {
	return g.CanView(organizationID) && g.roles[organizationID].AtLeast(RoleVendor)
}

// OrganizationIDs returns the organizations where the user holds at least min.
func (g Grants) OrganizationIDs(min Role) map[string]struct{} {
	set := make(map[string]struct{}, len(g.roles))
	for id, r := range g.roles {
		if r.AtLeast(min) {
			set[id] = struct{}{}
		}
	}
	return set
}

// FilterRows keeps rows whose organization is in the user's own membership set.
// A non-empty organizationFilter must additionally pass CanView; when it does
// not, the result is empty rather than an error.
func (g Grants) FilterRows(rows []turf.Login, organizationFilter string) []turf.Login {
	if len(g.roles) == 0 {
		return []turf.Login{}
	}
	if organizationFilter != "" && !g.CanView(organizationFilter) {
		return []turf.Login{}
	}
	out := make([]turf.Login, 0, len(rows))
	for _, row := range rows {
		org := row.OrgID()
		if org == "" {
			continue
		}
		if _, ok := g.roles[org]; !ok {
			continue
		}
		if organizationFilter != "" && org != organizationFilter {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Evaluator answers access questions against a MembershipStore.
type Evaluator struct {
	store MembershipStore
}

func NewEvaluator(store MembershipStore) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("membership store is required")
	}
	return &Evaluator{store: store}, nil
}

// Grants loads every membership of email.
func (e *Evaluator) Grants(ctx context.Context, email string) (Grants, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Grants{}, ErrIdentityRequired
	}
	memberships, err := e.store.MembershipsForUser(ctx, email)
	if err != nil {
		return Grants{}, fmt.Errorf("load memberships: %w", err)
	}
	return NewGrants(email, memberships), nil
}

// OrganizationsFor lists the user's memberships ordered by organization name.
func (e *Evaluator) OrganizationsFor(ctx context.Context, email string) ([]Membership, error) {
	g, err := e.Grants(ctx, email)
	if err != nil {
		return nil, err
	}
	out := append([]Membership(nil), g.Memberships...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrganizationName < out[j].OrganizationName })
	return out, nil
}

// OrganizationIDsWithMinRole returns an empty set for users without memberships.
func (e *Evaluator) OrganizationIDsWithMinRole(ctx context.Context, email string, min Role) (map[string]struct{}, error) {
	g, err := e.Grants(ctx, email)
	if err != nil {
		return nil, err
	}
	return g.OrganizationIDs(min), nil
}

func (e *Evaluator) CanView(ctx context.Context, email, organizationID string) (bool, error) {
	g, err := e.Grants(ctx, email)
	if err != nil {
		return false, err
	}
	return g.CanView(organizationID), nil
}

func (e *Evaluator) CanEdit(ctx context.Context, email, organizationID string) (bool, error) {
	g, err := e.Grants(ctx, email)
	if err != nil {
		return false, err
	}
	return g.CanEdit(organizationID), nil
}

// AccessibleRows narrows rows to what email may see. See Grants.FilterRows.
func (e *Evaluator) AccessibleRows(ctx context.Context, email, organizationFilter string, rows []turf.Login) ([]turf.Login, error) {
	g, err := e.Grants(ctx, email)
	if err != nil {
		return nil, err
	}
	return g.FilterRows(rows, organizationFilter), nil
}

// Grant upserts a membership.
func (e *Evaluator) Grant(ctx context.Context, email, organizationID string, role Role) (Membership, error) {
	email = NormalizeEmail(email)
	organizationID = strings.TrimSpace(organizationID)
	if email == "" || !strings.Contains(email, "@") {
		return Membership{}, fmt.Errorf("%w: valid email is required", ErrInvalidMembership)
	}
	if organizationID == "" {
		return Membership{}, fmt.Errorf("%w: organization_id is required", ErrInvalidMembership)
	}
	if !role.Valid() {
		return Membership{}, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	return e.store.UpsertMembership(ctx, email, organizationID, role)
}
