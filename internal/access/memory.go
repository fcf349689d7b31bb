package access

import (
	"context"
	"sync"
	"time"
)

type membershipKey struct {
	email string
	org   string
}

// MemoryStore keeps memberships in process. Organization names are resolved
// through the optional lookup so results match the Postgres join.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[membershipKey]Membership
	orgName func(ctx context.Context, organizationID string) (name, company string)
	now     func() time.Time
}

var _ MembershipStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. orgName may be nil.
func NewMemoryStore(orgName func(ctx context.Context, organizationID string) (string, string)) *MemoryStore {
	return &MemoryStore{
		entries: make(map[membershipKey]Membership),
		orgName: orgName,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) MembershipsForUser(ctx context.Context, email string) ([]Membership, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Membership
	for k, m := range s.entries {
		if k.email != email {
			continue
		}
		if s.orgName != nil {
			m.OrganizationName, m.CompanyName = s.orgName(ctx, m.OrganizationID)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) UpsertMembership(ctx context.Context, email, organizationID string, role Role) (Membership, error) {
	email = NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Membership{
		UserEmail:      email,
		OrganizationID: organizationID,
		Role:           role,
		UpdatedAt:      s.now(),
	}
	s.entries[membershipKey{email: email, org: organizationID}] = m
	if s.orgName != nil {
		m.OrganizationName, m.CompanyName = s.orgName(ctx, organizationID)
	}
	return m, nil
}
