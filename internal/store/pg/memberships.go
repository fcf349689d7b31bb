package pg

import (
	"context"
	"fmt"

	"turfboard.app/internal/access"
	"turfboard.app/internal/turf"
)

var _ access.MembershipStore = (*Store)(nil)

func (s *Store) MembershipsForUser(ctx context.Context, email string) ([]access.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select uo.user_email, uo.organization_id, o.name, coalesce(o.company_name, ''), uo.role, uo.updated_at
		from user_organizations uo
		join organizations o on o.id = uo.organization_id
		where uo.user_email = $1
		order by o.name collate "C"
	`, access.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertMembership(ctx context.Context, email, organizationID string, role access.Role) (access.Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		with up as (
			insert into user_organizations (user_email, organization_id, role, updated_at)
			values ($1, $2, $3, now())
			on conflict (user_email, organization_id)
			do update set role = excluded.role, updated_at = now()
			returning user_email, organization_id, role, updated_at
		)
		select up.user_email, up.organization_id, o.name, coalesce(o.company_name, ''), up.role, up.updated_at
		from up
		join organizations o on o.id = up.organization_id
	`, access.NormalizeEmail(email), organizationID, role.String()))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return access.Membership{}, fmt.Errorf("organization %s: %w", organizationID, turf.ErrNotFound)
		}
		return access.Membership{}, err
	}
	return m, nil
}

func scanMembership(row scanner) (access.Membership, error) {
	var (
		m    access.Membership
		role string
	)
	if err := row.Scan(&m.UserEmail, &m.OrganizationID, &m.OrganizationName, &m.CompanyName, &role, &m.UpdatedAt); err != nil {
		return access.Membership{}, err
	}
	r, err := access.ParseRole(role)
	if err != nil {
		return access.Membership{}, fmt.Errorf("membership %s/%s: %w", m.UserEmail, m.OrganizationID, err)
	}
	m.Role = r
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}
