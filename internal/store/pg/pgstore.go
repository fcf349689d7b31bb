package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"turfboard.app/internal/ids"
	"turfboard.app/internal/turf"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"

	maxSlugAttempts = 5
)

type Store struct {
	db *sql.DB
}

var _ turf.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const loginColumns = `l.id, l.login, l.slug, l.on_turf, l.off_turf, l.organization_id, coalesce(o.name, ''), l.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLogin(row scanner) (turf.Login, error) {
	var (
		l   turf.Login
		org sql.NullString
	)
	if err := row.Scan(&l.ID, &l.DisplayName, &l.Slug, &l.OnCount, &l.OffCount, &org, &l.OrganizationName, &l.UpdatedAt); err != nil {
		return turf.Login{}, err
	}
	if org.Valid {
		id := org.String
		l.OrganizationID = &id
	}
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

func (s *Store) ListAll(ctx context.Context) ([]turf.Login, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+loginColumns+`
		from logins l
		left join organizations o on o.id = l.organization_id
		order by l.login collate "C", l.slug collate "C"
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []turf.Login{}
	for rows.Next() {
		l, err := scanLogin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (turf.Login, error) {
	l, err := scanLogin(s.db.QueryRowContext(ctx, `
		select `+loginColumns+`
		from logins l
		left join organizations o on o.id = l.organization_id
		where l.slug = $1
	`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return turf.Login{}, turf.ErrNotFound
	}
	if err != nil {
		return turf.Login{}, err
	}
	return l, nil
}

// UpdateCounts writes both counters and updated_at in one statement.
func (s *Store) UpdateCounts(ctx context.Context, slug string, on, off int64) (turf.Login, error) {
	if on < 0 || off < 0 {
		return turf.Login{}, turf.ErrInvalidInput
	}
	l, err := scanLogin(s.db.QueryRowContext(ctx, `
		with l as (
			update logins
			set on_turf = $2, off_turf = $3, updated_at = now()
			where slug = $1
			returning id, login, slug, on_turf, off_turf, organization_id, updated_at
		)
		select `+loginColumns+`
		from l
		left join organizations o on o.id = l.organization_id
	`, slug, on, off))
	if errors.Is(err, sql.ErrNoRows) {
		return turf.Login{}, turf.ErrNotFound
	}
	if err != nil {
		return turf.Login{}, err
	}
	return l, nil
}

func (s *Store) CreateFromImport(ctx context.Context, item turf.ImportItem) (turf.ImportResult, error) {
	results, err := s.Import(ctx, []turf.ImportItem{item})
	if err != nil {
		return turf.ImportResult{}, err
	}
	return results[0], nil
}

// Import inserts every missing login inside one transaction.
func (s *Store) Import(ctx context.Context, items []turf.ImportItem) ([]turf.ImportResult, error) {
	for i, item := range items {
		if strings.TrimSpace(item.DisplayName) == "" {
			return nil, fmt.Errorf("%w: item %d has no login", turf.ErrInvalidInput, i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]turf.ImportResult, 0, len(items))
	for _, item := range items {
		res, err := importOne(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

func importOne(ctx context.Context, tx *sql.Tx, item turf.ImportItem) (turf.ImportResult, error) {
	name := strings.TrimSpace(item.DisplayName)
	var org sql.NullString
	if item.OrganizationID != nil {
		org = nullIfEmpty(*item.OrganizationID)
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		var id, slug string
		err := tx.QueryRowContext(ctx, `
			insert into logins (id, login, slug, on_turf, off_turf, organization_id, updated_at)
			values ($1, $2, $3, $4, $5, $6, now())
			on conflict do nothing
			returning id, slug
		`, ids.New(), name, ids.Slug(name), max(item.OnCount, 0), max(item.OffCount, 0), org).Scan(&id, &slug)
		if err == nil {
			return turf.ImportResult{DisplayName: name, Status: turf.ImportCreated, ID: id, Slug: slug}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return turf.ImportResult{}, fmt.Errorf("%w: unknown organization for %s", turf.ErrInvalidInput, name)
			}
			return turf.ImportResult{}, err
		}

		// Nothing inserted: either the login exists or the slug collided.
		err = tx.QueryRowContext(ctx, `select id, slug from logins where login = $1`, name).Scan(&id, &slug)
		if err == nil {
			return turf.ImportResult{DisplayName: name, Status: turf.ImportExists, ID: id, Slug: slug}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return turf.ImportResult{}, err
		}
	}
	return turf.ImportResult{}, fmt.Errorf("%w: no free slug for %s", turf.ErrAlreadyExists, name)
}

func (s *Store) Organizations(ctx context.Context) ([]turf.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(company_name, ''), created_at
		from organizations
		order by name collate "C"
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []turf.Organization{}
	for rows.Next() {
		var o turf.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CompanyName, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureOrganization returns the organization called name, creating it if needed.
func (s *Store) EnsureOrganization(ctx context.Context, name, companyName string) (turf.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return turf.Organization{}, fmt.Errorf("%w: organization name is required", turf.ErrInvalidInput)
	}
	var o turf.Organization
	err := s.db.QueryRowContext(ctx, `
		insert into organizations (id, name, company_name)
		values ($1, $2, $3)
		on conflict (name) do nothing
		returning id, name, coalesce(company_name, ''), created_at
	`, ids.New(), name, nullIfEmpty(companyName)).Scan(&o.ID, &o.Name, &o.CompanyName, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `
			select id, name, coalesce(company_name, ''), created_at
			from organizations where name = $1
		`, name).Scan(&o.ID, &o.Name, &o.CompanyName, &o.CreatedAt)
	}
	if err != nil {
		return turf.Organization{}, err
	}
	return o, nil
}

// AssignOrganization moves a login into an organization.
func (s *Store) AssignOrganization(ctx context.Context, slug, organizationID string) error {
	res, err := s.db.ExecContext(ctx, `
		update logins set organization_id = $2, updated_at = now() where slug = $1
	`, slug, organizationID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("organization %s: %w", organizationID, turf.ErrNotFound)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return turf.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
