package access

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"turfboard.app/internal/turf"
)

func orgPtr(s string) *string { return &s }

func newTestEvaluator(t *testing.T, grants ...Membership) *Evaluator {
	t.Helper()
	store := NewMemoryStore(func(_ context.Context, id string) (string, string) {
		return "Org " + id, ""
	})
	for _, g := range grants {
		if _, err := store.UpsertMembership(context.Background(), g.UserEmail, g.OrganizationID, g.Role); err != nil {
			t.Fatalf("seed membership: %v", err)
		}
	}
	ev, err := NewEvaluator(store)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return ev
}

func TestRoleOrdering(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleVendor) || !RoleVendor.AtLeast(RoleVendor) || RoleViewer.AtLeast(RoleVendor) {
		t.Fatalf("role hierarchy is broken")
	}
	if RoleNone.AtLeast(RoleNone) {
		t.Fatalf("RoleNone must not satisfy any check")
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	r, err := ParseRole(" Admin ")
	if err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole admin: %v %v", r, err)
	}
}

func TestRoleJSON(t *testing.T) {
	raw, err := json.Marshal(Membership{OrganizationID: "a", Role: RoleVendor})
	if err != nil {
		t.Fatal(err)
	}
	var back Membership
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Role != RoleVendor {
		t.Fatalf("role round trip lost value: %s", raw)
	}
}

func TestGlobalAdminEscalationIsViewOnly(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvaluator(t, Membership{UserEmail: "u@example.com", OrganizationID: "A", Role: RoleAdmin})

	view, err := ev.CanView(ctx, "u@example.com", "B")
	if err != nil {
		t.Fatal(err)
	}
	if !view {
		t.Fatalf("admin of A should view B")
	}
	edit, err := ev.CanEdit(ctx, "u@example.com", "B")
	if err != nil {
		t.Fatal(err)
	}
	if edit {
		t.Fatalf("admin of A must not edit B without a local role")
	}
	if ok, _ := ev.CanEdit(ctx, "u@example.com", "A"); !ok {
		t.Fatalf("admin should edit own organization")
	}
}

func TestEditNeedsLocalVendor(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvaluator(t,
		Membership{UserEmail: "u@example.com", OrganizationID: "A", Role: RoleAdmin},
		Membership{UserEmail: "u@example.com", OrganizationID: "B", Role: RoleVendor},
		Membership{UserEmail: "v@example.com", OrganizationID: "B", Role: RoleViewer},
	)

	cases := []struct {
		email, org string
		view, edit bool
	}{
		{"u@example.com", "B", true, true},
		{"U@Example.com ", "B", true, true},
		{"v@example.com", "B", true, false},
		{"v@example.com", "A", false, false},
		{"nobody@example.com", "A", false, false},
	}
	for _, tc := range cases {
		view, _ := ev.CanView(ctx, tc.email, tc.org)
		edit, _ := ev.CanEdit(ctx, tc.email, tc.org)
		if view != tc.view || edit != tc.edit {
			t.Fatalf("%s in %s: view=%v edit=%v, want view=%v edit=%v", tc.email, tc.org, view, edit, tc.view, tc.edit)
		}
	}
}

func TestOrganizationIDsWithMinRole(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvaluator(t,
		Membership{UserEmail: "u@example.com", OrganizationID: "A", Role: RoleViewer},
		Membership{UserEmail: "u@example.com", OrganizationID: "B", Role: RoleVendor},
		Membership{UserEmail: "u@example.com", OrganizationID: "C", Role: RoleAdmin},
	)

	set, err := ev.OrganizationIDsWithMinRole(ctx, "u@example.com", RoleVendor)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 2 {
		t.Fatalf("expected B and C, got %v", set)
	}
	if _, ok := set["A"]; ok {
		t.Fatalf("viewer org must be excluded")
	}

	empty, err := ev.OrganizationIDsWithMinRole(ctx, "stranger@example.com", RoleViewer)
	if err != nil {
		t.Fatalf("expected no error for user without memberships, got %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty set, got %v", empty)
	}
}

func TestOrganizationsForSortedByName(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvaluator(t,
		Membership{UserEmail: "u@example.com", OrganizationID: "z", Role: RoleViewer},
		Membership{UserEmail: "u@example.com", OrganizationID: "b", Role: RoleAdmin},
	)
	list, err := ev.OrganizationsFor(ctx, "u@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].OrganizationName != "Org b" {
		t.Fatalf("unexpected memberships: %+v", list)
	}
}

func TestAccessibleRows(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvaluator(t,
		Membership{UserEmail: "admin@example.com", OrganizationID: "A", Role: RoleAdmin},
		Membership{UserEmail: "viewer@example.com", OrganizationID: "B", Role: RoleViewer},
	)
	rows := []turf.Login{
		{Slug: "r1", OrganizationID: orgPtr("A")},
		{Slug: "r2", OrganizationID: orgPtr("B")},
		{Slug: "r3"},
	}

	got, _ := ev.AccessibleRows(ctx, "admin@example.com", "", rows)
	if len(got) != 1 || got[0].Slug != "r1" {
		t.Fatalf("admin should only list own membership rows: %+v", got)
	}

	// Escalation passes the view check for B, but listing stays bound to the
	// membership set, so B's rows do not appear.
	got, _ = ev.AccessibleRows(ctx, "admin@example.com", "B", rows)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}

	got, _ = ev.AccessibleRows(ctx, "viewer@example.com", "A", rows)
	if len(got) != 0 {
		t.Fatalf("viewer filtering a foreign org must get nothing: %+v", got)
	}

	got, _ = ev.AccessibleRows(ctx, "viewer@example.com", "B", rows)
	if len(got) != 1 || got[0].Slug != "r2" {
		t.Fatalf("unexpected rows for viewer: %+v", got)
	}

	got, err := ev.AccessibleRows(ctx, "nobody@example.com", "", rows)
	if err != nil || len(got) != 0 {
		t.Fatalf("user without memberships sees nothing: %+v %v", got, err)
	}
}

func TestGrantValidatesAndUpserts(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvaluator(t)

	if _, err := ev.Grant(ctx, "not-an-email", "A", RoleAdmin); !errors.Is(err, ErrInvalidMembership) {
		t.Fatalf("expected ErrInvalidMembership, got %v", err)
	}
	if _, err := ev.Grant(ctx, "u@example.com", "A", RoleNone); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	if _, err := ev.Grant(ctx, "u@example.com", "A", RoleViewer); err != nil {
		t.Fatal(err)
	}
	if _, err := ev.Grant(ctx, "U@example.com", "A", RoleVendor); err != nil {
		t.Fatal(err)
	}
	list, _ := ev.OrganizationsFor(ctx, "u@example.com")
	if len(list) != 1 || list[0].Role != RoleVendor {
		t.Fatalf("upsert should replace role: %+v", list)
	}
}

func TestGrantsRequireIdentity(t *testing.T) {
	ev := newTestEvaluator(t)
	if _, err := ev.Grants(context.Background(), "  "); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}
