package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"turfboard.app/internal/access"
	"turfboard.app/internal/auth"
	"turfboard.app/internal/board"
	"turfboard.app/internal/stats"
	"turfboard.app/internal/turf"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	orgA, orgB turf.Organization
	slugs      map[string]string
	svc        *board.Service
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()
	ctx := context.Background()

	store := turf.NewInMemory()
	members := access.NewMemoryStore(func(ctx context.Context, id string) (string, string) {
		orgs, _ := store.Organizations(ctx)
		for _, o := range orgs {
			if o.ID == id {
				return o.Name, o.CompanyName
			}
		}
		return "", ""
	})
	ev, err := access.NewEvaluator(members)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := board.New(store, ev)
	if err != nil {
		t.Fatal(err)
	}

	c := &apiClient{t: t, svc: svc, slugs: map[string]string{}}
	c.orgA, _ = store.EnsureOrganization(ctx, "Alpha Org", "Alpha Ltd")
	c.orgB, _ = store.EnsureOrganization(ctx, "Beta Org", "")
	results, err := store.Import(ctx, []turf.ImportItem{
		{DisplayName: "anna", OnCount: 70, OffCount: 30, OrganizationID: &c.orgA.ID},
		{DisplayName: "bruno", OnCount: 50, OffCount: 50, OrganizationID: &c.orgB.ID},
		{DisplayName: "carla", OnCount: 10, OffCount: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		c.slugs[r.DisplayName] = r.Slug
	}
	for _, m := range []access.Membership{
		{UserEmail: "admin@a.test", OrganizationID: c.orgA.ID, Role: access.RoleAdmin},
		{UserEmail: "vendor@b.test", OrganizationID: c.orgB.ID, Role: access.RoleVendor},
		{UserEmail: "viewer@b.test", OrganizationID: c.orgB.ID, Role: access.RoleViewer},
	} {
		if _, err := members.UpsertMembership(ctx, m.UserEmail, m.OrganizationID, m.Role); err != nil {
			t.Fatal(err)
		}
	}

	opts = append([]Option{WithRateLimit(1000, 1000)}, opts...)
	api := New(svc, ReadyProbe{}, "test", opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	c.baseURL = srv.URL
	c.client = srv.Client()
	return c
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		payload = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, code int, message string) {
	t.Helper()
	if r.StatusCode != code {
		t.Fatalf("expected %d, got %d", code, r.StatusCode)
	}
	if message == "" {
		r.Body.Close()
		return
	}
	body := decode[map[string]string](t, r)
	if body["message"] != message {
		t.Fatalf("expected message %q, got %v", message, body)
	}
}

func email(e string) map[string]string { return map[string]string{userEmailHeader: e} }

func TestEditFlowUpdatesListAndSummary(t *testing.T) {
	c := newTestAPI(t)
	slug := c.slugs["anna"]

	before := decode[turf.Login](t, c.get("/api/logins/"+slug, nil, nil))

	resp := c.do(http.MethodPatch, "/api/logins/"+slug, map[string]any{"onTurf": "abc", "offTurf": 1}, nil)
	expectStatus(t, resp, http.StatusBadRequest, "invalid values")

	resp = c.do(http.MethodPatch, "/api/logins/"+slug, map[string]any{"onTurf": 60, "offTurf": 40}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d", resp.StatusCode)
	}
	after := decode[turf.Login](t, resp)
	if after.OnCount != 60 || after.OffCount != 40 {
		t.Fatalf("unexpected counters: %+v", after)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("updatedAt did not advance: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}

	resp = c.get("/api/logins", nil, nil)
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("write must invalidate the list cache, got %q", resp.Header.Get("X-Cache"))
	}
	rows := decode[[]turf.Login](t, resp)
	if len(rows) != 3 {
		t.Fatalf("anonymous list should see every row, got %d", len(rows))
	}
	var on, off int64
	for _, r := range rows {
		on += r.OnCount
		off += r.OffCount
	}
	if on != 120 || off != 90 {
		t.Fatalf("list sums %d/%d, want 120/90", on, off)
	}

	agg := decode[stats.Aggregate](t, c.get("/api/summary", nil, nil))
	if agg.Rows != 3 || agg.OnCount != 120 || agg.OffCount != 90 || agg.Stats.Total != 210 {
		t.Fatalf("unexpected summary: %+v", agg)
	}
}

func TestListCacheHeader(t *testing.T) {
	c := newTestAPI(t)
	first := c.get("/api/logins", nil, nil)
	first.Body.Close()
	second := c.get("/api/logins", nil, nil)
	second.Body.Close()
	if first.Header.Get("X-Cache") != "MISS" || second.Header.Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache %q then %q", first.Header.Get("X-Cache"), second.Header.Get("X-Cache"))
	}
}

func TestPatchValidation(t *testing.T) {
	c := newTestAPI(t)
	path := "/api/logins/" + c.slugs["carla"]

	bodies := []any{
		map[string]any{"onTurf": -1, "offTurf": 0},
		map[string]any{"onTurf": 1.5, "offTurf": 0},
		map[string]any{"onTurf": 1},
		map[string]any{"onTurf": nil, "offTurf": 0},
		map[string]any{"onTurf": "5", "offTurf": 0},
		"not json",
	}
	for _, b := range bodies {
		resp := c.do(http.MethodPatch, path, b, nil)
		expectStatus(t, resp, http.StatusBadRequest, "invalid values")
	}

	resp := c.do(http.MethodPatch, path, map[string]any{"onTurf": 3.0, "offTurf": 0}, nil)
	expectStatus(t, resp, http.StatusOK, "")

	resp = c.do(http.MethodPatch, "/api/logins/missing-0000", map[string]any{"onTurf": 1, "offTurf": 1}, nil)
	expectStatus(t, resp, http.StatusNotFound, "not found")

	resp = c.do(http.MethodDelete, path, nil, nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed, "method not allowed")
}

func TestPatchRejectsCountersAboveBound(t *testing.T) {
	c := newTestAPI(t)
	path := "/api/logins/" + c.slugs["carla"]

	for _, b := range []map[string]any{
		{"onTurf": 0, "offTurf": int64(100_000_000_000_000_000)},
		{"onTurf": stats.MaxCount + 1, "offTurf": 0},
		{"onTurf": 0, "offTurf": 1e300},
	} {
		resp := c.do(http.MethodPatch, path, b, nil)
		expectStatus(t, resp, http.StatusBadRequest, "invalid values")
	}

	resp := c.do(http.MethodPatch, path, map[string]any{"onTurf": stats.MaxCount, "offTurf": stats.MaxCount}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch at the bound: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	agg := decode[stats.Aggregate](t, c.get("/api/summary", nil, nil))
	if agg.Stats.PercentOff < 0 || agg.Stats.PercentOff > 100 || agg.Stats.GapToTarget < 0 {
		t.Fatalf("summary out of range at the bound: %+v", agg.Stats)
	}
	if agg.Stats.Tier != stats.TierOver {
		t.Fatalf("expected over tier, got %s", agg.Stats.Tier)
	}
}

func TestPermissionsOnRows(t *testing.T) {
	c := newTestAPI(t)
	counts := map[string]any{"onTurf": 7, "offTurf": 3}

	cases := []struct {
		name  string
		user  string
		login string
		code  int
	}{
		{"vendor edits own org", "vendor@b.test", "bruno", http.StatusOK},
		{"viewer cannot edit", "viewer@b.test", "bruno", http.StatusForbidden},
		{"foreign admin can view but not edit", "admin@a.test", "bruno", http.StatusForbidden},
		{"admin edits own org", "admin@a.test", "anna", http.StatusOK},
		{"vendor cannot touch other org", "vendor@b.test", "anna", http.StatusForbidden},
		{"row without org is denied", "admin@a.test", "carla", http.StatusForbidden},
		{"stranger", "nobody@x.test", "anna", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := c.do(http.MethodPatch, "/api/logins/"+c.slugs[tc.login], counts, email(tc.user))
			msg := ""
			if tc.code == http.StatusForbidden {
				msg = "no permission"
			}
			expectStatus(t, resp, tc.code, msg)
		})
	}

	resp := c.get("/api/logins/"+c.slugs["bruno"], nil, email("admin@a.test"))
	expectStatus(t, resp, http.StatusOK, "")
	resp = c.get("/api/logins/"+c.slugs["anna"], nil, email("viewer@b.test"))
	expectStatus(t, resp, http.StatusForbidden, "no permission")
}

func TestListFilteredByIdentity(t *testing.T) {
	c := newTestAPI(t)

	rows := decode[[]turf.Login](t, c.get("/api/logins", nil, email("viewer@b.test")))
	if len(rows) != 1 || rows[0].DisplayName != "bruno" {
		t.Fatalf("viewer should see only bruno: %+v", rows)
	}
	if rows[0].OrgID() != c.orgB.ID {
		t.Fatalf("organizationId missing on row: %+v", rows[0])
	}

	rows = decode[[]turf.Login](t, c.get("/api/logins", url.Values{"userEmail": {"admin@a.test"}, "organizationId": {c.orgB.ID}}, nil))
	if len(rows) != 0 {
		t.Fatalf("listing stays bound to the membership set: %+v", rows)
	}

	rows = decode[[]turf.Login](t, c.get("/api/logins", url.Values{"organizationId": {c.orgA.ID}}, nil))
	if len(rows) != 1 || rows[0].DisplayName != "anna" {
		t.Fatalf("anonymous org filter: %+v", rows)
	}

	rows = decode[[]turf.Login](t, c.get("/api/logins", nil, email("nobody@x.test")))
	if len(rows) != 0 {
		t.Fatalf("user without memberships sees nothing: %+v", rows)
	}
}

func TestOrganizationsEndpoints(t *testing.T) {
	c := newTestAPI(t)

	all := decode[[]turf.Organization](t, c.get("/api/organizations", nil, nil))
	if len(all) != 2 {
		t.Fatalf("anonymous caller should see every organization: %+v", all)
	}
	mine := decode[[]turf.Organization](t, c.get("/api/organizations", url.Values{"userEmail": {"vendor@b.test"}}, nil))
	if len(mine) != 1 || mine[0].ID != c.orgB.ID {
		t.Fatalf("unexpected filtered organizations: %+v", mine)
	}
	none := decode[[]turf.Organization](t, c.get("/api/organizations", url.Values{"userEmail": {"nobody@x.test"}}, nil))
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %+v", none)
	}

	resp := c.get("/api/user/organizations", nil, nil)
	expectStatus(t, resp, http.StatusBadRequest, "userEmail is required")

	memberships := decode[[]access.Membership](t, c.get("/api/user/organizations", url.Values{"userEmail": {"Admin@A.test"}}, nil))
	if len(memberships) != 1 || memberships[0].OrganizationName != "Alpha Org" || memberships[0].Role != access.RoleAdmin {
		t.Fatalf("unexpected memberships: %+v", memberships)
	}
}

func TestImportEndpoint(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/api/import/logins", map[string]any{"logins": []any{}}, nil)
	expectStatus(t, resp, http.StatusBadRequest, "no logins provided")

	body := map[string]any{"logins": []map[string]any{
		{"login": "anna", "onTurf": 1, "offTurf": 1},
		{"name": "dora", "onTurf": 5, "offTurf": "2"},
		{"onTurf": 5},
	}}
	resp = c.do(http.MethodPost, "/api/import/logins", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status %d", resp.StatusCode)
	}
	sum := decode[board.ImportSummary](t, resp)
	if sum.Total != 3 || sum.Created != 1 || sum.Exists != 1 || sum.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Message != "import finished: 1 created, 1 already existed, 1 skipped" {
		t.Fatalf("unexpected message: %q", sum.Message)
	}

	rows := decode[[]turf.Login](t, c.get("/api/logins", nil, nil))
	if len(rows) != 4 {
		t.Fatalf("import must invalidate the cache: %d rows", len(rows))
	}
}

func TestRequireIdentity(t *testing.T) {
	c := newTestAPI(t, WithRequireIdentity(true))

	resp := c.get("/api/logins", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized, "identity required")

	resp = c.get("/api/logins", nil, email("vendor@b.test"))
	expectStatus(t, resp, http.StatusOK, "")

	resp = c.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK, "")
}

func TestBearerIdentity(t *testing.T) {
	auth.SetSecret("test-secret")
	t.Cleanup(auth.ResetSecretForTests)
	c := newTestAPI(t)

	token, err := auth.GenerateToken("vendor@b.test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	// The token wins over a conflicting header.
	headers := map[string]string{"Authorization": "Bearer " + token, userEmailHeader: "viewer@b.test"}
	resp := c.do(http.MethodPatch, "/api/logins/"+c.slugs["bruno"], map[string]any{"onTurf": 1, "offTurf": 1}, headers)
	expectStatus(t, resp, http.StatusOK, "")

	resp = c.get("/api/logins", nil, map[string]string{"Authorization": "Bearer garbage"})
	expectStatus(t, resp, http.StatusUnauthorized, "invalid token")

	resp = c.get("/api/logins", nil, map[string]string{"Authorization": "Basic abc"})
	expectStatus(t, resp, http.StatusUnauthorized, "invalid authorization header")
}

func TestBearerWithoutSecret(t *testing.T) {
	auth.ResetSecretForTests()
	t.Setenv("TURF_AUTH_SECRET", "")
	t.Cleanup(auth.ResetSecretForTests)
	c := newTestAPI(t)

	resp := c.get("/api/logins", nil, map[string]string{"Authorization": "Bearer abc"})
	expectStatus(t, resp, http.StatusUnauthorized, "token authentication is not configured")
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	c := newTestAPI(t)

	health := decode[map[string]any](t, c.get("/healthz", nil, nil))
	if health["status"] != "ok" || health["service"] != "turfboard-api" {
		t.Fatalf("unexpected health: %v", health)
	}
	ready := decode[map[string]any](t, c.get("/readyz", nil, nil))
	if ready["status"] != "ready" {
		t.Fatalf("unexpected ready: %v", ready)
	}

	resp := c.get("/nope", nil, nil)
	expectStatus(t, resp, http.StatusNotFound, "not found")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}
