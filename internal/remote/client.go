// Package remote talks to the dashboard HTTP API. It backs the turfctl edit
// loop, where Client is the editor.Saver.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"turfboard.app/internal/access"
	"turfboard.app/internal/auth"
	"turfboard.app/internal/board"
	"turfboard.app/internal/editor"
	"turfboard.app/internal/stats"
	"turfboard.app/internal/turf"
)

// ErrUnauthorized is returned for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	email   string
	token   string
}

var _ editor.Saver = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithEmail sends the caller as X-User-Email. The identity on the request
// context takes precedence.
func WithEmail(email string) Option {
	return func(c *Client) { c.email = strings.TrimSpace(email) }
}

// WithToken sends a bearer token instead of an email header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url %q", baseURL)
	}
	c := &Client{
		baseURL: u.String(),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// List fetches the rows visible to the caller.
func (c *Client) List(ctx context.Context, organizationID string) ([]turf.Login, error) {
	q := url.Values{}
	if organizationID != "" {
		q.Set("organizationId", organizationID)
	}
	var rows []turf.Login
	if err := c.do(ctx, http.MethodGet, "/api/logins", q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Get(ctx context.Context, slug string) (turf.Login, error) {
	var row turf.Login
	err := c.do(ctx, http.MethodGet, "/api/logins/"+url.PathEscape(slug), nil, nil, &row)
	return row, err
}

// SaveCounts sends both counters in one PATCH.
func (c *Client) SaveCounts(ctx context.Context, slug string, on, off int64) (turf.Login, error) {
	body := map[string]int64{"onTurf": on, "offTurf": off}
	var row turf.Login
	err := c.do(ctx, http.MethodPatch, "/api/logins/"+url.PathEscape(slug), nil, body, &row)
	return row, err
}

func (c *Client) Summary(ctx context.Context, organizationID string) (stats.Aggregate, error) {
	q := url.Values{}
	if organizationID != "" {
		q.Set("organizationId", organizationID)
	}
	var agg stats.Aggregate
	err := c.do(ctx, http.MethodGet, "/api/summary", q, nil, &agg)
	return agg, err
}

func (c *Client) Import(ctx context.Context, items []turf.ImportItem) (board.ImportSummary, error) {
	var sum board.ImportSummary
	err := c.do(ctx, http.MethodPost, "/api/import/logins", nil, map[string]any{"logins": items}, &sum)
	return sum, err
}

func (c *Client) Organizations(ctx context.Context) ([]turf.Organization, error) {
	var orgs []turf.Organization
	err := c.do(ctx, http.MethodGet, "/api/organizations", nil, nil, &orgs)
	return orgs, err
}

func (c *Client) UserOrganizations(ctx context.Context) ([]access.Membership, error) {
	var ms []access.Membership
	err := c.do(ctx, http.MethodGet, "/api/user/organizations", nil, nil, &ms)
	return ms, err
}

// APIError carries a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.withIdentity(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return mapAPIError(&APIError{Status: resp.StatusCode, Message: payload.Message})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) withIdentity(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	email := c.email
	if id := auth.IdentityFromContext(req.Context()); !id.Anonymous() {
		email = id.Email
	}
	if email != "" {
		req.Header.Set("X-User-Email", email)
	}
}

// mapAPIError converts status codes back into the service sentinels so callers
// can use errors.Is across the wire.
func mapAPIError(e *APIError) error {
	switch e.Status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", turf.ErrNotFound, e)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", turf.ErrInvalidInput, e)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", access.ErrPermissionDenied, e)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, e)
	}
	return e
}
