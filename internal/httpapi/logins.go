package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"turfboard.app/internal/access"
	"turfboard.app/internal/audit"
	"turfboard.app/internal/obs"
	"turfboard.app/internal/stats"
	"turfboard.app/internal/turf"
)

const cacheHeader = "X-Cache"

func setCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set(cacheHeader, "HIT")
		return
	}
	w.Header().Set(cacheHeader, "MISS")
}

func (a *API) handleLoginsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	listing, err := a.board.List(r.Context(), callerEmail(r), r.URL.Query().Get("organizationId"))
	if err != nil {
		handleBoardError(w, r, err)
		return
	}
	setCacheHeader(w, listing.Cached)
	if listing.Rows == nil {
		listing.Rows = []turf.Login{}
	}
	writeJSON(w, http.StatusOK, listing.Rows)
}

func (a *API) handleLoginResource(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimPrefix(r.URL.Path, "/api/logins/")
	if slug == "" || strings.Contains(slug, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		row, cached, err := a.board.Get(r.Context(), callerEmail(r), slug)
		if err != nil {
			handleBoardError(w, r, err)
			return
		}
		setCacheHeader(w, cached)
		writeJSON(w, http.StatusOK, row)
	case http.MethodPatch:
		on, off, err := decodeCounts(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid values")
			return
		}
		row, err := a.board.Update(r.Context(), callerEmail(r), slug, on, off)
		if err != nil {
			handleBoardError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

// decodeCounts reads {"onTurf": n, "offTurf": n}. Both fields are required and
// must be non-negative whole JSON numbers.
func decodeCounts(r *http.Request) (int64, int64, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return 0, 0, err
	}
	on, err := countField(body, "onTurf")
	if err != nil {
		return 0, 0, err
	}
	off, err := countField(body, "offTurf")
	if err != nil {
		return 0, 0, err
	}
	return on, off, nil
}

func countField(body map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := body[key]
	if !ok {
		return 0, turf.ErrInvalidInput
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, turf.ErrInvalidInput
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, turf.ErrInvalidInput
	}
	if f < 0 || f != math.Trunc(f) || f > float64(stats.MaxCount) {
		return 0, turf.ErrInvalidInput
	}
	return int64(f), nil
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	agg, err := a.board.Summary(r.Context(), callerEmail(r), r.URL.Query().Get("organizationId"))
	if err != nil {
		handleBoardError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	orgs, err := a.board.Organizations(r.Context(), callerEmail(r))
	if err != nil {
		handleBoardError(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []turf.Organization{}
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (a *API) handleUserOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	email := callerEmail(r)
	if email == "" {
		writeError(w, http.StatusBadRequest, "userEmail is required")
		return
	}
	memberships, err := a.board.UserOrganizations(r.Context(), email)
	if err != nil {
		handleBoardError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []access.Membership{}
	}
	writeJSON(w, http.StatusOK, memberships)
}

type importRequest struct {
	Logins []turf.ImportItem `json:"logins"`
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid import body")
		return
	}
	if len(req.Logins) == 0 {
		writeError(w, http.StatusBadRequest, "no logins provided")
		return
	}
	sum, err := a.board.Import(r.Context(), callerEmail(r), req.Logins)
	if err != nil {
		handleBoardError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleBoardError maps service errors onto status codes. Anything not
// classified is logged and reported as an opaque 500.
func handleBoardError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, turf.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, turf.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid values")
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "no permission")
	case errors.Is(err, access.ErrIdentityRequired):
		writeError(w, http.StatusBadRequest, "userEmail is required")
	default:
		obs.Error("request failed", err, map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
