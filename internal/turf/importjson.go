package turf

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"turfboard.app/internal/stats"
)

// UnmarshalJSON accepts "login", "name" or "username" for the display name,
// first non-empty wins. Counters may be numbers or numeric strings; anything
// else reads as 0.
func (it *ImportItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		Login          string          `json:"login"`
		Name           string          `json:"name"`
		Username       string          `json:"username"`
		OnCount        json.RawMessage `json:"onTurf"`
		OffCount       json.RawMessage `json:"offTurf"`
		OrganizationID *string         `json:"organizationId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*it = ImportItem{
		OnCount:        lenientCount(raw.OnCount),
		OffCount:       lenientCount(raw.OffCount),
		OrganizationID: raw.OrganizationID,
	}
	for _, name := range []string{raw.Login, raw.Name, raw.Username} {
		if name = strings.TrimSpace(name); name != "" {
			it.DisplayName = name
			break
		}
	}
	if it.OrganizationID != nil && strings.TrimSpace(*it.OrganizationID) == "" {
		it.OrganizationID = nil
	}
	return nil
}

func lenientCount(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if errors.Is(err, strconv.ErrRange) && n > 0 {
			return stats.MaxCount
		}
		if err != nil {
			return 0
		}
		return stats.ClampCount(n)
	}
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > float64(stats.MaxCount) {
		return stats.MaxCount
	}
	return int64(f)
}
