package access

import (
	"fmt"
	"strings"
)

// Role is a membership level. Values are totally ordered: a higher value
// includes every capability of the lower ones.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleVendor
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleViewer: "viewer",
	RoleVendor: "vendor",
	RoleAdmin:  "admin",
}

// ParseRole accepts the stored role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer, nil
	case "vendor":
		return RoleVendor, nil
	case "admin":
		return RoleAdmin, nil
	}
	return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidRole, s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "none"
}

// AtLeast reports whether r is min or above it in the hierarchy.
func (r Role) AtLeast(min Role) bool {
	return r != RoleNone && r >= min
}

// Valid reports whether r is one of the three assignable roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
