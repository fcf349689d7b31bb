package access

import "errors"

var (
	ErrPermissionDenied  = errors.New("no permission")
	ErrIdentityRequired  = errors.New("identity required")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidMembership = errors.New("invalid membership")
)
