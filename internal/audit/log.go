// Package audit writes one JSON line per state change: counter updates,
// imports and membership grants.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"turfboard.app/internal/auth"
	"turfboard.app/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier used to correlate audit lines
// with request_complete lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Entry is the wire shape of an audit line.
type Entry struct {
	TS             string         `json:"ts"`
	Level          string         `json:"level"`
	Type           string         `json:"type"`
	Event          string         `json:"event"`
	RequestID      string         `json:"request_id,omitempty"`
	UserEmail      string         `json:"user_email,omitempty"`
	IdentitySource string         `json:"identity_source,omitempty"`
	Fields         map[string]any `json:"fields"`
}

func newEntry(ctx context.Context, event string, fields map[string]any) Entry {
	e := Entry{
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "info",
		Type:      "audit",
		Event:     event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if id := auth.IdentityFromContext(ctx); !id.Anonymous() {
		e.UserEmail = id.Email
		e.IdentitySource = string(id.Source)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// LogEvent writes an audit entry for event. The caller identity and request id
// are taken from ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	data, err := json.Marshal(newEntry(ctx, event, fields))
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
