// Package events consumes account lifecycle events from the auth system.
package events

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrMissingUID     = errors.New("event has no uid")
	ErrMalformedEvent = errors.New("event payload is not valid JSON")
)

// AccountCreated is emitted once per newly created auth account
type AccountCreated struct {
	ID         string
	UID        string
	OccurredAt time.Time
}

// Handler processes account-created events. A returned error leaves the event
// pending so it is delivered again.
type Handler interface {
	HandleAccountCreated(ctx context.Context, ev AccountCreated) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ev AccountCreated) error

func (f HandlerFunc) HandleAccountCreated(ctx context.Context, ev AccountCreated) error {
	return f(ctx, ev)
}

// DecodeAccountCreated reads an event from stream entry fields. The uid may be
// a flat "uid" field or sit inside a JSON "payload" field as "uid" or "user.uid".
func DecodeAccountCreated(id string, values map[string]interface{}) (AccountCreated, error) {
	ev := AccountCreated{ID: id}

	if uid, ok := values["uid"].(string); ok {
		ev.UID = strings.TrimSpace(uid)
	}
	if ts, ok := values["occurredAt"].(string); ok {
		ev.OccurredAt = parseTimeString(ts)
	}

	if payload, ok := values["payload"].(string); ok && payload != "" {
		if !gjson.Valid(payload) {
			return ev, ErrMalformedEvent
		}
		fields := gjson.GetMany(payload, "uid", "user.uid", "occurredAt")
		if ev.UID == "" {
			ev.UID = strings.TrimSpace(fields[0].String())
		}
		if ev.UID == "" {
			ev.UID = strings.TrimSpace(fields[1].String())
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = parseTime(fields[2])
		}
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = streamIDTime(id)
	}
	if ev.UID == "" {
		return ev, ErrMissingUID
	}
	return ev, nil
}

// parseTime accepts RFC3339 strings or unix milliseconds
func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		return time.UnixMilli(r.Int()).UTC()
	case gjson.String:
		return parseTimeString(r.String())
	}
	return time.Time{}
}

func parseTimeString(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// streamIDTime extracts the millisecond timestamp prefix of a stream entry id
func streamIDTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
