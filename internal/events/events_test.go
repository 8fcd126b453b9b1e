package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAccountCreated(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		uid    string
	}{
		{"flat uid", map[string]interface{}{"uid": "alice"}, "alice"},
		{"payload uid", map[string]interface{}{"payload": `{"uid":"bob"}`}, "bob"},
		{"payload user", map[string]interface{}{"payload": `{"user":{"uid":"carol","email":"c@example.com"}}`}, "carol"},
		{"flat wins", map[string]interface{}{"uid": "dave", "payload": `{"uid":"other"}`}, "dave"},
		{"trimmed", map[string]interface{}{"uid": "  erin "}, "erin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeAccountCreated("1700000000000-0", tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.uid, ev.UID)
			assert.Equal(t, "1700000000000-0", ev.ID)
		})
	}
}

func TestDecodeAccountCreatedErrors(t *testing.T) {
	_, err := DecodeAccountCreated("1-0", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrMissingUID)

	_, err = DecodeAccountCreated("1-0", map[string]interface{}{"payload": `{"user":{}}`})
	assert.ErrorIs(t, err, ErrMissingUID)

	_, err = DecodeAccountCreated("1-0", map[string]interface{}{"payload": `{not json`})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDecodeAccountCreatedTime(t *testing.T) {
	ev, err := DecodeAccountCreated("1700000000000-0", map[string]interface{}{"uid": "a"})
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.OccurredAt)

	ev, err = DecodeAccountCreated("1-0", map[string]interface{}{"uid": "a", "occurredAt": "2024-01-02T03:04:05Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ev.OccurredAt)

	ev, err = DecodeAccountCreated("1-0", map[string]interface{}{"payload": `{"uid":"a","occurredAt":1704164645000}`})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ev.OccurredAt)
}
