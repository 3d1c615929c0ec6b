package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in string
		ok bool
		at time.Time
	}{
		{in: "2024-03-01T12:00:00Z", ok: true, at: want},
		{in: "2024-03-01T14:00:00+02:00", ok: true, at: want},
		{in: "2024-03-01T12:00:00.000Z", ok: true, at: want},
		{in: "2024-03-01", ok: true, at: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{in: "1709294400", ok: true, at: want},
		{in: "1709294400000", ok: true, at: want},
		{in: "", ok: false},
		{in: "0", ok: false},
		{in: "-5", ok: false},
		{in: "yesterday", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseTime(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.True(t, tc.at.Equal(got), "%s parsed as %s", tc.in, got)
			assert.Equal(t, time.UTC, got.Location(), tc.in)
		}
	}
}
