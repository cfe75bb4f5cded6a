package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Period
	}{
		{"", Period{}},
		{"never", Period{Never: true}},
		{"90m", Period{Duration: 90 * time.Minute}},
		{"1 week", Period{Duration: 7 * 24 * time.Hour}},
		{"3 days 4 hours", Period{Duration: 76 * time.Hour}},
		{"30 mins", Period{Duration: 30 * time.Minute}},
		{"1 day and 2 hours", Period{Duration: 26 * time.Hour}},
		{"2d", Period{Duration: 48 * time.Hour}},
		{"0s", Period{Immediate: true}},
		{"0 days", Period{Immediate: true}},
		{"292 years", Period{Duration: 292 * 365 * 24 * time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"-5m", "soon", "3 fortnights", "5", "99999999999 years", "300 years", "200 years 200 years"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestImmediateIsConfigured(t *testing.T) {
	p, err := Parse("0s")
	require.NoError(t, err)
	assert.False(t, p.IsZero())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, *p.ExpiresAt(now))
	assert.True(t, Period{}.IsZero())
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, Period{Never: true}.ExpiresAt(now))
	assert.Equal(t, now.Add(time.Hour), *Period{Duration: time.Hour}.ExpiresAt(now))
}
