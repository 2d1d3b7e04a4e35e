package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSLAStatusAt(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		dueAt time.Time
		want  SLAStatus
	}{
		{"due in the past", now.Add(-time.Minute), SLABreached},
		{"due exactly now", now, SLABreached},
		{"due within the risk window", now.Add(90 * time.Minute), SLAAtRisk},
		{"due just inside two hours", now.Add(2*time.Hour - time.Second), SLAAtRisk},
		{"due at exactly two hours", now.Add(2 * time.Hour), SLAOnTrack},
		{"due far out", now.Add(48 * time.Hour), SLAOnTrack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SLAStatusAt(tt.dueAt, now))
		})
	}
}

func TestPresetDuration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, PresetDuration(SLAPreset15m))
	assert.Equal(t, time.Hour, PresetDuration(SLAPreset1h))
	assert.Equal(t, 24*time.Hour, PresetDuration(SLAPreset24h))
	assert.Equal(t, 72*time.Hour, PresetDuration(SLAPreset72h))
	assert.Equal(t, 72*time.Hour, PresetDuration(SLAPreset("bogus")))
}

func TestCalculateDefaultSLA(t *testing.T) {
	detected := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	now := detected.Add(time.Hour)

	sla := CalculateDefaultSLA(detected, SLAPreset24h, now)
	assert.Equal(t, SLAPreset24h, sla.Preset)
	assert.Equal(t, detected.Add(24*time.Hour), sla.DueAt)
	assert.Equal(t, SLAOnTrack, sla.Status)

	// The 72h preset lands on the same wall-clock time three days later.
	sla = CalculateDefaultSLA(detected, SLAPreset72h, now)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC), sla.DueAt)

	// Invalid presets fall back to the 72h budget.
	sla = CalculateDefaultSLA(detected, SLAPreset("7d"), now)
	assert.Equal(t, SLAPreset72h, sla.Preset)
	assert.Equal(t, detected.AddDate(0, 0, 3), sla.DueAt)
}

func TestWorseSLAStatus(t *testing.T) {
	assert.Equal(t, SLABreached, WorseSLAStatus(SLAAtRisk, SLABreached))
	assert.Equal(t, SLABreached, WorseSLAStatus(SLABreached, SLAOnTrack))
	assert.Equal(t, SLAAtRisk, WorseSLAStatus(SLAOnTrack, SLAAtRisk))
	assert.Equal(t, SLAOnTrack, WorseSLAStatus("", SLAOnTrack))
	assert.Equal(t, SLAStatus(""), WorseSLAStatus("", ""))
}
