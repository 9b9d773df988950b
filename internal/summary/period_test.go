package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/models"
)

func TestPeriodFor_Keys(t *testing.T) {
	tests := []struct {
		name  string
		grain models.Grain
		date  time.Time
		key   string
		start string
		end   string
	}{
		{"day", models.GrainDay, time.Date(2025, 5, 17, 23, 59, 0, 0, time.UTC), "2025-05-17", "2025-05-17", "2025-05-18"},
		{"week mid-year", models.GrainWeek, time.Date(2025, 5, 17, 12, 0, 0, 0, time.UTC), "2025-W20", "2025-05-12", "2025-05-19"},
		{"week belongs to next year", models.GrainWeek, time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC), "2025-W01", "2024-12-30", "2025-01-06"},
		{"week belongs to previous year", models.GrainWeek, time.Date(2021, 1, 3, 12, 0, 0, 0, time.UTC), "2020-W53", "2020-12-28", "2021-01-04"},
		{"month", models.GrainMonth, time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC), "2024-02", "2024-02-01", "2024-03-01"},
		{"year", models.GrainYear, time.Date(2025, 7, 4, 8, 0, 0, 0, time.UTC), "2025", "2025-01-01", "2026-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PeriodFor(tt.grain, tt.date, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.key, p.Key)
			assert.Equal(t, tt.start, p.Start.Format("2006-01-02"))
			assert.Equal(t, tt.end, p.End.Format("2006-01-02"))
		})
	}
}

func TestPeriodFor_UsesLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 23:30 UTC on the 17th is already the 18th in Berlin.
	p, err := PeriodFor(models.GrainDay, time.Date(2025, 5, 17, 23, 30, 0, 0, time.UTC), berlin)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-18", p.Key)

	// The spring-forward day is 23 hours long.
	p, err = PeriodFor(models.GrainDay, time.Date(2025, 3, 30, 12, 0, 0, 0, berlin), berlin)
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour, p.End.Sub(p.Start))
}

func TestPeriodFor_UnknownGrain(t *testing.T) {
	_, err := PeriodFor("decade", time.Now(), time.UTC)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestPrevious(t *testing.T) {
	now := time.Date(2025, 1, 1, 3, 30, 0, 0, time.UTC)

	tests := []struct {
		grain models.Grain
		key   string
	}{
		{models.GrainDay, "2024-12-31"},
		{models.GrainWeek, "2024-W52"},
		{models.GrainMonth, "2024-12"},
		{models.GrainYear, "2024"},
	}
	for _, tt := range tests {
		t.Run(string(tt.grain), func(t *testing.T) {
			p, err := Previous(tt.grain, now, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.key, p.Key)
		})
	}
}

func TestJobKey(t *testing.T) {
	assert.Equal(t, "summary:t1:week:2025-W01", JobKey("t1", models.GrainWeek, "2025-W01"))
}
