package recurrence

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNext_Hourly(t *testing.T) {
	got, err := Next(Hourly{Minute: 30}, at("2024-01-01T10:15:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-01-01T10:30:00"), got)
}

func TestNext_HourlyPassedMinuteRollsToNextHour(t *testing.T) {
	got, err := Next(Hourly{Minute: 10}, at("2024-01-01T23:15:42"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-01-02T00:10:00"), got)
}

func TestNext_HourlyProperty(t *testing.T) {
	ref := at("2024-03-10T07:42:13").Add(123 * time.Millisecond)
	for m := 0; m < 60; m++ {
		got, err := Next(Hourly{Minute: m}, ref)
		require.NoError(t, err)

		assert.True(t, got.After(ref), "minute %d", m)
		assert.LessOrEqual(t, got.Sub(ref), time.Hour, "minute %d", m)
		assert.Equal(t, m, got.Minute())
		assert.Equal(t, 0, got.Second())
		assert.Equal(t, 0, got.Nanosecond())
	}
}

func TestNext_EqualToReferenceAdvances(t *testing.T) {
	ref := at("2024-01-01T10:30:00")

	hourly, err := Next(Hourly{Minute: 30}, ref)
	require.NoError(t, err)
	daily, err := Next(Daily{Hour: 10, Minute: 30}, ref)
	require.NoError(t, err)
	weekly, err := Next(Weekly{Weekday: 0, Hour: 10, Minute: 30}, ref)
	require.NoError(t, err)

	assert.Equal(t, at("2024-01-01T11:30:00"), hourly)
	assert.Equal(t, at("2024-01-02T10:30:00"), daily)
	assert.Equal(t, at("2024-01-08T10:30:00"), weekly)
}

func TestNext_Daily(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"later today", "2024-01-01T08:00:00", "2024-01-01T15:30:00"},
		{"already passed", "2024-01-01T16:00:00", "2024-01-02T15:30:00"},
		{"year end", "2024-12-31T20:00:00", "2025-01-01T15:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(Daily{Hour: 15, Minute: 30}, at(tt.ref))
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), got)
		})
	}
}

func TestNext_Weekly(t *testing.T) {
	// 2024-01-01 is a Monday.
	got, err := Next(Weekly{Weekday: 2, Hour: 9, Minute: 0}, at("2024-01-01T00:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-01-03T09:00:00"), got)
	assert.Equal(t, time.Wednesday, got.Weekday())
}

func TestNext_WeeklySameDayPassed(t *testing.T) {
	// Wednesday 10:00, target Wednesday 09:00.
	got, err := Next(Weekly{Weekday: 2, Hour: 9, Minute: 0}, at("2024-01-03T10:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-01-10T09:00:00"), got)
}

func TestNext_WeeklySunday(t *testing.T) {
	got, err := Next(Weekly{Weekday: 6, Hour: 22, Minute: 15}, at("2024-01-01T00:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-01-07T22:15:00"), got)
	assert.Equal(t, time.Sunday, got.Weekday())
}

func TestNext_MonthlyClampsToLeapFebruary(t *testing.T) {
	got, err := Next(Monthly{Day: 31, Hour: 0, Minute: 0}, at("2024-01-20T00:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-02-29T00:00:00"), got)
}

func TestNext_MonthlyClampsToApril(t *testing.T) {
	got, err := Next(Monthly{Day: 31, Hour: 6, Minute: 0}, at("2024-03-31T12:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2024-04-30T06:00:00"), got)
}

func TestNext_MonthlyFromAprilMovesForward(t *testing.T) {
	// Reference on the clamped April 30th after the fire time: result must
	// be a valid May date strictly after it.
	ref := at("2024-04-30T23:59:00")
	got, err := Next(Monthly{Day: 31, Hour: 0, Minute: 0}, ref)

	require.NoError(t, err)
	assert.Equal(t, at("2024-05-31T00:00:00"), got)
	assert.True(t, got.After(ref))
}

func TestNext_MonthlyDecemberRollsYear(t *testing.T) {
	got, err := Next(Monthly{Day: 15, Hour: 8, Minute: 45}, at("2024-12-20T00:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2025-01-15T08:45:00"), got)
}

func TestNext_MonthlyNonLeapFebruary(t *testing.T) {
	got, err := Next(Monthly{Day: 30, Hour: 0, Minute: 0}, at("2023-01-05T00:00:00"))

	require.NoError(t, err)
	assert.Equal(t, at("2023-02-28T00:00:00"), got)
}

func TestNext_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ref := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)

	got, err := Next(Daily{Hour: 9, Minute: 0}, ref)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 9, 0, 0, 0, loc), got)
	assert.Equal(t, loc, got.Location())
}

func TestNext_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		r    Recurrence
	}{
		{"nil", nil},
		{"hourly minute", Hourly{Minute: 60}},
		{"daily hour", Daily{Hour: 24}},
		{"weekly weekday", Weekly{Weekday: 7}},
		{"monthly day zero", Monthly{Day: 0}},
		{"monthly day 32", Monthly{Day: 32}},
		{"negative minute", Daily{Minute: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.r, at("2024-01-01T00:00:00"))

			var compErr *ComputationError
			require.ErrorAs(t, err, &compErr)
		})
	}
}

func TestCalculator_FallsBackOnInvalidRecurrence(t *testing.T) {
	var buf bytes.Buffer
	calc := NewCalculator(zerolog.New(&buf))
	ref := at("2024-01-01T10:00:00")

	got := calc.ComputeNext(Hourly{Minute: 99}, ref)

	assert.Equal(t, ref.Add(FallbackDelay), got)
	assert.Contains(t, buf.String(), "invalid recurrence")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestCalculator_ComputesValidRecurrence(t *testing.T) {
	var buf bytes.Buffer
	calc := NewCalculator(zerolog.New(&buf))

	got := calc.ComputeNext(Hourly{Minute: 30}, at("2024-01-01T10:15:00"))

	assert.Equal(t, at("2024-01-01T10:30:00"), got)
	assert.Empty(t, buf.String())
}
