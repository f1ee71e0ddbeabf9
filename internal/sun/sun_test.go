package sun

import (
	"testing"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDaytimeMidsummerNoon(t *testing.T) {
	c := NewClock(48.93, -0.15, "")
	noon := time.Date(2026, time.June, 21, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.IsDaytime(noon))
	assert.Equal(t, Day, c.State(noon))
	assert.False(t, c.IsDaytime(time.Date(2026, time.June, 21, 1, 0, 0, 0, time.UTC)))
}

func TestBoundaries(t *testing.T) {
	c := NewClock(48.93, -0.15, "")
	date := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
	rise, set := c.Times(date)
	require.False(t, rise.IsZero())
	require.True(t, rise.Before(set))

	assert.True(t, c.IsDaytime(rise), "sunrise instant is day")
	assert.False(t, c.IsDaytime(rise.Add(-time.Second)))
	assert.True(t, c.IsDaytime(set.Add(-time.Second)))
	assert.False(t, c.IsDaytime(set), "sunset instant is night")
}

func TestIsDaytimeMatchesTimes(t *testing.T) {
	c := NewClock(-33.9, 18.4, "")
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 96; i++ {
		at := start.Add(time.Duration(i) * 15 * time.Minute)
		rise, set := c.Times(at)
		want := !at.Before(rise) && at.Before(set)
		assert.Equal(t, want, c.IsDaytime(at), "at %s", at)
	}
}

func TestOverride(t *testing.T) {
	midnight := time.Date(2026, time.June, 21, 0, 0, 0, 0, time.UTC)
	assert.True(t, NewClock(48.93, -0.15, "day").IsDaytime(midnight))
	assert.False(t, NewClock(48.93, -0.15, "night").IsDaytime(midnight.Add(12*time.Hour)))
	assert.True(t, NewClock(48.93, -0.15, "day").NextTransition(midnight).IsZero())
}

func TestNextTransition(t *testing.T) {
	c := NewClock(48.93, -0.15, "")
	noon := time.Date(2026, time.June, 21, 12, 0, 0, 0, time.UTC)
	_, set := c.Times(noon)
	assert.Equal(t, set, c.NextTransition(noon))

	late := set.Add(time.Hour)
	next := c.NextTransition(late)
	tomorrowRise, _ := c.Times(noon.AddDate(0, 0, 1))
	assert.Equal(t, tomorrowRise, next)
}

func TestPolarDay(t *testing.T) {
	assert.True(t, polarDay(78.2, time.June))
	assert.False(t, polarDay(78.2, time.December))
	assert.True(t, polarDay(-77.8, time.December))
	assert.False(t, polarDay(-77.8, time.July))
}

func TestIsDaytimeFarFromGreenwich(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		at       time.Time
		day      bool
	}{
		{"honolulu afternoon", 21.3, -157.8, time.Date(2026, time.June, 22, 1, 0, 0, 0, time.UTC), true},
		{"honolulu midnight", 21.3, -157.8, time.Date(2026, time.June, 22, 10, 0, 0, 0, time.UTC), false},
		{"tokyo morning", 35.7, 139.7, time.Date(2026, time.June, 20, 22, 0, 0, 0, time.UTC), true},
		{"tokyo late evening", 35.7, 139.7, time.Date(2026, time.June, 20, 13, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClock(tt.lat, tt.lon, "")
			assert.Equal(t, tt.day, c.IsDaytime(tt.at))

			rise, set := c.Times(tt.at)
			require.True(t, rise.Before(set))
			assert.Less(t, set.Sub(rise), 24*time.Hour)
			if tt.day {
				assert.False(t, tt.at.Before(rise))
				assert.True(t, tt.at.Before(set))
			}
		})
	}
}

// inAnyWindow checks every UTC-dated window around at, independent of how the
// clock picks its date.
func inAnyWindow(lat, lon float64, at time.Time) bool {
	for offset := -2; offset <= 2; offset++ {
		d := at.AddDate(0, 0, offset)
		rise, set := sunrise.SunriseSunset(lat, lon, d.Year(), d.Month(), d.Day())
		if !at.Before(rise) && at.Before(set) {
			return true
		}
	}
	return false
}

func TestIsDaytimeAcrossLongitudes(t *testing.T) {
	start := time.Date(2026, time.June, 20, 0, 0, 0, 0, time.UTC)
	for _, lon := range []float64{-179.5, -157.8, -90, -0.15, 90, 139.7, 179.5} {
		c := NewClock(35, lon, "")
		for i := 0; i < 144; i++ {
			at := start.Add(time.Duration(i) * 20 * time.Minute)
			assert.Equal(t, inAnyWindow(35, lon, at), c.IsDaytime(at), "lon %v at %s", lon, at)
		}
	}
}

func TestNextTransitionFarFromGreenwich(t *testing.T) {
	c := NewClock(21.3, -157.8, "")
	afternoon := time.Date(2026, time.June, 22, 1, 0, 0, 0, time.UTC)
	_, set := c.Times(afternoon)

	next := c.NextTransition(afternoon)
	assert.Equal(t, set, next)
	assert.True(t, next.After(afternoon))
	assert.Less(t, next.Sub(afternoon), 12*time.Hour)
}
