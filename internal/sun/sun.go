// Package sun decides whether it is day or night at a fixed location.
// All instants are handled in UTC.
package sun

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// State is the day/night state derived from an instant.
type State int

const (
	Night State = iota
	Day
)

func (s State) String() string {
	if s == Day {
		return "day"
	}
	return "night"
}

// StateOf maps an isDaytime answer onto a State.
func StateOf(isDay bool) State {
	if isDay {
		return Day
	}
	return Night
}

// Clock computes sunrise/sunset for one location.
type Clock struct {
	lat      float64
	lon      float64
	override string
}

// NewClock returns a clock for the given coordinates. override may be "day" or
// "night" to pin the result, or empty to follow the sun.
func NewClock(lat, lon float64, override string) *Clock {
	return &Clock{lat: lat, lon: lon, override: override}
}

// Times returns sunrise and sunset of the local solar day containing t.
// Both are zero during polar day or polar night.
func (c *Clock) Times(t time.Time) (sunriseAt, sunsetAt time.Time) {
	return c.timesOn(c.solarDate(t))
}

// solarDate is the calendar date of t in local mean solar time.
func (c *Clock) solarDate(t time.Time) time.Time {
	local := t.UTC().Add(time.Duration(c.lon / 15 * float64(time.Hour)))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (c *Clock) timesOn(date time.Time) (sunriseAt, sunsetAt time.Time) {
	return sunrise.SunriseSunset(c.lat, c.lon, date.Year(), date.Month(), date.Day())
}

// IsDaytime reports sunrise <= t < sunset.
func (c *Clock) IsDaytime(t time.Time) bool {
	switch c.override {
	case "day":
		return true
	case "night":
		return false
	}
	date := c.solarDate(t)
	rise, set := c.timesOn(date)
	if rise.IsZero() || set.IsZero() {
		return polarDay(c.lat, date.Month())
	}
	t = t.UTC()
	return !t.Before(rise) && t.Before(set)
}

// State is IsDaytime expressed as a State.
func (c *Clock) State(t time.Time) State {
	return StateOf(c.IsDaytime(t))
}

// NextTransition returns the next sunset (during the day) or sunrise (at night)
// strictly after t. It is zero when pinned by an override or when no transition
// happens within the next two days.
func (c *Clock) NextTransition(t time.Time) time.Time {
	if c.override != "" {
		return time.Time{}
	}
	t = t.UTC()
	day := c.IsDaytime(t)
	date := c.solarDate(t)
	for offset := 0; offset <= 2; offset++ {
		rise, set := c.timesOn(date.AddDate(0, 0, offset))
		next := rise
		if day {
			next = set
		}
		if !next.IsZero() && next.After(t) {
			return next
		}
	}
	return time.Time{}
}

// polarDay resolves days without sunrise: the summer hemisphere has midnight sun.
func polarDay(lat float64, month time.Month) bool {
	northernSummer := month >= time.April && month <= time.September
	if lat >= 0 {
		return northernSummer
	}
	return !northernSummer
}
