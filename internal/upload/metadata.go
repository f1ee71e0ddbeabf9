package upload

import (
	"encoding/json"
	"strconv"
	"time"
)

// MetadataFilename is the sidecar written next to the image by file-based sinks.
const MetadataFilename = "cam.json"

// Metadata describes the cycle that produced an image.
type Metadata struct {
	LocationName  string
	Latitude      float64
	Longitude     float64
	CameraHeading string
	Interval      time.Duration
	Debug         bool
	Sunrise       time.Time
	Sunset        time.Time
	Station       string
	RawMETAR      string
	RawTAF        string
	ImageURL      string
}

type camJSON struct {
	DayNightMode        string     `json:"day_night_mode"`
	DebugMode           bool       `json:"debug_mode"`
	LastUpdate          string     `json:"last_update"`
	LastUpdateTimestamp int64      `json:"last_update_timestamp"`
	NextUpdate          string     `json:"next_update"`
	NextUpdateTimestamp int64      `json:"next_update_timestamp"`
	Images              []camImage `json:"images"`
}

type camImage struct {
	Path     string      `json:"path"`
	TTL      string      `json:"TTL"`
	Location camLocation `json:"location"`
	Sunrise  *string     `json:"sunrise"`
	Sunset   *string     `json:"sunset"`
	METAR    camMETAR    `json:"metar"`
}

type camLocation struct {
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	CameraHeading string  `json:"camera_heading,omitempty"`
}

type camMETAR struct {
	Enabled  bool    `json:"enabled"`
	ICAOCode *string `json:"icao_code"`
	RawMETAR *string `json:"raw_metar"`
	RawTAF   *string `json:"raw_taf"`
}

// MarshalCamJSON renders the cam.json sidecar for p. next_update is the capture
// time plus the active interval.
func MarshalCamJSON(p Payload, path string) ([]byte, error) {
	m := p.Meta
	if m == nil {
		m = &Metadata{LocationName: p.Location}
	}
	if m.ImageURL != "" {
		path = m.ImageURL
	}

	mode := "night"
	if p.IsDay {
		mode = "day"
	}
	last := p.CapturedAt.UTC()
	next := last.Add(m.Interval)

	doc := camJSON{
		DayNightMode:        mode,
		DebugMode:           m.Debug,
		LastUpdate:          last.Format(TimestampLayout),
		LastUpdateTimestamp: last.Unix(),
		NextUpdate:          next.Format(TimestampLayout),
		NextUpdateTimestamp: next.Unix(),
		Images: []camImage{{
			Path: path,
			TTL:  formatSeconds(m.Interval),
			Location: camLocation{
				Name:          m.LocationName,
				Latitude:      m.Latitude,
				Longitude:     m.Longitude,
				CameraHeading: m.CameraHeading,
			},
			Sunrise: optionalTime(m.Sunrise),
			Sunset:  optionalTime(m.Sunset),
			METAR: camMETAR{
				Enabled:  m.Station != "",
				ICAOCode: optional(m.Station),
				RawMETAR: optional(m.RawMETAR),
				RawTAF:   optional(m.RawTAF),
			},
		}},
	}
	return json.MarshalIndent(doc, "", "  ")
}

// formatSeconds renders d as whole seconds, e.g. "300".
func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(TimestampLayout)
	return &s
}
