package weather

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Conditions is the latest observation for a station, normalized from the METAR API.
type Conditions struct {
	Station     string    `json:"station"`
	ObservedAt  time.Time `json:"observedAt"` // always UTC
	RawMETAR    string    `json:"rawMetar"`
	RawTAF      string    `json:"rawTaf,omitempty"`
	FltCat      string    `json:"fltCat,omitempty"`
	TempC       *float64  `json:"tempC,omitempty"`
	WindDir     string    `json:"windDir,omitempty"` // degrees, zero padded, or "VRB"
	WindSpeedKt *int      `json:"windSpeedKt,omitempty"`
}

// metarRecord mirrors one element of the aviationweather.gov JSON array.
type metarRecord struct {
	IcaoID  string   `json:"icaoId"`
	ObsTime int64    `json:"obsTime"`
	RawOb   string   `json:"rawOb"`
	RawTaf  string   `json:"rawTaf"`
	FltCat  string   `json:"fltCat"`
	Temp    *float64 `json:"temp"`
	Wdir    windDir  `json:"wdir"`
	Wspd    *int     `json:"wspd"`
}

// windDir accepts either a number of degrees or the string "VRB".
type windDir string

func (w *windDir) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*w = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*w = windDir(strings.ToUpper(str))
		return nil
	}
	deg, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("wind direction %q: %w", s, err)
	}
	*w = windDir(fmt.Sprintf("%03d", int(deg)))
	return nil
}

func (r metarRecord) conditions(station string) Conditions {
	c := Conditions{
		Station:     r.IcaoID,
		RawMETAR:    r.RawOb,
		RawTAF:      r.RawTaf,
		FltCat:      r.FltCat,
		TempC:       r.Temp,
		WindDir:     string(r.Wdir),
		WindSpeedKt: r.Wspd,
	}
	if c.Station == "" {
		c.Station = station
	}
	if r.ObsTime > 0 {
		c.ObservedAt = time.Unix(r.ObsTime, 0).UTC()
	}
	return c
}
