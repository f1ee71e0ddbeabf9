package weather

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var reportTime = regexp.MustCompile(`\b\d{6}Z\b`)

// BadgeText formats conditions for the overlay badge, for example
// "LFRK 211200Z | 330/9kt | VFR | 4°C". Missing parts are left out.
func BadgeText(c Conditions) string {
	head := c.Station
	if ts := reportTime.FindString(c.RawMETAR); ts != "" {
		head += " " + ts
	} else if !c.ObservedAt.IsZero() {
		head += " " + c.ObservedAt.UTC().Format("021504Z")
	}

	parts := []string{strings.TrimSpace(head)}
	if c.WindDir != "" && c.WindSpeedKt != nil {
		parts = append(parts, fmt.Sprintf("%s/%dkt", c.WindDir, *c.WindSpeedKt))
	}
	if c.FltCat != "" {
		parts = append(parts, c.FltCat)
	}
	if c.TempC != nil {
		parts = append(parts, fmt.Sprintf("%d°C", int(math.Round(*c.TempC))))
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " | ")
}
