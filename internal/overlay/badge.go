package overlay

import (
	"fmt"
	"image"
	"math"
	"unicode/utf8"
)

// Position is the corner of the base image the badge is anchored to.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// ParsePosition validates a configured position.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return p, nil
	case "":
		return BottomLeft, nil
	default:
		return "", fmt.Errorf("unknown overlay position %q", s)
	}
}

// Side is where the icon sits relative to the text.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Layout constants, in pixels unless noted.
const (
	charWidthFactor = 0.6 // of the font size
	lineHeightRatio = 1.2
	descentRatio    = 0.2
	paddingX        = 10
	paddingY        = 8
	iconSpacing     = 6
	margin          = 15
	cornerRadius    = 6
)

// Layout is the computed geometry of one badge on a base image.
type Layout struct {
	Badge        image.Rectangle
	Icon         image.Rectangle // empty when there is no icon
	TextOrigin   image.Point     // left end of the text baseline
	TextMaxWidth int
}

// ComputeLayout sizes the badge from the text length and icon size and anchors
// it to pos on an image of the given bounds. iconSize 0 means no icon.
func ComputeLayout(bounds image.Rectangle, text string, fontSize, iconSize int, side Side, pos Position) Layout {
	textW := int(math.Ceil(float64(utf8.RuneCountInString(text)) * charWidthFactor * float64(fontSize)))
	lineH := int(math.Ceil(float64(fontSize) * lineHeightRatio))
	descent := int(math.Round(float64(fontSize) * descentRatio))

	w := textW + 2*paddingX
	if iconSize > 0 {
		w += iconSize + iconSpacing
	}
	if maxW := bounds.Dx() - 2*margin; w > maxW {
		w = max(maxW, 1)
	}

	h := max(lineH+2*paddingY, iconSize+2*paddingY)
	if maxH := bounds.Dy() - 2*margin; h > maxH {
		h = max(maxH, 1)
	}

	var x, y int
	switch pos {
	case TopLeft:
		x, y = bounds.Min.X+margin, bounds.Min.Y+margin
	case TopRight:
		x, y = bounds.Max.X-margin-w, bounds.Min.Y+margin
	case BottomRight:
		x, y = bounds.Max.X-margin-w, bounds.Max.Y-margin-h
	default:
		x, y = bounds.Min.X+margin, bounds.Max.Y-margin-h
	}
	x = max(x, bounds.Min.X)
	y = max(y, bounds.Min.Y)
	badge := image.Rect(x, y, x+w, y+h)

	l := Layout{Badge: badge}
	textX := badge.Min.X + paddingX
	if iconSize > 0 {
		iy := badge.Min.Y + (h-iconSize)/2
		if side == SideRight {
			ix := badge.Max.X - paddingX - iconSize
			l.Icon = image.Rect(ix, iy, ix+iconSize, iy+iconSize)
		} else {
			ix := badge.Min.X + paddingX
			l.Icon = image.Rect(ix, iy, ix+iconSize, iy+iconSize)
			textX = l.Icon.Max.X + iconSpacing
		}
	}
	l.TextOrigin = image.Pt(textX, badge.Max.Y-paddingY-descent)
	l.TextMaxWidth = max(badge.Max.X-paddingX-textX, 0)
	if iconSize > 0 && side == SideRight {
		l.TextMaxWidth = max(l.Icon.Min.X-iconSpacing-textX, 0)
	}
	return l
}
