// Package imagemeta embeds EXIF and XMP metadata into encoded JPEG frames:
// camera name, credits, GPS position, capture time, sun times and the raw
// METAR/TAF that were current when the frame was taken.
package imagemeta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Software is written to the EXIF Software tag.
const Software = "webcam-capture"

const (
	markerSOI  = 0xd8
	markerAPP0 = 0xe0
	markerAPP1 = 0xe1
	maxSegment = 0xffff - 2
)

var (
	// ErrNotJPEG is returned for input without a JPEG start-of-image marker.
	ErrNotJPEG  = errors.New("not a jpeg image")
	// ErrTooLarge is returned when a metadata block does not fit one APP1 segment.
	ErrTooLarge = errors.New("metadata exceeds jpeg segment size")

	xmpIdentifier  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	exifIdentifier = []byte("Exif\x00\x00")
)

// Static is the per-camera part of the metadata, fixed at startup.
type Static struct {
	CameraName    string
	Provider      string
	Latitude      float64
	Longitude     float64
	CameraHeading string
	AirfieldICAO  string
	WebcamURL     string
	License       string
	LicenseURL    string
	LicenseMark   string
}

// Capture is the per-cycle part of the metadata.
type Capture struct {
	CapturedAt time.Time
	Sunrise    time.Time
	Sunset     time.Time
	RawMETAR   string
	RawTAF     string
}

// Info is everything written into one image.
type Info struct {
	Static
	Capture
}

func (i Info) copyright() string {
	switch {
	case i.Provider != "" && i.LicenseMark != "":
		return i.Provider + "\n" + i.LicenseMark
	case i.LicenseMark != "":
		return i.LicenseMark
	default:
		return i.Provider
	}
}

// comment is the machine-readable record stored in the EXIF UserComment.
type comment struct {
	CameraName    string `json:"camera_name,omitempty"`
	Provider      string `json:"provider_name,omitempty"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	CameraHeading string `json:"camera_heading,omitempty"`
	AirfieldICAO  string `json:"airfield_icao,omitempty"`
	WebcamURL     string `json:"webcam_url,omitempty"`
	License       string `json:"license,omitempty"`
	LicenseURL    string `json:"license_url,omitempty"`
	LicenseMark   string `json:"license_mark,omitempty"`
	METAR         string `json:"metar,omitempty"`
	TAF           string `json:"taf,omitempty"`
	Sunrise       string `json:"sunrise,omitempty"`
	Sunset        string `json:"sunset,omitempty"`
}

func (i Info) comment() comment {
	return comment{
		CameraName:    i.CameraName,
		Provider:      i.Provider,
		Latitude:      strconv.FormatFloat(i.Latitude, 'f', -1, 64),
		Longitude:     strconv.FormatFloat(i.Longitude, 'f', -1, 64),
		CameraHeading: i.CameraHeading,
		AirfieldICAO:  i.AirfieldICAO,
		WebcamURL:     i.WebcamURL,
		License:       i.License,
		LicenseURL:    i.LicenseURL,
		LicenseMark:   i.LicenseMark,
		METAR:         i.RawMETAR,
		TAF:           i.RawTAF,
		Sunrise:       formatUTC(i.Sunrise),
		Sunset:        formatUTC(i.Sunset),
	}
}

// Embedder writes metadata for one camera.
type Embedder struct {
	static Static
}

// New returns an Embedder for the camera described by s.
func New(s Static) *Embedder {
	return &Embedder{static: s}
}

// Embed returns a copy of img with EXIF and XMP APP1 segments inserted after
// SOI and any JFIF header. Existing EXIF and XMP segments are replaced.
func (e *Embedder) Embed(img []byte, c Capture) ([]byte, error) {
	info := Info{Static: e.static, Capture: c}

	userComment, err := json.Marshal(info.comment())
	if err != nil {
		return nil, fmt.Errorf("encode user comment: %w", err)
	}
	exifSeg, err := segment(markerAPP1, exifPayload(info, userComment))
	if err != nil {
		return nil, fmt.Errorf("exif: %w", err)
	}
	xmpSeg, err := segment(markerAPP1, append(append([]byte(nil), xmpIdentifier...), xmpPacket(info)...))
	if err != nil {
		return nil, fmt.Errorf("xmp: %w", err)
	}
	return insert(img, exifSeg, xmpSeg)
}

func segment(marker byte, payload []byte) ([]byte, error) {
	if len(payload) > maxSegment {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(payload))
	}
	seg := make([]byte, 0, 4+len(payload))
	seg = append(seg, 0xff, marker)
	seg = order.AppendUint16(seg, uint16(len(payload)+2))
	return append(seg, payload...), nil
}

// insert walks the leading APPn segments, keeps everything except previous
// EXIF/XMP blocks, and places the new segments after the JFIF header.
func insert(img []byte, segs ...[]byte) ([]byte, error) {
	if len(img) < 4 || img[0] != 0xff || img[1] != markerSOI {
		return nil, ErrNotJPEG
	}

	var head, rest bytes.Buffer
	pos := 2
	for pos+4 <= len(img) && img[pos] == 0xff && img[pos+1] >= markerAPP0 && img[pos+1] <= 0xef {
		n := int(order.Uint16(img[pos+2:pos+4])) + 2
		if n < 4 || pos+n > len(img) {
			return nil, fmt.Errorf("%w: truncated segment at %d", ErrNotJPEG, pos)
		}
		seg := img[pos : pos+n]
		switch {
		case img[pos+1] == markerAPP0 && rest.Len() == 0:
			head.Write(seg)
		case img[pos+1] == markerAPP1 && (bytes.HasPrefix(seg[4:], exifIdentifier) || bytes.HasPrefix(seg[4:], xmpIdentifier)):
			// dropped, superseded by segs
		default:
			rest.Write(seg)
		}
		pos += n
	}

	size := len(img)
	for _, s := range segs {
		size += len(s)
	}
	out := make([]byte, 0, size)
	out = append(out, img[:2]...)
	out = append(out, head.Bytes()...)
	for _, s := range segs {
		out = append(out, s...)
	}
	out = append(out, rest.Bytes()...)
	return append(out, img[pos:]...), nil
}
