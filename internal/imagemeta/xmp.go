package imagemeta

import (
	"bytes"
	"encoding/xml"
)

const (
	xmpNamespace = "https://github.com/i474232898/webcam-capture/xmp/1.0/"
	xmpPrefix    = "cam"
	// xmpPadding leaves room for in-place edits by other tools.
	xmpPadding = 2048
)

// xmpPacket renders the XMP packet carrying the same fields as the EXIF
// UserComment under the cam: namespace.
func xmpPacket(info Info) []byte {
	c := info.comment()

	var b bytes.Buffer
	b.WriteString(`<?xpacket begin="` + "\ufeff" + `" id="W5M0MpCehiHzreSzNTczkc9d"?>` + "\n")
	b.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	b.WriteString(`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	b.WriteString(`<rdf:Description rdf:about="" xmlns:` + xmpPrefix + `="` + xmpNamespace + `">` + "\n")

	field := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString("<" + xmpPrefix + ":" + name + ">")
		_ = xml.EscapeText(&b, []byte(value))
		b.WriteString("</" + xmpPrefix + ":" + name + ">\n")
	}
	field("camera_name", c.CameraName)
	field("provider_name", c.Provider)
	field("latitude", c.Latitude)
	field("longitude", c.Longitude)
	field("camera_heading", c.CameraHeading)
	field("airfield_icao", c.AirfieldICAO)
	field("webcam_url", c.WebcamURL)
	field("license", c.License)
	field("license_url", c.LicenseURL)
	field("license_mark", c.LicenseMark)
	field("metar", c.METAR)
	field("taf", c.TAF)
	field("sunrise", c.Sunrise)
	field("sunset", c.Sunset)
	field("captured_at", formatUTC(info.CapturedAt))

	b.WriteString("</rdf:Description>\n</rdf:RDF>\n</x:xmpmeta>\n")
	b.Write(bytes.Repeat([]byte(" "), xmpPadding))
	b.WriteString("\n" + `<?xpacket end="w"?>`)
	return b.Bytes()
}
