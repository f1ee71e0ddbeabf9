package imagemeta

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"time"
)

// TIFF field types.
const (
	typeByte      uint16 = 1
	typeASCII     uint16 = 2
	typeLong      uint16 = 4
	typeRational  uint16 = 5
	typeUndefined uint16 = 7
)

// Tags written by the encoder.
const (
	tagImageDescription   uint16 = 0x010e
	tagSoftware           uint16 = 0x0131
	tagDateTime           uint16 = 0x0132
	tagArtist             uint16 = 0x013b
	tagCopyright          uint16 = 0x8298
	tagExifIFD            uint16 = 0x8769
	tagGPSIFD             uint16 = 0x8825
	tagExifVersion        uint16 = 0x9000
	tagDateTimeOriginal   uint16 = 0x9003
	tagOffsetTimeOriginal uint16 = 0x9011
	tagUserComment        uint16 = 0x9286
	tagGPSVersionID       uint16 = 0x0000
	tagGPSLatitudeRef     uint16 = 0x0001
	tagGPSLatitude        uint16 = 0x0002
	tagGPSLongitudeRef    uint16 = 0x0003
	tagGPSLongitude       uint16 = 0x0004
	tagGPSTimeStamp       uint16 = 0x0007
	tagGPSDateStamp       uint16 = 0x001d
)

const exifTimeLayout = "2006:01:02 15:04:05"

var order = binary.BigEndian

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

type ifd []entry

func (d *ifd) ascii(tag uint16, s string) {
	if s == "" {
		return
	}
	*d = append(*d, entry{tag: tag, typ: typeASCII, count: uint32(len(s) + 1), data: append([]byte(s), 0)})
}

func (d *ifd) undefined(tag uint16, b []byte) {
	*d = append(*d, entry{tag: tag, typ: typeUndefined, count: uint32(len(b)), data: b})
}

func (d *ifd) long(tag uint16, v uint32) {
	*d = append(*d, entry{tag: tag, typ: typeLong, count: 1, data: order.AppendUint32(nil, v)})
}

func (d *ifd) rationals(tag uint16, vals ...[2]uint32) {
	var b []byte
	for _, v := range vals {
		b = order.AppendUint32(b, v[0])
		b = order.AppendUint32(b, v[1])
	}
	*d = append(*d, entry{tag: tag, typ: typeRational, count: uint32(len(vals)), data: b})
}

func (d ifd) set(tag uint16, v uint32) {
	for i := range d {
		if d[i].tag == tag {
			d[i].data = order.AppendUint32(nil, v)
		}
	}
}

func (d ifd) size() int {
	n := 2 + 12*len(d) + 4
	for _, e := range d {
		if len(e.data) > 4 {
			n += len(e.data) + len(e.data)%2
		}
	}
	return n
}

// encode writes the directory as if it started at offset within the TIFF
// stream. Values longer than four bytes follow the directory itself.
func (d ifd) encode(buf *bytes.Buffer, offset int) {
	sort.Slice(d, func(i, j int) bool { return d[i].tag < d[j].tag })

	data := offset + 2 + 12*len(d) + 4
	var tail bytes.Buffer
	_ = binary.Write(buf, order, uint16(len(d)))
	for _, e := range d {
		_ = binary.Write(buf, order, e.tag)
		_ = binary.Write(buf, order, e.typ)
		_ = binary.Write(buf, order, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
			continue
		}
		_ = binary.Write(buf, order, uint32(data+tail.Len()))
		tail.Write(e.data)
		if len(e.data)%2 == 1 {
			tail.WriteByte(0)
		}
	}
	_ = binary.Write(buf, order, uint32(0))
	buf.Write(tail.Bytes())
}

// exifPayload is the body of the APP1 Exif segment: identifier plus a
// big-endian TIFF stream with IFD0, the Exif IFD and the GPS IFD.
func exifPayload(info Info, userComment []byte) []byte {
	captured := info.CapturedAt.UTC()

	var ifd0 ifd
	ifd0.ascii(tagImageDescription, info.CameraName)
	ifd0.ascii(tagSoftware, Software)
	ifd0.ascii(tagDateTime, captured.Format(exifTimeLayout))
	ifd0.ascii(tagArtist, info.Provider)
	ifd0.ascii(tagCopyright, info.copyright())
	ifd0.long(tagExifIFD, 0)
	ifd0.long(tagGPSIFD, 0)

	var exifDir ifd
	exifDir.undefined(tagExifVersion, []byte("0232"))
	exifDir.ascii(tagDateTimeOriginal, captured.Format(exifTimeLayout))
	exifDir.ascii(tagOffsetTimeOriginal, "+00:00")
	// Eight zero bytes declare an undefined character set; the body is UTF-8 JSON.
	exifDir.undefined(tagUserComment, append(make([]byte, 8), userComment...))

	var gps ifd
	gps = append(gps, entry{tag: tagGPSVersionID, typ: typeByte, count: 4, data: []byte{2, 3, 0, 0}})
	gps.ascii(tagGPSLatitudeRef, hemisphere(info.Latitude, "N", "S"))
	gps.rationals(tagGPSLatitude, dms(info.Latitude)...)
	gps.ascii(tagGPSLongitudeRef, hemisphere(info.Longitude, "E", "W"))
	gps.rationals(tagGPSLongitude, dms(info.Longitude)...)
	gps.rationals(tagGPSTimeStamp,
		[2]uint32{uint32(captured.Hour()), 1},
		[2]uint32{uint32(captured.Minute()), 1},
		[2]uint32{uint32(captured.Second()), 1},
	)
	gps.ascii(tagGPSDateStamp, captured.Format("2006:01:02"))

	ifd0Off := 8
	exifOff := ifd0Off + ifd0.size()
	gpsOff := exifOff + exifDir.size()
	ifd0.set(tagExifIFD, uint32(exifOff))
	ifd0.set(tagGPSIFD, uint32(gpsOff))

	var buf bytes.Buffer
	buf.WriteString("Exif\x00\x00")
	buf.WriteString("MM")
	_ = binary.Write(&buf, order, uint16(42))
	_ = binary.Write(&buf, order, uint32(ifd0Off))
	ifd0.encode(&buf, ifd0Off)
	exifDir.encode(&buf, exifOff)
	gps.encode(&buf, gpsOff)
	return buf.Bytes()
}

func hemisphere(v float64, pos, neg string) string {
	if v >= 0 {
		return pos
	}
	return neg
}

// dms converts decimal degrees to degree, minute and centi-second rationals.
func dms(v float64) [][2]uint32 {
	v = math.Abs(v)
	deg := math.Floor(v)
	minutes := math.Floor((v - deg) * 60)
	centis := math.Round(((v-deg)*60 - minutes) * 60 * 100)
	if centis >= 6000 {
		centis -= 6000
		minutes++
	}
	if minutes >= 60 {
		minutes -= 60
		deg++
	}
	return [][2]uint32{
		{uint32(deg), 1},
		{uint32(minutes), 1},
		{uint32(centis), 100},
	}
}

func formatUTC(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
