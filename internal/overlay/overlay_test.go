package overlay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const badgeText = "LFRK 211200Z | 330/9kt | VFR | 4°C"

const circleSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24">
<circle cx="12" cy="12" r="10" fill="#ffcc00"/></svg>`

func baseJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func newTestCompositor(t *testing.T, opts Options) *Compositor {
	t.Helper()
	c, err := NewCompositor(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func luma(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (r + g + b) / 3 >> 8
}

func TestComputeLayoutCorners(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	text := "ABCDEFGHIJ" // 10 chars x 0.6 x 20 = 120px
	tests := []struct {
		pos  Position
		want image.Point
	}{
		{TopLeft, image.Pt(15, 15)},
		{TopRight, image.Pt(640-15-140, 15)},
		{BottomLeft, image.Pt(15, 480-15-40)},
		{BottomRight, image.Pt(640-15-140, 480-15-40)},
	}
	for _, tc := range tests {
		t.Run(string(tc.pos), func(t *testing.T) {
			l := ComputeLayout(bounds, text, 20, 0, SideLeft, tc.pos)
			assert.Equal(t, tc.want, l.Badge.Min)
			assert.Equal(t, 140, l.Badge.Dx())
			assert.Equal(t, 40, l.Badge.Dy())
			assert.True(t, l.Icon.Empty())
			assert.Equal(t, l.Badge.Min.X+paddingX, l.TextOrigin.X)
			assert.Equal(t, l.Badge.Max.Y-paddingY-4, l.TextOrigin.Y)
		})
	}
}

func TestComputeLayoutIcon(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)

	left := ComputeLayout(bounds, "ABCDEFGHIJ", 16, 32, SideLeft, TopLeft)
	assert.Equal(t, 96+20+32+6, left.Badge.Dx())
	assert.Equal(t, 32+16, left.Badge.Dy(), "icon taller than the text line sets the height")
	assert.Equal(t, left.Badge.Min.X+paddingX, left.Icon.Min.X)
	assert.Equal(t, left.Badge.Min.Y+8, left.Icon.Min.Y)
	assert.Equal(t, left.Icon.Max.X+iconSpacing, left.TextOrigin.X)

	right := ComputeLayout(bounds, "ABCDEFGHIJ", 16, 32, SideRight, TopLeft)
	assert.Equal(t, right.Badge.Max.X-paddingX, right.Icon.Max.X)
	assert.Equal(t, right.Badge.Min.X+paddingX, right.TextOrigin.X)
}

func TestComputeLayoutClampsToImage(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	l := ComputeLayout(bounds, "a very long status line that cannot possibly fit", 16, 0, SideLeft, BottomRight)
	assert.Equal(t, 200-2*margin, l.Badge.Dx())
	assert.True(t, l.Badge.In(bounds))
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"white", color.NRGBA{255, 255, 255, 255}},
		{" Yellow ", color.NRGBA{255, 255, 0, 255}},
		{"#f00", color.NRGBA{255, 0, 0, 255}},
		{"#102030", color.NRGBA{16, 32, 48, 255}},
		{"#10203080", color.NRGBA{16, 32, 48, 128}},
		{"rgb(1, 2, 3)", color.NRGBA{1, 2, 3, 255}},
		{"rgba(0,0,0,0.6)", color.NRGBA{0, 0, 0, 153}},
	}
	for _, tc := range tests {
		got, err := ParseColor(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "mauve", "#12", "#gggggg", "rgba(0,0,0)", "rgba(0,0,0,2)", "rgb(256,0,0)"} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestComposeDrawsBadge(t *testing.T) {
	c := newTestCompositor(t, Options{Position: "bottom-left", FontSize: 16, Quality: 90})
	base := baseJPEG(t, 640, 480)

	res := c.Compose(context.Background(), base, badgeText)
	require.True(t, res.IsOK(), "reason: %v", res.Reason)
	require.True(t, res.Value.Applied)

	out := decode(t, res.Value.JPEG)
	assert.Equal(t, image.Rect(0, 0, 640, 480), out.Bounds())

	l := ComputeLayout(out.Bounds(), badgeText, 16, 0, SideLeft, BottomLeft)
	inside := image.Pt(l.Badge.Min.X+3, l.Badge.Min.Y+l.Badge.Dy()/2)
	assert.Less(t, luma(out.At(inside.X, inside.Y)), uint32(120), "badge background is darker than the base")
	assert.Greater(t, luma(out.At(5, 5)), uint32(180), "pixels outside the badge are untouched")
}

func TestComposeInlineSVGIcon(t *testing.T) {
	c := newTestCompositor(t, Options{Icon: IconSource{SVG: circleSVG}, IconSize: 24, IconSide: "right"})
	res := c.Compose(context.Background(), baseJPEG(t, 320, 240), badgeText)
	require.True(t, res.IsOK(), "reason: %v", res.Reason)
	assert.False(t, res.Value.IconDropped)
}

func TestComposeURLIcon(t *testing.T) {
	icon := image.NewRGBA(image.Rect(0, 0, 64, 32))
	var png64 bytes.Buffer
	require.NoError(t, png.Encode(&png64, icon))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png64.Bytes())
	}))
	defer srv.Close()

	c := newTestCompositor(t, Options{Icon: IconSource{URL: srv.URL + "/logo.png"}, IconSize: 24})
	res := c.Compose(context.Background(), baseJPEG(t, 320, 240), badgeText)
	require.True(t, res.IsOK(), "reason: %v", res.Reason)
}

func TestComposeMissingIconKeepsText(t *testing.T) {
	c := newTestCompositor(t, Options{Icon: IconSource{Path: filepath.Join(t.TempDir(), "missing.png")}})
	res := c.Compose(context.Background(), baseJPEG(t, 320, 240), badgeText)

	require.True(t, res.IsDegraded())
	assert.True(t, res.Value.Applied)
	assert.True(t, res.Value.IconDropped)
	assert.NotEmpty(t, res.Value.JPEG)
	assert.Error(t, res.Reason)
}

func TestComposeUndecodableBaseFallsBack(t *testing.T) {
	c := newTestCompositor(t, Options{})
	base := []byte("not an image")
	res := c.Compose(context.Background(), base, badgeText)

	require.True(t, res.IsDegraded())
	assert.False(t, res.Value.Applied)
	assert.Equal(t, base, res.Value.JPEG)
}

func TestComposeEmptyBadge(t *testing.T) {
	c := newTestCompositor(t, Options{})
	res := c.Compose(context.Background(), baseJPEG(t, 64, 64), "")
	require.True(t, res.IsDegraded())
	assert.ErrorIs(t, res.Reason, errEmptyBadge)
}

func TestNewCompositorRejectsBadColor(t *testing.T) {
	_, err := NewCompositor(Options{FontColor: "chartreuse-ish"}, nil)
	assert.Error(t, err)
	_, err = NewCompositor(Options{Position: "center"}, nil)
	assert.Error(t, err)
}

func TestNewCompositorFallsBackFromBadFont(t *testing.T) {
	_, err := NewCompositor(Options{FontPath: filepath.Join(t.TempDir(), "nope.ttf")}, zaptest.NewLogger(t))
	assert.NoError(t, err)
}
