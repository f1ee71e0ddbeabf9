// Package overlay draws the weather badge onto captured frames.
package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"os"
	"sync"

	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/i474232898/webcam-capture/internal/common"
)

var errEmptyBadge = errors.New("badge has no text")

// Options configures a Compositor. Colors use the ParseColor syntax.
type Options struct {
	Position        string
	FontSize        int
	FontColor       string
	FontPath        string
	BackgroundColor string
	Quality         int
	Icon            IconSource
	IconSize        int
	IconSide        string
	HTTPClient      *http.Client
}

// Rendered is the output of one Compose call.
type Rendered struct {
	JPEG        []byte
	Applied     bool
	IconDropped bool
}

// Compositor renders badges. It is safe for concurrent use.
type Compositor struct {
	pos      Position
	fontSize int
	fg       color.NRGBA
	bg       color.NRGBA
	quality  int
	face     font.Face
	icon     IconSource
	iconSize int
	iconSide Side
	client   *http.Client
	logger   *zap.Logger

	mu        sync.Mutex
	iconCache map[string]image.Image

	faceMu sync.Mutex // font.Face caches glyphs and is not goroutine safe
}

// NewCompositor validates the options and loads the font.
func NewCompositor(opts Options, logger *zap.Logger) (*Compositor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("overlay")

	pos, err := ParsePosition(opts.Position)
	if err != nil {
		return nil, err
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 16
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 90
	}
	if opts.FontColor == "" {
		opts.FontColor = "white"
	}
	if opts.BackgroundColor == "" {
		opts.BackgroundColor = "rgba(0,0,0,0.6)"
	}
	fg, err := ParseColor(opts.FontColor)
	if err != nil {
		return nil, fmt.Errorf("font_color: %w", err)
	}
	bg, err := ParseColor(opts.BackgroundColor)
	if err != nil {
		return nil, fmt.Errorf("background_color: %w", err)
	}

	face, err := loadFace(opts.FontPath, opts.FontSize, log)
	if err != nil {
		return nil, err
	}

	side := SideLeft
	if opts.IconSide == string(SideRight) {
		side = SideRight
	}
	if opts.IconSize <= 0 {
		opts.IconSize = 24
	}

	return &Compositor{
		pos:       pos,
		fontSize:  opts.FontSize,
		fg:        fg,
		bg:        bg,
		quality:   opts.Quality,
		face:      face,
		icon:      opts.Icon,
		iconSize:  opts.IconSize,
		iconSide:  side,
		client:    opts.HTTPClient,
		logger:    log,
		iconCache: make(map[string]image.Image),
	}, nil
}

// loadFace parses a custom TTF/OTF font, falling back to Go Regular.
func loadFace(path string, size int, logger *zap.Logger) (font.Face, error) {
	data := goregular.TTF
	if path != "" {
		custom, err := os.ReadFile(expandHome(path))
		if err != nil {
			logger.Warn("font not readable, using built-in font", zap.String("path", path), zap.Error(err))
		} else {
			data = custom
		}
	}
	f, err := opentype.Parse(data)
	if err != nil {
		if path == "" {
			return nil, fmt.Errorf("parse built-in font: %w", err)
		}
		logger.Warn("font not parseable, using built-in font", zap.String("path", path), zap.Error(err))
		if f, err = opentype.Parse(goregular.TTF); err != nil {
			return nil, fmt.Errorf("parse built-in font: %w", err)
		}
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingFull})
}

// Compose draws the badge on base and re-encodes it as JPEG. It never fails:
// when the badge cannot be drawn the result is degraded and holds base unchanged.
func (c *Compositor) Compose(ctx context.Context, base []byte, text string) (res common.Result[Rendered]) {
	fallback := Rendered{JPEG: base}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("overlay panicked", zap.Any("panic", r))
			res = common.Degraded(fallback, fmt.Errorf("overlay panic: %v", r))
		}
	}()

	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return common.Degraded(fallback, fmt.Errorf("decode base image: %w", err))
	}

	var iconImg image.Image
	var iconErr error
	if !c.icon.empty() {
		iconImg, iconErr = c.loadIcon(ctx)
		if iconErr != nil {
			c.logger.Warn("icon unavailable, drawing text only", zap.Error(iconErr))
		}
	}
	if text == "" && iconImg == nil {
		return common.Degraded(fallback, errEmptyBadge)
	}

	iconSize := 0
	if iconImg != nil {
		iconSize = c.iconSize
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	layout := ComputeLayout(bounds, text, c.fontSize, iconSize, c.iconSide, c.pos)
	c.drawBackground(canvas, layout.Badge)
	if iconImg != nil {
		draw.Draw(canvas, layout.Icon, iconImg, iconImg.Bounds().Min, draw.Over)
	}
	if text != "" {
		c.drawText(canvas, layout, text)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: c.quality}); err != nil {
		return common.Degraded(fallback, fmt.Errorf("encode overlay: %w", err))
	}

	out := Rendered{JPEG: buf.Bytes(), Applied: true}
	if iconErr != nil {
		out.IconDropped = true
		return common.Degraded(out, iconErr)
	}
	return common.Ok(out)
}

func (c *Compositor) loadIcon(ctx context.Context) (image.Image, error) {
	key := c.icon.key()
	c.mu.Lock()
	cached, ok := c.iconCache[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	img, err := LoadIcon(ctx, c.icon, c.iconSize, c.client)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.iconCache[key] = img
	c.mu.Unlock()
	return img, nil
}

func (c *Compositor) drawBackground(canvas *image.RGBA, r image.Rectangle) {
	b := canvas.Bounds()
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), canvas, b)
	filler := rasterx.NewFiller(b.Dx(), b.Dy(), scanner)
	rasterx.AddRoundRect(
		float64(r.Min.X-b.Min.X), float64(r.Min.Y-b.Min.Y),
		float64(r.Max.X-b.Min.X), float64(r.Max.Y-b.Min.Y),
		cornerRadius, cornerRadius, 0, rasterx.RoundGap, filler,
	)
	filler.SetColor(c.bg)
	filler.Draw()
}

func (c *Compositor) drawText(canvas *image.RGBA, layout Layout, text string) {
	clip, ok := canvas.SubImage(layout.Badge).(*image.RGBA)
	if !ok {
		return
	}
	d := &font.Drawer{
		Dst:  clip,
		Src:  image.NewUniform(c.fg),
		Face: c.face,
		Dot:  fixed.P(layout.TextOrigin.X, layout.TextOrigin.Y),
	}
	c.faceMu.Lock()
	d.DrawString(text)
	c.faceMu.Unlock()
}
