package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for raster icons
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
)

const (
	iconFetchTimeout = 5 * time.Second
	maxIconBytes     = 2 << 20
)

var errNoIconSource = errors.New("no icon source configured")

// IconSource names where the icon comes from. The first non-empty field wins,
// in field order.
type IconSource struct {
	SVG  string
	Path string
	URL  string
}

func (s IconSource) empty() bool {
	return s.SVG == "" && s.Path == "" && s.URL == ""
}

// key identifies the source for caching.
func (s IconSource) key() string {
	switch {
	case s.SVG != "":
		return "svg:" + s.SVG
	case s.Path != "":
		return "path:" + s.Path
	default:
		return "url:" + s.URL
	}
}

// LoadIcon resolves the icon and renders it into a size x size image.
func LoadIcon(ctx context.Context, src IconSource, size int, client *http.Client) (image.Image, error) {
	switch {
	case src.SVG != "":
		return rasterizeSVG(strings.NewReader(src.SVG), size)
	case src.Path != "":
		data, err := os.ReadFile(expandHome(src.Path))
		if err != nil {
			return nil, fmt.Errorf("read icon: %w", err)
		}
		return decodeIcon(data, strings.EqualFold(filepath.Ext(src.Path), ".svg"), size)
	case src.URL != "":
		data, isSVG, err := fetchIcon(ctx, src.URL, client)
		if err != nil {
			return nil, err
		}
		return decodeIcon(data, isSVG, size)
	}
	return nil, errNoIconSource
}

func fetchIcon(ctx context.Context, url string, client *http.Client) ([]byte, bool, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, iconFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("icon request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch icon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("fetch icon: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return nil, false, fmt.Errorf("read icon body: %w", err)
	}
	isSVG := strings.Contains(resp.Header.Get("Content-Type"), "svg") ||
		strings.HasSuffix(strings.ToLower(req.URL.Path), ".svg")
	return data, isSVG, nil
}

func decodeIcon(data []byte, isSVG bool, size int) (image.Image, error) {
	if isSVG || bytes.Contains(data[:min(len(data), 512)], []byte("<svg")) {
		return rasterizeSVG(bytes.NewReader(data), size)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}
	return fit(src, size), nil
}

func rasterizeSVG(r io.Reader, size int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(r)
	if err != nil {
		return nil, fmt.Errorf("parse svg icon: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1)
	return dst, nil
}

// fit scales src into a size x size square, keeping its aspect ratio.
func fit(src image.Image, size int) image.Image {
	sb := src.Bounds()
	w, h := size, size
	if sb.Dx() > sb.Dy() {
		h = max(size*sb.Dy()/sb.Dx(), 1)
	} else if sb.Dy() > sb.Dx() {
		w = max(size*sb.Dx()/sb.Dy(), 1)
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	off := image.Pt((size-w)/2, (size-h)/2)
	draw.CatmullRom.Scale(dst, image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}, src, sb, draw.Over, nil)
	return dst
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
