package scene

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"path"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/gobwas/glob"
)

// Resize downscales PNG and JPEG textures to fit within Width x Height,
// keeping aspect ratio. A non-positive bound leaves that axis unconstrained.
type Resize struct {
	Width  int
	Height int
	Filter string
}

// Name returns "resize".
func (Resize) Name() string { return "resize" }

func (t Resize) apply(ctx context.Context, m *model) error {
	filter := ResampleFilter(t.Filter)
	resized := 0
	for i, img := range m.images {
		if err := ctx.Err(); err != nil {
			return err
		}
		if img.dropped || (img.mime != MimePNG && img.mime != MimeJPEG) {
			continue
		}
		size, ok := imageSize(img.data, img.mime)
		if !ok {
			m.warnf("resize: image %d is unreadable, skipping", i)
			continue
		}
		w, h := fitWithin(size[0], size[1], t.Width, t.Height)
		if w == size[0] && h == size[1] {
			continue
		}
		src, _, err := image.Decode(bytes.NewReader(img.data))
		if err != nil {
			m.warnf("resize: image %d: %v", i, err)
			continue
		}
		dst := transform.Resize(src, w, h, filter)
		data, err := encodeImage(dst, img.mime)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		m.debugf("resize: image %d %dx%d -> %dx%d", i, size[0], size[1], w, h)
		img.data = data
		resized++
	}
	m.debugf("resize: %d images resized", resized)
	return nil
}

// fitWithin scales w x h down to fit maxW x maxH. It never upscales.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale >= 1 {
		return w, h
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return max(nw, 1), max(nh, 1)
}

// ResampleFilter maps a filter name to a bild resampling filter. Unknown
// names use Lanczos.
func ResampleFilter(name string) transform.ResampleFilter {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest", "point":
		return transform.NearestNeighbor
	case "box":
		return transform.Box
	case "linear", "bilinear", "triangle", "tent":
		return transform.Linear
	case "gaussian":
		return transform.Gaussian
	case "mitchell":
		return transform.MitchellNetravali
	case "cubic", "catmullrom", "catmull_rom":
		return transform.CatmullRom
	default:
		return transform.Lanczos
	}
}

// encodeImage writes img in the format named by mime.
func encodeImage(img image.Image, mime string) ([]byte, error) {
	var enc imgio.Encoder
	switch mime {
	case MimePNG:
		enc = imgio.PNGEncoder()
	case MimeJPEG:
		enc = imgio.JPEGEncoder(90)
	default:
		return nil, fmt.Errorf("cannot encode %s", mime)
	}
	var buf bytes.Buffer
	if err := enc(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PNG losslessly re-encodes textures whose MIME type matches Formats at
// maximum PNG compression, keeping the result only when it is smaller.
type PNG struct {
	// Formats is a case-insensitive glob tested as a substring of the MIME
	// type. Empty matches everything.
	Formats string
}

// Name returns "png".
func (PNG) Name() string { return "png" }

func (t PNG) apply(ctx context.Context, m *model) error {
	match, err := ContainsGlob(t.Formats)
	if err != nil {
		return fmt.Errorf("format filter %q: %w", t.Formats, err)
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	optimized := 0
	for i, img := range m.images {
		if err := ctx.Err(); err != nil {
			return err
		}
		if img.dropped || len(img.data) == 0 || img.mime == MimeKTX2 || !match.Match(strings.ToLower(img.mime)) {
			continue
		}
		src, _, err := image.Decode(bytes.NewReader(img.data))
		if err != nil {
			m.warnf("png: image %d: %v", i, err)
			continue
		}
		var buf bytes.Buffer
		if err := enc.Encode(&buf, src); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		if buf.Len() >= len(img.data) {
			continue
		}
		m.debugf("png: image %d %d -> %d bytes", i, len(img.data), buf.Len())
		if img.mime != MimePNG && img.uri != "" {
			img.uri = strings.TrimSuffix(img.uri, path.Ext(img.uri)) + ".png"
		}
		img.data = buf.Bytes()
		img.mime = MimePNG
		optimized++
	}
	m.debugf("png: %d images optimized", optimized)
	return nil
}

// ContainsGlob compiles pattern for case-insensitive substring matching of
// lowercased input. An empty pattern matches everything.
func ContainsGlob(pattern string) (glob.Glob, error) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		p = "*"
	}
	return glob.Compile("*" + p + "*")
}
