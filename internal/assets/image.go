package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// ImageOptions tunes ImageOptimizer.
type ImageOptions struct {
	// Level 3 or more selects the strongest PNG compression.
	Level       int
	JPEGQuality int
	// MaxDimension down-scales larger rasters; 0 keeps the original size.
	MaxDimension int
}

// ImageOptimizer re-encodes images with lossless or configured settings.
type ImageOptimizer struct {
	opts ImageOptions
	min  *Minifier
}

func NewImageOptimizer(opts ImageOptions, min *Minifier) *ImageOptimizer {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = jpeg.DefaultQuality
	}
	if min == nil {
		min = NewMinifier()
	}
	return &ImageOptimizer{opts: opts, min: min}
}

// IsImage reports whether the optimiser handles the file extension.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg":
		return true
	}
	return false
}

// Optimize returns the re-encoded image. smaller is false when the result is
// not smaller than data; callers keep the original then.
func (o *ImageOptimizer) Optimize(path string, data []byte) (out []byte, smaller bool, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		out, err = o.min.SVG(data)
	case ".png":
		out, err = o.png(data)
	case ".jpg", ".jpeg":
		out, err = o.jpeg(data)
	case ".gif":
		out, err = o.gif(data)
	default:
		return nil, false, fmt.Errorf("unsupported image type: %s", path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("optimize %s: %w", path, err)
	}
	return out, len(out) < len(data), nil
}

func (o *ImageOptimizer) png(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if o.opts.Level >= 3 {
		enc.CompressionLevel = png.BestCompression
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, o.scale(img)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// jpeg re-encodes only when the image is scaled down or was saved at a higher
// quality than configured; anything else is returned unchanged.
func (o *ImageOptimizer) jpeg(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	fits := o.opts.MaxDimension <= 0 || (b.Dx() <= o.opts.MaxDimension && b.Dy() <= o.opts.MaxDimension)
	if q, ok := jpegQuality(data); fits && (!ok || q <= o.opts.JPEGQuality) {
		return data, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, o.scale(img), &jpeg.Options{Quality: o.opts.JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var stdLuminance = [64]int{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

// jpegQuality estimates the libjpeg quality a file was saved with from its
// luminance quantization table. ok is false when no such table is found.
func jpegQuality(data []byte) (quality int, ok bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, false
	}
	for i := 2; i+4 <= len(data); {
		if data[i] != 0xFF {
			return 0, false
		}
		marker := data[i+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 || marker == 0xFF {
			i++
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return 0, false
		}
		n := int(data[i+2])<<8 | int(data[i+3])
		end := i + 2 + n
		if n < 2 || end > len(data) {
			return 0, false
		}
		if marker == 0xDB {
			if q, found := luminanceQuality(data[i+4 : end]); found {
				return q, true
			}
		}
		i = end
	}
	return 0, false
}

func luminanceQuality(seg []byte) (int, bool) {
	for len(seg) > 0 {
		precision, id := seg[0]>>4, seg[0]&0x0F
		size := 64
		if precision == 1 {
			size = 128
		}
		if len(seg) < 1+size {
			return 0, false
		}
		if id == 0 {
			sum, std := 0, 0
			for k := range 64 {
				if precision == 1 {
					sum += int(seg[1+2*k])<<8 | int(seg[2+2*k])
				} else {
					sum += int(seg[1+k])
				}
				std += stdLuminance[k]
			}
			scale := float64(sum) * 100 / float64(std)
			q := 5000 / scale
			if scale <= 100 {
				q = (200 - scale) / 2
			}
			return min(100, max(1, int(q+0.5))), true
		}
		seg = seg[1+size:]
	}
	return 0, false
}

// gif re-encodes every frame; animations are never scaled.
func (o *ImageOptimizer) gif(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *ImageOptimizer) scale(img image.Image) image.Image {
	max := o.opts.MaxDimension
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max <= 0 || (w <= max && h <= max) {
		return img
	}
	if w >= h {
		h = h * max / w
		w = max
	} else {
		w = w * max / h
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
