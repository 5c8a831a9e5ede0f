package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 85
	DefaultMaxBytes     = 10 << 20
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image exceeds upload limit")
	ErrEmpty             = errors.New("image is empty")
)

// Accepted input MIME types. Output is always JPEG.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Options tunes Process. Zero values fall back to the defaults.
type Options struct {
	MaxDimension int
	Quality      int
	MaxBytes     int64
}

func (o Options) normalized() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// Result is a processed image.
type Result struct {
	Data       []byte
	MIME       string
	Ext        string
	SourceMIME string
	Width      int
	Height     int
}

// Process reads at most MaxBytes from r, sniffs the real content type,
// downscales so neither side exceeds MaxDimension and re-encodes as JPEG.
func Process(r io.Reader, opts Options) (*Result, error) {
	opts = opts.normalized()

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, ErrTooLarge
	}

	detected := mimetype.Detect(data)
	if !allowedMIME[detected.String()] {
		return nil, fmt.Errorf("%w: %s (JPEG, PNG, GIF or WebP accepted)", ErrUnsupportedFormat, detected.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrUnsupportedFormat, err)
	}
	img = downscale(img, opts.MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}

	bounds := img.Bounds()
	return &Result{
		Data:       buf.Bytes(),
		MIME:       "image/jpeg",
		Ext:        "jpg",
		SourceMIME: detected.String(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}, nil
}

// downscale keeps the aspect ratio and returns img untouched when it already
// fits.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}
	newW = max(newW, 1)
	newH = max(newH, 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
