package qr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"eduitraya/internal/cache"
)

// Options control how a code is rendered.
type Options struct {
	// Size is the width of the code in pixels.
	Size       int
	Foreground color.Color
	Background color.Color
	// Caption, when set, is printed under the code.
	Caption string
}

// Encoder renders content as a PNG QR code.
type Encoder interface {
	Encode(content string, opts Options) ([]byte, error)
}

// SkipEncoder renders codes with github.com/skip2/go-qrcode. The zero
// value uses the lowest recovery level; DefaultEncoder uses medium.
type SkipEncoder struct {
	Level qrcode.RecoveryLevel
}

var _ Encoder = SkipEncoder{}

// DefaultEncoder returns a SkipEncoder with medium error correction.
func DefaultEncoder() SkipEncoder {
	return SkipEncoder{Level: qrcode.Medium}
}

func (e SkipEncoder) Encode(content string, opts Options) ([]byte, error) {
	code, err := qrcode.New(content, e.Level)
	if err != nil {
		return nil, fmt.Errorf("build qr code: %w", err)
	}
	if opts.Foreground != nil {
		code.ForegroundColor = opts.Foreground
	}
	if opts.Background != nil {
		code.BackgroundColor = opts.Background
	}
	if opts.Caption == "" {
		return code.PNG(opts.Size)
	}

	img := withCaption(code.Image(opts.Size), opts.Caption, code.ForegroundColor, code.BackgroundColor)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// withCaption returns code with a strip of text added underneath.
func withCaption(code image.Image, caption string, fg, bg color.Color) image.Image {
	face := basicfont.Face7x13
	bounds := code.Bounds()
	strip := face.Height + 6

	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()+strip))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, 0, bounds.Dx(), bounds.Dy()), code, bounds.Min, draw.Src)

	d := &font.Drawer{Dst: canvas, Src: image.NewUniform(fg), Face: face}
	x := (bounds.Dx() - d.MeasureString(caption).Ceil()) / 2
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.P(x, bounds.Dy()+face.Ascent+2)
	d.DrawString(caption)
	return canvas
}

// CachedEncoder memoizes rendered codes by content and options.
type CachedEncoder struct {
	next  Encoder
	cache cache.Cache[[]byte]
}

func NewCachedEncoder(next Encoder, c cache.Cache[[]byte]) *CachedEncoder {
	return &CachedEncoder{next: next, cache: c}
}

func (e *CachedEncoder) Encode(content string, opts Options) ([]byte, error) {
	key := cacheKey(content, opts)
	if data, ok := e.cache.Get(key); ok {
		return bytes.Clone(data), nil
	}
	data, err := e.next.Encode(content, opts)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, bytes.Clone(data))
	return data, nil
}

func cacheKey(content string, opts Options) string {
	return fmt.Sprintf("%d|%s|%s|%q|%q", opts.Size, hex(opts.Foreground), hex(opts.Background), opts.Caption, content)
}

func hex(c color.Color) string {
	if c == nil {
		return "-"
	}
	r, g, b, a := c.RGBA()
	return fmt.Sprintf("%02x%02x%02x%02x", r>>8, g>>8, b>>8, a>>8)
}
