// Package imagetest generates encoded fixture images for tests.
package imagetest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp" // register decoder for Bounds
)

// Gradient returns a w x h image with smooth colour ramps, which compresses
// like photographic content rather than a flat fill.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 255 / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

// Flat returns a w x h image filled with c.
func Flat(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// JPEG encodes a w x h gradient as JPEG at quality 95.
func JPEG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: 95}); err != nil {
		tb.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes img as PNG.
func PNG(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

// WebP encodes a w x h gradient as lossy WebP.
func WebP(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := webp.Encode(&buf, Gradient(w, h), &webp.Options{Quality: 90}); err != nil {
		tb.Fatalf("encode test webp: %v", err)
	}
	return buf.Bytes()
}

// Bounds decodes data and returns its dimensions and format name.
func Bounds(tb testing.TB, data []byte) (int, int, string) {
	tb.Helper()
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("decode config: %v", err)
	}
	return cfg.Width, cfg.Height, name
}
