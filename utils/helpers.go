package utils

import (
	"bytes"
	"math"
	"net/http"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP")) {
		return formatWebP
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/webp":
		return formatWebP
	}
	return formatUnknown
}

// TargetDimensions applies the resize policy to a source of srcW x srcH.
//
// A non-positive targetW, or one at or above srcW, keeps the source size:
// images are never enlarged.  With keepAspect the height is
// round(targetW * srcH / srcW), at least 1.  Without it the returned height
// is 0, leaving the backend to derive it.
func TargetDimensions(srcW, srcH, targetW int, keepAspect bool) (int, int) {
	if targetW <= 0 || srcW <= 0 || targetW >= srcW {
		return srcW, srcH
	}
	if !keepAspect {
		return targetW, 0
	}
	h := int(math.Round(float64(targetW) * float64(srcH) / float64(srcW)))
	if h < 1 {
		h = 1
	}
	return targetW, h
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
