package native

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
)

// maxPaletteColors is the largest palette a PNG can index.
const maxPaletteColors = 256

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "native.encode", err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "native.encode", apperrors.ErrEmptyInput)
	}

	var (
		buf bytes.Buffer
		err error
	)
	switch opts.Format {
	case core.FormatJPEG:
		err = jpeg.Encode(&buf, src, &jpeg.Options{Quality: clampQuality(opts.Quality)})
	case core.FormatPNG:
		err = encodePNG(&buf, src, clampQuality(opts.Quality))
	case core.FormatWebP:
		err = webp.Encode(&buf, src, &webp.Options{
			Lossless: false,
			Quality:  float32(clampQuality(opts.Quality)),
		})
	default:
		return nil, apperrors.Unsupported("native.encode", string(opts.Format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "native.encode."+string(opts.Format), err)
	}
	return buf.Bytes(), nil
}

// encodePNG writes at maximum deflate effort.  Below quality 100 the
// channels are posterised to fewer bits, and the result is written as an
// indexed image whenever it fits in a palette.
func encodePNG(buf *bytes.Buffer, src image.Image, quality int) error {
	enc := &png.Encoder{CompressionLevel: png.BestCompression}
	if quality < 100 {
		src = posterize(src, 2+quality*6/100)
	}
	if p, ok := toPaletted(src); ok {
		return enc.Encode(buf, p)
	}
	return enc.Encode(buf, src)
}

// posterize keeps the top bits of each colour channel; alpha is untouched.
func posterize(src image.Image, bits int) *image.NRGBA {
	mask := uint8(0xFF << (8 - bits))
	bounds := src.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			out.SetNRGBA(x, y, color.NRGBA{R: c.R & mask, G: c.G & mask, B: c.B & mask, A: c.A})
		}
	}
	return out
}

// toPaletted converts src to an indexed image when it uses at most 256
// distinct colours.
func toPaletted(src image.Image) (*image.Paletted, bool) {
	if p, ok := src.(*image.Paletted); ok {
		return p, true
	}
	bounds := src.Bounds()
	index := make(map[color.NRGBA]uint8, maxPaletteColors)
	pal := make(color.Palette, 0, maxPaletteColors)
	out := image.NewPaletted(bounds, nil)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			i, seen := index[c]
			if !seen {
				if len(pal) == maxPaletteColors {
					return nil, false
				}
				i = uint8(len(pal))
				index[c] = i
				pal = append(pal, c)
			}
			out.SetColorIndex(x, y, i)
		}
	}
	out.Palette = pal
	return out, true
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	}
	return q
}
