// Package vips implements core.Backend on top of libvips via govips.
//
// The encoder settings mirror what a sharp-based pipeline would use: JPEG
// with mozjpeg-style tuning and 4:4:4 chroma, palette PNG at maximum
// compression, and lossy WebP at the highest reduction effort.
package vips

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend is a libvips-powered core.Backend.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// libvips can be started once per process and cannot be restarted after
// Shutdown, so every Backend shares one initialisation.
var startOnce sync.Once

// NewBackend initialises libvips on first use and returns a ready Backend.
// The first call's cache and concurrency settings win.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	startOnce.Do(func() {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
			CollectStats:     true,
		})
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources.  Call once at process exit,
// after the last Backend is done.
func Shutdown() {
	govips.Shutdown()
}

func (b *Backend) Name() string { return "vips" }

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) Decode(ctx context.Context, data []byte) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", apperrors.ErrEmptyInput)
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode",
			fmt.Errorf("payload is not a recognized image: %w", err))
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	meta := core.Metadata{
		Width:     ref.Width(),
		Height:    ref.Height(),
		Format:    vipsFormatToCore(ref.Format()),
		HasAlpha:  ref.HasAlpha(),
		SizeBytes: int64(len(data)),
	}
	return &core.ImageData{
		Data:         data,
		Format:       meta.Format,
		Image:        &VipsImage{ref: ref},
		Meta:         meta,
		Source:       meta,
		OriginalSize: int64(len(data)),
	}, nil
}

// ─── Resizer ──────────────────────────────────────────────────────────────────

// Resize scales with the Lanczos3 kernel.  The source ref is copied first so
// the decoded handle held by earlier pipeline stages is never mutated.
func (b *Backend) Resize(ctx context.Context, img *core.ImageData, width, height int) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.resize", err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, "vips.resize",
			fmt.Errorf("expected *VipsImage; use vips backend for decode"))
	}
	if width <= 0 || height < 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "vips.resize", apperrors.ErrInvalidDimensions)
	}

	ref, err := vi.ref.Copy()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.resize", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	hscale := float64(width) / float64(ref.Width())
	if height == 0 {
		err = ref.Resize(hscale, govips.KernelLanczos3)
	} else {
		vscale := float64(height) / float64(ref.Height())
		err = ref.ResizeWithVScale(hscale, vscale, govips.KernelLanczos3)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.resize", err)
	}

	out := *img
	out.Image = &VipsImage{ref: ref}
	out.Meta.Width = ref.Width()
	out.Meta.Height = ref.Height()
	return &out, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}

	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("image must be decoded with the vips backend first"))
	}

	var (
		buf []byte
		err error
	)
	switch opts.Format {
	case core.FormatJPEG:
		buf, _, err = vi.ref.ExportJpeg(jpegParams(opts.Quality))
	case core.FormatPNG:
		buf, _, err = vi.ref.ExportPng(pngParams(opts.Quality))
	case core.FormatWebP:
		buf, _, err = vi.ref.ExportWebp(webpParams(opts.Quality))
	default:
		return nil, apperrors.Unsupported("vips.encode", string(opts.Format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode."+string(opts.Format), err)
	}
	return buf, nil
}

func jpegParams(quality int) *govips.JpegExportParams {
	ep := govips.NewJpegExportParams()
	ep.Quality = clampQuality(quality)
	ep.OptimizeCoding = true
	ep.TrellisQuant = true
	ep.OvershootDeringing = true
	ep.OptimizeScans = true
	ep.QuantTable = 3
	ep.SubsampleMode = govips.VipsForeignSubsampleOff
	return ep
}

func pngParams(quality int) *govips.PngExportParams {
	ep := govips.NewPngExportParams()
	ep.Compression = 9
	ep.Palette = true
	ep.Quality = clampQuality(quality)
	return ep
}

func webpParams(quality int) *govips.WebpExportParams {
	ep := govips.NewWebpExportParams()
	ep.Quality = clampQuality(quality)
	ep.Lossless = false
	ep.ReductionEffort = 6
	return ep
}

// ─── VipsImage ────────────────────────────────────────────────────────────────

// VipsImage wraps a *govips.ImageRef for storage in core.ImageData.Image.
type VipsImage struct {
	ref *govips.ImageRef
}

func (v *VipsImage) Width() int  { return v.ref.Width() }
func (v *VipsImage) Height() int { return v.ref.Height() }

// Close frees the libvips image now instead of waiting for the finalizer.
// It is safe to call more than once.
func (v *VipsImage) Close() {
	if v == nil || v.ref == nil {
		return
	}
	runtime.SetFinalizer(v.ref, nil)
	v.ref.Close()
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
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

// compile-time interface checks
var (
	_ core.Backend  = (*Backend)(nil)
	_ core.Releaser = (*VipsImage)(nil)
)
