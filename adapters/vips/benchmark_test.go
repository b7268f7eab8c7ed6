package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-storage/adapters/native"
	"github.com/Skryldev/image-storage/adapters/vips"
	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
	"github.com/Skryldev/image-storage/imagetest"
	"github.com/Skryldev/image-storage/pipeline"
)

var backend *vips.Backend

func TestMain(m *testing.M) {
	backend = vips.NewBackend(vips.BackendConfig{})
	code := m.Run()
	vips.Shutdown()
	os.Exit(code)
}

func TestDecode(t *testing.T) {
	img, err := backend.Decode(context.Background(), imagetest.PNG(t, imagetest.Gradient(64, 48)))
	require.NoError(t, err)
	assert.Equal(t, core.FormatPNG, img.Source.Format)
	assert.Equal(t, 64, img.Meta.Width)
	assert.Equal(t, 48, img.Meta.Height)

	_, err = backend.Decode(context.Background(), []byte("garbage"))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))
}

func TestResize_LeavesSourceIntact(t *testing.T) {
	ctx := context.Background()
	img, err := backend.Decode(ctx, imagetest.JPEG(t, 200, 100))
	require.NoError(t, err)

	out, err := backend.Resize(ctx, img, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Meta.Width)
	assert.Equal(t, 50, out.Meta.Height)

	src := img.Image.(*vips.VipsImage)
	assert.Equal(t, 200, src.Width(), "resize must not mutate the decoded ref")
}

func TestEncode_AllFormats(t *testing.T) {
	ctx := context.Background()
	img, err := backend.Decode(ctx, imagetest.JPEG(t, 120, 80))
	require.NoError(t, err)

	for _, f := range core.OutputFormats {
		t.Run(string(f), func(t *testing.T) {
			data, err := backend.Encode(ctx, img, core.EncodeOptions{Format: f, Quality: 80})
			require.NoError(t, err)
			w, h, name := imagetest.Bounds(t, data)
			assert.Equal(t, 120, w)
			assert.Equal(t, 80, h)
			assert.Equal(t, string(f), name)
		})
	}

	_, err = backend.Encode(ctx, img, core.EncodeOptions{Format: "tiff"})
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryUnsupported))
}

func TestEncode_JPEGKeepsFullChroma(t *testing.T) {
	ctx := context.Background()
	img, err := backend.Decode(ctx, imagetest.PNG(t, imagetest.Gradient(64, 32)))
	require.NoError(t, err)

	data, err := backend.Encode(ctx, img, core.EncodeOptions{Format: core.FormatJPEG, Quality: 80})
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	ycc, ok := decoded.(*image.YCbCr)
	require.True(t, ok, "colour JPEG should decode to YCbCr, got %T", decoded)
	assert.Equal(t, image.YCbCrSubsampleRatio444, ycc.SubsampleRatio)
}

func TestEncode_PNGQualityDrivesPalette(t *testing.T) {
	ctx := context.Background()
	img, err := backend.Decode(ctx, imagetest.PNG(t, imagetest.Gradient(256, 128)))
	require.NoError(t, err)

	low, err := backend.Encode(ctx, img, core.EncodeOptions{Format: core.FormatPNG, Quality: 10})
	require.NoError(t, err)
	high, err := backend.Encode(ctx, img, core.EncodeOptions{Format: core.FormatPNG, Quality: 100})
	require.NoError(t, err)

	assert.NotEqual(t, low, high)
	assert.Less(t, len(low), len(high), "lower quality should quantise to fewer colours")

	decoded, err := png.Decode(bytes.NewReader(high))
	require.NoError(t, err)
	_, paletted := decoded.(*image.Paletted)
	assert.True(t, paletted, "PNG output should be palette based")
}

func TestEncode_WebPIsLossy(t *testing.T) {
	ctx := context.Background()
	img, err := backend.Decode(ctx, imagetest.JPEG(t, 64, 32))
	require.NoError(t, err)

	data, err := backend.Encode(ctx, img, core.EncodeOptions{Format: core.FormatWebP, Quality: 80})
	require.NoError(t, err)
	require.Greater(t, len(data), 16)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WEBP", string(data[8:12]))
	assert.Equal(t, "VP8 ", string(data[12:16]), "lossy bitstream expected, VP8L is lossless")
}

func TestVipsImage_CloseIsIdempotent(t *testing.T) {
	img, err := backend.Decode(context.Background(), imagetest.JPEG(t, 8, 8))
	require.NoError(t, err)
	vi := img.Image.(*vips.VipsImage)
	vi.Close()
	vi.Close()
	img.Release()
}

func TestEncode_RejectsForeignHandle(t *testing.T) {
	img, err := native.New().Decode(context.Background(), imagetest.JPEG(t, 8, 8))
	require.NoError(t, err)
	_, err = backend.Encode(context.Background(), img, core.EncodeOptions{Format: core.FormatPNG})
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryEncode))
}

// ─── Benchmarks ───────────────────────────────────────────────────────────────

func benchPipeline(b *testing.B, be core.Backend, raw []byte, width int, f core.Format) {
	p := pipeline.New().Use(
		&pipeline.DecodeStep{Backend: be},
		&pipeline.ResizeStep{Backend: be, TargetWidth: width, KeepAspect: true},
		&pipeline.EncodeStep{Backend: be, Options: core.EncodeOptions{Format: f, Quality: 80}},
	)
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := p.Run(context.Background(), &core.ImageData{Data: raw}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode_Native_1920x1080(b *testing.B) {
	raw := imagetest.JPEG(b, 1920, 1080)
	be := native.New()
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := be.Decode(context.Background(), raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode_Vips_1920x1080(b *testing.B) {
	raw := imagetest.JPEG(b, 1920, 1080)
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := backend.Decode(context.Background(), raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSave_Native_1920to960_WebP(b *testing.B) {
	benchPipeline(b, native.New(), imagetest.JPEG(b, 1920, 1080), 960, core.FormatWebP)
}

func BenchmarkSave_Vips_1920to960_WebP(b *testing.B) {
	benchPipeline(b, backend, imagetest.JPEG(b, 1920, 1080), 960, core.FormatWebP)
}

func BenchmarkSave_Native_1920_JPEG(b *testing.B) {
	benchPipeline(b, native.New(), imagetest.JPEG(b, 1920, 1080), 0, core.FormatJPEG)
}

func BenchmarkSave_Vips_1920_JPEG(b *testing.B) {
	benchPipeline(b, backend, imagetest.JPEG(b, 1920, 1080), 0, core.FormatJPEG)
}
