package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-storage/config"
	apperrors "github.com/Skryldev/image-storage/errors"
)

type runnerFunc func(ctx context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error)

func (f runnerFunc) Run(ctx context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error) {
	return f(ctx, img)
}

func newPool(t *testing.T, workers, queue int) *Processor {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = workers
	cfg.QueueSize = queue
	p := New(cfg)
	t.Cleanup(p.Stop)
	return p
}

func TestProcess_RunsOnWorker(t *testing.T) {
	p := newPool(t, 2, 4)
	in := &ImageData{Meta: Metadata{Width: 3}}

	res, err := p.Process(context.Background(), runnerFunc(func(_ context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error) {
		out := *img
		out.Meta.Width = 7
		return &out, map[string]time.Duration{"step": time.Millisecond}, nil
	}), in)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Primary.Meta.Width)
	assert.Equal(t, 3, in.Meta.Width, "input must not be mutated")
	assert.Contains(t, res.StepTimings, "step")
	assert.Equal(t, int64(1), p.ProcessedCount())
}

func TestProcess_ErrorCounted(t *testing.T) {
	p := newPool(t, 1, 1)
	boom := errors.New("boom")
	_, err := p.Process(context.Background(), runnerFunc(func(context.Context, *ImageData) (*ImageData, map[string]time.Duration, error) {
		return nil, nil, boom
	}), &ImageData{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.ErrorCount())
}

func TestProcess_RecoversPanic(t *testing.T) {
	p := newPool(t, 1, 1)
	_, err := p.Process(context.Background(), runnerFunc(func(context.Context, *ImageData) (*ImageData, map[string]time.Duration, error) {
		panic("bad codec")
	}), &ImageData{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryInternal))

	// The worker survives the panic.
	_, err = p.Process(context.Background(), runnerFunc(func(_ context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error) {
		return img, nil, nil
	}), &ImageData{})
	assert.NoError(t, err)
}

func TestProcess_JobTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.WorkerCount = 1
	cfg.JobTimeout = 20 * time.Millisecond
	p := New(cfg)
	defer p.Stop()

	_, err := p.Process(context.Background(), runnerFunc(func(ctx context.Context, _ *ImageData) (*ImageData, map[string]time.Duration, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}), &ImageData{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcess_CancelledBeforeSubmit(t *testing.T) {
	p := newPool(t, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Process(ctx, runnerFunc(func(_ context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error) {
		t.Error("runner must not be called")
		return img, nil, nil
	}), &ImageData{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_AfterStop(t *testing.T) {
	cfg := config.Default()
	cfg.WorkerCount = 1
	p := New(cfg)
	p.Stop()

	_, err := p.Process(context.Background(), runnerFunc(func(_ context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error) {
		return img, nil, nil
	}), &ImageData{})
	assert.ErrorIs(t, err, apperrors.ErrPoolClosed)
}

func TestProcess_Concurrent(t *testing.T) {
	p := newPool(t, 4, 8)
	const jobs = 64
	var wg sync.WaitGroup
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = p.Process(context.Background(), runnerFunc(func(_ context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error) {
				time.Sleep(time.Millisecond)
				return img, nil, nil
			}), &ImageData{})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "job %d", i)
	}
	assert.Equal(t, int64(jobs), p.ProcessedCount())
	assert.Equal(t, 4, p.Workers())
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"jpeg", FormatJPEG, false},
		{"PNG", FormatPNG, false},
		{" webp ", FormatWebP, false},
		{"jpg", "", true},
		{"gif", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := ParseFormat(tc.in)
		if tc.wantErr {
			assert.True(t, apperrors.IsCategory(err, apperrors.CategoryUnsupported), tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestPayload(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01}

	text := PayloadFromBase64("/9j/AAE=")
	b, err := text.Bytes()
	require.NoError(t, err)
	assert.Equal(t, raw, b)
	assert.Equal(t, 8, text.TextLen())

	dataURL := PayloadFromBase64("data:image/jpeg;base64,/9j/AAE")
	unpadded, err := dataURL.Bytes()
	require.NoError(t, err)
	assert.Equal(t, raw, unpadded)
	assert.Equal(t, 7, dataURL.TextLen(), "the data URL header is not part of the base64 length")

	bin := PayloadFromBytes(raw)
	assert.Equal(t, 8, bin.TextLen())
	assert.False(t, bin.IsEmpty())
	assert.True(t, Payload{}.IsEmpty())

	_, err = PayloadFromBase64("%%%").Bytes()
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(1000, 96, Metadata{Width: 20, Height: 10, Format: FormatPNG}, FormatWebP)
	assert.Equal(t, 1000, m.OriginalSize)
	assert.Equal(t, 129.0, m.OptimizedSize)
	assert.Equal(t, 87.1, m.SavePercentage)
	assert.Equal(t, 20, m.Width)
	assert.Equal(t, FormatPNG, m.SourceFormat)
	assert.Equal(t, FormatWebP, m.OutputFormat)

	zero := NewMetrics(0, 10, Metadata{}, FormatJPEG)
	assert.Zero(t, zero.SavePercentage)
}

func TestSaveRequestDefaults(t *testing.T) {
	var r SaveRequest
	assert.Equal(t, 100, r.QualityOrDefault(DefaultQuality))
	assert.True(t, r.KeepAspectRatio())
	assert.Equal(t, ConflictOverwrite, r.Conflict())

	q, keep := 0, false
	r = SaveRequest{Quality: &q, MaintainAspectRatio: &keep, OnConflict: ConflictFail}
	assert.Equal(t, 0, r.QualityOrDefault(DefaultQuality))
	assert.False(t, r.KeepAspectRatio())
	assert.Equal(t, ConflictFail, r.Conflict())
}
