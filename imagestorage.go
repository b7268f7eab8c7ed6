// Package imagestorage stores optimized images on the local filesystem.
//
// A Service accepts an encoded image, optionally narrows it, re-encodes it
// as JPEG, PNG or WebP and writes it under a configured root.  Every save
// reports an estimate of how much smaller the stored file is than the
// submitted payload.
package imagestorage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/image-storage/adapters/native"
	"github.com/Skryldev/image-storage/adapters/storage"
	"github.com/Skryldev/image-storage/adapters/vips"
	"github.com/Skryldev/image-storage/config"
	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
	"github.com/Skryldev/image-storage/pipeline"
	"github.com/Skryldev/image-storage/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Service is the primary entry point.  It is safe for concurrent use.
type Service struct {
	cfg      config.Config
	store    *storage.Local
	proc     *core.Processor
	validate *validator.Validate

	mu      sync.RWMutex // guards the observers and backend below
	backend core.Backend
	logger  core.Logger
	metrics core.MetricsCollector
	hooks   []core.Hook
}

// New creates a Service rooted at cfg.RootDir with the backend named by
// cfg.Backend and starts its worker pool.  The default libvips backend
// applies the full encoder settings; adapters/native is a pure-Go fallback.
func New(cfg config.Config) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "service.new", err)
	}
	store, err := storage.NewLocal(storage.LocalConfig{
		Root:      cfg.RootDir,
		URLPrefix: cfg.URLPrefix,
		DirPerm:   cfg.DirPerm,
		FilePerm:  cfg.FilePerm,
	})
	if err != nil {
		return nil, err
	}

	proc := core.New(cfg)
	proc.Start()
	return &Service{
		cfg:      cfg,
		store:    store,
		proc:     proc,
		validate: validator.New(),
		backend:  newBackend(cfg.Backend, proc.Workers()),
		logger:   core.NopLogger{},
	}, nil
}

func newBackend(name config.Backend, workers int) core.Backend {
	if name == config.BackendNative {
		return native.New()
	}
	return vips.NewBackend(vips.BackendConfig{MaxWorkers: workers})
}

// SetBackend replaces the codec backend used by subsequent saves.
func (s *Service) SetBackend(b core.Backend) {
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
}

// SetLogger attaches a structured logger.
func (s *Service) SetLogger(l core.Logger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// SetMetrics attaches a metrics collector.
func (s *Service) SetMetrics(m core.MetricsCollector) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// AddHook registers an observer for pipeline step events.
func (s *Service) AddHook(h core.Hook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// Store exposes the filesystem layout, e.g. for serving files over HTTP.
func (s *Service) Store() *storage.Local { return s.store }

// Close drains and shuts down the worker pool.  libvips itself stays up
// until vips.Shutdown is called at process exit.
func (s *Service) Close() { s.proc.Stop() }

// Stats returns lightweight processing statistics.
func (s *Service) Stats() (processed, errors int64) {
	return s.proc.ProcessedCount(), s.proc.ErrorCount()
}

type observers struct {
	backend core.Backend
	logger  core.Logger
	metrics core.MetricsCollector
	hooks   []core.Hook
}

func (s *Service) observers() observers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return observers{backend: s.backend, logger: s.logger, metrics: s.metrics, hooks: s.hooks}
}

// ── Save ──────────────────────────────────────────────────────────────────────

// Save decodes req.Payload, narrows it to req.TargetWidth when that is
// smaller than the source, re-encodes it in req.OutputFormat and writes it
// below the root.  Failures are reported in the result, never panicked.
func (s *Service) Save(ctx context.Context, req core.SaveRequest) (res core.SaveResult) {
	obs := s.observers()
	format, err := core.ParseFormat(req.OutputFormat)
	if err != nil {
		format = core.FormatUnknown // keeps metric labels bounded
	}

	defer func() {
		if r := recover(); r != nil {
			res = core.Failed(apperrors.New(apperrors.CategoryInternal, "service.save", fmt.Errorf("panic: %v", r)))
		}
		s.record(obs, format, req, res)
	}()

	asset, metrics, err := s.save(ctx, obs, req)
	if err != nil {
		return core.Failed(err)
	}
	return core.Succeeded(asset, metrics)
}

func (s *Service) save(ctx context.Context, obs observers, req core.SaveRequest) (core.ImageAsset, core.Metrics, error) {
	var (
		asset   core.ImageAsset
		metrics core.Metrics
	)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return asset, metrics, apperrors.New(apperrors.CategoryInput, "service.save.validate", err)
	}
	// The format is checked before anything touches the filesystem.
	format, err := core.ParseFormat(req.OutputFormat)
	if err != nil {
		return asset, metrics, err
	}
	dir, err := s.store.Ensure(ctx, req.SubDirectory)
	if err != nil {
		return asset, metrics, err
	}
	data, err := req.Payload.Bytes()
	if err != nil {
		return asset, metrics, err
	}

	p := pipeline.New().
		Use(
			&pipeline.DecodeStep{Backend: obs.backend, MaxBytes: s.cfg.MaxImageBytes},
			&pipeline.ResizeStep{Backend: obs.backend, TargetWidth: req.TargetWidth, KeepAspect: req.KeepAspectRatio()},
			&pipeline.EncodeStep{Backend: obs.backend, Options: core.EncodeOptions{
				Format:  format,
				Quality: req.QualityOrDefault(s.cfg.DefaultQuality),
			}},
		).
		AddHook(obs.hooks...)

	result, err := s.proc.Process(ctx, p, &core.ImageData{Data: data})
	if err != nil {
		return asset, metrics, err
	}
	out := result.Primary

	name := req.Filename
	if name == "" {
		name = utils.GenerateFilename(format.Extension())
	} else {
		name += "." + format.Extension()
	}
	name, err = s.store.WriteAtomic(ctx, dir, name, out.Data, req.Conflict())
	if err != nil {
		return asset, metrics, err
	}
	size, err := s.store.Stat(dir, name)
	if err != nil {
		return asset, metrics, err
	}

	asset = core.ImageAsset{
		Filename:     name,
		FilePath:     filepath.Join(s.cfg.RootDir, filepath.FromSlash(req.SubDirectory), name),
		AbsolutePath: filepath.Join(dir, name),
		RelativePath: s.store.RelativePath(req.SubDirectory, name),
		URL:          s.store.URL(req.SubDirectory, name),
		Size:         size,
		Width:        out.Meta.Width,
		Height:       out.Meta.Height,
		SourceFormat: out.Source.Format,
		OutputFormat: format,
	}
	metrics = core.NewMetrics(req.Payload.TextLen(), size, out.Source, format)
	return asset, metrics, nil
}

func (s *Service) record(obs observers, format core.Format, req core.SaveRequest, res core.SaveResult) {
	if res.Success {
		obs.logger.Info("image.saved",
			"file", res.Asset.RelativePath,
			"size", res.Asset.Size,
			"width", res.Asset.Width,
			"height", res.Asset.Height,
			"save_percentage", res.Metrics.SavePercentage,
		)
		if obs.metrics != nil {
			obs.metrics.RecordSave(format, core.OutcomeSuccess, res.Metrics.SavePercentage)
		}
		return
	}
	obs.logger.Warn("image.save.failed",
		"subdirectory", req.SubDirectory,
		"filename", req.Filename,
		"code", res.Error.Code,
		"error", res.Error.Message,
	)
	if obs.metrics != nil {
		obs.metrics.RecordSave(format, core.OutcomeFailure, 0)
	}
}

// SaveBatch saves every request concurrently, at most WorkerCount at a time.
// Results are in request order.
func (s *Service) SaveBatch(ctx context.Context, reqs []core.SaveRequest) []core.SaveResult {
	results := make([]core.SaveResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.proc.Workers())
	for i := range reqs {
		i := i
		g.Go(func() error {
			results[i] = s.Save(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait() // Save never returns an error; failures live in results
	return results
}

// ── Delete / List ─────────────────────────────────────────────────────────────

// Delete removes subDir/filename.  It reports false when the file is
// missing, the path is invalid or the removal fails.
func (s *Service) Delete(ctx context.Context, filename, subDir string) bool {
	ok, err := s.store.Remove(ctx, subDir, filename)
	if err != nil {
		s.observers().logger.Warn("image.delete.failed",
			"subdirectory", subDir,
			"filename", filename,
			"error", err.Error(),
		)
		return false
	}
	if ok {
		s.observers().logger.Info("image.deleted", "file", s.store.RelativePath(subDir, filename))
	}
	return ok
}

// List returns the image file names in subDir, sorted.  A missing or
// unreadable directory yields an empty slice.
func (s *Service) List(ctx context.Context, subDir string) []string {
	names, err := s.store.List(ctx, subDir)
	if err != nil {
		s.observers().logger.Warn("image.list.failed", "subdirectory", subDir, "error", err.Error())
		return []string{}
	}
	return names
}
