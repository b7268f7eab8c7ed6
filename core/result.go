package core

import (
	"math"

	apperrors "github.com/Skryldev/image-storage/errors"
	"github.com/Skryldev/image-storage/utils"
)

// DefaultQuality applies when a SaveRequest carries no quality.
const DefaultQuality = 100

// ConflictPolicy decides what Save does when the target file already exists.
type ConflictPolicy string

const (
	// ConflictOverwrite replaces the existing file.
	ConflictOverwrite ConflictPolicy = "overwrite"
	// ConflictFail leaves the existing file alone and fails the save.
	ConflictFail ConflictPolicy = "fail"
	// ConflictSuffix appends a generated disambiguator to the base name.
	ConflictSuffix ConflictPolicy = "suffix"
)

// SaveRequest describes one image to persist.
type SaveRequest struct {
	Payload Payload `json:"-"`

	// TargetWidth triggers a resize when positive.
	TargetWidth int `json:"width,omitempty" validate:"min=0"`
	// Quality defaults to DefaultQuality when nil.
	Quality *int `json:"quality,omitempty" validate:"omitempty,min=0,max=100"`
	// OutputFormat must be one of OutputFormats.
	OutputFormat string `json:"format" validate:"required"`
	// MaintainAspectRatio defaults to true when nil.
	MaintainAspectRatio *bool `json:"maintainAspectRatio,omitempty"`

	SubDirectory string `json:"subDirectory,omitempty" validate:"omitempty,max=255"`
	// Filename is a base name without extension; empty means generated.
	Filename string `json:"filename,omitempty" validate:"omitempty,max=200,excludesall=/\\"`

	OnConflict ConflictPolicy `json:"onConflict,omitempty" validate:"omitempty,oneof=overwrite fail suffix"`
}

// QualityOrDefault resolves the effective quality.
func (r SaveRequest) QualityOrDefault(def int) int {
	if r.Quality == nil {
		return def
	}
	return *r.Quality
}

// KeepAspectRatio resolves the effective aspect-ratio flag.
func (r SaveRequest) KeepAspectRatio() bool {
	if r.MaintainAspectRatio == nil {
		return true
	}
	return *r.MaintainAspectRatio
}

// Conflict resolves the effective conflict policy.
func (r SaveRequest) Conflict() ConflictPolicy {
	if r.OnConflict == "" {
		return ConflictOverwrite
	}
	return r.OnConflict
}

// ImageAsset describes a stored image.  It is derived from the file on disk
// and never persisted separately.
type ImageAsset struct {
	Filename     string `json:"filename"`
	FilePath     string `json:"filePath"`
	AbsolutePath string `json:"fullPath"`
	RelativePath string `json:"relativePath"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	SourceFormat Format `json:"sourceFormat"`
	OutputFormat Format `json:"outputFormat"`
}

// Metrics reports the estimated size reduction of a save.
type Metrics struct {
	OriginalSize   int     `json:"originalSize"`
	OptimizedSize  float64 `json:"optimizedSize"`
	SavePercentage float64 `json:"savePercentage"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	SourceFormat   Format  `json:"format"`
	OutputFormat   Format  `json:"outputFormat"`
}

// NewMetrics compares the payload's text length with the estimated text
// length of the stored output.  Width and height are the source dimensions.
func NewMetrics(inputTextLen int, outputBytes int64, source Metadata, output Format) Metrics {
	optimized := utils.EstimateBase64Size(outputBytes)
	return Metrics{
		OriginalSize:   inputTextLen,
		OptimizedSize:  math.Round(optimized*100) / 100,
		SavePercentage: utils.SavePercentage(inputTextLen, optimized),
		Width:          source.Width,
		Height:         source.Height,
		SourceFormat:   source.Format,
		OutputFormat:   output,
	}
}

// Failure is the error half of a SaveResult.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsBadInput reports whether the failure was caused by the request itself.
func (f *Failure) IsBadInput() bool { return apperrors.IsBadInput(f.Code) }

// SaveResult is either a success carrying Asset and Metrics, or a failure
// carrying Error.
type SaveResult struct {
	Success bool        `json:"success"`
	Asset   *ImageAsset `json:"fileInfo,omitempty"`
	Metrics *Metrics    `json:"metadata,omitempty"`
	Error   *Failure    `json:"error,omitempty"`
}

// Succeeded builds a success result.
func Succeeded(asset ImageAsset, m Metrics) SaveResult {
	return SaveResult{Success: true, Asset: &asset, Metrics: &m}
}

// Failed builds a failure result from err.
func Failed(err error) SaveResult {
	return SaveResult{Error: &Failure{Code: apperrors.Code(err), Message: err.Error()}}
}
