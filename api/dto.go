package api

import (
	"time"

	"github.com/Skryldev/image-storage/core"
)

// ErrorResponse defines the JSON structure for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SaveImageBody is the body of POST /api/saveImage.
type SaveImageBody struct {
	Image    string `json:"image" binding:"required"`
	Type     string `json:"type"`
	Username string `json:"username"`
}

// SaveImageResponse is returned by POST /api/saveImage on success.
type SaveImageResponse struct {
	URL string `json:"url"`
}

// SaveBody is the body of POST /api/images: the base64 image plus every
// SaveRequest option.
type SaveBody struct {
	Image string `json:"image" binding:"required"`
	core.SaveRequest
}

// RawQuery carries the options of POST /api/images/raw, whose body is the
// encoded image itself.
type RawQuery struct {
	Format              string `form:"format" binding:"required"`
	Width               int    `form:"width"`
	Quality             *int   `form:"quality"`
	MaintainAspectRatio *bool  `form:"maintainAspectRatio"`
	Dir                 string `form:"dir"`
	Name                string `form:"name"`
	OnConflict          string `form:"onConflict"`
}

// ListResponse is returned by GET /api/images.
type ListResponse struct {
	Items []string `json:"items"`
}

// DeleteResponse is returned by DELETE /api/images.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// ShareBody is the body of POST /api/images/share.
type ShareBody struct {
	SubDirectory string `json:"subDirectory"`
	Filename     string `json:"filename" binding:"required"`
}

// ShareResponse describes an issued temporary link.
type ShareResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	// ExpiresIn is the link lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}
