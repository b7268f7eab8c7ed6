package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	imagestorage "github.com/Skryldev/image-storage"
	"github.com/Skryldev/image-storage/config"
	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
	"github.com/Skryldev/image-storage/tempurl"
	"github.com/Skryldev/image-storage/utils"
)

// Date layouts used by the legacy naming scheme: dd-MM-yyyy and
// dd-MM-yyyy HH-mm-ss.
const (
	dayLayout   = "02-01-2006"
	stampLayout = "02-01-2006 15-04-05"
)

// Transaction types understood by POST /api/saveImage.
const (
	TypeWithdraw = "WITHDRAW"
	TypeDeposit  = "DEPOSIT"
)

type Handler struct {
	svc  *imagestorage.Service
	temp *tempurl.Store
	cfg  config.HTTPConfig
	log  zerolog.Logger
	now  func() time.Time
}

func NewHandler(svc *imagestorage.Service, temp *tempurl.Store, cfg config.HTTPConfig, log zerolog.Logger, now func() time.Time) *Handler {
	return &Handler{svc: svc, temp: temp, cfg: cfg, log: log, now: now}
}

// GET /
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": "success"})
}

// POST /api/saveImage
// Stores a transaction receipt under TYPE/dd-MM-yyyy with the configured
// upload width, quality and format.
func (h *Handler) SaveLegacy(c *gin.Context) {
	var body SaveImageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(bindStatus(err), ErrorResponse{Error: "invalid body"})
		return
	}

	quality := h.cfg.UploadQuality
	req := core.SaveRequest{
		Payload:      core.PayloadFromBase64(body.Image),
		TargetWidth:  h.cfg.UploadWidth,
		Quality:      &quality,
		OutputFormat: h.cfg.UploadFormat,
	}
	now := h.now()
	switch body.Type {
	case TypeWithdraw, TypeDeposit:
		req.SubDirectory = body.Type + "/" + now.Format(dayLayout)
		req.Filename = body.Username + "-" + body.Type + "-" + now.Format(stampLayout)
	}

	res := h.svc.Save(c.Request.Context(), req)
	if !res.Success {
		if res.Error.IsBadInput() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: res.Error.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "error uploading file"})
		return
	}
	c.JSON(http.StatusCreated, SaveImageResponse{URL: res.Asset.URL})
}

// POST /api/images
func (h *Handler) Save(c *gin.Context) {
	var body SaveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(bindStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	req := body.SaveRequest
	req.Payload = core.PayloadFromBase64(body.Image)
	h.respondSave(c, h.svc.Save(c.Request.Context(), req))
}

// POST /api/images/raw?format=webp&width=1200&dir=...&name=...
// The request body is the encoded image.
func (h *Handler) SaveRaw(c *gin.Context) {
	var q RawQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	buf, err := utils.DrainReader(c.Request.Context(), &utils.LimitedReader{R: c.Request.Body, Max: h.cfg.MaxBodyBytes}, 0)
	if err != nil {
		c.JSON(bindStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	h.respondSave(c, h.svc.Save(c.Request.Context(), core.SaveRequest{
		Payload:             core.PayloadFromBytes(data),
		TargetWidth:         q.Width,
		Quality:             q.Quality,
		OutputFormat:        q.Format,
		MaintainAspectRatio: q.MaintainAspectRatio,
		SubDirectory:        q.Dir,
		Filename:            q.Name,
		OnConflict:          core.ConflictPolicy(q.OnConflict),
	}))
}

func (h *Handler) respondSave(c *gin.Context, res core.SaveResult) {
	if res.Success {
		c.JSON(http.StatusCreated, res)
		return
	}
	c.JSON(failureStatus(res.Error), res)
}

// GET /api/images?dir=...
func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, ListResponse{Items: h.svc.List(c.Request.Context(), c.Query("dir"))})
}

// DELETE /api/images?dir=...&name=...
func (h *Handler) Delete(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}
	if !h.svc.Delete(c.Request.Context(), name, c.Query("dir")) {
		c.JSON(http.StatusNotFound, DeleteResponse{Deleted: false})
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Deleted: true})
}

// POST /api/images/share
// Issues a token that serves the image at /t/:token until it expires.
func (h *Handler) Share(c *gin.Context) {
	var body ShareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(bindStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	if _, err := h.storedFile(body.SubDirectory, body.Filename); err != nil {
		h.fileError(c, err)
		return
	}
	token, entry := h.temp.Issue(body.SubDirectory, body.Filename)
	c.JSON(http.StatusCreated, ShareResponse{
		Token:     token,
		URL:       "/t/" + token,
		ExpiresAt: entry.ExpiresAt,
		ExpiresIn: int64(h.temp.TTL().Seconds()),
	})
}

// DELETE /api/images/share/:token
func (h *Handler) Unshare(c *gin.Context) {
	if !h.temp.Revoke(c.Param("token")) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "link expired or unknown"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /t/:token
func (h *Handler) ServeTemp(c *gin.Context) {
	entry, ok := h.temp.Resolve(c.Param("token"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "link expired or unknown"})
		return
	}
	path, err := h.storedFile(entry.SubDirectory, entry.Filename)
	if err != nil {
		h.fileError(c, err)
		return
	}
	if f, err := core.ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		c.Header("Content-Type", f.ContentType())
	}
	c.File(path)
}

// storedFile resolves subDir/name below the root and checks it is a
// regular file.
func (h *Handler) storedFile(subDir, name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", apperrors.New(apperrors.CategoryInput, "api.file", apperrors.ErrInvalidPath)
	}
	dir, err := h.svc.Store().Dir(subDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", os.ErrNotExist
	}
	return path, nil
}

func (h *Handler) fileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "image not found"})
	case apperrors.IsCategory(err, apperrors.CategoryInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Msg("stat stored image")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// failureStatus maps a save failure onto an HTTP status.
func failureStatus(f *core.Failure) int {
	switch {
	case f.Code == string(apperrors.CategoryConflict):
		return http.StatusConflict
	case f.IsBadInput():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// bindStatus distinguishes oversized bodies from malformed ones.
func bindStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, utils.ErrTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
