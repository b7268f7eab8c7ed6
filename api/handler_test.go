package api_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagestorage "github.com/Skryldev/image-storage"
	"github.com/Skryldev/image-storage/api"
	"github.com/Skryldev/image-storage/core"
	"github.com/Skryldev/image-storage/hooks"
	"github.com/Skryldev/image-storage/imagetest"
	"github.com/Skryldev/image-storage/tempurl"
)

var fixedNow = time.Date(2024, 2, 1, 9, 5, 7, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	svc    *imagestorage.Service
	root   string
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := imagestorage.DefaultConfig()
	cfg.RootDir = t.TempDir()
	cfg.WorkerCount = 2
	cfg.HTTP.MaxBodyBytes = 4 << 20
	svc, err := imagestorage.New(cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	reg := prometheus.NewRegistry()
	svc.SetMetrics(hooks.NewPrometheusMetrics(reg))

	router := api.NewRouter(api.Deps{
		Service:   svc,
		TempURLs:  tempurl.New(16, time.Minute),
		Logger:    zerolog.Nop(),
		Gatherer:  reg,
		HTTP:      cfg.HTTP,
		URLPrefix: cfg.URLPrefix,
		Now:       func() time.Time { return fixedNow },
	})
	return &testServer{router: router, svc: svc, root: svc.Store().Root()}
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func jpegB64(t *testing.T, w, h int) string {
	return base64.StdEncoding.EncodeToString(imagetest.JPEG(t, w, h))
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":"success"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(api.HeaderRequestID))
}

func TestSaveLegacy_Deposit(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodPost, "/api/saveImage", map[string]string{
		"image":    jpegB64(t, 1600, 800),
		"type":     "DEPOSIT",
		"username": "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[api.SaveImageResponse](t, w)
	assert.Equal(t, "/uploads/DEPOSIT/01-02-2024/alice-DEPOSIT-01-02-2024 09-05-07.webp", resp.URL)

	stored := filepath.Join(s.root, "DEPOSIT", "01-02-2024", "alice-DEPOSIT-01-02-2024 09-05-07.webp")
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	width, height, name := imagetest.Bounds(t, data)
	assert.Equal(t, "webp", name)
	assert.Equal(t, 1200, width)
	assert.Equal(t, 600, height)

	// The stored file is reachable under the static prefix.
	static := s.do(t, http.MethodGet, "/uploads/DEPOSIT/01-02-2024/alice-DEPOSIT-01-02-2024%2009-05-07.webp", nil)
	assert.Equal(t, http.StatusOK, static.Code)
	assert.Equal(t, len(data), static.Body.Len())
}

func TestSaveLegacy_UnknownTypeUsesRootAndGeneratedName(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodPost, "/api/saveImage", map[string]string{"image": jpegB64(t, 20, 20)})
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode[api.SaveImageResponse](t, w)
	assert.Regexp(t, `^/uploads/\d+-[0-9a-f]{16}\.webp$`, resp.URL)
}

func TestSaveLegacy_BadInput(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodPost, "/api/saveImage", map[string]string{"image": "bm90IGFuIGltYWdl", "type": "WITHDRAW"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, w).Error)

	w = s.do(t, http.MethodPost, "/api/saveImage", `{"type":"WITHDRAW"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/saveImage", `{"image":"x","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")
}

func TestSave_Generic(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodPost, "/api/images", map[string]interface{}{
		"image":        jpegB64(t, 300, 200),
		"width":        150,
		"quality":      70,
		"format":       "png",
		"subDirectory": "gallery",
		"filename":     "cat",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[core.SaveResult](t, w)
	require.True(t, res.Success)
	assert.Equal(t, "cat.png", res.Asset.Filename)
	assert.Equal(t, "/uploads/gallery/cat.png", res.Asset.URL)
	assert.Equal(t, 150, res.Asset.Width)
	assert.Equal(t, 100, res.Asset.Height)
	assert.Equal(t, 300, res.Metrics.Width)

	fi, err := os.Stat(filepath.Join(s.root, "gallery", "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), res.Asset.Size)
}

func TestSave_StatusMapping(t *testing.T) {
	s := setupServer(t)
	img := jpegB64(t, 16, 16)

	w := s.do(t, http.MethodPost, "/api/images", map[string]interface{}{"image": img, "format": "gif"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decode[core.SaveResult](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "unsupported_format", res.Error.Code)

	body := map[string]interface{}{"image": img, "format": "png", "filename": "dup", "onConflict": "fail"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/images", body).Code)
	w = s.do(t, http.MethodPost, "/api/images", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/images", map[string]interface{}{"image": img, "format": "png", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveRaw(t *testing.T) {
	s := setupServer(t)
	raw := imagetest.PNG(t, imagetest.Gradient(64, 32))

	w := s.do(t, http.MethodPost, "/api/images/raw?format=jpeg&width=32&dir=raw&name=r", raw)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[core.SaveResult](t, w)
	assert.Equal(t, "r.jpeg", res.Asset.Filename)
	assert.Equal(t, 16, res.Asset.Height)

	w = s.do(t, http.MethodPost, "/api/images/raw", raw)
	assert.Equal(t, http.StatusBadRequest, w.Code, "format is required")

	big := bytes.Repeat([]byte{0}, 5<<20)
	w = s.do(t, http.MethodPost, "/api/images/raw?format=png", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestListAndDelete(t *testing.T) {
	s := setupServer(t)
	for _, name := range []string{"b", "a"} {
		w := s.do(t, http.MethodPost, "/api/images", map[string]interface{}{
			"image": jpegB64(t, 8, 8), "format": "webp", "subDirectory": "d", "filename": name,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/images?dir=d", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a.webp", "b.webp"}, decode[api.ListResponse](t, w).Items)

	w = s.do(t, http.MethodGet, "/api/images?dir=missing", nil)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())

	w = s.do(t, http.MethodDelete, "/api/images?dir=d&name=a.webp", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[api.DeleteResponse](t, w).Deleted)

	w = s.do(t, http.MethodDelete, "/api/images?dir=d&name=a.webp", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/images?dir=d", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShare(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodPost, "/api/images", map[string]interface{}{
		"image": jpegB64(t, 8, 8), "format": "png", "subDirectory": "s", "filename": "shared",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/images/share", map[string]string{"subDirectory": "s", "filename": "shared.png"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	share := decode[api.ShareResponse](t, w)
	assert.True(t, strings.HasPrefix(share.URL, "/t/"))
	assert.True(t, share.ExpiresAt.After(time.Now()))

	assert.Equal(t, int64(60), share.ExpiresIn)

	w = s.do(t, http.MethodGet, share.URL, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, _, name := imagetest.Bounds(t, w.Body.Bytes())
	assert.Equal(t, "png", name)

	w = s.do(t, http.MethodDelete, "/api/images/share/"+share.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, share.URL, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "revoked links stop resolving")
	w = s.do(t, http.MethodDelete, "/api/images/share/"+share.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/t/not-a-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/images/share", map[string]string{"filename": "missing.png"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/images/share", map[string]string{"subDirectory": "../..", "filename": "x.png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	s.do(t, http.MethodPost, "/api/images", map[string]interface{}{"image": jpegB64(t, 8, 8), "format": "png"})

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `imagestore_saves_total{format="png",outcome="success"} 1`)
}

func TestRequestIDPropagates(t *testing.T) {
	s := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(api.HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(api.HeaderRequestID))
}
