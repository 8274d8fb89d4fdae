package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/backend/internal/middleware"
	"github.com/clipstream/backend/internal/models"
	"github.com/clipstream/backend/internal/videos"
)

var (
	ownerID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	assetID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	otherID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

type fakeAssets struct {
	videos map[uuid.UUID]*models.Video
}

func (f *fakeAssets) GetByID(_ context.Context, id uuid.UUID) (*models.Video, error) {
	if v, ok := f.videos[id]; ok {
		return v, nil
	}
	return nil, videos.ErrNotFound
}

// fakeStore serves manifest bodies by key and signs everything else.
type fakeStore struct {
	objects map[string]string
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return io.NopCloser(strings.NewReader(body)), "application/vnd.apple.mpegurl", nil
}

func (f *fakeStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example.com/" + key + "?sig=abc", nil
}

func readyVideo() *models.Video {
	v := &models.Video{ID: assetID, UserID: ownerID, Status: models.StatusReady}
	v.MasterManifestKey = v.OutputPrefix() + "/master.m3u8"
	return v
}

func newTestRouter(t *testing.T, h *Handler, asUser uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/videos/:id/stream", func(c *gin.Context) {
		if asUser != uuid.Nil {
			c.Set(middleware.ContextUserID, asUser)
		}
		h.Stream(c)
	})
	return r
}

func serve(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestStreamDefaultServesRewrittenManifest(t *testing.T) {
	video := readyVideo()
	store := &fakeStore{objects: map[string]string{
		video.MasterManifestKey: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=64512,RESOLUTION=1280x720\n720p/index.m3u8\n",
	}}
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: video}},
		store, time.Minute, "https://gw.example.com", nil)

	w := serve(newTestRouter(t, h, ownerID), "/api/videos/"+assetID.String()+"/stream")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(),
		"https://gw.example.com/api/videos/"+assetID.String()+"/stream?path=")
	assert.NotContains(t, w.Body.String(), "\n720p/index.m3u8", "relative reference must be rewritten")
}

func TestStreamSegmentRedirects(t *testing.T) {
	video := readyVideo()
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: video}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)

	segKey := video.OutputPrefix() + "/720p/seg_00000.ts"
	w := serve(newTestRouter(t, h, ownerID),
		"/api/videos/"+assetID.String()+"/stream?path="+segKey)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://cdn.example.com/"+segKey+"?sig=abc", w.Header().Get("Location"))
}

func TestStreamSubtitleRedirects(t *testing.T) {
	video := readyVideo()
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: video}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)

	vttKey := video.OutputPrefix() + "/captions/en.vtt"
	w := serve(newTestRouter(t, h, ownerID),
		"/api/videos/"+assetID.String()+"/stream?path="+vttKey)
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestStreamDeniedWhenNotReady(t *testing.T) {
	for _, status := range []models.Status{models.StatusRegistered, models.StatusIngested,
		models.StatusProcessing, models.StatusFailed} {
		video := readyVideo()
		video.Status = status
		h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: video}},
			&fakeStore{}, time.Minute, "https://gw.example.com", nil)

		w := serve(newTestRouter(t, h, ownerID), "/api/videos/"+assetID.String()+"/stream")
		assert.Equal(t, http.StatusForbidden, w.Code, "status %s must not stream", status)
	}
}

func TestStreamDeniedForNonOwner(t *testing.T) {
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: readyVideo()}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)

	w := serve(newTestRouter(t, h, otherID), "/api/videos/"+assetID.String()+"/stream")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStreamDeniedForUnknownAsset(t *testing.T) {
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)

	w := serve(newTestRouter(t, h, ownerID), "/api/videos/"+assetID.String()+"/stream")
	assert.Equal(t, http.StatusForbidden, w.Code,
		"unknown asset indistinguishable from foreign asset")
}

func TestStreamRejectsPathOutsidePrefix(t *testing.T) {
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: readyVideo()}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)
	r := newTestRouter(t, h, ownerID)

	for _, p := range []string{
		"videos/" + ownerID.String() + "/other-video/720p/seg_00000.ts",
		"uploads/" + ownerID.String() + "/video-raw.ts",
		"videos/" + ownerID.String() + "/" + assetID.String() + "/../../../etc/passwd.ts",
	} {
		w := serve(r, "/api/videos/"+assetID.String()+"/stream?path="+p)
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %q must be rejected", p)
	}
}

func TestStreamRejectsUnsupportedExtension(t *testing.T) {
	video := readyVideo()
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{assetID: video}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)

	w := serve(newTestRouter(t, h, ownerID),
		"/api/videos/"+assetID.String()+"/stream?path="+video.OutputPrefix()+"/notes.txt")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamInvalidID(t *testing.T) {
	h := NewHandler(&fakeAssets{videos: map[uuid.UUID]*models.Video{}},
		&fakeStore{}, time.Minute, "https://gw.example.com", nil)

	w := serve(newTestRouter(t, h, ownerID), "/api/videos/not-a-uuid/stream")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
