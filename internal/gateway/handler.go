// Package gateway serves playback: it authorizes each request, rewrites
// manifests and redirects segment fetches to signed, short-lived URLs.
// It is stateless per request and never writes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipstream/backend/internal/middleware"
	"github.com/clipstream/backend/internal/models"
	"github.com/clipstream/backend/internal/videos"
	"github.com/clipstream/backend/pkg/response"
)

// AssetSource loads video rows for authorization.
type AssetSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
}

// ObjectStore is the storage surface the gateway needs: direct reads for
// manifests it rewrites, expiring URLs for everything it hands off to the
// player.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// redirectExtensions are served by redirecting the player straight to
// storage; the application never proxies segment bytes.
var redirectExtensions = map[string]bool{
	".ts":  true,
	".aac": true,
	".mp4": true,
	".vtt": true,
	".srt": true,
}

// Handler is the streaming gateway.
type Handler struct {
	assets    AssetSource
	store     ObjectStore
	signTTL   time.Duration
	publicURL string // external base URL for rewritten manifest lines
	logger    *zap.Logger
}

// NewHandler creates the gateway handler.
func NewHandler(assets AssetSource, store ObjectStore, signTTL time.Duration, publicURL string, logger *zap.Logger) *Handler {
	if signTTL <= 0 {
		signTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		assets:    assets,
		store:     store,
		signTTL:   signTTL,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}
}

// Stream handles GET /api/videos/:id/stream[?path=...].
//
// The default resource is the asset's master manifest. Manifests are
// fetched server-side and rewritten so every reference stays proxied;
// media files redirect to a freshly signed URL. Error responses never
// include storage keys.
func (h *Handler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return
	}
	video, err := h.assets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, videos.ErrNotFound) {
			response.Forbidden(c, "access denied")
			return
		}
		h.logger.Error("load video", zap.Error(err))
		response.Internal(c, "could not load video")
		return
	}
	// Ownership and readiness decide access; everything else is a 403 so
	// probing requests learn nothing about other users' assets.
	if video.UserID != middleware.UserID(c) || video.Status != models.StatusReady {
		response.Forbidden(c, "access denied")
		return
	}

	resolved, err := h.resolvePath(video, c.Query("path"))
	if err != nil {
		response.BadRequest(c, "unsupported resource")
		return
	}

	switch ext := strings.ToLower(path.Ext(resolved)); {
	case ext == ".m3u8":
		h.serveManifest(c, video, resolved)
	case redirectExtensions[ext]:
		signed, err := h.store.SignedURL(ctx, resolved, h.signTTL)
		if err != nil {
			h.logger.Error("sign segment", zap.Error(err))
			response.Internal(c, "could not authorize playback")
			return
		}
		c.Redirect(http.StatusFound, signed)
	default:
		response.BadRequest(c, "unsupported resource")
	}
}

// resolvePath validates the requested sub-path and confines it to the
// asset's own artifact prefix.
func (h *Handler) resolvePath(video *models.Video, requested string) (string, error) {
	if requested == "" {
		if video.MasterManifestKey == "" {
			return "", fmt.Errorf("no manifest recorded")
		}
		return video.MasterManifestKey, nil
	}
	cleaned := path.Clean(requested)
	if !strings.HasPrefix(cleaned, video.OutputPrefix()+"/") {
		return "", fmt.Errorf("path outside asset prefix")
	}
	return cleaned, nil
}

func (h *Handler) serveManifest(c *gin.Context, video *models.Video, key string) {
	ctx := c.Request.Context()

	obj, _, err := h.store.Get(ctx, key)
	if err != nil {
		h.logger.Error("fetch manifest", zap.Error(err))
		response.Internal(c, "could not load manifest")
		return
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		h.logger.Error("read manifest", zap.Error(err))
		response.Internal(c, "could not load manifest")
		return
	}

	proxyURL := fmt.Sprintf("%s/api/videos/%s/stream", h.publicURL, video.ID)
	rewritten, err := RewriteManifest(body, path.Dir(key), proxyURL, func(ref string) (string, error) {
		return h.store.SignedURL(ctx, ref, h.signTTL)
	})
	if err != nil {
		h.logger.Error("rewrite manifest", zap.Error(err))
		response.Internal(c, "could not prepare manifest")
		return
	}
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", rewritten)
}
