package videos

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipstream/backend/internal/admission"
	"github.com/clipstream/backend/internal/middleware"
	"github.com/clipstream/backend/internal/models"
	"github.com/clipstream/backend/pkg/response"
	"github.com/clipstream/backend/pkg/storage"
)

// AssetStore is the persistence surface the handler needs; *Repository
// implements it.
type AssetStore interface {
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	GetByKey(ctx context.Context, storageKey string) (*models.Video, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Video, error)
	TransitionStatus(ctx context.Context, storageKey string, to models.Status, upd *StatusUpdate) error
}

// UploadSigner issues pre-signed upload URLs and verifies stored objects.
type UploadSigner interface {
	PresignedUploadURL(ctx context.Context, key, contentType string) (string, error)
	HeadObject(ctx context.Context, key string) error
}

// Admitter gates concurrent transcodes per user.
type Admitter interface {
	TryAdmit(ctx context.Context, userID, storageKey string) error
	Release(ctx context.Context, userID, storageKey string) error
}

// TaskLauncher starts one isolated transcode worker run.
type TaskLauncher interface {
	LaunchTranscode(ctx context.Context, userID uuid.UUID, storageKey string) error
}

// Handler exposes upload intake and video listing endpoints.
type Handler struct {
	repo     AssetStore
	signer   UploadSigner
	gate     Admitter
	launcher TaskLauncher
	logger   *zap.Logger
}

// NewHandler creates the videos handler.
func NewHandler(repo AssetStore, signer UploadSigner, gate Admitter, launcher TaskLauncher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, signer: signer, gate: gate, launcher: launcher, logger: logger}
}

type requestUploadInput struct {
	FileType string `json:"file_type" binding:"required"`
}

// RequestUpload registers a new asset and returns a pre-signed upload URL.
// POST /api/uploads
func (h *Handler) RequestUpload(c *gin.Context) {
	var in requestUploadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "file_type is required")
		return
	}
	if !storage.AllowedVideoTypes[in.FileType] {
		response.BadRequest(c, "unsupported video type")
		return
	}
	userID := middleware.UserID(c)

	video := &models.Video{
		ID:         uuid.New(),
		UserID:     userID,
		MimeType:   in.FileType,
		StorageKey: "",
	}
	video.StorageKey = models.SourceKey(userID, video.ID)

	if err := h.repo.Create(c.Request.Context(), video); err != nil {
		h.logger.Error("create video row", zap.Error(err))
		response.Internal(c, "could not register upload")
		return
	}
	url, err := h.signer.PresignedUploadURL(c.Request.Context(), video.StorageKey, in.FileType)
	if err != nil {
		h.logger.Error("presign upload", zap.Error(err), zap.String("storage_key", video.StorageKey))
		response.Internal(c, "could not create upload URL")
		return
	}
	response.Created(c, gin.H{
		"video_id":    video.ID,
		"storage_key": video.StorageKey,
		"upload_url":  url,
	})
}

type completeUploadInput struct {
	StorageKey string `json:"storage_key" binding:"required"`
}

// CompleteUpload confirms the source object exists, admits the asset into
// the transcode queue and launches the worker task.
// POST /api/uploads/complete
func (h *Handler) CompleteUpload(c *gin.Context) {
	var in completeUploadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "storage_key is required")
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	video, err := h.repo.GetByKey(ctx, in.StorageKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "unknown upload")
			return
		}
		h.logger.Error("load video", zap.Error(err))
		response.Internal(c, "could not load upload")
		return
	}
	if video.UserID != userID {
		response.Forbidden(c, "access denied")
		return
	}
	if err := h.signer.HeadObject(ctx, video.StorageKey); err != nil {
		response.BadRequest(c, "source object not found in storage")
		return
	}
	// An ingested row means a previous completion got as far as the
	// transition but was denied admission or failed to launch. Those
	// calls are retryable: skip the transition and run admission again.
	// Any later status means a transcode already started.
	if video.Status != models.StatusIngested {
		if err := h.repo.TransitionStatus(ctx, video.StorageKey, models.StatusIngested, nil); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				response.Conflict(c, "upload already processed")
				return
			}
			h.logger.Error("mark ingested", zap.Error(err))
			response.Internal(c, "could not update upload")
			return
		}
	}

	if err := h.gate.TryAdmit(ctx, userID.String(), video.StorageKey); err != nil {
		if errors.Is(err, admission.ErrDenied) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "transcode queue limit reached, try again later",
			})
			return
		}
		// Gate unreachable: fail closed.
		h.logger.Error("admission gate unavailable", zap.Error(err))
		response.ServiceUnavailable(c, "transcoding temporarily unavailable")
		return
	}

	if err := h.launcher.LaunchTranscode(ctx, userID, video.StorageKey); err != nil {
		// Undo the admission so the slot is not leaked by a task that
		// will never run.
		if relErr := h.gate.Release(ctx, userID.String(), video.StorageKey); relErr != nil {
			h.logger.Error("release after failed launch", zap.Error(relErr))
		}
		h.logger.Error("launch transcode task", zap.Error(err), zap.String("storage_key", video.StorageKey))
		response.Internal(c, "could not start transcoding")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"status": models.StatusIngested}})
}

// List returns the caller's assets.
// GET /api/videos
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListByUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("list videos", zap.Error(err))
		response.Internal(c, "could not list videos")
		return
	}
	response.OK(c, list)
}

// Get returns one asset, owner only.
// GET /api/videos/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return
	}
	video, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "video not found")
			return
		}
		h.logger.Error("get video", zap.Error(err))
		response.Internal(c, "could not load video")
		return
	}
	if video.UserID != middleware.UserID(c) {
		response.Forbidden(c, "access denied")
		return
	}
	response.OK(c, video)
}
