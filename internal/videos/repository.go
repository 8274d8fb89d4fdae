package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipstream/backend/internal/models"
)

var (
	// ErrNotFound means no video row matched.
	ErrNotFound = errors.New("video not found")
	// ErrInvalidTransition means the row was not in a status that may
	// precede the requested one; the lifecycle only moves forward.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StatusUpdate carries the optional fields persisted together with a
// status change. Nil fields are left untouched.
type StatusUpdate struct {
	Renditions  []models.Rendition
	ManifestKey *string
	Captions    map[string]models.CaptionTrack
}

// Repository handles video asset persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const videoColumns = `id, user_id, storage_key, mime_type, status, renditions, master_manifest_key, captions, created_at, updated_at`

// Create inserts a new asset in status registered.
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	const q = `INSERT INTO videos (id, user_id, storage_key, mime_type, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`
	v.Status = models.StatusRegistered
	return r.pool.QueryRow(ctx, q, v.ID, v.UserID, v.StorageKey, v.MimeType, v.Status).
		Scan(&v.CreatedAt, &v.UpdatedAt)
}

// GetByID returns an asset by primary key.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// GetByKey returns an asset by its unique storage key.
func (r *Repository) GetByKey(ctx context.Context, storageKey string) (*models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE storage_key = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, storageKey))
}

// ListByUser returns all assets owned by a user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Video
	for rows.Next() {
		v, err := r.scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// TransitionStatus moves the asset identified by storage key to the given
// status, optionally persisting pipeline results in the same statement.
// The update is guarded at the row level: it only matches rows whose
// current status is a legal predecessor, so a backward or skip-ahead move
// (or a concurrent duplicate worker) updates zero rows and returns
// ErrInvalidTransition.
func (r *Repository) TransitionStatus(ctx context.Context, storageKey string, to models.Status, upd *StatusUpdate) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	prev := models.Predecessors(to)
	if len(prev) == 0 {
		return fmt.Errorf("%w: %q is initial", ErrInvalidTransition, to)
	}
	prevStrs := make([]string, len(prev))
	for i, p := range prev {
		prevStrs[i] = string(p)
	}

	sets := []string{"status = $2", "updated_at = NOW()"}
	args := []any{storageKey, string(to)}
	if upd != nil {
		if upd.Renditions != nil {
			raw, err := json.Marshal(upd.Renditions)
			if err != nil {
				return fmt.Errorf("marshal renditions: %w", err)
			}
			args = append(args, raw)
			sets = append(sets, fmt.Sprintf("renditions = $%d", len(args)))
		}
		if upd.ManifestKey != nil {
			args = append(args, *upd.ManifestKey)
			sets = append(sets, fmt.Sprintf("master_manifest_key = $%d", len(args)))
		}
		if upd.Captions != nil {
			raw, err := json.Marshal(upd.Captions)
			if err != nil {
				return fmt.Errorf("marshal captions: %w", err)
			}
			args = append(args, raw)
			sets = append(sets, fmt.Sprintf("captions = $%d", len(args)))
		}
	}
	args = append(args, prevStrs)
	q := fmt.Sprintf(`UPDATE videos SET %s WHERE storage_key = $1 AND status = ANY($%d)`,
		strings.Join(sets, ", "), len(args))

	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from an illegal transition.
		if _, err := r.GetByKey(ctx, storageKey); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: to %q for key %s", ErrInvalidTransition, to, storageKey)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row pgx.Row) (*models.Video, error) {
	v, err := r.scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *Repository) scanVideo(row rowScanner) (*models.Video, error) {
	var v models.Video
	var renditions, captions []byte
	err := row.Scan(&v.ID, &v.UserID, &v.StorageKey, &v.MimeType, &v.Status,
		&renditions, &v.MasterManifestKey, &captions, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(renditions) > 0 {
		if err := json.Unmarshal(renditions, &v.Renditions); err != nil {
			return nil, fmt.Errorf("unmarshal renditions: %w", err)
		}
	}
	if len(captions) > 0 {
		if err := json.Unmarshal(captions, &v.Captions); err != nil {
			return nil, fmt.Errorf("unmarshal captions: %w", err)
		}
	}
	return &v, nil
}
