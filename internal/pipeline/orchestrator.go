// Package pipeline drives the per-asset transcoding state machine:
// download, probe, fan-out encode, captions, manifest, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clipstream/backend/internal/encode"
	"github.com/clipstream/backend/internal/models"
	"github.com/clipstream/backend/internal/probe"
	"github.com/clipstream/backend/internal/videos"
)

const (
	// persistAttempts bounds retries for repository calls. Encode and
	// caption work is never retried here; a run is at-most-once.
	persistAttempts = 3
	persistBackoff  = 2 * time.Second
)

// ErrNoRenditions means every resolution in the filtered ladder failed to
// encode, or the ladder was empty after the no-upscaling filter.
var ErrNoRenditions = errors.New("no renditions produced")

// AssetRepo is the persistence surface the orchestrator needs.
type AssetRepo interface {
	GetByKey(ctx context.Context, storageKey string) (*models.Video, error)
	TransitionStatus(ctx context.Context, storageKey string, to models.Status, upd *videos.StatusUpdate) error
}

// SourceStore downloads the uploaded source object.
type SourceStore interface {
	Download(ctx context.Context, key, dest string) error
}

// Prober reports the source's native resolution.
type Prober interface {
	Probe(ctx context.Context, localPath string) (probe.Resolution, error)
}

// RenditionEncoder produces one durable HLS rendition.
type RenditionEncoder interface {
	Encode(ctx context.Context, localPath string, res probe.Resolution, keyPrefix string) (string, error)
}

// CaptionGenerator produces subtitle tracks; it degrades instead of failing.
type CaptionGenerator interface {
	Generate(ctx context.Context, localPath, keyPrefix string) map[string]models.CaptionTrack
}

// ManifestPublisher writes the master manifest once all artifacts exist.
type ManifestPublisher interface {
	Publish(ctx context.Context, keyPrefix string, renditions []models.Rendition, tracks map[string]models.CaptionTrack) (string, error)
}

// Admitter releases the admission slot held for this run.
type Admitter interface {
	Release(ctx context.Context, userID, storageKey string) error
}

// Config holds pipeline policy knobs.
type Config struct {
	MaxParallel     int     // hard cap on concurrent rendition encodes
	BandwidthFactor float64 // manifest bandwidth heuristic
	ScratchDir      string  // local working directory
}

// Orchestrator runs the full pipeline for one asset. One invocation per
// admitted entry; it does not retry itself.
type Orchestrator struct {
	repo     AssetRepo
	store    SourceStore
	prober   Prober
	encoder  RenditionEncoder
	captions CaptionGenerator
	manifest ManifestPublisher
	gate     Admitter
	cfg      Config
	logger   *zap.Logger
}

// NewOrchestrator wires the pipeline. All service handles are owned by
// the caller and scoped to the worker process, not package globals.
func NewOrchestrator(repo AssetRepo, store SourceStore, prober Prober, encoder RenditionEncoder,
	captions CaptionGenerator, manifest ManifestPublisher, gate Admitter, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		repo:     repo,
		store:    store,
		prober:   prober,
		encoder:  encoder,
		captions: captions,
		manifest: manifest,
		gate:     gate,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the state machine for one asset and releases the admission
// entry exactly once, on success or failure. The returned error is meant
// for the invoking scheduler: a non-nil result should fail the worker
// process so the failure is visible for alerting.
func (o *Orchestrator) Run(ctx context.Context, userID, storageKey string) error {
	runErr := o.run(ctx, storageKey)
	if runErr != nil {
		o.markFailed(ctx, storageKey, runErr)
	}
	if err := o.gate.Release(ctx, userID, storageKey); err != nil {
		// The slot will leak until the out-of-band sweep; surface loudly.
		o.logger.Error("admission release failed",
			zap.String("storage_key", storageKey), zap.Error(err))
	}
	return runErr
}

func (o *Orchestrator) run(ctx context.Context, storageKey string) error {
	video, err := o.getAsset(ctx, storageKey)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	if err := o.persist(ctx, storageKey, models.StatusProcessing, nil); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	scratch, err := os.MkdirTemp(o.cfg.ScratchDir, "transcode-")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	sourcePath := filepath.Join(scratch, "source")
	if err := o.store.Download(ctx, storageKey, sourcePath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	source, err := o.prober.Probe(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}
	ladder := encode.FilterLadder(encode.Ladder, source)
	if len(ladder) == 0 {
		return fmt.Errorf("%w: source %s below smallest ladder entry", ErrNoRenditions, source)
	}
	o.logger.Info("pipeline starting",
		zap.String("storage_key", storageKey),
		zap.String("source_resolution", source.String()),
		zap.Int("renditions", len(ladder)),
	)

	prefix := video.OutputPrefix()

	// Captions run alongside the encodes; both read the same local source.
	// Their result is not needed until manifest assembly.
	tracksCh := make(chan map[string]models.CaptionTrack, 1)
	go func() {
		tracksCh <- o.captions.Generate(ctx, sourcePath, prefix)
	}()

	renditions, encodeErrs := o.encodeAll(ctx, sourcePath, prefix, ladder)
	if len(renditions) == 0 {
		return fmt.Errorf("%w: %w", ErrNoRenditions, errors.Join(encodeErrs...))
	}
	for _, err := range encodeErrs {
		o.logger.Warn("rendition skipped", zap.Error(err))
	}

	tracks := <-tracksCh

	// Every rendition and caption artifact is durably stored by now; the
	// manifest can safely reference them.
	manifestKey, err := o.manifest.Publish(ctx, prefix, renditions, tracks)
	if err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}

	upd := &videos.StatusUpdate{
		Renditions:  renditions,
		ManifestKey: &manifestKey,
		Captions:    tracks,
	}
	if err := o.persist(ctx, storageKey, models.StatusReady, upd); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	o.logger.Info("pipeline complete",
		zap.String("storage_key", storageKey),
		zap.Int("renditions", len(renditions)),
		zap.Int("caption_tracks", len(tracks)),
	)
	return nil
}

// encodeAll fans out one encode per ladder entry with bounded concurrency
// and collects results in ladder order. A failed resolution never aborts
// its siblings.
func (o *Orchestrator) encodeAll(ctx context.Context, sourcePath, prefix string, ladder []probe.Resolution) ([]models.Rendition, []error) {
	parallel := min(runtime.GOMAXPROCS(0), min(len(ladder), o.cfg.MaxParallel))

	var mu sync.Mutex
	dirKeys := make([]string, len(ladder))
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, res := range ladder {
		i, res := i, res
		g.Go(func() error {
			dirKey, err := o.encoder.Encode(gctx, sourcePath, res, prefix)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil // sibling encodes keep running
			}
			dirKeys[i] = dirKey
			return nil
		})
	}
	_ = g.Wait()

	var renditions []models.Rendition
	for i, res := range ladder {
		if dirKeys[i] == "" {
			continue
		}
		renditions = append(renditions, models.Rendition{
			Width:     res.Width,
			Height:    res.Height,
			DirKey:    dirKeys[i],
			Bandwidth: encode.Bandwidth(res, o.cfg.BandwidthFactor),
		})
	}
	return renditions, errs
}

// getAsset loads the video row with bounded retry.
func (o *Orchestrator) getAsset(ctx context.Context, storageKey string) (*models.Video, error) {
	var video *models.Video
	err := o.withPersistRetry(ctx, func() error {
		var err error
		video, err = o.repo.GetByKey(ctx, storageKey)
		return err
	})
	return video, err
}

// persist applies a status transition with bounded retry.
func (o *Orchestrator) persist(ctx context.Context, storageKey string, to models.Status, upd *videos.StatusUpdate) error {
	return o.withPersistRetry(ctx, func() error {
		return o.repo.TransitionStatus(ctx, storageKey, to, upd)
	})
}

func (o *Orchestrator) withPersistRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, videos.ErrInvalidTransition) || errors.Is(err, videos.ErrNotFound) {
			return err
		}
		if attempt < persistAttempts {
			o.logger.Warn("persistence call failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(persistBackoff):
			}
		}
	}
	return err
}

// markFailed records terminal failure, best-effort. If even this write
// fails after retries it is escalated as a log event rather than
// swallowed; the asset will show a stale status until reconciled.
func (o *Orchestrator) markFailed(ctx context.Context, storageKey string, cause error) {
	if err := o.persist(ctx, storageKey, models.StatusFailed, nil); err != nil {
		o.logger.Error("failed-status write lost",
			zap.String("storage_key", storageKey),
			zap.NamedError("pipeline_error", cause),
			zap.Error(err),
		)
		return
	}
	o.logger.Error("pipeline failed",
		zap.String("storage_key", storageKey), zap.Error(cause))
}
