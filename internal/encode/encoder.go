// Package encode turns a source video into segmented HLS renditions.
package encode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clipstream/backend/internal/probe"
)

// EncodeError reports a failed encode for one target resolution. A single
// rendition failing does not abort its siblings; the pipeline decides
// whether the asset as a whole failed.
type EncodeError struct {
	Resolution probe.Resolution
	Err        error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Resolution, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ObjectStore is the storage surface the encoder needs: durable upload of
// a finished rendition directory.
type ObjectStore interface {
	UploadDirectory(ctx context.Context, localDir, keyPrefix string) error
}

// Encoder runs ffmpeg once per target resolution, producing a 6-second
// segmented HLS stream plus index manifest, and uploads the result before
// reporting success.
type Encoder struct {
	store          ObjectStore
	ffmpegPath     string
	preset         string
	segmentSeconds int
	scratchDir     string
	logger         *zap.Logger
}

// NewEncoder creates a rendition encoder.
func NewEncoder(store ObjectStore, ffmpegPath, preset string, segmentSeconds int, scratchDir string, logger *zap.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if preset == "" {
		preset = "veryfast"
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{
		store:          store,
		ffmpegPath:     ffmpegPath,
		preset:         preset,
		segmentSeconds: segmentSeconds,
		scratchDir:     scratchDir,
		logger:         logger,
	}
}

// Encode transcodes localPath to one HLS rendition at res and uploads the
// segment directory to {keyPrefix}/{height}p/. The returned dir key is
// only valid once every constituent file is durably stored. The local
// scratch directory is removed on every path.
func (e *Encoder) Encode(ctx context.Context, localPath string, res probe.Resolution, keyPrefix string) (string, error) {
	outDir, err := os.MkdirTemp(e.scratchDir, "rendition-"+res.Name()+"-")
	if err != nil {
		return "", &EncodeError{Resolution: res, Err: fmt.Errorf("scratch dir: %w", err)}
	}
	defer os.RemoveAll(outDir)

	args := []string{
		"-y",
		"-i", localPath,
		"-vf", fmt.Sprintf("scale=%d:%d", res.Width, res.Height),
		"-c:v", "libx264",
		"-preset", e.preset,
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.segmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", "seg_%05d.ts",
		"index.m3u8",
	}
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Dir = outDir
	var stderr strings.Builder
	cmd.Stderr = &stderr

	e.logger.Info("encoding rendition",
		zap.String("input", localPath),
		zap.String("resolution", res.String()),
	)
	if err := cmd.Run(); err != nil {
		return "", &EncodeError{
			Resolution: res,
			Err:        fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 500)),
		}
	}

	dirKey := path.Join(keyPrefix, res.Name())
	if err := e.store.UploadDirectory(ctx, outDir, dirKey); err != nil {
		return "", &EncodeError{Resolution: res, Err: fmt.Errorf("upload: %w", err)}
	}
	e.logger.Info("rendition stored",
		zap.String("resolution", res.String()),
		zap.String("dir_key", dirKey),
	)
	return dirKey, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
