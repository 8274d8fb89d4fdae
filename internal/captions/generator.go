package captions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/clipstream/backend/internal/models"
)

// TranscriptionService is the speech-to-text surface the generator needs.
type TranscriptionService interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (*Transcription, error)
}

// ObjectStore is the storage surface the generator needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Generator produces subtitle tracks for the base language plus the
// detected spoken language when it differs. Every step degrades rather
// than failing the asset: a broken audio extraction yields no captions, a
// failed language yields a map without that language.
type Generator struct {
	transcriber TranscriptionService
	store       ObjectStore
	ffmpegPath  string
	baseLang    string
	scratchDir  string
	logger      *zap.Logger
}

// NewGenerator creates a caption generator.
func NewGenerator(transcriber TranscriptionService, store ObjectStore, ffmpegPath, baseLang, scratchDir string, logger *zap.Logger) *Generator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if baseLang == "" {
		baseLang = "en"
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		transcriber: transcriber,
		store:       store,
		ffmpegPath:  ffmpegPath,
		baseLang:    baseLang,
		scratchDir:  scratchDir,
		logger:      logger,
	}
}

// Generate extracts audio from localPath, transcribes it and uploads VTT
// and SRT tracks under {keyPrefix}/captions/. The returned map contains
// only the languages whose tracks were fully stored; it is empty (never
// nil) when captioning degraded completely.
func (g *Generator) Generate(ctx context.Context, localPath, keyPrefix string) map[string]models.CaptionTrack {
	tracks := make(map[string]models.CaptionTrack)

	audioPath, cleanup, err := g.extractAudio(ctx, localPath)
	if err != nil {
		g.logger.Warn("audio extraction failed, skipping captions", zap.Error(err))
		return tracks
	}
	defer cleanup()

	// Hint-less call both detects the spoken language and, when it turns
	// out to be the base language, already carries the base transcript.
	detected, err := g.transcriber.Transcribe(ctx, audioPath, "")
	if err != nil {
		g.logger.Warn("language detection failed, assuming base language", zap.Error(err))
		detected = nil
	}

	langs := []string{g.baseLang}
	if detected != nil && detected.Language != "" && detected.Language != g.baseLang {
		langs = append(langs, detected.Language)
	}

	for _, lang := range langs {
		var tr *Transcription
		if detected != nil && detected.Language == lang {
			tr = detected
		} else {
			tr, err = g.transcriber.Transcribe(ctx, audioPath, lang)
			if err != nil {
				g.logger.Warn("transcription failed, omitting language",
					zap.String("language", lang), zap.Error(err))
				continue
			}
		}
		track, err := g.uploadTrack(ctx, keyPrefix, lang, tr.Segments)
		if err != nil {
			g.logger.Warn("caption upload failed, omitting language",
				zap.String("language", lang), zap.Error(err))
			continue
		}
		tracks[lang] = track
	}
	return tracks
}

// BaseLanguage returns the language always attempted for captions.
func (g *Generator) BaseLanguage() string { return g.baseLang }

// extractAudio produces a mono 16 kHz PCM wav suitable for transcription.
func (g *Generator) extractAudio(ctx context.Context, localPath string) (string, func(), error) {
	dir, err := os.MkdirTemp(g.scratchDir, "captions-")
	if err != nil {
		return "", nil, fmt.Errorf("scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	audioPath := filepath.Join(dir, "audio.wav")
	cmd := exec.CommandContext(ctx, g.ffmpegPath,
		"-y",
		"-i", localPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("extract audio: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return audioPath, cleanup, nil
}

func (g *Generator) uploadTrack(ctx context.Context, keyPrefix, lang string, segments []Segment) (models.CaptionTrack, error) {
	vttKey := path.Join(keyPrefix, "captions", lang+".vtt")
	srtKey := path.Join(keyPrefix, "captions", lang+".srt")

	if err := g.store.Put(ctx, vttKey, bytes.NewReader(RenderVTT(segments)), "text/vtt"); err != nil {
		return models.CaptionTrack{}, fmt.Errorf("upload vtt: %w", err)
	}
	if err := g.store.Put(ctx, srtKey, bytes.NewReader(RenderSRT(segments)), "application/x-subrip"); err != nil {
		return models.CaptionTrack{}, fmt.Errorf("upload srt: %w", err)
	}
	return models.CaptionTrack{Language: lang, VTTKey: vttKey, SRTKey: srtKey}, nil
}
