// Package main runs the transcode worker. With VIDEO_KEY set it behaves
// as an isolated per-asset task (the ECS launch path) and exits when the
// run completes; otherwise it consumes transcode jobs from the Redis
// queue until stopped.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clipstream/backend/config"
	"github.com/clipstream/backend/internal/admission"
	"github.com/clipstream/backend/internal/captions"
	"github.com/clipstream/backend/internal/encode"
	"github.com/clipstream/backend/internal/manifest"
	"github.com/clipstream/backend/internal/pipeline"
	"github.com/clipstream/backend/internal/probe"
	"github.com/clipstream/backend/internal/videos"
	"github.com/clipstream/backend/pkg/database"
	"github.com/clipstream/backend/pkg/queue"
	"github.com/clipstream/backend/pkg/redis"
	"github.com/clipstream/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Bucket:               cfg.AWS.MediaBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		UploadExpireMinutes:  cfg.AWS.UploadExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	videoRepo := videos.NewRepository(pool)
	gate := admission.NewGate(rdb.Client, cfg.Transcode.AdmissionLimit, logger)
	prober := probe.NewProber(cfg.Transcode.FFprobePath)
	encoder := encode.NewEncoder(s3Client, cfg.Transcode.FFmpegPath, cfg.Transcode.Preset,
		cfg.Transcode.SegmentSeconds, cfg.Transcode.ScratchDir, logger)
	transcriber := captions.NewTranscriber(cfg.Transcription.BaseURL, cfg.Transcription.APIKey,
		cfg.Transcription.Model, time.Duration(cfg.Transcription.TimeoutSeconds)*time.Second)
	captionGen := captions.NewGenerator(transcriber, s3Client, cfg.Transcode.FFmpegPath,
		cfg.Transcription.BaseLanguage, cfg.Transcode.ScratchDir, logger)
	publisher := manifest.NewPublisher(s3Client, cfg.Transcription.BaseLanguage)

	orch := pipeline.NewOrchestrator(videoRepo, s3Client, prober, encoder, captionGen, publisher, gate,
		pipeline.Config{
			MaxParallel:     cfg.Transcode.MaxParallel,
			BandwidthFactor: cfg.Transcode.BandwidthFactor,
			ScratchDir:      cfg.Transcode.ScratchDir,
		}, logger)

	// Per-asset task mode: asset reference arrives via environment, set
	// by the compute-task launcher.
	if storageKey := os.Getenv("VIDEO_KEY"); storageKey != "" {
		userID := os.Getenv("USER_ID")
		if err := orch.Run(ctx, userID, storageKey); err != nil {
			logger.Error("transcode run failed", zap.String("storage_key", storageKey), zap.Error(err))
			os.Exit(1)
		}
		logger.Info("transcode run complete", zap.String("storage_key", storageKey))
		return
	}

	// Queue-consumer mode.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go consume(workerCtx, jobQueue, orch, logger)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func consume(ctx context.Context, q *queue.Queue, orch *pipeline.Orchestrator, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.Dequeue(ctx)
		if err != nil {
			logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}
		if job == nil {
			continue
		}
		var payload queue.TranscodePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			logger.Warn("invalid transcode payload", zap.String("job_id", job.ID), zap.Error(err))
			_ = q.Fail(ctx, job, err)
			continue
		}
		if err := orch.Run(ctx, payload.UserID.String(), payload.StorageKey); err != nil {
			// The pipeline already persisted the failure; the DLQ entry
			// is for operator visibility only.
			_ = q.Fail(ctx, job, err)
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
