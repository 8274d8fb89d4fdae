// Package main runs the video platform HTTP server: upload intake and
// the streaming gateway.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clipstream/backend/config"
	"github.com/clipstream/backend/internal/admission"
	"github.com/clipstream/backend/internal/auth"
	"github.com/clipstream/backend/internal/gateway"
	"github.com/clipstream/backend/internal/launcher"
	"github.com/clipstream/backend/internal/middleware"
	"github.com/clipstream/backend/internal/videos"
	"github.com/clipstream/backend/pkg/database"
	"github.com/clipstream/backend/pkg/queue"
	"github.com/clipstream/backend/pkg/redis"
	"github.com/clipstream/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	gate := admission.NewGate(rdb.Client, cfg.Transcode.AdmissionLimit, logger)

	var taskLauncher videos.TaskLauncher
	if len(cfg.AWS.ECSSubnets) > 0 {
		taskLauncher, err = launcher.NewECSLauncher(ctx, launcher.ECSConfig{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Cluster:         cfg.AWS.ECSCluster,
			TaskDefinition:  cfg.AWS.ECSTaskDefinition,
			ContainerName:   cfg.AWS.ECSContainerName,
			Subnets:         cfg.AWS.ECSSubnets,
			SecurityGroup:   cfg.AWS.ECSSecurityGroup,
			MediaBucket:     cfg.AWS.MediaBucket,
		}, logger)
		if err != nil {
			logger.Fatal("ecs launcher", zap.Error(err))
		}
	} else {
		// No ECS configured: hand work to queue-consuming workers.
		taskLauncher = launcher.NewQueueLauncher(queue.NewQueue(rdb.Client, logger))
	}

	videoRepo := videos.NewRepository(pool)
	videoHandler := videos.NewHandler(videoRepo, s3Client, gate, taskLauncher, logger)
	gatewayHandler := gateway.NewHandler(videoRepo, s3Client, s3Client.PresignExpire(), cfg.Server.PublicBaseURL, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/uploads", videoHandler.RequestUpload)
		api.POST("/uploads/complete", videoHandler.CompleteUpload)
		api.GET("/videos", videoHandler.List)
		api.GET("/videos/:id", videoHandler.Get)
		api.GET("/videos/:id/stream", gatewayHandler.Stream)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
