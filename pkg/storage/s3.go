package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Allowed source video MIME types for upload intake.
var AllowedVideoTypes = map[string]bool{
	"video/mp4":       true,
	"video/mpeg":      true,
	"video/quicktime": true,
	"video/x-msvideo": true,
	"video/x-flv":     true,
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".aac":  "audio/aac",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
	".wav":  "audio/wav",
}

// ContentTypeForKey returns the MIME type for an object key extension.
func ContentTypeForKey(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Bucket               string
	PresignExpireMinutes int
	UploadExpireMinutes  int
}

// S3 provides object storage operations for the media bucket: whole-object
// get/put, local download, directory upload and expiring pre-signed access.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	cfg        S3Config
	logger     *zap.Logger
}

// NewS3 creates an S3 client using static credentials from config when
// present, falling back to the default credential chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	downloader := manager.NewDownloader(client)
	return &S3{
		client:     client,
		uploader:   uploader,
		downloader: downloader,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Put stores one object under key.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the object body and content type. Caller must close the body.
func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", key, err)
	}
	ct := ""
	if out.ContentType != nil {
		ct = *out.ContentType
	}
	return out.Body, ct, nil
}

// Download fetches an object to a local file.
func (s *S3) Download(ctx context.Context, key, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()
	_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// UploadFile stores a local file under key.
func (s *S3) UploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	return s.Put(ctx, key, f, ContentTypeForKey(key))
}

// UploadDirectory stores every regular file under localDir at
// keyPrefix/<relative path>. All files must upload for the call to
// succeed; partial uploads surface as an error so callers never treat a
// half-stored rendition as durable.
func (s *S3) UploadDirectory(ctx context.Context, localDir, keyPrefix string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := path.Join(keyPrefix, filepath.ToSlash(rel))
		if err := s.UploadFile(ctx, p, key); err != nil {
			return err
		}
		return nil
	})
}

// SignedURL returns a time-limited GET URL for an object.
func (s *S3) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// PresignedUploadURL returns a pre-signed PUT URL for direct client upload.
func (s *S3) PresignedUploadURL(ctx context.Context, key, contentType string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.UploadExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return req.URL, nil
}

// HeadObject returns object metadata if it exists; used by the ingest
// callback to confirm the client actually uploaded the source.
func (s *S3) HeadObject(ctx context.Context, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("head %s: %w", key, err)
	}
	return nil
}

// PresignExpire returns the TTL for playback (GET) URLs.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// UploadExpire returns the TTL for upload (PUT) URLs.
func (s *S3) UploadExpire() time.Duration {
	if s.cfg.UploadExpireMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.cfg.UploadExpireMinutes) * time.Minute
}
