package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
)

const archiveBatch = 20

// Archiver uploads cataloged recordings to an S3-compatible bucket
type Archiver struct {
	uploader s3manageriface.UploaderAPI
	store    Store
	bucket   string
	prefix   string
	logger   *logger.Logger
	now      func() time.Time
}

// NewS3Archiver creates an archiver from configuration. Path-style
// addressing keeps it compatible with R2 and MinIO endpoints.
func NewS3Archiver(cfg config.ArchiveConfig, store Store, log *logger.Logger) (*Archiver, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	// One part at a time on constrained uplinks.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})

	return NewArchiver(uploader, store, cfg.Bucket, cfg.Prefix, log), nil
}

// NewArchiver creates an archiver around an uploader
func NewArchiver(uploader s3manageriface.UploaderAPI, store Store, bucket, prefix string, log *logger.Logger) *Archiver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Archiver{
		uploader: uploader,
		store:    store,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		logger:   log,
		now:      time.Now,
	}
}

// Sweep uploads recordings not yet archived and returns how many succeeded
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	pending, err := a.store.PendingArchive(ctx, archiveBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending recordings: %w", err)
	}

	archived := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}
		key, err := a.archive(ctx, rec)
		if err != nil {
			a.logger.Warn("Failed to archive recording", "recording_id", rec.ID, "error", err)
			continue
		}
		if err := a.store.MarkRecordingArchived(ctx, rec.ID, key, a.now()); err != nil {
			a.logger.Warn("Failed to mark recording archived", "recording_id", rec.ID, "error", err)
			continue
		}
		archived++
		a.logger.Info("Recording archived", "recording_id", rec.ID, "bucket", a.bucket, "key", key)
	}
	return archived, nil
}

// ObjectKey is where a local file of a recording is stored in the bucket
func (a *Archiver) ObjectKey(rec state.RecordingState, localPath string) string {
	return path.Join(a.prefix, rec.CameraID, filepath.Base(localPath))
}

func (a *Archiver) archive(ctx context.Context, rec state.RecordingState) (string, error) {
	key := a.ObjectKey(rec, rec.Path)
	if err := a.upload(ctx, rec, rec.Path, key); err != nil {
		return "", err
	}
	for _, extra := range []string{rec.SidecarPath, rec.ThumbnailPath} {
		if extra == "" {
			continue
		}
		if err := a.upload(ctx, rec, extra, a.ObjectKey(rec, extra)); err != nil {
			return "", err
		}
	}
	return key, nil
}

func (a *Archiver) upload(ctx context.Context, rec state.RecordingState, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(localPath)),
		Metadata: map[string]*string{
			"RecordingId": aws.String(rec.ID),
			"CameraId":    aws.String(rec.CameraID),
			"StartedAt":   aws.String(rec.StartedAt.UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
