// Package backup uploads JSON snapshots of the task list to an S3-compatible
// bucket (AWS S3, MinIO, Supabase Storage).
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

// Config describes the target bucket. Backups are disabled without a bucket.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// PutObjectAPI is the part of the S3 client used here.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Snapshot is the uploaded document.
type Snapshot struct {
	UserID  string       `json:"userId"`
	TakenAt time.Time    `json:"takenAt"`
	Tasks   []tasks.Task `json:"tasks"`
}

// Seams for tests.
var loadDefaultAWSConfig = config.LoadDefaultConfig

var newS3Client = func(cfg aws.Config, optFns ...func(*s3.Options)) PutObjectAPI {
	return s3.NewFromConfig(cfg, optFns...)
}

type Uploader struct {
	cfg    Config
	client PutObjectAPI
	log    logging.Logger
	now    func() time.Time
}

// NewUploader builds an S3 client from cfg. Static credentials are used when
// an access key is given, the default AWS chain otherwise.
func NewUploader(ctx context.Context, cfg Config, log logging.Logger) (*Uploader, error) {
	u := &Uploader{cfg: cfg, log: logging.OrNop(log).With("module", "backup"), now: time.Now}
	if !cfg.Enabled() {
		return u, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	u.client = newS3Client(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return u, nil
}

// NewUploaderWithClient uses an already configured client.
func NewUploaderWithClient(cfg Config, client PutObjectAPI, log logging.Logger) *Uploader {
	return &Uploader{cfg: cfg, client: client, log: logging.OrNop(log).With("module", "backup"), now: time.Now}
}

func (u *Uploader) Enabled() bool {
	return u.cfg.Enabled() && u.client != nil
}

// ObjectKey is <prefix>/<userID>/<timestamp>.json.
func ObjectKey(prefix, userID string, at time.Time) string {
	return path.Join(prefix, userID, at.UTC().Format("20060102T150405Z")+".json")
}

// Upload writes a snapshot of list and returns its object key.
func (u *Uploader) Upload(ctx context.Context, userID string, list []tasks.Task) (string, error) {
	if !u.Enabled() {
		return "", common.ErrBackupDisabled
	}

	snap := Snapshot{UserID: userID, TakenAt: u.now().UTC(), Tasks: list}
	if snap.Tasks == nil {
		snap.Tasks = []tasks.Task{}
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := ObjectKey(u.cfg.Prefix, userID, snap.TakenAt)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		u.log.Error(ctx, "snapshot upload failed", "key", key, "error", err)
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	u.log.Info(ctx, "snapshot uploaded", "key", key, "tasks", len(list))
	return key, nil
}
