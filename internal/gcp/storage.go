package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

const publicURLBase = "https://storage.cloud.google.com/"

// StorageConfig locates uploaded PDFs in the bucket.
type StorageConfig struct {
	Bucket       string
	Prefix       string // object name prefix, e.g. docs/<case folder>
	MaxRetries   int
	WriteTimeout time.Duration
}

// StorageUploader pushes cleaned PDFs to Cloud Storage and archives run
// reports next to them.
type StorageUploader struct {
	client *storage.Client
	bucket *storage.BucketHandle
	config StorageConfig
	logger *slog.Logger
}

func NewStorageUploader(ctx context.Context, cfg StorageConfig, logger *slog.Logger, opts ...option.ClientOption) (*StorageUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket must be provided to create a storage uploader")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 50 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &StorageUploader{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		config: cfg,
		logger: logger,
	}, nil
}

func (u *StorageUploader) Close() error {
	return u.client.Close()
}

// ObjectName places a file name under the configured prefix.
func (u *StorageUploader) ObjectName(name string) string {
	return objectName(u.config.Prefix, name)
}

// PublicURL is the browser link for an object.
func PublicURL(bucket, object string) string {
	return publicURLBase + bucket + "/" + object
}

// Upload replaces the object for localPath and returns its public URL. Any
// existing object is deleted first so the stored copy always matches the
// local file.
func (u *StorageUploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	object := u.ObjectName(name)
	logCtx := u.logger.With("gcsObject", object)
	obj := u.bucket.Object(object)

	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		logCtx.Error("Failed to delete previous object", "error", err)
		return "", fmt.Errorf("%w: failed to delete gs://%s/%s: %w", models.ErrStorage, u.config.Bucket, object, err)
	}

	err := withRetry(ctx, logCtx, "Upload", u.config.MaxRetries, func(ctx context.Context) error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return permanent(fmt.Errorf("could not open local file %s: %w", localPath, err))
		}
		defer localFileReader.Close()

		writeCtx, cancel := context.WithTimeout(ctx, u.config.WriteTimeout)
		defer cancel()

		gcsWriter := obj.NewWriter(writeCtx)
		gcsWriter.ContentType = "application/pdf"

		if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
			_ = gcsWriter.Close()
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := gcsWriter.Close(); err != nil {
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	url := PublicURL(u.config.Bucket, object)
	logCtx.Info("Upload complete.", "url", url)
	return url, nil
}

// Publish archives the run report under <prefix>/_reports. Reports are
// immutable: an existing object with the same run ID is left alone.
func (u *StorageUploader) Publish(ctx context.Context, report models.RunReport) error {
	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	return u.saveAtomically(ctx, u.ObjectName("_reports/run_"+report.RunID+".json"), content)
}

// saveAtomically writes content to an object only if it doesn't already exist.
func (u *StorageUploader) saveAtomically(ctx context.Context, objectName string, content []byte) error {
	logCtx := u.logger.With("gcsObject", objectName)
	writer := u.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		if isStatus(err, http.StatusPreconditionFailed) {
			logCtx.Info("Skipping, object already exists.")
			return nil
		}
		logCtx.Error("Failed to write GCS object", "error", err)
		return fmt.Errorf("%w: failed to write to GCS: %w", models.ErrStorage, err)
	}
	if err := writer.Close(); err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			logCtx.Info("Skipping, object already exists.")
			return nil
		}
		logCtx.Error("Failed to close GCS writer", "error", err)
		return fmt.Errorf("%w: failed to finalize GCS write: %w", models.ErrStorage, err)
	}
	return nil
}

func objectName(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
