package archive

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
)

// GCSArchiverConfig holds configuration for the GCS archiver.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSArchiver writes each completed task's raw payload to a compressed,
// date-partitioned object in Google Cloud Storage. It satisfies the task
// poller's ResultArchiver hook.
type GCSArchiver struct {
	client GCSClient
	config GCSArchiverConfig
	logger zerolog.Logger
}

// NewGCSArchiver creates an archiver for the given bucket.
func NewGCSArchiver(client GCSClient, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSArchiver").Logger(),
	}, nil
}

// Archive writes one payload to
// <prefix>/<yyyy>/<mm>/<dd>/<taskID>.json.gz.
func (a *GCSArchiver) Archive(ctx context.Context, taskID string, payload []byte) error {
	if taskID == "" {
		return errors.New("task id is required")
	}
	objectName := a.objectName(taskID, time.Now().UTC())

	writer := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx)
	gz := gzip.NewWriter(writer)

	if _, err := gz.Write(payload); err != nil {
		_ = gz.Close()
		_ = writer.Close()
		return fmt.Errorf("failed to compress payload for %s: %w", objectName, err)
	}
	if err := gz.Close(); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to finalize compression for %s: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, err)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Int("payload_bytes", len(payload)).
		Msg("Archived task result to GCS.")
	return nil
}

// objectName builds the date-partitioned object path for a task.
func (a *GCSArchiver) objectName(taskID string, now time.Time) string {
	return path.Join(
		a.config.ObjectPrefix,
		now.Format("2006/01/02"),
		fmt.Sprintf("%s.json.gz", taskID),
	)
}
