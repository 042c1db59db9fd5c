// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/statsharness/services/statistics/core"
)

// ErrNoBucket indicates a GCS sink without a bucket.
var ErrNoBucket = errors.New("gcs bucket is required")

// GCSConfig configures the report upload sink.
type GCSConfig struct {
	ProjectID string `yaml:"project_id"`
	Bucket    string `yaml:"bucket"`

	// Prefix is prepended to every object name.
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, object string, data []byte) error
}

// bucketUploader writes objects into a GCS bucket.
type bucketUploader struct {
	client *storage.Client
	bucket string
}

func (u *bucketUploader) Upload(ctx context.Context, object string, data []byte) error {
	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// GCSSink uploads each report as <prefix>/<exercise>/<run_id>.json.
type GCSSink struct {
	client   *storage.Client
	uploader Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewGCSSink creates a storage client for cfg.
//
// Outputs:
//
//	*GCSSink - The sink. Close releases the client.
//	error - ErrNoBucket, a missing key file, or a client error.
func NewGCSSink(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSSink, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	s := NewGCSSinkWithUploader(&bucketUploader{client: client, bucket: cfg.Bucket}, cfg.Bucket, cfg.Prefix, logger)
	s.client = client
	return s, nil
}

// NewGCSSinkWithUploader returns a sink storing objects through u. bucket
// is only used in log messages.
func NewGCSSinkWithUploader(u Uploader, bucket, prefix string, logger *slog.Logger) *GCSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSSink{
		uploader: u,
		bucket:   bucket,
		prefix:   prefix,
		logger:   logger.With(slog.String("sink", "gcs")),
	}
}

// ObjectName returns the object a report is stored under.
func (s *GCSSink) ObjectName(report *core.Statistics) string {
	return path.Join(s.prefix, report.Name, report.RunID+".json")
}

// Write implements Sink.
func (s *GCSSink) Write(ctx context.Context, report *core.Statistics) error {
	if report == nil {
		return ErrNilReport
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.RunID, err)
	}

	object := s.ObjectName(report)
	if err := s.uploader.Upload(ctx, object, data); err != nil {
		return err
	}
	s.logger.Info("report uploaded",
		slog.String("run_id", report.RunID),
		slog.String("object", fmt.Sprintf("gs://%s/%s", s.bucket, object)),
	)
	return nil
}

// Close implements Sink.
func (s *GCSSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
