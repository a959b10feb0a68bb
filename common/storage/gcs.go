package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	gcs "cloud.google.com/go/storage"
)

// GCSProvider stores objects in a Google Cloud Storage bucket. When a CDN
// base URL is configured it replaces the native stor.googleapis.com URL.
type GCSProvider struct {
	client *gcs.Client
	bucket string
	name   string
	cdnURL string
}

// NewGCSProvider creates a GCS-backed provider
func NewGCSProvider(ctx context.Context, bucket, cdnURL string) (*GCSProvider, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSProvider{
		client: client,
		bucket: bucket,
		cdnURL: cdnURL,
	}, nil
}

func (p *GCSProvider) publicURL(destPath string) string {
	if p.cdnURL != "" {
		return joinURL(p.cdnURL, destPath)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.bucket, destPath)
}

// UploadBinary writes bytes to the bucket. Bodies at or above the chunk
// threshold use the resumable upload path with an explicit chunk size.
func (p *GCSProvider) UploadBinary(ctx context.Context, data []byte, destPath, contentType string) (string, error) {
	w := p.client.Bucket(p.bucket).Object(destPath).NewWriter(ctx)
	w.ContentType = contentType
	if int64(len(data)) >= chunkThreshold {
		w.ChunkSize = int(chunkSizeFor(int64(len(data))))
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("GCS write failed for %s: %w", destPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCS upload failed for %s: %w", destPath, err)
	}

	return p.publicURL(destPath), nil
}

// UploadFile uploads a local file and removes it on success
func (p *GCSProvider) UploadFile(ctx context.Context, sourcePath, destPath string) (string, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", sourcePath, err)
	}

	url, err := p.UploadBinary(ctx, data, destPath, ContentTypeFor(destPath))
	if err != nil {
		return "", err
	}

	if err := os.Remove(sourcePath); err != nil {
		// Upload already succeeded; the leftover file is harmless
		return url, nil
	}
	return url, nil
}

// UploadBase64 decodes and uploads base64 data
func (p *GCSProvider) UploadBase64(ctx context.Context, encoded, destPath string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 data: %w", err)
	}
	return p.UploadBinary(ctx, data, destPath, ContentTypeFor(destPath))
}
