package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/gpu-agent/common/config"
	"github.com/lyzr/gpu-agent/common/logger"
)

// Chunked upload thresholds. Bodies at or above chunkThreshold are sent
// with resumable/multipart uploads.
const (
	chunkThreshold  = 100 << 20 // 100 MiB
	chunkSizeSmall  = 64 << 20  // bodies up to 1 GiB
	chunkSizeLarge  = 256 << 20 // bodies beyond 1 GiB
	largeBodyCutoff = 1 << 30
)

// chunkSizeFor returns the upload chunk size for a body of the given length
func chunkSizeFor(size int64) int64 {
	if size > largeBodyCutoff {
		return chunkSizeLarge
	}
	return chunkSizeSmall
}

// Provider is the uniform interface over cloud storage backends.
// Implementations rely on their SDK's built-in retries; callers do not
// add another retry layer.
type Provider interface {
	// UploadBinary stores raw bytes at destPath and returns the public URL
	UploadBinary(ctx context.Context, data []byte, destPath, contentType string) (string, error)
	// UploadFile stores a local file at destPath, removes the local file
	// on success and returns the public URL
	UploadFile(ctx context.Context, sourcePath, destPath string) (string, error)
	// UploadBase64 decodes and stores base64 data at destPath
	UploadBase64(ctx context.Context, encoded, destPath string) (string, error)
}

// Manager holds the registered providers and routes uploads to the
// default one
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	log             *logger.Logger
}

// NewManager creates an empty storage manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		log:       log,
	}
}

// NewManagerFromConfig configures providers from the storage settings.
// Returns an error only in strict mode when nothing could be configured.
func NewManagerFromConfig(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (*Manager, error) {
	m := NewManager(log)

	switch cfg.Provider {
	case "gcs":
		if cfg.GCSBucket == "" {
			log.Warn("GCS bucket not configured")
			break
		}
		p, err := NewGCSProvider(ctx, cfg.GCSBucket, cfg.CDNURL)
		if err != nil {
			log.Warn("failed to configure GCS provider", "error", err)
			break
		}
		m.Register("gcs", p, true)
	case "r2":
		if cfg.R2Bucket == "" || cfg.R2AccountID == "" || cfg.R2AccessKey == "" || cfg.R2SecretKey == "" {
			log.Warn("R2 configuration incomplete")
			break
		}
		p, err := NewR2Provider(ctx, R2Options{
			Bucket:       cfg.R2Bucket,
			AccountID:    cfg.R2AccountID,
			AccessKey:    cfg.R2AccessKey,
			SecretKey:    cfg.R2SecretKey,
			PublicDomain: cfg.R2PublicDomain,
			CDNBase:      cfg.CDNURL,
		})
		if err != nil {
			log.Warn("failed to configure R2 provider", "error", err)
			break
		}
		m.Register("r2", p, true)
	case "cf_images":
		if cfg.CFImagesAccountID == "" || cfg.CFImagesAPIToken == "" {
			log.Warn("Cloudflare Images configuration incomplete")
			break
		}
		m.Register("cf_images", NewCFImagesProvider(CFImagesOptions{
			AccountID:      cfg.CFImagesAccountID,
			APIToken:       cfg.CFImagesAPIToken,
			DeliveryDomain: cfg.CFImagesDeliveryDomain,
		}, log), true)
	default:
		log.Warn("unknown storage provider", "provider", cfg.Provider)
	}

	if len(m.providers) == 0 {
		if cfg.Strict {
			return nil, fmt.Errorf("no storage provider configured (STORAGE_PROVIDER=%s)", cfg.Provider)
		}
		log.Warn("no storage provider configured, uploads will fail")
	} else {
		log.Info("storage manager configured",
			"providers", m.Names(),
			"default", m.defaultProvider)
	}

	return m, nil
}

// Register adds a provider under a name
func (m *Manager) Register(name string, p Provider, isDefault bool) {
	m.providers[name] = p
	if isDefault || m.defaultProvider == "" {
		m.defaultProvider = name
	}
	m.log.Info("registered storage provider", "provider", name)
}

// Names lists the registered provider names
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Configured reports whether at least one provider is available
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

func (m *Manager) provider() (Provider, error) {
	p, ok := m.providers[m.defaultProvider]
	if !ok {
		return nil, fmt.Errorf("storage provider %q not found", m.defaultProvider)
	}
	return p, nil
}

// UploadBinary stores raw bytes via the default provider. Content type is
// inferred from the destination extension when empty.
func (m *Manager) UploadBinary(ctx context.Context, data []byte, destPath, contentType string) (string, error) {
	p, err := m.provider()
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = ContentTypeFor(destPath)
	}
	m.log.Debug("uploading binary", "dest", destPath, "bytes", len(data), "content_type", contentType)
	return p.UploadBinary(ctx, data, destPath, contentType)
}

// UploadFile stores a local file via the default provider
func (m *Manager) UploadFile(ctx context.Context, sourcePath, destPath string) (string, error) {
	p, err := m.provider()
	if err != nil {
		return "", err
	}
	return p.UploadFile(ctx, sourcePath, destPath)
}

// UploadBase64 stores base64 data via the default provider
func (m *Manager) UploadBase64(ctx context.Context, encoded, destPath string) (string, error) {
	p, err := m.provider()
	if err != nil {
		return "", err
	}
	return p.UploadBase64(ctx, encoded, destPath)
}

// joinURL joins a base URL and a path without doubling slashes
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
