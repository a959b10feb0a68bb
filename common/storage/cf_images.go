package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/lyzr/gpu-agent/common/logger"
)

// CFImagesOptions holds the settings for the Cloudflare Images backend
type CFImagesOptions struct {
	AccountID      string
	APIToken       string
	DeliveryDomain string
}

// CFImagesProvider uploads through the Cloudflare Images API. Unlike the
// bucket backends it only accepts image media and ignores chunking; the
// API handles sizing server-side.
type CFImagesProvider struct {
	opts   CFImagesOptions
	client *http.Client
	log    *logger.Logger
}

// NewCFImagesProvider creates a Cloudflare Images provider
func NewCFImagesProvider(opts CFImagesOptions, log *logger.Logger) *CFImagesProvider {
	return &CFImagesProvider{
		opts:   opts,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
	}
}

type cfImagesResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		ID       string   `json:"id"`
		Variants []string `json:"variants"`
	} `json:"result"`
}

// UploadBinary posts bytes to the Images API. The destination path becomes
// the custom image ID, so the delivery URL stays deterministic.
func (p *CFImagesProvider) UploadBinary(ctx context.Context, data []byte, destPath, contentType string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", path.Base(destPath))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := mw.WriteField("id", destPath); err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/images/v1", p.opts.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.opts.APIToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("Cloudflare Images upload failed for %s: %w", destPath, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	var parsed cfImagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("invalid upload response for %s: %w", destPath, err)
	}
	if !parsed.Success {
		if len(parsed.Errors) > 0 {
			return "", fmt.Errorf("Cloudflare Images upload failed for %s: %s (code %d)",
				destPath, parsed.Errors[0].Message, parsed.Errors[0].Code)
		}
		return "", fmt.Errorf("Cloudflare Images upload failed for %s: status %d", destPath, resp.StatusCode)
	}

	return p.deliveryURL(parsed.Result.ID, parsed.Result.Variants), nil
}

// deliveryURL prefers the configured delivery domain, then the first
// variant the API returned
func (p *CFImagesProvider) deliveryURL(id string, variants []string) string {
	if p.opts.DeliveryDomain != "" {
		return joinURL(p.opts.DeliveryDomain, id+"/public")
	}
	if len(variants) > 0 {
		return variants[0]
	}
	return id
}

// UploadFile uploads a local file and removes it on success
func (p *CFImagesProvider) UploadFile(ctx context.Context, sourcePath, destPath string) (string, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", sourcePath, err)
	}

	url, err := p.UploadBinary(ctx, data, destPath, ContentTypeFor(destPath))
	if err != nil {
		return "", err
	}

	os.Remove(sourcePath)
	return url, nil
}

// UploadBase64 decodes and uploads base64 data
func (p *CFImagesProvider) UploadBase64(ctx context.Context, encoded, destPath string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 data: %w", err)
	}
	return p.UploadBinary(ctx, data, destPath, ContentTypeFor(destPath))
}
