package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Options holds the settings for the S3-compatible backend
type R2Options struct {
	Bucket       string
	AccountID    string
	AccessKey    string
	SecretKey    string
	PublicDomain string
	CDNBase      string
}

// R2Provider stores objects in a Cloudflare R2 bucket through the
// S3-compatible API
type R2Provider struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     R2Options
}

// NewR2Provider creates an R2-backed provider
func NewR2Provider(ctx context.Context, opts R2Options) (*R2Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", opts.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	if opts.PublicDomain == "" {
		opts.PublicDomain = fmt.Sprintf("https://pub-%s.r2.dev", opts.AccountID)
	}

	return &R2Provider{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
	}, nil
}

func (p *R2Provider) publicURL(destPath string) string {
	if p.opts.CDNBase != "" {
		return joinURL(p.opts.CDNBase, destPath)
	}
	return joinURL(p.opts.PublicDomain, destPath)
}

// UploadBinary writes bytes to the bucket. Large bodies go through the
// multipart uploader with the chunked part size.
func (p *R2Provider) UploadBinary(ctx context.Context, data []byte, destPath, contentType string) (string, error) {
	size := int64(len(data))

	if size >= chunkThreshold {
		_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.opts.Bucket),
			Key:         aws.String(destPath),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		}, func(u *manager.Uploader) {
			u.PartSize = chunkSizeFor(size)
		})
		if err != nil {
			return "", fmt.Errorf("R2 multipart upload failed for %s: %w", destPath, err)
		}
		return p.publicURL(destPath), nil
	}

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(destPath),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("R2 upload failed for %s: %w", destPath, err)
	}
	return p.publicURL(destPath), nil
}

// UploadFile uploads a local file and removes it on success
func (p *R2Provider) UploadFile(ctx context.Context, sourcePath, destPath string) (string, error) {
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
func (p *R2Provider) UploadBase64(ctx context.Context, encoded, destPath string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 data: %w", err)
	}
	return p.UploadBinary(ctx, data, destPath, ContentTypeFor(destPath))
}
