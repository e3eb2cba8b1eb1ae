package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// UploadResult is what callers keep from an upload. Contents are never
// inspected beyond content-type sniffing.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// Uploader stores opaque bytes and returns a URL for them.
type Uploader interface {
	Upload(ctx context.Context, data []byte, folder, kind string) (*UploadResult, error)
}

// ObjectKey builds "<folder>/<kind>/<uuid>".
func ObjectKey(folder, kind string) string {
	folder = strings.Trim(folder, "/")
	if kind == "" {
		kind = "file"
	}
	return path.Join(folder, kind, uuid.NewString())
}

// S3Uploader uploads through the s3 transfer manager.
type S3Uploader struct {
	uploader      *manager.Uploader
	bucket        string
	publicBaseURL string
}

// S3Config configures the bucket and how URLs are built.
type S3Config struct {
	Bucket        string `json:"bucket"`
	PublicBaseURL string `json:"public_base_url"`
	UsePathStyle  bool   `json:"use_path_style"`
}

// NewS3Uploader creates an uploader for the given aws config. Endpoint
// overrides are used for S3-compatible stores such as MinIO.
func NewS3Uploader(awsCfg aws.Config, endpoint string, cfg S3Config) *S3Uploader {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Uploader{
		uploader:      manager.NewUploader(client),
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

func (u *S3Uploader) Upload(ctx context.Context, data []byte, folder, kind string) (*UploadResult, error) {
	key := ObjectKey(folder, kind)
	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	url := out.Location
	if u.publicBaseURL != "" {
		url = u.publicBaseURL + "/" + key
	}
	return &UploadResult{URL: url, Key: key}, nil
}

// MemoryUploader keeps uploads in memory. Used by the memory storage driver.
type MemoryUploader struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryUploader(baseURL string) *MemoryUploader {
	return &MemoryUploader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
	}
}

func (u *MemoryUploader) Upload(ctx context.Context, data []byte, folder, kind string) (*UploadResult, error) {
	key := ObjectKey(folder, kind)
	u.mu.Lock()
	u.objects[key] = append([]byte(nil), data...)
	u.mu.Unlock()
	return &UploadResult{URL: u.BaseURL + "/" + key, Key: key}, nil
}

// Object returns a stored upload.
func (u *MemoryUploader) Object(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[key]
	return data, ok
}
