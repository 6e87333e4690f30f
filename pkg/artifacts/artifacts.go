// Package artifacts stores job inputs, worker checkpoints and output links
// in object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Store is the object storage used by the scheduler
type Store interface {
	// Put stores data under path and returns its URL
	Put(ctx context.Context, data []byte, path string) (string, error)
	// Get fetches the object behind a URL returned by Put
	Get(ctx context.Context, url string) ([]byte, error)
	// PresignPut returns a URL a worker may upload to without credentials
	PresignPut(ctx context.Context, path string, ttl time.Duration) (string, error)
	// DeletePrefix removes every object under prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

// Config selects and configures an artifact store
type Config struct {
	Type string `mapstructure:"type"` // "s3" or "file"

	// S3 and S3-compatible
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Local filesystem
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"base_url"` // used for presigned uploads
}

// NewStore creates an artifact store based on configuration
func NewStore(ctx context.Context, config Config) (Store, error) {
	switch config.Type {
	case "s3":
		return NewS3Store(ctx, config)
	case "file", "":
		root := config.Root
		if root == "" {
			root = "artifacts"
		}
		return NewFileStore(root, config.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported artifact store type: %s", config.Type)
	}
}

// InputPrefix returns the prefix under which a task's inputs are stored
func InputPrefix(taskType, taskID string, at time.Time) string {
	return fmt.Sprintf("inputs/%s/%s/%s/", taskType, taskID, at.UTC().Format("20060102T150405Z"))
}

// OutputPrefix returns the prefix under which a worker uploads its outputs
func OutputPrefix(jobID, worker string) string {
	return fmt.Sprintf("outputs/%s/%s/", jobID, worker)
}
