// Package ossbucket stages audio files in an Alibaba Cloud OSS bucket so
// DashScope can fetch them over HTTP. Objects live under asr-staging/ and
// are deleted again once the transcription task has consumed them.
package ossbucket

import (
	"context"
	"fmt"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/retry"
)

const (
	stagingPrefix = "asr-staging"

	uploadRetries = 2 // 3 attempts total
	uploadDelay   = time.Second
)

// objectAPI is the slice of the OSS bucket API the staging layer uses.
// *oss.Bucket satisfies it; tests substitute a fake.
type objectAPI interface {
	PutObjectFromFile(objectKey, filePath string, options ...oss.Option) error
	SetObjectACL(objectKey string, objectACL oss.ACLType, options ...oss.Option) error
	DeleteObject(objectKey string, options ...oss.Option) error
}

// Staging uploads and removes transcription inputs.
type Staging struct {
	api    objectAPI
	bucket string
	region string
	delay  time.Duration
}

// New connects to the configured bucket.
func New(cfg config.OSSConfig) (*Staging, error) {
	endpoint := fmt.Sprintf("https://oss-%s.aliyuncs.com", cfg.Region)
	client, err := oss.New(endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("creating OSS client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("opening OSS bucket %q: %w", cfg.Bucket, err)
	}
	return &Staging{api: bucket, bucket: cfg.Bucket, region: cfg.Region, delay: uploadDelay}, nil
}

func newWithAPI(api objectAPI, bucket, region string) *Staging {
	return &Staging{api: api, bucket: bucket, region: region, delay: uploadDelay}
}

// StagingKey returns a fresh object key for a project's audio upload. Keys
// are unique per attempt so a retried pipeline never races a pending delete.
func StagingKey(projectID models.ULID) string {
	return fmt.Sprintf("%s/%s/%s.opus", stagingPrefix, projectID, uuid.NewString())
}

// Upload puts the local file at the given key with a public-read ACL and
// returns its public URL. Transient failures are retried.
func (s *Staging) Upload(ctx context.Context, key, localPath string) (string, error) {
	opts := retry.Options{MaxRetries: uploadRetries, BaseDelay: s.delay, MaxDelay: s.delay, DisableJitter: true}

	_, err := retry.Do(ctx, opts, func() (struct{}, error) {
		if err := s.api.PutObjectFromFile(key, localPath); err != nil {
			return struct{}{}, errs.NewPipeline("run_asr", fmt.Sprintf("uploading %s to OSS", key), true, err)
		}
		if err := s.api.SetObjectACL(key, oss.ACLPublicRead); err != nil {
			return struct{}{}, errs.NewPipeline("run_asr", fmt.Sprintf("setting public-read ACL on %s", key), true, err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return "", err
	}
	return s.PublicURL(key), nil
}

// Delete removes a staged object. Missing objects are not an error.
func (s *Staging) Delete(key string) error {
	if err := s.api.DeleteObject(key); err != nil {
		return fmt.Errorf("deleting %s from OSS: %w", key, err)
	}
	return nil
}

// PublicURL returns the unauthenticated HTTP URL of an object.
func (s *Staging) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.oss-%s.aliyuncs.com/%s", s.bucket, s.region, key)
}
