// Package archive copies persisted snapshots to object storage
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ppiankov/newsledger/internal/model"
)

// Archiver stores a copy of a snapshot
type Archiver interface {
	Archive(ctx context.Context, snap model.Snapshot) error
}

// Nop discards snapshots
type Nop struct{}

// Archive implements Archiver
func (Nop) Archive(context.Context, model.Snapshot) error { return nil }

// Putter is the subset of the S3 client used here
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each snapshot as a JSON object
type S3Archiver struct {
	client Putter
	bucket string
	prefix string
}

// NewS3 builds an archiver from the default AWS credential chain with
// optional region, profile and path-style overrides
func NewS3(ctx context.Context, cfg model.ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient wraps an existing client
func NewS3WithClient(client Putter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a snapshot:
// <prefix>/<outlet>/<yyyy>/<mm>/<dd>/<id>.json
func (a *S3Archiver) Key(snap model.Snapshot) string {
	outlet := strings.ReplaceAll(strings.ToLower(snap.Outlet), "/", "_")
	if outlet == "" {
		outlet = "unknown"
	}
	return path.Join(a.prefix, outlet, snap.CapturedAt.UTC().Format("2006/01/02"), snap.ID+".json")
}

// Archive implements Archiver
func (a *S3Archiver) Archive(ctx context.Context, snap model.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(snap)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"story-url":         snap.StoryURL,
			"extraction-source": string(snap.ExtractionSource),
		},
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", snap.ID, err)
	}
	return nil
}
