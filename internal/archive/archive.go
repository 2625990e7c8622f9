// Package archive uploads run reports and position snapshots to S3 or an
// S3-compatible object store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vadiminshakov/selectivedca/internal/domain"
)

// ClientConfig describes the bucket to archive into.
type ClientConfig struct {
	// Endpoint is empty for AWS S3 and set for MinIO, R2 and similar.
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes one report object and one positions object per run.
type Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg ClientConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchiver(client objectPutter, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Run stores the human report and the current positions under a key derived
// from the run time. It returns the keys written.
func (a *Archiver) Run(ctx context.Context, at time.Time, report string, positions []*domain.Position) ([]string, error) {
	base := a.key(at)

	var lines bytes.Buffer
	enc := json.NewEncoder(&lines)
	for _, p := range positions {
		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("archive: encode position %d: %w", p.ID, err)
		}
	}

	objects := []struct {
		key         string
		body        []byte
		contentType string
	}{
		{base + "/report.txt", []byte(report), "text/plain; charset=utf-8"},
		{base + "/positions.jsonl", lines.Bytes(), "application/x-ndjson"},
	}

	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(o.key),
			Body:        bytes.NewReader(o.body),
			ContentType: aws.String(o.contentType),
		})
		if err != nil {
			return keys, fmt.Errorf("archive: put object %s: %w", o.key, err)
		}
		keys = append(keys, o.key)
	}
	return keys, nil
}

func (a *Archiver) key(at time.Time) string {
	at = at.UTC()
	return path.Join(a.prefix, at.Format("2006/01/02"), "run-"+at.Format("20060102T150405Z"))
}

func normaliseEndpoint(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}
