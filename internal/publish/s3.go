package publish

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"marketpulse/internal/domain"
)

// S3Config holds the configuration for an S3-compatible object store.
type S3Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	Endpoint string
	Region   string
	Bucket   string
	// AccessKey and SecretKey are optional; the default credential chain
	// is used when AccessKey is empty.
	AccessKey      string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
}

// objectPutter is the part of *s3.Client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads every published snapshot map twice: as the latest
// object and as a dated history object.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver builds the S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// Name returns the publisher identifier.
func (a *S3Archiver) Name() string { return "s3" }

// Publish uploads the latest and history objects.
func (a *S3Archiver) Publish(ctx context.Context, snaps map[string]domain.Snapshot) error {
	data, err := encode(snaps)
	if err != nil {
		return err
	}
	for _, key := range a.keys(a.now()) {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("s3: put object %s: %w", key, err)
		}
	}
	return nil
}

// keys returns the latest and dated object keys for a publish at t.
func (a *S3Archiver) keys(t time.Time) []string {
	day := t.UTC().Format(domain.DateLayout)
	return []string{
		path.Join(a.prefix, "market_data.json"),
		path.Join(a.prefix, "history", day, "market_data.json"),
	}
}
