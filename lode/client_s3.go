package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Location is a dataset root inside an S3-compatible bucket.
type S3Location struct {
	Bucket string
	Prefix string
	// Region overrides the AWS default chain's region.
	Region string
	// Endpoint points the client at an S3-compatible provider.
	Endpoint string
	// PathStyle puts the bucket in the URL path instead of the host.
	PathStyle bool
}

// ParseS3Location reads a storage path of the form "bucket",
// "bucket/prefix" or "s3://bucket/prefix". Slashes around the prefix are
// dropped.
func ParseS3Location(path string) (S3Location, error) {
	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	if bucket == "" {
		return S3Location{}, errors.New("S3 bucket is required")
	}
	return S3Location{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

// URL renders the s3:// address of rel under the location's prefix.
func (l S3Location) URL(rel string) string {
	key := strings.TrimPrefix(rel, "/")
	if l.Prefix != "" {
		key = l.Prefix + "/" + key
	}
	return "s3://" + l.Bucket + "/" + key
}

// storeFactory builds a Lode store factory over one S3 client, using the
// AWS default credential chain.
func (l S3Location) storeFactory(ctx context.Context) (lode.StoreFactory, error) {
	if l.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if l.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(l.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if l.Endpoint != "" {
			endpoint := l.Endpoint
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = l.PathStyle
	})

	storeCfg := lodes3.Config{Bucket: l.Bucket, Prefix: l.Prefix}
	return func() (lode.Store, error) {
		return lodes3.New(client, storeCfg)
	}, nil
}

// NewLodeS3Client opens the record store at loc.
func NewLodeS3Client(ctx context.Context, cfg Config, loc S3Location) (*LodeClient, error) {
	factory, err := loc.storeFactory(ctx)
	if err != nil {
		return nil, err
	}
	return NewLodeClientWithFactory(cfg, factory)
}
