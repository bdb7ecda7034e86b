package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// S3Store keeps reports as objects below a key prefix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	bucket := opts.Bucket
	if bucket == "" {
		bucket = "performance-audits"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
			}, nil
		})))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("results: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{client: client, bucket: bucket, prefix: opts.Prefix}, nil
}

func (s *S3Store) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Store) Put(ctx context.Context, key Key, data []byte) error {
	if err := s.UploadStream(ctx, s.objectKey(key.Name()), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("results: put %s: %w", key.Name(), err)
	}
	return nil
}

// UploadStream writes an arbitrary object into the bucket.
func (s *S3Store) UploadStream(ctx context.Context, objectKey string, stream io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   stream,
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, key Key) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key.Name())),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Name())
		}
		return nil, fmt.Errorf("results: get %s: %w", key.Name(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("results: read %s: %w", key.Name(), err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, site int, debug bool) ([]Key, error) {
	listPrefix := s.objectKey(fmt.Sprintf("%d-", site))

	var keys []Key
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("results: list site %d: %w", site, err)
		}
		for _, obj := range page.Contents {
			if k, ok := matches(path.Base(aws.ToString(obj.Key)), site, debug); ok {
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name() < keys[j].Name() })
	return keys, nil
}

func (s *S3Store) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key.Name())),
	})
	if err != nil {
		return fmt.Errorf("results: delete %s: %w", key.Name(), err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("results: create bucket %s: %w", s.bucket, err)
	}
	return nil
}
