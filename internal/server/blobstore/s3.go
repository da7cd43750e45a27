package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ompldr/server/internal/common"
)

// S3Options configures S3Storage. Buckets are named BucketPrefix+region.
type S3Options struct {
	RootUser     string
	RootPassword string
	BaseEndpoint string
	BucketPrefix string
	Regions      []string
}

// S3Storage implements ObjectStorage with one S3 client per region.
type S3Storage struct {
	clients      map[string]*s3.Client
	bucketPrefix string
}

// loadDefaultAWSConfig and newS3ClientFromConfig are test seams.
var loadDefaultAWSConfig = config.LoadDefaultConfig

var newS3ClientFromConfig = func(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

func NewS3Storage(ctx context.Context, opts S3Options) (*S3Storage, error) {
	if len(opts.Regions) == 0 {
		return nil, errors.New("no storage regions configured")
	}

	clients := make(map[string]*s3.Client, len(opts.Regions))
	for _, region := range opts.Regions {
		cfg, err := loadDefaultAWSConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				opts.RootUser,
				opts.RootPassword,
				"",
			)))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config for %s: %w", region, err)
		}
		clients[region] = newS3ClientFromConfig(cfg, opts.BaseEndpoint)
	}

	return &S3Storage{clients: clients, bucketPrefix: opts.BucketPrefix}, nil
}

func (s *S3Storage) client(region string) (*s3.Client, string, error) {
	c, ok := s.clients[region]
	if !ok {
		return nil, "", fmt.Errorf("unknown region %q", region)
	}
	return c, s.bucketPrefix + region, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *S3Storage) Put(ctx context.Context, region, key string, r io.Reader) (int64, error) {
	c, bucket, err := s.client(region)
	if err != nil {
		return 0, err
	}

	body := &countingReader{r: r}
	uploader := manager.NewUploader(c)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}); err != nil {
		return 0, fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	return body.n, nil
}

func (s *S3Storage) Copy(ctx context.Context, srcRegion, srcKey, dstRegion, dstKey string) error {
	_, srcBucket, err := s.client(srcRegion)
	if err != nil {
		return err
	}
	c, dstBucket, err := s.client(dstRegion)
	if err != nil {
		return err
	}

	if _, err := c.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	}); err != nil {
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

func (s *S3Storage) Delete(ctx context.Context, region, key string) error {
	c, bucket, err := s.client(region)
	if err != nil {
		return err
	}
	if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3Storage) Read(ctx context.Context, region, key string) (io.ReadCloser, error) {
	c, bucket, err := s.client(region)
	if err != nil {
		return nil, err
	}
	out, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (s *S3Storage) List(ctx context.Context, region, prefix string) ([]ObjectInfo, error) {
	c, bucket, err := s.client(region)
	if err != nil {
		return nil, err
	}

	var result []ObjectInfo
	p := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			result = append(result, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return result, nil
}
