package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker"

	"go.fileflow.dev/internal/common/metrics"
	"go.fileflow.dev/internal/faults"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region string

	// CustomEndpoint points the client at MinIO/LocalStack for local
	// development
	CustomEndpoint string

	// AccessKeyID for custom credentials (optional, local development only)
	AccessKeyID string

	// SecretAccessKey for custom credentials (optional, local development only)
	SecretAccessKey string

	// UsePathStyle is required by MinIO
	UsePathStyle bool
}

// S3Store implements ObjectStore on AWS S3. Every SDK call goes through the
// shared retry policy; the circuit breaker sits outside the retry loop so an
// outage trips it after whole operations fail, not individual attempts.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	retry   faults.RetryPolicy
	breaker *gobreaker.CircuitBreaker
}

// NewS3Store creates an S3-backed object store.
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.CustomEndpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.CustomEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.CustomEndpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	retry := faults.DefaultRetryPolicy("s3")
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		retry:   retry,
		breaker: faults.NewBreaker(faults.DefaultBreakerConfig("s3")),
	}, nil
}

// execute runs op through the breaker and retry policy, recording metrics.
func (s *S3Store) execute(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	start := time.Now()
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, faults.Retry(ctx, s.retry, op)
	})
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.StorageRequests.WithLabelValues(operation, outcome).Inc()
	metrics.StorageRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

func (s *S3Store) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*PresignedURL, error) {
	var result *PresignedURL
	err := s.execute(ctx, "presign_put", func(ctx context.Context) error {
		req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return err
		}
		result = &PresignedURL{
			URL:       req.URL,
			ExpiresAt: time.Now().UTC().Add(ttl),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presign put %s/%s: %w", bucket, key, err)
	}
	return result, nil
}

func (s *S3Store) HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	var result *ObjectInfo
	err := s.execute(ctx, "head_object", func(ctx context.Context) error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		result = &ObjectInfo{
			Size: aws.ToInt64(out.ContentLength),
			ETag: aws.ToString(out.ETag),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
	}
	return result, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*ObjectInfo, error) {
	// No retry wrapper here: the body reader can only be consumed once.
	// Callers retry at a higher level by re-fetching the source.
	var result *ObjectInfo
	_, err := s.breaker.Execute(func() (interface{}, error) {
		input := &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		out, err := s.client.PutObject(ctx, input)
		if err != nil {
			return nil, err
		}
		result = &ObjectInfo{Size: size, ETag: aws.ToString(out.ETag)}
		return nil, nil
	})
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.StorageRequests.WithLabelValues("put_object", outcome).Inc()
	if err != nil {
		return nil, fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return result, nil
}

// CheckBucket verifies the bucket is reachable. Used by readiness checks, so
// it goes straight to the client without the breaker.
func (s *S3Store) CheckBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *S3Store) CreateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	var uploadID string
	err := s.execute(ctx, "create_multipart", func(ctx context.Context) error {
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		out, err := s.client.CreateMultipartUpload(ctx, input)
		if err != nil {
			return err
		}
		uploadID = aws.ToString(out.UploadId)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s/%s: %w", bucket, key, err)
	}
	return uploadID, nil
}

func (s *S3Store) PresignPartURLs(ctx context.Context, bucket, key, uploadID string, totalParts int, ttl time.Duration) ([]PartURL, error) {
	urls := make([]PartURL, 0, totalParts)
	err := s.execute(ctx, "presign_parts", func(ctx context.Context) error {
		urls = urls[:0]
		for partNumber := 1; partNumber <= totalParts; partNumber++ {
			req, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(int32(partNumber)),
			}, s3.WithPresignExpires(ttl))
			if err != nil {
				return err
			}
			urls = append(urls, PartURL{PartNumber: partNumber, URL: req.URL})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presign part urls %s/%s: %w", bucket, key, err)
	}
	return urls, nil
}

func (s *S3Store) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (*ObjectInfo, error) {
	// S3 requires parts in ascending part-number order
	sorted := make([]CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}

	var result *ObjectInfo
	err := s.execute(ctx, "complete_multipart", func(ctx context.Context) error {
		out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		if err != nil {
			return err
		}
		result = &ObjectInfo{ETag: aws.ToString(out.ETag)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete multipart upload %s/%s: %w", bucket, key, err)
	}
	return result, nil
}

func (s *S3Store) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	err := s.execute(ctx, "abort_multipart", func(ctx context.Context) error {
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload %s/%s: %w", bucket, key, err)
	}
	return nil
}
