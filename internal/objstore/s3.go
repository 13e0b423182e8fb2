package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oasishq/oasis"
)

var _ Store = (*S3)(nil)

// Config holds the settings for an S3-compatible bucket. Endpoint is set
// for R2 and minio deployments and left empty for AWS proper. PublicBaseURL,
// when set, is served for downloads instead of presigned GETs.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	UsePathStyle    bool
}

// The subsets of the S3 client used here, split the way the SDK splits
// signing from transport.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 talks to one bucket.
type S3 struct {
	bucket    string
	publicURL string
	client    s3API
	presign   s3Presigner
}

// NewS3 validates the configuration and constructs the client. Presigning is
// pure computation, so construction makes no remote calls.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	const op = `objstore/NewS3`
	switch {
	case cfg.Bucket == "":
		return nil, &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "storage bucket not configured",
		}
	case cfg.AccessKeyID == "" || cfg.SecretAccessKey == "":
		return nil, &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "storage credentials not configured",
		}
	}
	region := cfg.Region
	if region == "" {
		// R2 and minio accept any region; AWS deployments set a real one.
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "failed to load storage configuration",
			Inner:   err,
		}
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		client:    client,
		presign:   s3.NewPresignClient(client),
	}, nil
}

// PresignPut implements Store.
func (s *S3) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	const op = `objstore/S3.PresignPut`
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "failed to presign upload",
			Inner:   err,
		}
	}
	return req.URL, nil
}

// PresignGet implements Store.
func (s *S3) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	const op = `objstore/S3.PresignGet`
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "failed to presign download",
			Inner:   err,
		}
	}
	return req.URL, nil
}

// PublicURL implements Store.
func (s *S3) PublicURL(key string) (string, bool) {
	if s.publicURL == "" {
		return "", false
	}
	return s.publicURL + "/" + key, true
}

// Head implements Store.
func (s *S3) Head(ctx context.Context, key string) (ObjectInfo, error) {
	const op = `objstore/S3.Head`
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
	case isNotFound(err):
		return ObjectInfo{}, &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrNotFound,
			Message: fmt.Sprintf("no object at key %q", key),
			Inner:   err,
		}
	default:
		return ObjectInfo{}, &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "failed to stat object",
			Inner:   err,
		}
	}
	return ObjectInfo{Size: aws.ToInt64(out.ContentLength)}, nil
}

// Exists implements Store.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, oasis.ErrNotFound):
		return false, nil
	}
	return false, err
}

// Delete implements Store. S3 reports success for keys that do not exist,
// so deletes are naturally idempotent.
func (s *S3) Delete(ctx context.Context, key string) error {
	const op = `objstore/S3.Delete`
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &oasis.Error{
			Op:      op,
			Kind:    oasis.ErrStorageUnavailable,
			Message: "failed to delete object",
			Inner:   err,
		}
	}
	return nil
}

// HeadObject has a modeled NotFound error; other S3-compatible stores have
// been seen answering with a bare 404, so check the transport error too.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
