package objstore

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/oasishq/oasis"
)

type mockS3Client struct {
	headObjectOverwrite   func(params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	deleteObjectOverwrite func(params *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
}

func (m *mockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return m.headObjectOverwrite(params)
}

func (m *mockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return m.deleteObjectOverwrite(params)
}

type mockPresigner struct {
	putOverwrite func(params *s3.PutObjectInput) (*v4.PresignedHTTPRequest, error)
	getOverwrite func(params *s3.GetObjectInput) (*v4.PresignedHTTPRequest, error)
}

func (m *mockPresigner) PresignPutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return m.putOverwrite(params)
}

func (m *mockPresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return m.getOverwrite(params)
}

func TestKeys(t *testing.T) {
	got := ReleaseKey("acme-notes", "1.2.0", "app-darwin-aarch64.tar.gz")
	want := "acme-notes/releases/1.2.0/app-darwin-aarch64.tar.gz"
	if got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	got = InstallerKey("acme-notes", "1.2.0", "Acme-Setup.exe")
	want = "acme-notes/installers/1.2.0/Acme-Setup.exe"
	if got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	store := NewDisabled()

	if _, err := store.PresignPut(ctx, "k", "application/octet-stream", PutTTL); !errors.Is(err, oasis.ErrStorageUnavailable) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
	}
	if _, err := store.PresignGet(ctx, "k", GetTTL); !errors.Is(err, oasis.ErrStorageUnavailable) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
	}
	if _, err := store.Head(ctx, "k"); !errors.Is(err, oasis.ErrStorageUnavailable) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, oasis.ErrStorageUnavailable) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
	}
	if url, ok := store.PublicURL("k"); ok {
		t.Errorf("unexpected public URL: %q", url)
	}
}

func TestNewS3Validation(t *testing.T) {
	ctx := context.Background()
	tl := []struct {
		name string
		cfg  Config
	}{
		{name: "NoBucket", cfg: Config{AccessKeyID: "a", SecretAccessKey: "s"}},
		{name: "NoCredentials", cfg: Config{Bucket: "b"}},
	}
	for _, tc := range tl {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewS3(ctx, tc.cfg)
			if !errors.Is(err, oasis.ErrStorageUnavailable) {
				t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
			}
		})
	}
}

func TestHead(t *testing.T) {
	ctx := context.Background()
	const bucket = "test-bucket"
	const key = "acme-notes/releases/1.0.0/app.tar.gz"

	t.Run("Found", func(t *testing.T) {
		store := &S3{bucket: bucket, client: &mockS3Client{
			headObjectOverwrite: func(params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
				if *params.Bucket != bucket {
					t.Errorf("got bucket %q, want %q", *params.Bucket, bucket)
				}
				if *params.Key != key {
					t.Errorf("got key %q, want %q", *params.Key, key)
				}
				return &s3.HeadObjectOutput{ContentLength: aws.Int64(4096)}, nil
			},
		}}
		info, err := store.Head(ctx, key)
		if err != nil {
			t.Fatalf("%v", err)
		}
		if info.Size != 4096 {
			t.Errorf("got size %d, want 4096", info.Size)
		}
		ok, err := store.Exists(ctx, key)
		if err != nil || !ok {
			t.Errorf("got: (%v, %v), want: (true, nil)", ok, err)
		}
	})

	t.Run("ModeledNotFound", func(t *testing.T) {
		store := &S3{bucket: bucket, client: &mockS3Client{
			headObjectOverwrite: func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
				return nil, &types.NotFound{}
			},
		}}
		if _, err := store.Head(ctx, key); !errors.Is(err, oasis.ErrNotFound) {
			t.Errorf("got: %v, want: %v", err, oasis.ErrNotFound)
		}
		ok, err := store.Exists(ctx, key)
		if err != nil || ok {
			t.Errorf("got: (%v, %v), want: (false, nil)", ok, err)
		}
	})

	t.Run("Bare404", func(t *testing.T) {
		store := &S3{bucket: bucket, client: &mockS3Client{
			headObjectOverwrite: func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
				return nil, &awshttp.ResponseError{
					ResponseError: &smithyhttp.ResponseError{
						Response: &smithyhttp.Response{
							Response: &http.Response{StatusCode: http.StatusNotFound},
						},
					},
				}
			},
		}}
		if _, err := store.Head(ctx, key); !errors.Is(err, oasis.ErrNotFound) {
			t.Errorf("got: %v, want: %v", err, oasis.ErrNotFound)
		}
	})

	t.Run("TransportError", func(t *testing.T) {
		store := &S3{bucket: bucket, client: &mockS3Client{
			headObjectOverwrite: func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
				return nil, errors.New("connection refused")
			},
		}}
		if _, err := store.Head(ctx, key); !errors.Is(err, oasis.ErrStorageUnavailable) {
			t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
		}
		if _, err := store.Exists(ctx, key); !errors.Is(err, oasis.ErrStorageUnavailable) {
			t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
		}
	})
}

func TestPresign(t *testing.T) {
	ctx := context.Background()
	const key = "acme-notes/releases/1.0.0/app.tar.gz"
	store := &S3{bucket: "test-bucket", presign: &mockPresigner{
		putOverwrite: func(params *s3.PutObjectInput) (*v4.PresignedHTTPRequest, error) {
			if got, want := *params.ContentType, "application/gzip"; got != want {
				t.Errorf("got content type %q, want %q", got, want)
			}
			return &v4.PresignedHTTPRequest{URL: "https://bucket.example.com/put"}, nil
		},
		getOverwrite: func(params *s3.GetObjectInput) (*v4.PresignedHTTPRequest, error) {
			if got, want := *params.Key, key; got != want {
				t.Errorf("got key %q, want %q", got, want)
			}
			return &v4.PresignedHTTPRequest{URL: "https://bucket.example.com/get"}, nil
		},
	}}

	url, err := store.PresignPut(ctx, key, "application/gzip", PutTTL)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if url != "https://bucket.example.com/put" {
		t.Errorf("got: %q", url)
	}
	url, err = store.PresignGet(ctx, key, GetTTL)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if url != "https://bucket.example.com/get" {
		t.Errorf("got: %q", url)
	}
}

func TestPublicURL(t *testing.T) {
	store := &S3{bucket: "b", publicURL: "https://dl.example.com"}
	url, ok := store.PublicURL("acme-notes/releases/1.0.0/app.tar.gz")
	if !ok || url != "https://dl.example.com/acme-notes/releases/1.0.0/app.tar.gz" {
		t.Errorf("got: (%q, %v)", url, ok)
	}

	bare := &S3{bucket: "b"}
	if url, ok := bare.PublicURL("k"); ok {
		t.Errorf("unexpected public URL: %q", url)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	var deleted string
	store := &S3{bucket: "b", client: &mockS3Client{
		deleteObjectOverwrite: func(params *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			deleted = *params.Key
			return &s3.DeleteObjectOutput{}, nil
		},
	}}
	if err := store.Delete(ctx, "some/key"); err != nil {
		t.Fatalf("%v", err)
	}
	if deleted != "some/key" {
		t.Errorf("got: %q, want: %q", deleted, "some/key")
	}

	broken := &S3{bucket: "b", client: &mockS3Client{
		deleteObjectOverwrite: func(*s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			return nil, errors.New("connection refused")
		},
	}}
	if err := broken.Delete(ctx, "some/key"); !errors.Is(err, oasis.ErrStorageUnavailable) {
		t.Errorf("got: %v, want: %v", err, oasis.ErrStorageUnavailable)
	}
}
