// Package s3 wraps the minio client used for artifact binaries.
package s3

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned when the object key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// DialInfo defines the object storage connection information.
type DialInfo struct {
	Endpoint,
	AccessKey,
	SecretKey,
	Bucket string
	UseSSL bool
}

// Bucket is a minio client bound to a single bucket.
type Bucket struct {
	cli    *minio.Client
	bucket string
}

// NewBucket creates a client for dialInfo.Bucket, the bucket is not created here.
func NewBucket(dialInfo DialInfo) (*Bucket, error) {
	if strings.TrimSpace(dialInfo.Endpoint) == "" || strings.TrimSpace(dialInfo.Bucket) == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}

	cli, err := minio.New(dialInfo.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(dialInfo.AccessKey, dialInfo.SecretKey, ""),
		Secure: dialInfo.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client")
	}

	return &Bucket{cli: cli, bucket: dialInfo.Bucket}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (b *Bucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.cli.BucketExists(ctx, b.bucket)
	if err != nil {
		return errors.Wrapf(err, "check bucket %q", b.bucket)
	}
	if exists {
		return nil
	}

	if err = b.cli.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "make bucket %q", b.bucket)
	}

	return nil
}

// Put uploads data under key.
func (b *Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.cli.PutObject(ctx, b.bucket, key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "put object %q", key)
	}

	return nil
}

// Get downloads the whole object under key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.cli.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get object %q", key)
	}
	defer obj.Close() // nolint: errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.Wrapf(ErrObjectNotFound, "get object %q", key)
		}
		return nil, errors.Wrapf(err, "read object %q", key)
	}

	return data, nil
}

// Remove deletes the object under key, a missing object is not an error.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	if err := b.cli.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return errors.Wrapf(err, "remove object %q", key)
	}

	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
