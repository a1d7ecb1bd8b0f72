package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/perparb/internal/domain"
)

const (
	minPartSize       int64 = 5 << 20 // S3 multipart minimum
	uploadConcurrency       = 4
)

// Writer stores archive objects in the client's bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

func NewWriter(c *Client) *Writer {
	return &Writer{api: c.api, bucket: c.bucket}
}

func (w *Writer) object(key, contentType string, body io.Reader) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
}

// Put uploads data in one PutObject call.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.object(path, contentType, data)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data as a multipart upload. partSize is raised to
// the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = uploadConcurrency
	})
	if _, err := uploader.Upload(ctx, w.object(path, jsonlContentType, data)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
