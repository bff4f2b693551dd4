package s3blob

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// minPartSize is the S3 floor for multipart parts (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter. Objects that fit in one part go up in
// a single PutObject; larger or unsized bodies use the multipart uploader.
// Content type and metadata travel with the object either way.
type Writer struct {
	client   *Client
	partSize int64
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer. partSize is clamped to the S3 minimum.
func NewWriter(c *Client, partSize int64) *Writer {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	return &Writer{client: c, partSize: partSize}
}

// Put stores obj under the client's key prefix.
func (w *Writer) Put(ctx context.Context, obj domain.BlobObject) error {
	if obj.Path == "" {
		return fmt.Errorf("s3blob: put: empty path")
	}
	input := putInput(w.client, obj)

	if obj.Size >= 0 && obj.Size <= w.partSize {
		input.ContentLength = aws.Int64(obj.Size)
		if _, err := w.client.s3.PutObject(ctx, input); err != nil {
			return fmt.Errorf("s3blob: put %s: %w", obj.Path, err)
		}
		return nil
	}

	uploader := manager.NewUploader(w.client.s3, func(u *manager.Uploader) {
		u.PartSize = w.partSize
	})
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", obj.Path, err)
	}
	return nil
}

func putInput(c *Client, obj domain.BlobObject) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(c.Key(obj.Path)),
		Body:     obj.Body,
		Metadata: obj.Metadata,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	return input
}
