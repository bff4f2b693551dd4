package s3blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Reader implements domain.BlobReader with HeadObject.
type Reader struct {
	client *Client
}

var _ domain.BlobReader = (*Reader)(nil)

// NewReader creates a Reader over c.
func NewReader(c *Client) *Reader {
	return &Reader{client: c}
}

// Stat returns size, content type and user metadata of the object at p.
func (r *Reader) Stat(ctx context.Context, p string) (domain.BlobInfo, error) {
	out, err := r.client.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.client.bucket),
		Key:    aws.String(r.client.Key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", p, domain.ErrNotFound)
		}
		return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", p, err)
	}
	info := domain.BlobInfo{
		Path:        p,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

// isNotFound matches the typed NoSuchKey/NotFound errors and bare 404s,
// which is what HeadObject returns on most providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}
