package persistent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/simpix/formalization/pkg/s3client"
)

// DocumentRepo stores proposal artifacts (signed CCBs, payment booklets) in
// object storage. A key is only referenced from the proposals table after
// PutObject returns, so a partial upload is never visible as complete.
type DocumentRepo struct {
	*s3client.S3Client
	bucket string
}

func NewDocumentRepo(s3c *s3client.S3Client, bucket string) *DocumentRepo {
	return &DocumentRepo{s3c, bucket}
}

func (r *DocumentRepo) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("DocumentRepo - Upload - r.Client.PutObject: %w", err)
	}

	return nil
}

func (r *DocumentRepo) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("DocumentRepo - Download - r.Client.GetObject: %w", err)
	}
	defer result.Body.Close()

	b, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("DocumentRepo - Download - io.ReadAll: %w", err)
	}

	return b, nil
}

func (r *DocumentRepo) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("DocumentRepo - Exists - r.Client.HeadObject: %w", err)
	}

	return true, nil
}
