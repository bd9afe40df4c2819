package persistent

import (
	"context"
	"fmt"
	"io"

	"github.com/andreyxaxa/Event-Queue/pkg/s3client"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveRepo keeps event payloads as objects in the client's bucket.
type ArchiveRepo struct {
	*s3client.S3Client
}

func NewArchiveRepo(s3c *s3client.S3Client) *ArchiveRepo {
	return &ArchiveRepo{s3c}
}

func (r *ArchiveRepo) Put(ctx context.Context, key string, data io.Reader, contentType string, size int64) error {
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.Bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("ArchiveRepo - Put - r.Client.PutObject: %w", err)
	}

	return nil
}

func (r *ArchiveRepo) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("ArchiveRepo - Get - r.Client.GetObject: %w", err)
	}
	defer result.Body.Close()

	b, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("ArchiveRepo - Get - io.ReadAll: %w", err)
	}

	return b, nil
}
