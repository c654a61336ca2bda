// internal/cloud/s3.go
package cloud

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/xkilldash9x/canary-cli/internal/monitor"
)

// PutObjectAPI is the slice of the S3 client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads queue files into one bucket.
type S3Store struct {
	client PutObjectAPI
	bucket string
}

var _ monitor.ObjectStore = (*S3Store)(nil)

// NewS3Store creates an S3Store from an SDK config.
func NewS3Store(awsCfg aws.Config, bucket string) *S3Store {
	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg), bucket)
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client PutObjectAPI, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Put uploads obj and returns its s3:// location.
func (s *S3Store) Put(ctx context.Context, obj monitor.Object) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		Metadata:      obj.Metadata,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3 put %s: %w", obj.Key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, obj.Key), nil
}
