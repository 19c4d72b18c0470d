package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3GetObjectAPI is the subset of *s3.Client used to fetch tables.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Opener streams tables stored as S3 objects, addressed as
// s3://bucket/key. The object is read once, front to back, so no local copy
// is made.
type S3Opener struct {
	client S3GetObjectAPI
}

// NewS3Opener creates an S3Opener using client.
func NewS3Opener(client S3GetObjectAPI) *S3Opener {
	return &S3Opener{client: client}
}

func (o *S3Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, err
	}

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(location string) (bucket, key string, err error) {
	if Scheme(location) != "s3" {
		return "", "", fmt.Errorf("not an s3 URL: %q", location)
	}
	rest := location[len("s3://"):]
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL %q must be s3://bucket/key", location)
	}
	return bucket, key, nil
}
