package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/notorm-tech/un0/core/logger"
)

// S3Configuration configures the S3 docstore.
type S3Configuration struct {
	AWSBucketName string
	AWSRegion     string
	AccessID      string
	AccessKey     string
	// KeyPrefix is prepended to all keys
	KeyPrefix string
}

// S3 stores documents in an AWS S3 bucket.
type S3 struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	keyPrefix string
}

// NewS3 returns an S3 docstore for the given bucket.
func NewS3(cfg S3Configuration) (*S3, error) {
	if cfg.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	awsConfig, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(cfg.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessID, cfg.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("docstore S3 enabled")
	client := s3.NewFromConfig(awsConfig)
	return &S3{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    cfg.AWSBucketName,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Put stores the document under the key. Large documents are uploaded
// in parallel parts.
func (s *S3) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.keyPrefix + key),
		ContentType: aws.String(contentType),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload document, %v", err)
	}
	return nil
}

// Get returns the document and its content type.
func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrNoDocument
		}
		return nil, "", err
	}
	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return resp.Body, contentType, nil
}

// Delete removes the document of the key.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	return err
}

// DeleteAllWithPrefix removes all documents below the prefix.
func (s *S3) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	var continuationToken *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.keyPrefix + prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return err
		}
		for _, item := range resp.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    item.Key,
			}); err != nil {
				return err
			}
		}
		continuationToken = resp.NextContinuationToken
		if continuationToken == nil {
			return nil
		}
	}
}
