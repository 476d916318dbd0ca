package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/observalabs/mirador/internal/apperr"
	"github.com/observalabs/mirador/internal/config"
	"go.uber.org/zap"
)

// S3 stores raw blobs in an object bucket, mirroring the local key
// layout under the configured root prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

func NewS3(cfg config.Config, log *zap.Logger) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.BlobRoot, "/."),
		log:    log.Named("blobstore.s3"),
	}, nil
}

func (s *S3) key(dataType string, epochMillis int64) string {
	name := fmt.Sprintf("%s_%d.json", dataType, epochMillis)
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3) Put(ctx context.Context, dataType string, epochMillis int64, payload []byte) (string, error) {
	key := s.key(dataType, epochMillis)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransientIO, "s3 put failed", err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3) Get(ctx context.Context, location string) ([]byte, error) {
	key := strings.TrimPrefix(location, "s3://"+s.bucket+"/")
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientIO, "s3 get failed", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientIO, "s3 read failed", err)
	}
	return data, nil
}
