// Package storage builds the object store client shared by the prediction
// store and the photo cache.
package storage

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config locates the S3-compatible endpoint. Endpoint may point at a minio
// deployment; when empty the SDK default resolution applies.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewClient connects to the object store endpoint.
func NewClient(cfg Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
	})
}
