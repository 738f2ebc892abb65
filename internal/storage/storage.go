package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/shopdesk/merchant-portal/internal/config"
)

// New builds the provider selected by cfg.Driver.
func New(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalProvider(cfg.Dir, cfg.PublicURL)
	case "s3":
		s3Config := &aws.Config{
			Region:           aws.String(cfg.S3Region),
			S3ForcePathStyle: aws.Bool(true),
		}
		if cfg.S3Endpoint != "" {
			s3Config.Endpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3KeyID != "" {
			s3Config.Credentials = credentials.NewStaticCredentials(cfg.S3KeyID, cfg.S3SecretKey, "")
		}
		sess, err := session.NewSession(s3Config)
		if err != nil {
			return nil, errors.Wrap(err, "create aws session")
		}

		publicURL := cfg.PublicURL
		if publicURL == "" {
			publicURL = bucketURL(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket)
		}
		return NewS3Provider(s3.New(sess), cfg.S3Bucket, publicURL), nil
	default:
		return nil, errors.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
