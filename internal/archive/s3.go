package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// presignExpiry is how long a download link stays valid.
const presignExpiry = 15 * time.Minute

// Uploader copies finished archives to remote storage.
type Uploader interface {
	Upload(ctx context.Context, path string) (key string, err error)
	Presign(key string) (string, error)
}

// S3Config configures the S3 uploader.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// S3Uploader stores archives in an S3 bucket.
type S3Uploader struct {
	client  *s3.S3
	session *session.Session
	bucket  string
	prefix  string
}

// NewS3Uploader opens an AWS session. Static credentials are used when both
// keys are set, otherwise the default credential chain applies.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &S3Uploader{
		client:  s3.New(sess),
		session: sess,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
	}, nil
}

// Upload puts the file at path under <prefix>/<basename> and returns the key.
func (u *S3Uploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(u.prefix, filepath.Base(path)))
	uploader := s3manager.NewUploader(u.session)
	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Presign returns a time-limited download URL for key.
func (u *S3Uploader) Presign(key string) (string, error) {
	req, _ := u.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	return req.Presign(presignExpiry)
}
