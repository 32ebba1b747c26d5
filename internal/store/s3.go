package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// maxObjectSize caps a single template or attachment read from S3.
const maxObjectSize = 64 * 1024 * 1024

// GetObjectAPI is the subset of the S3 client used by S3Store.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures S3 client initialization.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	Bucket           string
	TemplatePrefix   string
	AttachmentPrefix string
}

// S3Store reads templates and attachments from an S3 bucket.
type S3Store struct {
	client           GetObjectAPI
	bucket           string
	templatePrefix   string
	attachmentPrefix string
}

// NewS3Store builds an S3 client from opts.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var cfgOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewS3StoreWithClient(client, opts.Bucket, opts.TemplatePrefix, opts.AttachmentPrefix), nil
}

// NewS3StoreWithClient wraps an existing client, used for testing.
func NewS3StoreWithClient(client GetObjectAPI, bucket, templatePrefix, attachmentPrefix string) *S3Store {
	return &S3Store{
		client:           client,
		bucket:           bucket,
		templatePrefix:   normalizePrefix(templatePrefix),
		attachmentPrefix: normalizePrefix(attachmentPrefix),
	}
}

// Template returns the body stored at <templatePrefix><name>.html.
func (s *S3Store) Template(ctx context.Context, name string) (string, error) {
	key, err := templateName(name)
	if err != nil {
		return "", err
	}
	data, err := s.get(ctx, s.templatePrefix+key)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", name, err)
	}
	return string(data), nil
}

// Attachment returns the object stored at <attachmentPrefix><name>.
func (s *S3Store) Attachment(ctx context.Context, name string) ([]byte, error) {
	key, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	data, err := s.get(ctx, s.attachmentPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("attachment %q: %w", name, err)
	}
	return data, nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Error(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	if len(data) > maxObjectSize {
		return nil, fmt.Errorf("s3://%s/%s exceeds %d bytes", s.bucket, key, maxObjectSize)
	}
	return data, nil
}

// wrapS3Error maps missing-object errors onto ErrNotFound.
func wrapS3Error(err error) error {
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
