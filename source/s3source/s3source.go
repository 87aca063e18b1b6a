// Package s3source reads objects from an S3 bucket with ranged GetObject calls.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-videorelay/relay"
)

// Params ...
type Params struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectAPI is the subset of the S3 client used by Reader.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Reader implements relay.SourceReader on top of an S3 bucket. Object IDs are object keys.
type Reader struct {
	client ObjectAPI
	bucket string
	logger log.Logger
}

// New creates a Reader backed by an S3 client built from the default AWS config chain.
// Static credentials take precedence when both the key ID and the secret are set.
func New(ctx context.Context, params Params, logger log.Logger) (*Reader, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewWithClient(s3.NewFromConfig(*cfg), params.Bucket, logger), nil
}

// NewWithClient creates a Reader on top of an existing client.
func NewWithClient(client ObjectAPI, bucket string, logger log.Logger) *Reader {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Reader{client: client, bucket: bucket, logger: logger}
}

// Metadata returns the base name of the key and the object's content length.
func (r *Reader) Metadata(ctx context.Context, objectID string) (relay.ObjectMetadata, error) {
	output, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		return relay.ObjectMetadata{}, classify("metadata", objectID, err)
	}

	if output.ContentLength == nil || *output.ContentLength < 0 {
		return relay.ObjectMetadata{}, &relay.SourceError{
			Kind:     relay.SourceInvalidMetadata,
			Op:       "metadata",
			ObjectID: objectID,
			Err:      errors.New("object has no content length"),
		}
	}

	return relay.ObjectMetadata{
		Name:      path.Base(objectID),
		TotalSize: *output.ContentLength,
	}, nil
}

// ReadRange returns bytes [offset, offset+length) of the object.
func (r *Reader) ReadRange(ctx context.Context, objectID string, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length <= 0 {
		return nil, &relay.SourceError{
			Kind:     relay.SourceRangeUnsatisfiable,
			Op:       "read",
			ObjectID: objectID,
			Err:      fmt.Errorf("invalid range: offset=%d length=%d", offset, length),
		}
	}

	byteRange := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	r.logger.Debugf("GetObject s3://%s/%s %s", r.bucket, objectID, byteRange)

	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectID),
		Range:  aws.String(byteRange),
	})
	if err != nil {
		return nil, classify("read", objectID, err)
	}

	return output.Body, nil
}

func classify(op, objectID string, err error) error {
	sourceErr := &relay.SourceError{Kind: relay.SourceTransient, Op: op, ObjectID: objectID, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		sourceErr.Kind = relay.SourceNotFound
		return sourceErr
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			sourceErr.Kind = relay.SourceNotFound
			return sourceErr
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			sourceErr.Kind = relay.SourceAccessDenied
			return sourceErr
		case "InvalidRange":
			sourceErr.Kind = relay.SourceRangeUnsatisfiable
			return sourceErr
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			sourceErr.Kind = relay.SourceNotFound
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			sourceErr.Kind = relay.SourceAccessDenied
		case code == http.StatusRequestedRangeNotSatisfiable:
			sourceErr.Kind = relay.SourceRangeUnsatisfiable
		case code == http.StatusTooManyRequests || code >= 500:
			sourceErr.Kind = relay.SourceTransient
		case code >= 400:
			sourceErr.Kind = relay.SourceInvalidMetadata
		}
	}

	return sourceErr
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
