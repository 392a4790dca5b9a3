package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// FolderRecordings is the S3 prefix for migrated recording objects.
const FolderRecordings = "recordings"

// S3Config holds durable storage client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Bucket               string
	PublicPlayback       bool
	PresignExpireMinutes int
}

// ObjectMeta is the result of a live metadata lookup against the bucket.
type ObjectMeta struct {
	Exists bool
	Size   int64
}

// S3 is the durable storage client: streaming uploads, live metadata lookups,
// access policy and deletion for migrated recordings.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})
	logger.Info("S3 client ready", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	return &S3{client: client, uploader: uploader, cfg: cfg, logger: logger}, nil
}

// RecordingKey returns the object key: recordings/{session_id}/{entry_id}.{ext}.
func RecordingKey(sessionID, entryID, kind string) string {
	ext := ".mp4"
	switch kind {
	case "audio":
		ext = ".m4a"
	case "transcript":
		ext = ".vtt"
	}
	return path.Join(FolderRecordings, sessionID, entryID+ext)
}

// ContentTypeForKind returns the MIME type uploaded alongside the object.
func ContentTypeForKind(kind string) string {
	switch kind {
	case "audio":
		return "audio/mp4"
	case "transcript":
		return "text/vtt"
	default:
		return "video/mp4"
	}
}

// Upload streams body into the bucket and returns the object id (its key).
// Pass contentLength <= 0 when the source does not report a size.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return key, nil
}

// EnsureAccessPolicy applies the configured access policy to the object.
// Public playback uses a public-read ACL; otherwise objects stay private and
// URLs are presigned on demand.
func (s *S3) EnsureAccessPolicy(ctx context.Context, key string) error {
	if !s.cfg.PublicPlayback {
		return nil
	}
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("put object acl: %w", err)
	}
	return nil
}

// GetObjectMeta performs a live HeadObject lookup. A missing object is not an
// error; it reports Exists=false.
func (s *S3) GetObjectMeta(ctx context.Context, key string) (ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return ObjectMeta{Exists: false}, nil
		}
		return ObjectMeta{}, fmt.Errorf("head object: %w", err)
	}
	meta := ObjectMeta{Exists: true}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	return meta, nil
}

// DeleteObject removes an object from the bucket.
func (s *S3) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PlaybackURL returns a URL suitable for in-browser playback of the object.
func (s *S3) PlaybackURL(ctx context.Context, key string) (string, error) {
	if s.cfg.PublicPlayback {
		return s.publicObjectURL(key), nil
	}
	return s.presignGet(ctx, key)
}

// DownloadURL returns a URL suitable for downloading the object.
func (s *S3) DownloadURL(ctx context.Context, key string) (string, error) {
	return s.PlaybackURL(ctx, key)
}

func (s *S3) publicObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

func (s *S3) presignGet(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.presignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

func (s *S3) presignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}
