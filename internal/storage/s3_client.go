package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	pulse_errors "pulse-dm/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
}

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client checks that attachment URLs point at objects that really exist in
// the media bucket. Uploads themselves happen elsewhere.
type Client struct {
	cfg S3Config
	s3  headObjectAPI
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{cfg: cfg, s3: s3Client}, nil
}

// FileURL is the public URL of key.
func (c *Client) FileURL(key string) string {
	if c == nil || key == "" || c.cfg.PublicBase == "" {
		return ""
	}
	return strings.TrimRight(c.cfg.PublicBase, "/") + "/" + key
}

// KeyFromURL maps a public, path-style or virtual-hosted URL back to an
// object key. ok is false when the URL does not belong to the bucket.
func (c *Client) KeyFromURL(raw string) (key string, ok bool) {
	if base := strings.TrimRight(c.cfg.PublicBase, "/"); base != "" {
		if rest, found := strings.CutPrefix(raw, base+"/"); found && rest != "" {
			return rest, true
		}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")
	if strings.HasPrefix(u.Host, c.cfg.Bucket+".") && path != "" {
		return path, true
	}
	if rest, found := strings.CutPrefix(path, c.cfg.Bucket+"/"); found && rest != "" {
		return rest, true
	}
	return "", false
}

// VerifyURL returns ErrValidation when the object does not exist or the URL
// is foreign, and ErrUpstream when storage cannot be reached.
func (c *Client) VerifyURL(ctx context.Context, raw string) error {
	key, ok := c.KeyFromURL(raw)
	if !ok {
		return fmt.Errorf("%w: attachment url is not in the media bucket", pulse_errors.ErrValidation)
	}
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: attachment %q does not exist", pulse_errors.ErrValidation, key)
	}
	return fmt.Errorf("%w: head object: %v", pulse_errors.ErrUpstream, err)
}
