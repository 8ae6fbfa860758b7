package eventarchive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client archives raw payloads of payment events that could not be resolved
// to a user or product, so support can reconcile them manually later.
type Client struct {
	s3Client *s3.Client
	config   *Config
}

// NewClient creates a new event archive client
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("event archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true // S3-compatible services want path-style URLs
			o.UseAccelerate = false
		}
	})

	return &Client{
		s3Client: s3Client,
		config:   cfg,
	}, nil
}

// FromEnv builds an archive client from the environment, returning nil when
// the archive is disabled or misconfigured; archiving is best-effort.
func FromEnv() *Client {
	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("event archive disabled: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := NewClient(cfg)
	if err != nil {
		log.Printf("event archive disabled: %v", err)
		return nil
	}
	return client
}

// ArchivePaymentEvent uploads a raw event payload under a time-bucketed key.
func (c *Client) ArchivePaymentEvent(ctx context.Context, eventID string, payload []byte) error {
	key := c.config.GetObjectKey(eventID, time.Now())

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive payment event %s: %w", eventID, err)
	}
	return nil
}
