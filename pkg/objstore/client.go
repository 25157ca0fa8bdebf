// Package objstore selects and streams batch objects from S3.
//
// One scraping run produces one batch file under a fixed bucket/prefix.
// The scanner lists the prefix, keeps only objects with the configured
// suffix, orders them by the date stamp embedded in their names and hands
// the most recent one to the reader.
package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/casafeed/incload/pkg/faults"
	"github.com/casafeed/incload/pkg/retrying"
)

// api is the slice of the S3 client the scanner needs. Tests substitute a
// fake.
type api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client provides the object store operations of the pipeline.
type Client struct {
	s3    api
	retry retrying.Policy
}

// NewClient creates a Client using the default AWS configuration chain.
func NewClient(ctx context.Context, retry retrying.Policy) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Client{s3: s3.NewFromConfig(cfg), retry: retry}, nil
}

// NewClientWithConfig creates a Client with a custom AWS config.
func NewClientWithConfig(cfg aws.Config, retry retrying.Policy) *Client {
	return &Client{s3: s3.NewFromConfig(cfg), retry: retry}
}

func newClientWithAPI(a api, retry retrying.Policy) *Client {
	return &Client{s3: a, retry: retry}
}

// Open returns a reader over the object's content along with its size.
// The caller owns the returned ReadCloser.
func (c *Client) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	var resp *s3.GetObjectOutput
	err := c.retry.Do(ctx, func() error {
		var err error
		resp, err = c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return nil, 0, faults.Transient(fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err))
	}
	return resp.Body, aws.ToInt64(resp.ContentLength), nil
}
