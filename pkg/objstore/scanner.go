package objstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/casafeed/incload/internal/logctx"
	"github.com/casafeed/incload/pkg/faults"
)

// ErrNoBatch is returned by Scan when the prefix holds no batch files.
// This is a normal terminal outcome for an invocation, not a failure.
var ErrNoBatch = errors.New("no batch file found")

// Location identifies where batch files live.
type Location struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Prefix is the key prefix under which batch files are written.
	Prefix string
	// Suffix is the required file suffix, e.g. ".parquet".
	Suffix string
}

// Object describes one selectable batch file.
type Object struct {
	Key   string
	Size  int64
	Stamp Stamp
}

// Scan lists the location and returns the most recent batch object,
// ordered by the stamp embedded in the object name with the full key as
// tie-break. Objects without a parseable stamp are skipped. Returns
// ErrNoBatch when nothing matches.
func (c *Client) Scan(ctx context.Context, loc Location) (Object, error) {
	logger := logctx.From(ctx)

	prefix := loc.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var candidates []Object
	err := c.retry.Do(ctx, func() error {
		candidates = candidates[:0]

		paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
			Bucket: aws.String(loc.Bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue // directory marker
				}
				if !strings.HasSuffix(key, loc.Suffix) {
					continue
				}
				stamp, err := ParseStamp(key, loc.Suffix)
				if err != nil {
					logger.Warn().Str("key", key).Msg("skipping object without a date stamp")
					continue
				}
				candidates = append(candidates, Object{
					Key:   key,
					Size:  aws.ToInt64(obj.Size),
					Stamp: stamp,
				})
			}
		}
		return nil
	})
	if err != nil {
		return Object{}, faults.Transient(fmt.Errorf("list s3://%s/%s: %w", loc.Bucket, prefix, err))
	}

	if len(candidates) == 0 {
		return Object{}, ErrNoBatch
	}

	// Deterministic regardless of listing order: stamp first, key breaks
	// ties.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Stamp.Equal(candidates[j].Stamp) {
			return candidates[i].Stamp.Before(candidates[j].Stamp)
		}
		return candidates[i].Key < candidates[j].Key
	})

	latest := candidates[len(candidates)-1]
	logger.Debug().
		Int("candidates", len(candidates)).
		Str("key", latest.Key).
		Stringer("stamp", latest.Stamp).
		Msg("selected latest batch")
	return latest, nil
}
