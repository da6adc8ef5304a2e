package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Objects(ctx context.Context, q *storage.Query) GCSObjectIterator
}

// GCSObjectIterator abstracts a *storage.ObjectIterator.
type GCSObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter creates an adapter that makes the concrete *storage.Client
// conform to the GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

// Objects returns the underlying *storage.ObjectIterator, which already
// satisfies GCSObjectIterator.
func (a *gcsBucketHandleAdapter) Objects(ctx context.Context, q *storage.Query) GCSObjectIterator {
	return a.handle.Objects(ctx, q)
}

// BucketStats summarises the objects under a bucket prefix.
type BucketStats struct {
	Objects     int       `json:"objects"`
	Bytes       int64     `json:"bytes"`
	Newest      string    `json:"newest,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// BucketUsageConfig identifies the bucket prefix to poll.
type BucketUsageConfig struct {
	Name       string
	BucketName string
	Prefix     string
	TTL        time.Duration
}

// BucketUsage polls object counts and sizes for a bucket prefix, e.g. to
// show whether backups are still arriving.
type BucketUsage struct {
	*poll.Item[BucketStats]
	logger zerolog.Logger
}

// NewBucketUsage creates a polled bucket summary.
func NewBucketUsage(cfg *BucketUsageConfig, client GCSClient, logger zerolog.Logger, opts ...poll.Option) (*BucketUsage, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("bucket usage config cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket usage %q has no bucket name", cfg.Name)
	}

	u := &BucketUsage{
		logger: logger.With().Str("component", "BucketUsage").Str("bucket", cfg.BucketName).Str("prefix", cfg.Prefix).Logger(),
	}
	bucket := client.Bucket(cfg.BucketName)
	fetch := func(ctx context.Context) (BucketStats, error) {
		stats, err := summarise(bucket.Objects(ctx, &storage.Query{Prefix: cfg.Prefix}))
		if err != nil {
			u.logger.Error().Err(err).Msg("Failed to list GCS objects.")
			return BucketStats{}, err
		}
		u.logger.Debug().Int("objects", stats.Objects).Int64("bytes", stats.Bytes).Msg("Bucket usage computed.")
		return stats, nil
	}

	item, err := poll.New[BucketStats]("gcs/"+cfg.Name, cfg.TTL, fetch, append([]poll.Option{poll.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	u.Item = item
	return u, nil
}

func summarise(it GCSObjectIterator) (BucketStats, error) {
	var stats BucketStats
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return stats, nil
		}
		if err != nil {
			return BucketStats{}, fmt.Errorf("gcs list objects: %w", err)
		}
		stats.Objects++
		stats.Bytes += attrs.Size
		if attrs.Updated.After(stats.LastUpdated) {
			stats.LastUpdated = attrs.Updated
			stats.Newest = attrs.Name
		}
	}
}
