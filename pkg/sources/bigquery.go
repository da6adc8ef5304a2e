package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// NewProductionBigQueryClient creates a BigQuery client suitable for production environments.
// It will use Application Default Credentials unless a specific credentials file is provided.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", projectID).Msg("Failed to create BigQuery client.")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// BigQueryQueryConfig describes a polled BigQuery query.
type BigQueryQueryConfig struct {
	Name   string
	SQL    string
	Params []bigquery.QueryParameter
	TTL    time.Duration
	// MaxRows caps the rows read per fetch. Zero means no cap.
	MaxRows int
}

// rowIterator is satisfied by *bigquery.RowIterator.
type rowIterator interface {
	Next(dst interface{}) error
}

// BigQueryQuery polls a BigQuery query and caches its rows. T must be
// loadable by RowIterator.Next, typically a struct with bigquery tags.
type BigQueryQuery[T any] struct {
	*poll.Item[[]T]
	logger zerolog.Logger
}

// NewBigQueryQuery creates a polled BigQuery query. The client's lifecycle is
// managed externally so that one client can serve many queries.
func NewBigQueryQuery[T any](cfg *BigQueryQueryConfig, client *bigquery.Client, logger zerolog.Logger, opts ...poll.Option) (*BigQueryQuery[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryQueryConfig cannot be nil")
	}
	if cfg.SQL == "" {
		return nil, fmt.Errorf("bigquery query %q has no SQL", cfg.Name)
	}

	q := &BigQueryQuery[T]{
		logger: logger.With().Str("component", "BigQueryQuery").Str("query_name", cfg.Name).Str("project_id", client.Project()).Logger(),
	}
	fetch := func(ctx context.Context) ([]T, error) {
		query := client.Query(cfg.SQL)
		query.Parameters = cfg.Params
		it, err := query.Read(ctx)
		if err != nil {
			q.logger.Error().Err(err).Msg("Failed to run BigQuery query.")
			return nil, fmt.Errorf("bigquery Query.Read: %w", err)
		}
		rows, err := collectRows[T](it, cfg.MaxRows)
		if err != nil {
			return nil, err
		}
		q.logger.Debug().Int("row_count", len(rows)).Msg("BigQuery query completed.")
		return rows, nil
	}

	item, err := poll.New[[]T]("bigquery/"+cfg.Name, cfg.TTL, fetch, append([]poll.Option{poll.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	q.Item = item
	return q, nil
}

// collectRows drains it into a slice, stopping early once maxRows rows have
// been read (maxRows <= 0 reads everything).
func collectRows[T any](it rowIterator, maxRows int) ([]T, error) {
	var rows []T
	for maxRows <= 0 || len(rows) < maxRows {
		var row T
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery read row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
