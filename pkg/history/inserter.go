package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// RowInserter writes a batch of rows to a data store.
type RowInserter[T any] interface {
	InsertBatch(ctx context.Context, rows []*T) error
	Close() error
}

// BigQueryTableConfig names the table fetch records are streamed into.
type BigQueryTableConfig struct {
	DatasetID string
	TableID   string
}

// BigQueryInserter streams rows of T into one BigQuery table.
type BigQueryInserter[T any] struct {
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter creates an inserter for the configured table. If the
// table does not exist it is created with a schema inferred from T.
func NewBigQueryInserter[T any](ctx context.Context, client *bigquery.Client, cfg *BigQueryTableConfig, logger zerolog.Logger) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryTableConfig cannot be nil")
	}
	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("project_id", client.Project()).
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	table := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := table.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		var zero T
		schema, err := bigquery.InferSchema(zero)
		if err != nil {
			return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, err)
		}
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		logger.Info().Int("field_count", len(schema)).Msg("BigQuery table created.")
	}

	return &BigQueryInserter[T]{
		table:    table,
		inserter: table.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams rows into the table. Row-level failures are logged one
// by one and returned wrapped.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := i.inserter.Put(ctx, rows); err != nil {
		i.logger.Error().Err(err).Int("batch_size", len(rows)).Msg("Failed to insert rows into BigQuery.")
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(rows)).Msg("Inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
