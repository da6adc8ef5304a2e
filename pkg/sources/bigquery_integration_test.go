//go:build integration

package sources_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/illmade-knight/go-opsdash/pkg/sources"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type numberRow struct {
	N int64 `bigquery:"n"`
}

func TestBigQueryQuery_Integration(t *testing.T) {
	projectID := os.Getenv("GCP_PROJECT_ID")
	if projectID == "" {
		t.Skip("GCP_PROJECT_ID not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	client, err := sources.NewProductionBigQueryClient(ctx, projectID, os.Getenv("GCP_CREDENTIALS_FILE"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	query, err := sources.NewBigQueryQuery[numberRow](&sources.BigQueryQueryConfig{
		Name:   "numbers",
		SQL:    "SELECT n FROM UNNEST(GENERATE_ARRAY(1, @upto)) AS n",
		Params: []bigquery.QueryParameter{{Name: "upto", Value: 5}},
		TTL:    time.Minute,
	}, client, zerolog.Nop(), poll.WithRegistry(poll.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = query.Close() })

	rows, err := query.Get(ctx)

	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, int64(1), rows[0].N)
}
