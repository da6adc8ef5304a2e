//go:build integration

package sources_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/illmade-knight/go-opsdash/pkg/sources"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type maintenanceWindow struct {
	Active bool   `firestore:"active"`
	Reason string `firestore:"reason"`
}

func TestFirestoreDocument_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Collection("ops").Doc("maintenance").Set(ctx, maintenanceWindow{Active: true, Reason: "failover drill"})
	require.NoError(t, err)

	registry := poll.NewRegistry()
	doc, err := sources.NewFirestoreDocument[maintenanceWindow](&sources.FirestoreDocumentConfig{
		Name:           "maintenance",
		CollectionName: "ops",
		DocumentID:     "maintenance",
		TTL:            time.Minute,
	}, client, zerolog.Nop(), poll.WithRegistry(registry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = doc.Close() })

	t.Run("Document is fetched", func(t *testing.T) {
		window, err := doc.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, maintenanceWindow{Active: true, Reason: "failover drill"}, window)
	})

	t.Run("Missing document", func(t *testing.T) {
		missing, err := sources.NewFirestoreDocument[maintenanceWindow](&sources.FirestoreDocumentConfig{
			Name:           "missing",
			CollectionName: "ops",
			DocumentID:     "does-not-exist",
			TTL:            time.Minute,
		}, client, zerolog.Nop(), poll.WithRegistry(registry))
		require.NoError(t, err)

		_, err = missing.Get(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, sources.ErrDocumentNotFound)
		assert.ErrorIs(t, err, poll.ErrNoDataYet)
	})
}
