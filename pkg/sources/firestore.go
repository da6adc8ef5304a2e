package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrDocumentNotFound is wrapped by fetch failures for a missing document.
var ErrDocumentNotFound = errors.New("document not found")

// FirestoreDocumentConfig identifies a polled Firestore document.
type FirestoreDocumentConfig struct {
	Name           string
	CollectionName string
	DocumentID     string
	TTL            time.Duration
}

// FirestoreDocument polls one Firestore document into a V.
// This suits low-volume status documents written by other services.
type FirestoreDocument[V any] struct {
	*poll.Item[V]
	logger zerolog.Logger
}

// NewFirestoreDocument creates a polled document.
func NewFirestoreDocument[V any](cfg *FirestoreDocumentConfig, client *firestore.Client, logger zerolog.Logger, opts ...poll.Option) (*FirestoreDocument[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("firestore document config cannot be nil")
	}
	if cfg.CollectionName == "" || cfg.DocumentID == "" {
		return nil, fmt.Errorf("firestore document %q needs a collection and a document id", cfg.Name)
	}

	d := &FirestoreDocument[V]{
		logger: logger.With().Str("component", "FirestoreDocument").Str("collection", cfg.CollectionName).Str("document", cfg.DocumentID).Logger(),
	}
	docRef := client.Collection(cfg.CollectionName).Doc(cfg.DocumentID)
	fetch := func(ctx context.Context) (V, error) {
		var zero V
		docSnap, err := docRef.Get(ctx)
		if err != nil {
			return zero, d.classify(err)
		}
		var value V
		if err := docSnap.DataTo(&value); err != nil {
			d.logger.Error().Err(err).Msg("Failed to map Firestore document data.")
			return zero, fmt.Errorf("firestore DataTo for %s: %w", docRef.Path, err)
		}
		return value, nil
	}

	item, err := poll.New[V]("firestore/"+cfg.Name, cfg.TTL, fetch, append([]poll.Option{poll.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	d.Item = item
	d.logger.Info().Msg("FirestoreDocument initialized.")
	return d, nil
}

func (d *FirestoreDocument[V]) classify(err error) error {
	if status.Code(err) == codes.NotFound {
		d.logger.Warn().Msg("Document not found in Firestore.")
		return fmt.Errorf("%w: %w", ErrDocumentNotFound, err)
	}
	d.logger.Error().Err(err).Msg("Failed to get document from Firestore.")
	return fmt.Errorf("firestore get: %w", err)
}
