package sources

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type tableRow struct {
	Name  string
	Count int64
}

// fakeRowIterator mimics *bigquery.RowIterator over an in-memory slice.
type fakeRowIterator struct {
	rows []tableRow
	err  error
	pos  int
}

func (it *fakeRowIterator) Next(dst interface{}) error {
	if it.err != nil && it.pos == len(it.rows) {
		return it.err
	}
	if it.pos >= len(it.rows) {
		return iterator.Done
	}
	*(dst.(*tableRow)) = it.rows[it.pos]
	it.pos++
	return nil
}

func TestCollectRows(t *testing.T) {
	rows := []tableRow{{"a", 1}, {"b", 2}, {"c", 3}}

	t.Run("Reads until Done", func(t *testing.T) {
		got, err := collectRows[tableRow](&fakeRowIterator{rows: rows}, 0)
		require.NoError(t, err)
		assert.Equal(t, rows, got)
	})

	t.Run("Stops at MaxRows", func(t *testing.T) {
		got, err := collectRows[tableRow](&fakeRowIterator{rows: rows}, 2)
		require.NoError(t, err)
		assert.Equal(t, rows[:2], got)
	})

	t.Run("Iterator error", func(t *testing.T) {
		readErr := errors.New("quota exceeded")
		_, err := collectRows[tableRow](&fakeRowIterator{rows: rows[:1], err: readErr}, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, readErr)
		assert.Contains(t, err.Error(), "read row 1")
	})
}

func TestFirestoreDocument_Classify(t *testing.T) {
	d := &FirestoreDocument[map[string]any]{logger: zerolog.Nop()}

	t.Run("NotFound", func(t *testing.T) {
		err := d.classify(status.Error(codes.NotFound, "no such document"))
		assert.ErrorIs(t, err, ErrDocumentNotFound)
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Other errors", func(t *testing.T) {
		err := d.classify(status.Error(codes.Unavailable, "try later"))
		assert.NotErrorIs(t, err, ErrDocumentNotFound)
		assert.Contains(t, err.Error(), "firestore get")
	})
}
