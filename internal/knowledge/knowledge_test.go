package knowledge

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSearcher_Search(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM knowledge_chunks, websearch_to_tsquery`).
		WithArgs("t1", "refund policy", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "title", "content", "score"}).
			AddRow("k1", "faq.md", "Refunds", "Refunds are issued within 30 days.", 0.9).
			AddRow("k2", "terms.md", "Terms", "Digital goods are final sale.", 0.4))

	got, err := NewPostgresSearcher(db).Search(context.Background(), "t1", "  refund policy ", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Refunds", got[0].Title)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearcher_EmptyQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	got, err := NewPostgresSearcher(db).Search(context.Background(), "t1", "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
