// internal/catalog/implementation_test.go
//
// Postgres-backed tests, gated on TEST_DATABASE_URL like the ledger's.
package catalog

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librakeep/internal/postgres"
)

func newTestService(t *testing.T) (*sql.DB, Service) {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, postgres.Migrate(context.Background(), db))
	t.Cleanup(func() { db.Close() })

	return db, NewService(db, nil)
}

func testInput() BookInput {
	return BookInput{
		Title:       "Test Book",
		Author:      "Test Author",
		ISBN:        "isbn-" + uuid.NewString(),
		Category:    "Testing",
		TotalCopies: 3,
	}
}

func insertActiveLoan(t *testing.T, db *sql.DB, bookID uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	_, err := db.Exec(`
		INSERT INTO users (id, username, email, full_name)
		VALUES ($1, $2, $3, 'Test User')
	`, userID, "user-"+userID.String(), userID.String()+"@example.com")
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO loans (id, user_id, book_id, due_date, is_returned)
		VALUES ($1, $2, $3, $4, FALSE)
	`, uuid.New(), userID, bookID, time.Now().Add(14*24*time.Hour))
	require.NoError(t, err)
	_, err = db.Exec(`
		UPDATE books SET available_copies = available_copies - 1 WHERE id = $1
	`, bookID)
	require.NoError(t, err)
}

func TestAddBookStartsFullyAvailable(t *testing.T) {
	_, svc := newTestService(t)

	book, err := svc.AddBook(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)

	got, err := svc.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ISBN, got.ISBN)
}

func TestAddBookDuplicateISBN(t *testing.T) {
	_, svc := newTestService(t)

	input := testInput()
	_, err := svc.AddBook(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.AddBook(context.Background(), input)
	assert.ErrorIs(t, err, ErrDuplicateISBN)
}

func TestRemoveBookBlockedByActiveLoan(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, testInput())
	require.NoError(t, err)
	insertActiveLoan(t, db, book.ID)

	err = svc.RemoveBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrHasActiveLoans)

	// Returned loans don't block deletion.
	_, err = db.Exec(`UPDATE loans SET is_returned = TRUE, return_date = NOW() WHERE book_id = $1`, book.ID)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE books SET available_copies = available_copies + 1 WHERE id = $1`, book.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveBook(ctx, book.ID))

	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBookRecomputesAvailability(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, testInput()) // 3 copies
	require.NoError(t, err)
	insertActiveLoan(t, db, book.ID) // 1 on loan, 2 available

	newTotal := 5
	updated, err := svc.UpdateBook(ctx, book.ID, BookUpdate{TotalCopies: &newTotal})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 4, updated.AvailableCopies)

	// Shrinking below the active-loan count must be refused.
	newTotal = 0
	_, err = svc.UpdateBook(ctx, book.ID, BookUpdate{TotalCopies: &newTotal})
	assert.ErrorIs(t, err, ErrTooFewCopies)
}

func TestUpdateBookPartialFields(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, testInput())
	require.NoError(t, err)

	title := "Renamed"
	updated, err := svc.UpdateBook(ctx, book.ID, BookUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, book.Author, updated.Author)
	assert.Equal(t, book.TotalCopies, updated.TotalCopies)
}

func TestListBooksFilters(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	input := testInput()
	input.Category = "category-" + uuid.NewString()
	book, err := svc.AddBook(ctx, input)
	require.NoError(t, err)

	books, err := svc.ListBooks(ctx, Filter{Category: input.Category})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, book.ID, books[0].ID)

	// Exhaust availability and filter on available=false.
	_, err = db.Exec(`UPDATE books SET available_copies = 0 WHERE id = $1`, book.ID)
	require.NoError(t, err)

	unavailable := false
	books, err = svc.ListBooks(ctx, Filter{Category: input.Category, Available: &unavailable})
	require.NoError(t, err)
	require.Len(t, books, 1)

	available := true
	books, err = svc.ListBooks(ctx, Filter{Category: input.Category, Available: &available})
	require.NoError(t, err)
	assert.Empty(t, books)
}
