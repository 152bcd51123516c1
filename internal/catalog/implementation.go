// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"librakeep/internal/cache"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "catalog").Logger()

// service implements the Service interface.
type service struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewService creates a new catalog service instance. The cache may be nil.
func NewService(db *sql.DB, c *cache.Cache) Service {
	return &service{db: db, cache: c}
}

// AddBook creates a new book; all copies start out available.
func (s *service) AddBook(ctx context.Context, input BookInput) (*Book, error) {
	book := &Book{
		ID:              uuid.New(),
		Title:           input.Title,
		Author:          input.Author,
		ISBN:            input.ISBN,
		Category:        input.Category,
		Description:     input.Description,
		TotalCopies:     input.TotalCopies,
		AvailableCopies: input.TotalCopies,
		CreatedAt:       time.Now().UTC(),
	}

	query := `
		INSERT INTO books (id, title, author, isbn, category, description, total_copies, available_copies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		book.ID, book.Title, book.Author, book.ISBN, book.Category,
		book.Description, book.TotalCopies, book.AvailableCopies, book.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateISBN
		}
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}

	logger.Info().Str("book_id", book.ID.String()).Str("isbn", book.ISBN).Msg("book added")
	return book, nil
}

// GetBook retrieves a book, serving from the cache when possible.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	key := cache.BookKey(id)

	book := &Book{}
	if s.cache.Get(ctx, key, book) {
		return book, nil
	}

	query := `
		SELECT id, title, author, isbn, category, description, total_copies, available_copies, created_at
		FROM books
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.Category,
		&book.Description,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	s.cache.Set(ctx, key, book)
	return book, nil
}

// ListBooks returns books matching the filter.
func (s *service) ListBooks(ctx context.Context, filter Filter) ([]*Book, error) {
	query := `
		SELECT id, title, author, isbn, category, description, total_copies, available_copies, created_at
		FROM books
		WHERE 1=1
	`
	var args []interface{}

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Available != nil {
		if *filter.Available {
			query += " AND available_copies > 0"
		} else {
			query += " AND available_copies = 0"
		}
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR author ILIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book := &Book{}
		err := rows.Scan(
			&book.ID,
			&book.Title,
			&book.Author,
			&book.ISBN,
			&book.Category,
			&book.Description,
			&book.TotalCopies,
			&book.AvailableCopies,
			&book.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	return books, nil
}

// UpdateBook applies a partial update. When total_copies changes,
// available_copies is recomputed from the active-loan count inside the same
// transaction so the availability invariant holds.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, update BookUpdate) (*Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	book := &Book{}
	query := `
		SELECT id, title, author, isbn, category, description, total_copies, available_copies, created_at
		FROM books
		WHERE id = $1
		FOR UPDATE
	`
	err = tx.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.Category,
		&book.Description,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	if update.Title != nil {
		book.Title = *update.Title
	}
	if update.Author != nil {
		book.Author = *update.Author
	}
	if update.Category != nil {
		book.Category = *update.Category
	}
	if update.Description != nil {
		book.Description = *update.Description
	}
	if update.TotalCopies != nil {
		activeLoans, err := countActiveLoans(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if *update.TotalCopies < activeLoans {
			return nil, ErrTooFewCopies
		}
		book.TotalCopies = *update.TotalCopies
		book.AvailableCopies = *update.TotalCopies - activeLoans
	}

	updateQuery := `
		UPDATE books
		SET title = $1, author = $2, category = $3, description = $4, total_copies = $5, available_copies = $6
		WHERE id = $7
	`
	_, err = tx.ExecContext(ctx, updateQuery,
		book.Title, book.Author, book.Category, book.Description,
		book.TotalCopies, book.AvailableCopies, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	s.cache.Delete(ctx, cache.BookKey(id))
	return book, nil
}

// RemoveBook deletes a book. Deletion is refused while any loan of the book is
// still active; the check counts active loans rather than comparing copy
// numbers, so editing total_copies cannot unlock a book that is still out.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	activeLoans, err := countActiveLoans(ctx, tx, id)
	if err != nil {
		return err
	}
	if activeLoans > 0 {
		return ErrHasActiveLoans
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.cache.Delete(ctx, cache.BookKey(id))
	logger.Info().Str("book_id", id.String()).Msg("book removed")
	return nil
}

func countActiveLoans(ctx context.Context, tx *sql.Tx, bookID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM loans WHERE book_id = $1 AND NOT is_returned`
	if err := tx.QueryRowContext(ctx, query, bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active loans: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
