// internal/ledger/implementation.go
package ledger

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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"librakeep/internal/cache"
	"librakeep/internal/catalog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "ledger").Logger()

var tracer = otel.Tracer("librakeep/ledger")

const (
	// maxAttempts bounds retries of transactions that failed purely due to
	// contention. Business-rule failures are never retried.
	maxAttempts  = 3
	retryBackoff = 25 * time.Millisecond
)

// service implements the Service interface against Postgres. Each operation
// is a single transaction; no connection or lock is held between calls.
type service struct {
	db      *sql.DB
	cache   *cache.Cache
	borrows metric.Int64Counter
	returns metric.Int64Counter
}

// NewService creates a new ledger service instance. The cache may be nil.
func NewService(db *sql.DB, c *cache.Cache) Service {
	meter := otel.Meter("librakeep/ledger")
	borrows, _ := meter.Int64Counter("ledger.borrows")
	returns, _ := meter.Int64Counter("ledger.returns")
	return &service{db: db, cache: c, borrows: borrows, returns: returns}
}

// Borrow lends one copy of the book to the user. The availability check, the
// counter decrement and the loan insert commit together or not at all.
func (s *service) Borrow(ctx context.Context, userID, bookID uuid.UUID) (*Loan, error) {
	ctx, span := tracer.Start(ctx, "ledger.Borrow")
	defer span.End()

	var loan *Loan
	err := s.withRetry(ctx, func() error {
		var err error
		loan, err = s.borrowOnce(ctx, userID, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Delete(ctx, cache.BookKey(bookID))
	s.borrows.Add(ctx, 1)
	logger.Info().
		Str("loan_id", loan.ID.String()).
		Str("user_id", userID.String()).
		Str("book_id", bookID.String()).
		Time("due_date", loan.DueDate).
		Msg("book borrowed")
	return loan, nil
}

func (s *service) borrowOnce(ctx context.Context, userID, bookID uuid.UUID) (*Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	book, err := lockBook(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	if book.AvailableCopies <= 0 {
		return nil, ErrUnavailable
	}

	var hasActive bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM loans WHERE user_id = $1 AND book_id = $2 AND NOT is_returned
		)
	`, userID, bookID).Scan(&hasActive)
	if err != nil {
		return nil, classify(err, "failed to check active loans")
	}
	if hasActive {
		return nil, ErrAlreadyBorrowed
	}

	// The book row is locked above, but the decrement stays conditional so the
	// counter can never go negative even under a weaker isolation level.
	res, err := tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies - 1
		WHERE id = $1 AND available_copies > 0
	`, bookID)
	if err != nil {
		return nil, classify(err, "failed to decrement availability")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to decrement availability: %w", err)
	}
	if affected == 0 {
		return nil, ErrUnavailable
	}

	now := time.Now().UTC()
	loan := &Loan{
		ID:       uuid.New(),
		UserID:   userID,
		BookID:   bookID,
		LoanDate: now,
		DueDate:  now.Add(LoanPeriod),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO loans (id, user_id, book_id, loan_date, due_date, is_returned)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`, loan.ID, loan.UserID, loan.BookID, loan.LoanDate, loan.DueDate)
	if err != nil {
		// A racing borrow of the same (user, book) pair trips the partial
		// unique index here; the rollback also undoes the decrement.
		if isUniqueViolation(err) {
			return nil, ErrAlreadyBorrowed
		}
		return nil, classify(err, "failed to insert loan")
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "failed to commit borrow")
	}

	book.AvailableCopies--
	loan.Book = book
	return loan, nil
}

// Return marks the user's loan as returned and frees the copy. Only the
// loan's owner may return it; a second return fails without touching the
// counter again.
func (s *service) Return(ctx context.Context, userID, loanID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "ledger.Return")
	defer span.End()

	var bookID uuid.UUID
	err := s.withRetry(ctx, func() error {
		var err error
		bookID, err = s.returnOnce(ctx, userID, loanID)
		return err
	})
	if err != nil {
		return err
	}

	s.cache.Delete(ctx, cache.BookKey(bookID))
	s.returns.Add(ctx, 1)
	logger.Info().
		Str("loan_id", loanID.String()).
		Str("user_id", userID.String()).
		Str("book_id", bookID.String()).
		Msg("book returned")
	return nil
}

func (s *service) returnOnce(ctx context.Context, userID, loanID uuid.UUID) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Locking the loan row serializes concurrent returns of the same loan:
	// the loser of the race re-reads is_returned = TRUE after the winner
	// commits.
	var bookID uuid.UUID
	var isReturned bool
	err = tx.QueryRowContext(ctx, `
		SELECT book_id, is_returned
		FROM loans
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, loanID, userID).Scan(&bookID, &isReturned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, classify(err, "failed to get loan")
	}
	if isReturned {
		return uuid.Nil, ErrAlreadyReturned
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE loans
		SET is_returned = TRUE, return_date = $1
		WHERE id = $2
	`, time.Now().UTC(), loanID)
	if err != nil {
		return uuid.Nil, classify(err, "failed to update loan")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1
		WHERE id = $1 AND available_copies < total_copies
	`, bookID)
	if err != nil {
		return uuid.Nil, classify(err, "failed to increment availability")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to increment availability: %w", err)
	}
	if affected == 0 {
		// An active loan implies available < total; hitting this means the
		// counter and the loan table disagree.
		return uuid.Nil, fmt.Errorf("availability out of sync for book %s", bookID)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, classify(err, "failed to commit return")
	}

	return bookID, nil
}

// ListActiveLoans returns the user's unreturned loans with book snapshots,
// oldest first.
func (s *service) ListActiveLoans(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	ctx, span := tracer.Start(ctx, "ledger.ListActiveLoans")
	defer span.End()

	return s.listLoans(ctx, userID, true)
}

// ListLoans returns the user's full loan history, returned loans included.
func (s *service) ListLoans(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	ctx, span := tracer.Start(ctx, "ledger.ListLoans")
	defer span.End()

	return s.listLoans(ctx, userID, false)
}

func (s *service) listLoans(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*Loan, error) {
	query := `
		SELECT l.id, l.user_id, l.book_id, l.loan_date, l.due_date, l.return_date, l.is_returned,
		       b.id, b.title, b.author, b.isbn, b.category, b.description, b.total_copies, b.available_copies, b.created_at
		FROM loans l
		JOIN books b ON b.id = l.book_id
		WHERE l.user_id = $1
	`
	if activeOnly {
		query += " AND NOT l.is_returned"
	}
	query += " ORDER BY l.loan_date"

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*Loan
	for rows.Next() {
		loan := &Loan{Book: &catalog.Book{}}
		var returnDate sql.NullTime
		err := rows.Scan(
			&loan.ID,
			&loan.UserID,
			&loan.BookID,
			&loan.LoanDate,
			&loan.DueDate,
			&returnDate,
			&loan.IsReturned,
			&loan.Book.ID,
			&loan.Book.Title,
			&loan.Book.Author,
			&loan.Book.ISBN,
			&loan.Book.Category,
			&loan.Book.Description,
			&loan.Book.TotalCopies,
			&loan.Book.AvailableCopies,
			&loan.Book.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		if returnDate.Valid {
			loan.ReturnDate = &returnDate.Time
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	return loans, nil
}

// withRetry re-runs op while it fails with ErrTransientConflict, up to
// maxAttempts. Every other outcome is returned to the caller as is.
func (s *service) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if !errors.Is(err, ErrTransientConflict) {
			return err
		}
		logger.Warn().Int("attempt", attempt).Msg("transient conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return err
}

func lockBook(ctx context.Context, tx *sql.Tx, bookID uuid.UUID) (*catalog.Book, error) {
	book := &catalog.Book{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, title, author, isbn, category, description, total_copies, available_copies, created_at
		FROM books
		WHERE id = $1
		FOR UPDATE
	`, bookID).Scan(
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
		return nil, classify(err, "failed to get book")
	}
	return book, nil
}

// classify maps retryable postgres failures (serialization_failure,
// deadlock_detected) to ErrTransientConflict and wraps everything else.
func classify(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return ErrTransientConflict
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
