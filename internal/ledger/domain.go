// internal/ledger/domain.go
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"librakeep/internal/catalog"
)

// LoanPeriod is how long a borrowed copy may be kept before it is due.
const LoanPeriod = 14 * 24 * time.Hour

// Loan records one user borrowing one copy of a book. A loan is created
// active by Borrow, flips to returned exactly once via Return, and is never
// deleted; returned loans remain as history.
type Loan struct {
	ID         uuid.UUID     `json:"id"`
	UserID     uuid.UUID     `json:"user_id"`
	BookID     uuid.UUID     `json:"book_id"`
	LoanDate   time.Time     `json:"loan_date"`
	DueDate    time.Time     `json:"due_date"`
	ReturnDate *time.Time    `json:"return_date,omitempty"`
	IsReturned bool          `json:"is_returned"`
	Book       *catalog.Book `json:"book,omitempty"`
}

var (
	// ErrNotFound is returned when the referenced book does not exist, or when
	// the referenced loan does not exist or belongs to another user.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the book has no free copies.
	ErrUnavailable = errors.New("no available copies of this book")

	// ErrAlreadyBorrowed is returned when the user already holds an active loan
	// for the same book.
	ErrAlreadyBorrowed = errors.New("you already have this book on loan")

	// ErrAlreadyReturned is returned on a second return of the same loan.
	ErrAlreadyReturned = errors.New("book already returned")

	// ErrTransientConflict signals a serialization or deadlock failure from the
	// database. It is caused by contention, not a rule violation, and is safe
	// to retry.
	ErrTransientConflict = errors.New("transient conflict, safe to retry")
)
