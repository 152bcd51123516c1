// internal/ledger/service.go
package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Service is the loan ledger. It owns the borrow/return state machine and is
// the only writer of a book's available_copies, keeping the count equal to
// total_copies minus the book's active loans at every commit point.
type Service interface {
	Borrow(ctx context.Context, userID, bookID uuid.UUID) (*Loan, error)
	Return(ctx context.Context, userID, loanID uuid.UUID) error
	ListActiveLoans(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	ListLoans(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
}
