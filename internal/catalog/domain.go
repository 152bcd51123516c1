// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Book represents a title in the catalog together with its copy counts.
// available_copies is owned by the loan ledger; the catalog only recomputes it
// when an admin changes total_copies.
type Book struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	Category        string    `json:"category"`
	Description     string    `json:"description,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
}

// BookInput is the payload for creating a book.
type BookInput struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Category    string `json:"category"`
	Description string `json:"description"`
	TotalCopies int    `json:"total_copies"`
}

// BookUpdate is a partial update; nil fields are left unchanged.
type BookUpdate struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	TotalCopies *int    `json:"total_copies"`
}

// Filter narrows ListBooks results. Available filters on whether any copy is
// currently free; Search matches title or author substrings.
type Filter struct {
	Category  string
	Available *bool
	Search    string
}

var (
	// ErrNotFound is returned when the referenced book does not exist.
	ErrNotFound = errors.New("book not found")

	// ErrDuplicateISBN is returned when a book with the same ISBN exists.
	ErrDuplicateISBN = errors.New("book with this ISBN already exists")

	// ErrHasActiveLoans is returned when deleting a book that is still out on loan.
	ErrHasActiveLoans = errors.New("cannot delete book with active loans")

	// ErrTooFewCopies is returned when total_copies would drop below the number
	// of copies currently on loan.
	ErrTooFewCopies = errors.New("total copies cannot be lower than the number of active loans")
)
