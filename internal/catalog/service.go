// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, input BookInput) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, filter Filter) ([]*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, update BookUpdate) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
}
