// internal/catalog/handler_test.go
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	add    func(ctx context.Context, input BookInput) (*Book, error)
	get    func(ctx context.Context, id uuid.UUID) (*Book, error)
	list   func(ctx context.Context, filter Filter) ([]*Book, error)
	update func(ctx context.Context, id uuid.UUID, update BookUpdate) (*Book, error)
	remove func(ctx context.Context, id uuid.UUID) error
}

func (s *stubService) AddBook(ctx context.Context, input BookInput) (*Book, error) {
	return s.add(ctx, input)
}

func (s *stubService) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.get(ctx, id)
}

func (s *stubService) ListBooks(ctx context.Context, filter Filter) ([]*Book, error) {
	return s.list(ctx, filter)
}

func (s *stubService) UpdateBook(ctx context.Context, id uuid.UUID, update BookUpdate) (*Book, error) {
	return s.update(ctx, id, update)
}

func (s *stubService) RemoveBook(ctx context.Context, id uuid.UUID) error {
	return s.remove(ctx, id)
}

func newRouter(service Service) http.Handler {
	h := NewHandler(service)
	r := chi.NewRouter()
	r.Get("/books", h.HandleListBooks)
	r.Get("/books/{bookID}", h.HandleGetBook)
	r.Post("/books", h.HandleAddBook)
	r.Put("/books/{bookID}", h.HandleUpdateBook)
	r.Delete("/books/{bookID}", h.HandleRemoveBook)
	return r
}

func TestHandleGetBook(t *testing.T) {
	bookID := uuid.New()
	router := newRouter(&stubService{
		get: func(_ context.Context, id uuid.UUID) (*Book, error) {
			assert.Equal(t, bookID, id)
			return &Book{ID: id, Title: "Dune", Author: "Frank Herbert"}, nil
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/"+bookID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var book Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	assert.Equal(t, "Dune", book.Title)
}

func TestHandleGetBookNotFound(t *testing.T) {
	router := newRouter(&stubService{
		get: func(context.Context, uuid.UUID) (*Book, error) {
			return nil, ErrNotFound
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetBookInvalidID(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListBooksParsesFilters(t *testing.T) {
	router := newRouter(&stubService{
		list: func(_ context.Context, filter Filter) ([]*Book, error) {
			assert.Equal(t, "Fantasy", filter.Category)
			assert.Equal(t, "wizard", filter.Search)
			require.NotNil(t, filter.Available)
			assert.True(t, *filter.Available)
			return nil, nil
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books?category=Fantasy&search=wizard&available=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleAddBook(t *testing.T) {
	router := newRouter(&stubService{
		add: func(_ context.Context, input BookInput) (*Book, error) {
			assert.Equal(t, "Dune", input.Title)
			assert.Equal(t, 1, input.TotalCopies) // defaulted
			return &Book{ID: uuid.New(), Title: input.Title, TotalCopies: 1, AvailableCopies: 1}, nil
		},
	})

	body, _ := json.Marshal(map[string]interface{}{
		"title": "Dune", "author": "Frank Herbert", "isbn": "9780441013593", "category": "SF",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/books", bytes.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleAddBookDuplicateISBN(t *testing.T) {
	router := newRouter(&stubService{
		add: func(context.Context, BookInput) (*Book, error) {
			return nil, ErrDuplicateISBN
		},
	})

	body, _ := json.Marshal(map[string]interface{}{
		"title": "Dune", "author": "Frank Herbert", "isbn": "9780441013593", "category": "SF",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/books", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddBookMissingFields(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/books", bytes.NewReader([]byte(`{"title":"Dune"}`))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRemoveBookWithActiveLoans(t *testing.T) {
	router := newRouter(&stubService{
		remove: func(context.Context, uuid.UUID) error {
			return ErrHasActiveLoans
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/books/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateBookTooFewCopies(t *testing.T) {
	router := newRouter(&stubService{
		update: func(context.Context, uuid.UUID, BookUpdate) (*Book, error) {
			return nil, ErrTooFewCopies
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/books/"+uuid.NewString(), bytes.NewReader([]byte(`{"total_copies":0}`))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
