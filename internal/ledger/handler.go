// internal/ledger/handler.go
package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librakeep/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// HandleBorrow creates a loan for the authenticated user.
func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	identity, ok := membership.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return
	}

	var req struct {
		BookID uuid.UUID `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BookID == uuid.Nil {
		writeError(w, http.StatusBadRequest, errors.New("book_id is required"))
		return
	}

	loan, err := h.service.Borrow(r.Context(), identity.UserID, req.BookID)
	if err != nil {
		writeError(w, statusFromError(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, loan)
}

// HandleReturn returns the loan named in the URL, if the caller owns it.
func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	identity, ok := membership.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return
	}

	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid loan ID"))
		return
	}

	if err := h.service.Return(r.Context(), identity.UserID, loanID); err != nil {
		writeError(w, statusFromError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "book returned successfully"})
}

// HandleListLoans lists the authenticated user's active loans, or the full
// history when include_returned is set.
func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	identity, ok := membership.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return
	}

	list := h.service.ListActiveLoans
	if raw := r.URL.Query().Get("include_returned"); raw != "" {
		includeReturned, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid include_returned filter"))
			return
		}
		if includeReturned {
			list = h.service.ListLoans
		}
	}

	loans, err := list(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, statusFromError(err), err)
		return
	}
	if loans == nil {
		loans = []*Loan{}
	}

	writeJSON(w, http.StatusOK, loans)
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrAlreadyBorrowed),
		errors.Is(err, ErrAlreadyReturned):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransientConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
