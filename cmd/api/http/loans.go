package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
)

/* Addresses a call to "/loans": POST borrows a book, GET lists the overdue loans. */
func (h *LibraryHandler) loans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listOverdueLoans(w, r)
	case http.MethodPost:
		h.borrowBook(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type BorrowEntry struct {
	MemberID uuid.UUID `json:"member_id"`
	BookID   uuid.UUID `json:"book_id"`
}

func (h *LibraryHandler) borrowBook(w http.ResponseWriter, r *http.Request) {
	var entry BorrowEntry
	if !decodeJSON(w, r, &entry) {
		return
	}

	var loan book.Loan
	err := book.RetryOnStorageFailure(r.Context(), h.retryAttempts, func(ctx context.Context) (err error) {
		loan, err = h.service.BorrowBook(ctx, book.BorrowRequest{MemberID: entry.MemberID, BookID: entry.BookID})
		return err
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusCreated, loanToResponse(loan))
}

func (h *LibraryHandler) returnLoan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	var loan book.Loan
	err := book.RetryOnStorageFailure(r.Context(), h.retryAttempts, func(ctx context.Context) (err error) {
		loan, err = h.service.ReturnLoan(ctx, id)
		return err
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, loanToResponse(loan))
}

func (h *LibraryHandler) loanById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, loanToResponse(loan))
}

func (h *LibraryHandler) listOverdueLoans(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("overdue") != "true" {
		responseJSON(w, http.StatusBadRequest, book.ErrResponseQueryOverdueInvalid)
		return
	}

	loans, err := h.service.ListOverdueLoans(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, loansToResponse(loans))
}

type LoanResponse struct {
	ID         uuid.UUID  `json:"id"`
	BookID     uuid.UUID  `json:"book_id"`
	MemberID   uuid.UUID  `json:"member_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	Returned   bool       `json:"returned"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

func loanToResponse(l book.Loan) LoanResponse {
	return LoanResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		Returned:   l.Returned,
		ReturnedAt: l.ReturnedAt,
	}
}

func loansToResponse(loans []book.Loan) []LoanResponse {
	results := []LoanResponse{}
	for _, l := range loans {
		results = append(results, loanToResponse(l))
	}
	return results
}
