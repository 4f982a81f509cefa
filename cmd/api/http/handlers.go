package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/library-service/cmd/api/book"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks . ServiceAPI

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ServiceAPI interface {
	CreateBook(ctx context.Context, req book.CreateBookRequest) (book.Book, error)
	UpdateBook(ctx context.Context, req book.UpdateBookRequest) (book.Book, error)
	ArchiveBook(ctx context.Context, id uuid.UUID) (book.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (book.Book, error)
	ListBooks(ctx context.Context, req book.ListBooksRequest) (book.PagedBooks, error)

	CreateAuthor(ctx context.Context, req book.CreateAuthorRequest) (book.Author, error)
	GetAuthor(ctx context.Context, id uuid.UUID) (book.Author, error)
	UpdateAuthor(ctx context.Context, req book.UpdateAuthorRequest) (book.Author, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error
	ListAuthors(ctx context.Context) ([]book.Author, error)

	CreateMember(ctx context.Context, req book.CreateMemberRequest) (book.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (book.Member, error)
	ListMembers(ctx context.Context) ([]book.Member, error)

	BorrowBook(ctx context.Context, req book.BorrowRequest) (book.Loan, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (book.Loan, error)
	GetLoan(ctx context.Context, id uuid.UUID) (book.Loan, error)
	ListActiveLoans(ctx context.Context, memberID uuid.UUID) ([]book.Loan, error)
	ListOverdueLoans(ctx context.Context) ([]book.Loan, error)
}

type LibraryHandler struct {
	service ServiceAPI
	// retryAttempts is how many times borrow and return are tried on a storage failure.
	retryAttempts int
}

func NewLibraryHandler(service ServiceAPI, retryAttempts int) *LibraryHandler {
	return &LibraryHandler{service: service, retryAttempts: retryAttempts}
}

/*Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

/* Reads the JSON body into entry, answering 400 when it is malformed. */
func decodeJSON(w http.ResponseWriter, r *http.Request, entry any) bool {
	if err := json.NewDecoder(r.Body).Decode(entry); err != nil {
		slog.Info("invalid json entry", "path", r.URL.Path, "error", err)
		responseJSON(w, http.StatusBadRequest, book.ErrResponse{
			Code:    book.ErrResponseEntryInvalidJSON.Code,
			Message: book.ErrResponseEntryInvalidJSON.Message + err.Error(),
		})
		return false
	}
	return true
}

/* Isolates the {id} path segment, answering 400 when it is not a uuid. */
func isolateId(w http.ResponseWriter, r *http.Request) (id uuid.UUID, ok bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		responseJSON(w, http.StatusBadRequest, book.ErrResponseIdInvalidFormat)
		return id, false
	}
	return id, true
}

/*
Maps a service error to its HTTP answer. Context errors win over everything else, a
storage failure is 503, and the remaining ErrResponse values are sent back as they are.
*/
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var ctxErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ctxErr = context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		ctxErr = context.Canceled
	}
	if ctxErr != nil {
		slog.Error("request timed out", "path", r.URL.Path, "error", err)
		responseJSON(w, http.StatusGatewayTimeout, book.ErrResponse{
			Code:    book.ErrResponseRequestTimeout.Code,
			Message: book.ErrResponseRequestTimeout.Message + ctxErr.Error(),
		})
		return
	}

	if errors.Is(err, book.ErrResponseStorageFailure) {
		slog.Error("storage failure", "path", r.URL.Path, "error", err)
		responseJSON(w, http.StatusServiceUnavailable, book.ErrResponseStorageFailure)
		return
	}

	var errR book.ErrResponse
	if !errors.As(err, &errR) {
		slog.Error("unexpected error", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := http.StatusBadRequest
	switch errR {
	case book.ErrResponseBookNotFound, book.ErrResponseAuthorNotFound, book.ErrResponseMemberNotFound, book.ErrResponseLoanNotFound:
		status = http.StatusNotFound
	case book.ErrResponseLoanLimitExceeded, book.ErrResponseBookUnavailable, book.ErrResponseBookIsArchived:
		status = http.StatusConflict
	}
	slog.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	responseJSON(w, status, errR)
}

/*Validates and prepares the ordering parameters of the query.*/
func extractOrderParams(query url.Values) (sortBy string, sortDirection string, valid bool) {
	sortDirection = query.Get("sort_direction")
	switch sortDirection {
	case "":
		sortDirection = "asc"
	case "asc", "desc":
	default:
		return sortBy, sortDirection, false
	}

	sortBy = query.Get("sort_by")
	switch sortBy {
	case "":
		sortBy = "title"
	case "title", "category", "copies_available", "created_at", "updated_at":
	default:
		return sortBy, sortDirection, false
	}

	return sortBy, sortDirection, true
}

/*Validates and prepares the pagination parameters of the query.*/
func extractPageParams(query url.Values) (page, pageSize int, valid bool) {
	var err error
	pageStr := query.Get("page") //Convert page value to int and set default to 1.
	if pageStr == "" {
		page = 1
	} else {
		page, err = strconv.Atoi(pageStr)
		if err != nil || page <= 0 {
			return 0, 0, false
		}
	}

	pageSizeStr := query.Get("page_size") //Convert page_size value to int and set default to 10.
	if pageSizeStr == "" {
		pageSize = 10
	} else {
		pageSize, err = strconv.Atoi(pageSizeStr)
		if err != nil || pageSize < 1 || pageSize > book.PageSizeMax {
			return 0, 0, false
		}
	}

	return page, pageSize, true
}
