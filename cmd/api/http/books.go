package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
)

/* Addresses a call to "/books" according to the requested action.  */
func (h *LibraryHandler) books(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBooks(w, r)
	case http.MethodPost:
		h.createBook(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

/* Addresses a call to "/books/{id}" according to the requested action.  */
func (h *LibraryHandler) bookById(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getBookById(w, r)
	case http.MethodPut:
		h.updateBook(w, r)
	case http.MethodDelete:
		h.archiveBook(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type BookEntry struct {
	Title           string     `json:"title"`
	Category        string     `json:"category"`
	ISBN            string     `json:"isbn"`
	AuthorID        *uuid.UUID `json:"author_id"`
	CopiesAvailable *int       `json:"copies_available"`
}

func (h *LibraryHandler) createBook(w http.ResponseWriter, r *http.Request) {
	var bookEntry BookEntry
	if !decodeJSON(w, r, &bookEntry) {
		return
	}

	storedBook, err := h.service.CreateBook(r.Context(), book.CreateBookRequest{
		Title:           bookEntry.Title,
		Category:        bookEntry.Category,
		ISBN:            bookEntry.ISBN,
		AuthorID:        bookEntry.AuthorID,
		CopiesAvailable: bookEntry.CopiesAvailable,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusCreated, bookToResponse(storedBook))
}

func (h *LibraryHandler) updateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	var bookEntry BookEntry
	if !decodeJSON(w, r, &bookEntry) {
		return
	}

	updatedBook, err := h.service.UpdateBook(r.Context(), book.UpdateBookRequest{
		ID:              id,
		Title:           bookEntry.Title,
		Category:        bookEntry.Category,
		ISBN:            bookEntry.ISBN,
		AuthorID:        bookEntry.AuthorID,
		CopiesAvailable: bookEntry.CopiesAvailable,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, bookToResponse(updatedBook))
}

/* Change the status of a book to "archived". */
func (h *LibraryHandler) archiveBook(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	archivedBook, err := h.service.ArchiveBook(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, bookToResponse(archivedBook))
}

func (h *LibraryHandler) getBookById(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	returnedBook, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, bookToResponse(returnedBook))
}

/* Returns a page of the stored books. */
func (h *LibraryHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	sortBy, sortDirection, valid := extractOrderParams(query)
	if !valid {
		responseJSON(w, http.StatusBadRequest, book.ErrResponseQuerySortByInvalid)
		return
	}

	page, pageSize, valid := extractPageParams(query)
	if !valid {
		responseJSON(w, http.StatusBadRequest, book.ErrResponseQueryPageInvalid)
		return
	}

	pagedBooks, err := h.service.ListBooks(r.Context(), book.ListBooksRequest{
		Title:         query.Get("title"),
		Category:      query.Get("category"),
		SortBy:        sortBy,
		SortDirection: sortDirection,
		Archived:      query.Get("archived") == "true",
		Page:          page,
		PageSize:      pageSize,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, pagedBooksToResponse(pagedBooks))
}

type BookResponse struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Category        string     `json:"category"`
	ISBN            string     `json:"isbn"`
	AuthorID        *uuid.UUID `json:"author_id"`
	CopiesAvailable int        `json:"copies_available"`
	Archived        bool       `json:"archived"`
}

/*Copy the fields of a book object to an http layer struct with json tags*/
func bookToResponse(b book.Book) BookResponse {
	return BookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Category:        b.Category,
		ISBN:            b.ISBN,
		AuthorID:        b.AuthorID,
		CopiesAvailable: b.CopiesAvailable,
		Archived:        b.Archived,
	}
}

type PageOfBooksResponse struct {
	PageCurrent int            `json:"page_current"`
	PageTotal   int            `json:"page_total"`
	PageSize    int            `json:"page_size"`
	ItemsTotal  int            `json:"items_total"`
	Results     []BookResponse `json:"results"`
}

func pagedBooksToResponse(page book.PagedBooks) PageOfBooksResponse {
	results := []BookResponse{}
	for _, b := range page.Results {
		results = append(results, bookToResponse(b))
	}

	return PageOfBooksResponse{
		PageCurrent: page.PageCurrent,
		PageTotal:   page.PageTotal,
		PageSize:    page.PageSize,
		ItemsTotal:  page.ItemsTotal,
		Results:     results,
	}
}
