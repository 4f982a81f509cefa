package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
)

func (h *LibraryHandler) authors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAuthors(w, r)
	case http.MethodPost:
		h.createAuthor(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *LibraryHandler) authorById(w http.ResponseWriter, r *http.Request) {
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, err := h.service.GetAuthor(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		responseJSON(w, http.StatusOK, authorToResponse(a))
	case http.MethodPut:
		var entry AuthorEntry
		if !decodeJSON(w, r, &entry) {
			return
		}
		a, err := h.service.UpdateAuthor(r.Context(), book.UpdateAuthorRequest{ID: id, FullName: entry.FullName})
		if err != nil {
			handleError(w, r, err)
			return
		}
		responseJSON(w, http.StatusOK, authorToResponse(a))
	case http.MethodDelete:
		if err := h.service.DeleteAuthor(r.Context(), id); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type AuthorEntry struct {
	FullName string `json:"full_name"`
}

func (h *LibraryHandler) createAuthor(w http.ResponseWriter, r *http.Request) {
	var entry AuthorEntry
	if !decodeJSON(w, r, &entry) {
		return
	}

	a, err := h.service.CreateAuthor(r.Context(), book.CreateAuthorRequest{FullName: entry.FullName})
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusCreated, authorToResponse(a))
}

func (h *LibraryHandler) listAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.service.ListAuthors(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}

	results := []AuthorResponse{}
	for _, a := range authors {
		results = append(results, authorToResponse(a))
	}
	responseJSON(w, http.StatusOK, results)
}

type AuthorResponse struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
}

func authorToResponse(a book.Author) AuthorResponse {
	return AuthorResponse{ID: a.ID, FullName: a.FullName}
}
