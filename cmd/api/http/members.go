package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
)

func (h *LibraryHandler) members(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		members, err := h.service.ListMembers(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		results := []MemberResponse{}
		for _, m := range members {
			results = append(results, memberToResponse(m))
		}
		responseJSON(w, http.StatusOK, results)
	case http.MethodPost:
		var entry MemberEntry
		if !decodeJSON(w, r, &entry) {
			return
		}
		m, err := h.service.CreateMember(r.Context(), book.CreateMemberRequest{FullName: entry.FullName})
		if err != nil {
			handleError(w, r, err)
			return
		}
		responseJSON(w, http.StatusCreated, memberToResponse(m))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *LibraryHandler) memberById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	m, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, memberToResponse(m))
}

/* Lists the open loans of a member. */
func (h *LibraryHandler) memberLoans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := isolateId(w, r)
	if !ok {
		return
	}

	loans, err := h.service.ListActiveLoans(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	responseJSON(w, http.StatusOK, loansToResponse(loans))
}

type MemberEntry struct {
	FullName string `json:"full_name"`
}

type MemberResponse struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
}

func memberToResponse(m book.Member) MemberResponse {
	return MemberResponse{ID: m.ID, FullName: m.FullName}
}
