package http

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type ServerConfig struct {
	Port int
	// RequestTimeout bounds every request; zero disables it.
	RequestTimeout time.Duration
}

func NewServer(config ServerConfig, h *LibraryHandler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", ping)
	mux.HandleFunc("/books", h.books)
	mux.HandleFunc("/books/{id}", h.bookById)
	mux.HandleFunc("/authors", h.authors)
	mux.HandleFunc("/authors/{id}", h.authorById)
	mux.HandleFunc("/members", h.members)
	mux.HandleFunc("/members/{id}", h.memberById)
	mux.HandleFunc("/members/{id}/loans", h.memberLoans)
	mux.HandleFunc("/loans", h.loans)
	mux.HandleFunc("/loans/{id}", h.loanById)
	mux.HandleFunc("/loans/{id}/return", h.returnLoan)

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: withTimeout(config.RequestTimeout, mux),
	}
	return &server
}

func withTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

/* Tests the http server connection.  */
func ping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
