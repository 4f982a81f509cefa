package inmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/library-service/cmd/api/book"
)

/*
InMemoryStore implements book.Repository on top of go-memdb. memdb allows a single
write transaction at a time, so every borrow/return started with BeginTx runs alone.
*/
type InMemoryStore struct {
	db *memdb.MemDB
	// txn is only set on the stores handed out by BeginTx.
	txn *memdb.Txn
}

func NewInMemoryStore() (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"book": {
				Name: "book",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"author_id": {
						Name:         "author_id",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "AuthorID"},
					},
				},
			},
			"author": {
				Name: "author",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			"member": {
				Name: "member",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			"loan": {
				Name: "loan",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"returned": {
						Name:    "returned",
						Indexer: &memdb.BoolFieldIndex{Field: "Returned"},
					},
					"member_returned": { // open loans of a member
						Name: "member_returned",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "MemberID"},
								&memdb.BoolFieldIndex{Field: "Returned"},
							},
						},
					},
				},
			},
		},
	}

	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating in-memory schema: %w", err)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db}, nil
}

/*
Runs fn inside the store's transaction when called through BeginTx, otherwise inside a
fresh one that is committed (write) or discarded (read) when fn returns.
*/
func (store *InMemoryStore) run(ctx context.Context, write bool, fn func(txn *memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.txn != nil {
		return fn(store.txn)
	}

	txn := store.db.Txn(write)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	if write {
		txn.Commit()
	}
	return nil
}

type AdaptedBook struct {
	ID              string
	Title           string
	Category        string
	ISBN            string
	AuthorID        string
	CopiesAvailable int
	Archived        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func adaptBookIdToString(b book.Book) AdaptedBook {
	adpt := AdaptedBook{
		ID:              b.ID.String(),
		Title:           b.Title,
		Category:        b.Category,
		ISBN:            b.ISBN,
		CopiesAvailable: b.CopiesAvailable,
		Archived:        b.Archived,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if b.AuthorID != nil {
		adpt.AuthorID = b.AuthorID.String()
	}
	return adpt
}

func adaptBookIdToUUID(adpt AdaptedBook) book.Book {
	b := book.Book{
		ID:              uuid.MustParse(adpt.ID),
		Title:           adpt.Title,
		Category:        adpt.Category,
		ISBN:            adpt.ISBN,
		CopiesAvailable: adpt.CopiesAvailable,
		Archived:        adpt.Archived,
		CreatedAt:       adpt.CreatedAt,
		UpdatedAt:       adpt.UpdatedAt,
	}
	if adpt.AuthorID != "" {
		authorID := uuid.MustParse(adpt.AuthorID)
		b.AuthorID = &authorID
	}
	return b
}

type AdaptedAuthor struct {
	ID        string
	FullName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AdaptedMember struct {
	ID        string
	FullName  string
	CreatedAt time.Time
}

type AdaptedLoan struct {
	ID         string
	BookID     string
	MemberID   string
	BorrowedAt time.Time
	DueAt      time.Time
	Returned   bool
	ReturnedAt *time.Time
}

func adaptLoanIdToString(l book.Loan) AdaptedLoan {
	return AdaptedLoan{
		ID:         l.ID.String(),
		BookID:     l.BookID.String(),
		MemberID:   l.MemberID.String(),
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		Returned:   l.Returned,
		ReturnedAt: l.ReturnedAt,
	}
}

func adaptLoanIdToUUID(adpt AdaptedLoan) book.Loan {
	return book.Loan{
		ID:         uuid.MustParse(adpt.ID),
		BookID:     uuid.MustParse(adpt.BookID),
		MemberID:   uuid.MustParse(adpt.MemberID),
		BorrowedAt: adpt.BorrowedAt,
		DueAt:      adpt.DueAt,
		Returned:   adpt.Returned,
		ReturnedAt: adpt.ReturnedAt,
	}
}

// -- Books --

func (store *InMemoryStore) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		if bookEntry.AuthorID != nil {
			if err := authorExists(txn, *bookEntry.AuthorID); err != nil {
				return err
			}
		}
		return txn.Insert("book", adaptBookIdToString(bookEntry))
	})
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	return bookEntry, nil
}

func firstBook(txn *memdb.Txn, id uuid.UUID) (AdaptedBook, error) {
	raw, err := txn.First("book", "id", id.String())
	if err != nil {
		return AdaptedBook{}, err
	}
	if raw == nil {
		return AdaptedBook{}, book.ErrResponseBookNotFound
	}
	return raw.(AdaptedBook), nil
}

func (store *InMemoryStore) GetBookByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	var found AdaptedBook
	err := store.run(ctx, false, func(txn *memdb.Txn) (err error) {
		found, err = firstBook(txn, id)
		return err
	})
	if err != nil {
		return book.Book{}, fmt.Errorf("searching by ID: %w", err)
	}
	return adaptBookIdToUUID(found), nil
}

// Inside a BeginTx store the write transaction already excludes every other writer.
func (store *InMemoryStore) GetBookForUpdate(ctx context.Context, id uuid.UUID) (book.Book, error) {
	return store.GetBookByID(ctx, id)
}

func (store *InMemoryStore) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	var updated AdaptedBook
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		current, err := firstBook(txn, bookEntry.ID)
		if err != nil {
			return err
		}
		if bookEntry.AuthorID != nil {
			if err := authorExists(txn, *bookEntry.AuthorID); err != nil {
				return err
			}
		}

		updated = adaptBookIdToString(bookEntry)
		updated.Archived = current.Archived
		updated.CreatedAt = current.CreatedAt
		return txn.Insert("book", updated)
	})
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	return adaptBookIdToUUID(updated), nil
}

func (store *InMemoryStore) SetBookArchiveStatus(ctx context.Context, id uuid.UUID, archived bool) (book.Book, error) {
	var updated AdaptedBook
	err := store.run(ctx, true, func(txn *memdb.Txn) (err error) {
		updated, err = firstBook(txn, id)
		if err != nil {
			return err
		}
		updated.Archived = archived
		updated.UpdatedAt = time.Now().UTC().Round(time.Millisecond)
		return txn.Insert("book", updated)
	})
	if err != nil {
		return book.Book{}, fmt.Errorf("archiving on db: %w", err)
	}
	return adaptBookIdToUUID(updated), nil
}

func (store *InMemoryStore) AdjustBookCopies(ctx context.Context, id uuid.UUID, delta int) (book.Book, error) {
	var updated AdaptedBook
	err := store.run(ctx, true, func(txn *memdb.Txn) (err error) {
		updated, err = firstBook(txn, id)
		if err != nil {
			return err
		}
		if updated.CopiesAvailable+delta < 0 {
			return book.ErrResponseBookUnavailable
		}
		updated.CopiesAvailable += delta
		return txn.Insert("book", updated)
	})
	if err != nil {
		return book.Book{}, fmt.Errorf("adjusting copies on db: %w", err)
	}
	return adaptBookIdToUUID(updated), nil
}

func matchBook(b AdaptedBook, req book.ListBooksRequest) bool {
	if b.Archived && !req.Archived {
		return false
	}
	if req.Title != "" && !strings.Contains(strings.ToLower(b.Title), strings.ToLower(req.Title)) {
		return false
	}
	if req.Category != "" && !strings.EqualFold(b.Category, req.Category) {
		return false
	}
	return true
}

func (store *InMemoryStore) filterBooks(ctx context.Context, req book.ListBooksRequest) ([]book.Book, error) {
	books := []book.Book{}
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		it, err := txn.Get("book", "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			b := obj.(AdaptedBook)
			if matchBook(b, req) {
				books = append(books, adaptBookIdToUUID(b))
			}
		}
		return nil
	})
	return books, err
}

func (store *InMemoryStore) ListBooks(ctx context.Context, req book.ListBooksRequest) ([]book.Book, error) {
	books, err := store.filterBooks(ctx, req)
	if err != nil {
		return []book.Book{}, fmt.Errorf("listing books from db: %w", err)
	}

	sortBooks(req.SortBy, req.SortDirection, books)

	start := (req.Page - 1) * req.PageSize
	if start >= len(books) {
		return []book.Book{}, nil
	}
	end := start + req.PageSize
	if end > len(books) {
		end = len(books)
	}
	return books[start:end], nil
}

func sortBooks(sortBy, sortDirection string, books []book.Book) {
	less := func(i, j int) bool {
		switch sortBy {
		case "category":
			return books[i].Category < books[j].Category
		case "copies_available":
			return books[i].CopiesAvailable < books[j].CopiesAvailable
		case "created_at":
			return books[i].CreatedAt.Before(books[j].CreatedAt)
		case "updated_at":
			return books[i].UpdatedAt.Before(books[j].UpdatedAt)
		default:
			return books[i].Title < books[j].Title
		}
	}
	sort.SliceStable(books, func(i, j int) bool {
		if sortDirection == "desc" {
			return less(j, i)
		}
		return less(i, j)
	})
}

func (store *InMemoryStore) ListBooksTotals(ctx context.Context, req book.ListBooksRequest) (int, error) {
	books, err := store.filterBooks(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("counting books from db: %w", err)
	}
	return len(books), nil
}

// -- Authors --

func authorExists(txn *memdb.Txn, id uuid.UUID) error {
	raw, err := txn.First("author", "id", id.String())
	if err != nil {
		return err
	}
	if raw == nil {
		return book.ErrResponseAuthorNotFound
	}
	return nil
}

func (store *InMemoryStore) CreateAuthor(ctx context.Context, a book.Author) (book.Author, error) {
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		return txn.Insert("author", AdaptedAuthor{
			ID:        a.ID.String(),
			FullName:  a.FullName,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		})
	})
	if err != nil {
		return book.Author{}, fmt.Errorf("storing author on db: %w", err)
	}
	return a, nil
}

func (store *InMemoryStore) GetAuthorByID(ctx context.Context, id uuid.UUID) (book.Author, error) {
	var found AdaptedAuthor
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		raw, err := txn.First("author", "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return book.ErrResponseAuthorNotFound
		}
		found = raw.(AdaptedAuthor)
		return nil
	})
	if err != nil {
		return book.Author{}, fmt.Errorf("searching author by ID: %w", err)
	}
	return adaptAuthor(found), nil
}

func adaptAuthor(adpt AdaptedAuthor) book.Author {
	return book.Author{
		ID:        uuid.MustParse(adpt.ID),
		FullName:  adpt.FullName,
		CreatedAt: adpt.CreatedAt,
		UpdatedAt: adpt.UpdatedAt,
	}
}

func (store *InMemoryStore) UpdateAuthor(ctx context.Context, a book.Author) (book.Author, error) {
	var updated AdaptedAuthor
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		raw, err := txn.First("author", "id", a.ID.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return book.ErrResponseAuthorNotFound
		}
		updated = raw.(AdaptedAuthor)
		updated.FullName = a.FullName
		updated.UpdatedAt = a.UpdatedAt
		return txn.Insert("author", updated)
	})
	if err != nil {
		return book.Author{}, fmt.Errorf("updating author on db: %w", err)
	}
	return adaptAuthor(updated), nil
}

// DeleteAuthor removes the author and detaches it from its books.
func (store *InMemoryStore) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		raw, err := txn.First("author", "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return book.ErrResponseAuthorNotFound
		}

		it, err := txn.Get("book", "author_id", id.String())
		if err != nil {
			return err
		}
		var detached []AdaptedBook
		for obj := it.Next(); obj != nil; obj = it.Next() {
			b := obj.(AdaptedBook)
			b.AuthorID = ""
			detached = append(detached, b)
		}
		for _, b := range detached {
			if err := txn.Insert("book", b); err != nil {
				return err
			}
		}
		return txn.Delete("author", raw)
	})
	if err != nil {
		return fmt.Errorf("deleting author on db: %w", err)
	}
	return nil
}

func (store *InMemoryStore) ListAuthors(ctx context.Context) ([]book.Author, error) {
	authors := []book.Author{}
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		it, err := txn.Get("author", "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			authors = append(authors, adaptAuthor(obj.(AdaptedAuthor)))
		}
		return nil
	})
	if err != nil {
		return []book.Author{}, fmt.Errorf("listing authors from db: %w", err)
	}
	sort.SliceStable(authors, func(i, j int) bool { return authors[i].FullName < authors[j].FullName })
	return authors, nil
}

// -- Members --

func adaptMember(adpt AdaptedMember) book.Member {
	return book.Member{
		ID:        uuid.MustParse(adpt.ID),
		FullName:  adpt.FullName,
		CreatedAt: adpt.CreatedAt,
	}
}

func (store *InMemoryStore) CreateMember(ctx context.Context, m book.Member) (book.Member, error) {
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		return txn.Insert("member", AdaptedMember{
			ID:        m.ID.String(),
			FullName:  m.FullName,
			CreatedAt: m.CreatedAt,
		})
	})
	if err != nil {
		return book.Member{}, fmt.Errorf("storing member on db: %w", err)
	}
	return m, nil
}

func (store *InMemoryStore) GetMemberByID(ctx context.Context, id uuid.UUID) (book.Member, error) {
	var found AdaptedMember
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		raw, err := txn.First("member", "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return book.ErrResponseMemberNotFound
		}
		found = raw.(AdaptedMember)
		return nil
	})
	if err != nil {
		return book.Member{}, fmt.Errorf("searching member by ID: %w", err)
	}
	return adaptMember(found), nil
}

func (store *InMemoryStore) GetMemberForUpdate(ctx context.Context, id uuid.UUID) (book.Member, error) {
	return store.GetMemberByID(ctx, id)
}

func (store *InMemoryStore) ListMembers(ctx context.Context) ([]book.Member, error) {
	members := []book.Member{}
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		it, err := txn.Get("member", "id")
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			members = append(members, adaptMember(obj.(AdaptedMember)))
		}
		return nil
	})
	if err != nil {
		return []book.Member{}, fmt.Errorf("listing members from db: %w", err)
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].FullName < members[j].FullName })
	return members, nil
}

// -- Loans --

func (store *InMemoryStore) CreateLoan(ctx context.Context, l book.Loan) (book.Loan, error) {
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		return txn.Insert("loan", adaptLoanIdToString(l))
	})
	if err != nil {
		return book.Loan{}, fmt.Errorf("storing loan on db: %w", err)
	}
	return l, nil
}

func (store *InMemoryStore) GetLoanByID(ctx context.Context, id uuid.UUID) (book.Loan, error) {
	var found AdaptedLoan
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		raw, err := txn.First("loan", "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil {
			return book.ErrResponseLoanNotFound
		}
		found = raw.(AdaptedLoan)
		return nil
	})
	if err != nil {
		return book.Loan{}, fmt.Errorf("searching loan by ID: %w", err)
	}
	return adaptLoanIdToUUID(found), nil
}

func (store *InMemoryStore) openLoans(ctx context.Context, memberID uuid.UUID) ([]book.Loan, error) {
	loans := []book.Loan{}
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		it, err := txn.Get("loan", "member_returned", memberID.String(), false)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			loans = append(loans, adaptLoanIdToUUID(obj.(AdaptedLoan)))
		}
		return nil
	})
	sort.SliceStable(loans, func(i, j int) bool { return loans[i].BorrowedAt.Before(loans[j].BorrowedAt) })
	return loans, err
}

func (store *InMemoryStore) CountActiveLoans(ctx context.Context, memberID uuid.UUID) (int, error) {
	loans, err := store.openLoans(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("counting active loans on db: %w", err)
	}
	return len(loans), nil
}

func (store *InMemoryStore) ListActiveLoansByMember(ctx context.Context, memberID uuid.UUID) ([]book.Loan, error) {
	loans, err := store.openLoans(ctx, memberID)
	if err != nil {
		return []book.Loan{}, fmt.Errorf("listing active loans from db: %w", err)
	}
	return loans, nil
}

func (store *InMemoryStore) MarkLoanReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (book.Loan, error) {
	var updated AdaptedLoan
	err := store.run(ctx, true, func(txn *memdb.Txn) error {
		raw, err := txn.First("loan", "id", id.String())
		if err != nil {
			return err
		}
		if raw == nil || raw.(AdaptedLoan).Returned {
			return book.ErrResponseLoanNotFound
		}
		updated = raw.(AdaptedLoan)
		updated.Returned = true
		updated.ReturnedAt = &returnedAt
		return txn.Insert("loan", updated)
	})
	if err != nil {
		return book.Loan{}, fmt.Errorf("returning loan on db: %w", err)
	}
	return adaptLoanIdToUUID(updated), nil
}

func (store *InMemoryStore) ListOverdueLoans(ctx context.Context, now time.Time) ([]book.Loan, error) {
	loans := []book.Loan{}
	err := store.run(ctx, false, func(txn *memdb.Txn) error {
		it, err := txn.Get("loan", "returned", false)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			l := adaptLoanIdToUUID(obj.(AdaptedLoan))
			if l.IsOverdue(now) {
				loans = append(loans, l)
			}
		}
		return nil
	})
	if err != nil {
		return []book.Loan{}, fmt.Errorf("listing overdue loans from db: %w", err)
	}
	sort.SliceStable(loans, func(i, j int) bool { return loans[i].DueAt.Before(loans[j].DueAt) })
	return loans, nil
}

// -- Transactions --

func (store *InMemoryStore) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	txn := store.db.Txn(true)
	return &InMemoryStore{db: store.db, txn: txn}, &TxWrapper{txn: txn}, nil
}

// TxWrapper adapts a memdb write transaction to driver.Tx. Rollback after Commit is a no-op.
type TxWrapper struct {
	txn *memdb.Txn
}

func (tx *TxWrapper) Commit() error {
	tx.txn.Commit()
	return nil
}

func (tx *TxWrapper) Rollback() error {
	tx.txn.Abort()
	return nil
}
