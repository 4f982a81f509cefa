package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/library-service/cmd/api/book"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// SQLSTATE codes the store translates into domain errors.
const (
	pqCheckViolation      = "23514"
	pqForeignKeyViolation = "23503"
)

const dialectPostgres = "postgres"

var bookColumns = []any{"id", "title", "category", "isbn", "author_id", "copies_available", "archived", "created_at", "updated_at"}

const (
	bookReturning = `id, title, category, isbn, author_id, copies_available, archived, created_at, updated_at`
	loanReturning = `id, book_id, member_id, borrowed_at, due_at, returned, returned_at`
)

var sortColumns = map[string]string{
	"title":            "title",
	"category":         "category",
	"copies_available": "copies_available",
	"created_at":       "created_at",
	"updated_at":       "updated_at",
}

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements book.Repository on PostgreSQL. exc is the *sql.DB itself, or the *sql.Tx of a BeginTx store.
type Store struct {
	db  *sql.DB
	exc DBTX
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		exc: db,
	}
}

func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	tx, err := store.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Store{db: store.db, exc: tx}, tx, nil
}

/*
Connects to the database through a connection string and returns a valid DB object.
When schema is set every connection of the pool uses it as its search_path.
*/
func ConnectDb(connStr, schema string) (*sql.DB, error) {
	connStr, err := withSearchPath(connStr, schema)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, parsing url: %w", err)
	}

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, opening: %w", err)
	}

	err = sqlDB.Ping()
	if err != nil {
		return nil, fmt.Errorf("connecting to db, pinging: %w", err)
	}

	slog.Info("connected to database", "schema", schema)
	return sqlDB, nil
}

func withSearchPath(connStr, schema string) (string, error) {
	if schema == "" {
		return connStr, nil
	}
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return fmt.Sprintf("%s search_path='%s'", connStr, strings.ReplaceAll(schema, `'`, `\'`)), nil
}

/* Creates the schema when missing and applies every pending migration found in path. */
func MigrationUp(store *Store, path, schema string) error {
	config := &postgres.Config{}
	if schema != "" {
		_, err := store.db.Exec(`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(schema))
		if err != nil {
			return fmt.Errorf("migrating up, creating schema: %w", err)
		}
		config.SchemaName = schema
	}

	dbDriver, err := postgres.WithInstance(store.db, config)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", path),
		"postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	err = m.Up()
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}
	return nil
}

/* Translates the constraint violations the schema enforces into domain errors. */
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqCheckViolation:
		return book.ErrResponseBookUnavailable
	case pqForeignKeyViolation:
		switch pqErr.Constraint {
		case "books_author_id_fkey":
			return book.ErrResponseAuthorNotFound
		case "loans_book_id_fkey":
			return book.ErrResponseBookNotFound
		case "loans_member_id_fkey":
			return book.ErrResponseMemberNotFound
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (book.Book, error) {
	var b book.Book
	var authorID uuid.NullUUID
	err := row.Scan(&b.ID, &b.Title, &b.Category, &b.ISBN, &authorID, &b.CopiesAvailable, &b.Archived, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return book.Book{}, err
	}
	if authorID.Valid {
		b.AuthorID = &authorID.UUID
	}
	return b, nil
}

func scanLoan(row rowScanner) (book.Loan, error) {
	var l book.Loan
	var returnedAt sql.NullTime
	err := row.Scan(&l.ID, &l.BookID, &l.MemberID, &l.BorrowedAt, &l.DueAt, &l.Returned, &returnedAt)
	if err != nil {
		return book.Loan{}, err
	}
	if returnedAt.Valid {
		l.ReturnedAt = &returnedAt.Time
	}
	return l, nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// -- Books --

/* Stores the book into the database, checks and returns it if succeed. */
func (store *Store) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	INSERT INTO books (id, title, category, isbn, author_id, copies_available, archived, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING ` + bookReturning
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, bookEntry.ID, bookEntry.Title, bookEntry.Category, bookEntry.ISBN,
		nullableUUID(bookEntry.AuthorID), bookEntry.CopiesAvailable, bookEntry.Archived, bookEntry.CreatedAt, bookEntry.UpdatedAt)
	b, err := scanBook(createdRow)
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", classify(err))
	}
	return b, nil
}

func (store *Store) getBook(ctx context.Context, sqlStatement string, id uuid.UUID) (book.Book, error) {
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Book{}, fmt.Errorf("searching by ID: %w", book.ErrResponseBookNotFound)
		default:
			return book.Book{}, fmt.Errorf("searching by ID: %w", err)
		}
	}
	return b, nil
}

func (store *Store) GetBookByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	return store.getBook(ctx, `SELECT `+bookReturning+` FROM books WHERE id = $1`, id)
}

/* Reads the book and holds a row lock on it until the surrounding transaction ends. */
func (store *Store) GetBookForUpdate(ctx context.Context, id uuid.UUID) (book.Book, error) {
	return store.getBook(ctx, `SELECT `+bookReturning+` FROM books WHERE id = $1 FOR UPDATE`, id)
}

func (store *Store) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET title = $2, category = $3, isbn = $4, author_id = $5, copies_available = $6, updated_at = $7
	WHERE id = $1
	RETURNING ` + bookReturning
	updatedRow := store.exc.QueryRowContext(ctx, sqlStatement, bookEntry.ID, bookEntry.Title, bookEntry.Category, bookEntry.ISBN,
		nullableUUID(bookEntry.AuthorID), bookEntry.CopiesAvailable, bookEntry.UpdatedAt)
	b, err := scanBook(updatedRow)
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Book{}, fmt.Errorf("updating on db: %w", book.ErrResponseBookNotFound)
		default:
			return book.Book{}, fmt.Errorf("updating on db: %w", classify(err))
		}
	}
	return b, nil
}

/* Change the status of 'archived' column on database. */
func (store *Store) SetBookArchiveStatus(ctx context.Context, id uuid.UUID, archived bool) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET archived = $2, updated_at = $3
	WHERE id = $1
	RETURNING ` + bookReturning
	updatedRow := store.exc.QueryRowContext(ctx, sqlStatement, id, archived, time.Now().UTC().Round(time.Millisecond))
	b, err := scanBook(updatedRow)
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Book{}, fmt.Errorf("archiving on db: %w", book.ErrResponseBookNotFound)
		default:
			return book.Book{}, fmt.Errorf("archiving on db: %w", err)
		}
	}
	return b, nil
}

/* Moves copies_available by delta. The CHECK constraint rejects a negative result. */
func (store *Store) AdjustBookCopies(ctx context.Context, id uuid.UUID, delta int) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET copies_available = copies_available + $2
	WHERE id = $1
	RETURNING ` + bookReturning
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, id, delta))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Book{}, fmt.Errorf("adjusting copies on db: %w", book.ErrResponseBookNotFound)
		default:
			return book.Book{}, fmt.Errorf("adjusting copies on db: %w", classify(err))
		}
	}
	return b, nil
}

func booksFilter(req book.ListBooksRequest) []exp.Expression {
	where := []exp.Expression{}
	if !req.Archived {
		where = append(where, goqu.C("archived").IsFalse())
	}
	if req.Title != "" {
		where = append(where, goqu.C("title").ILike("%"+req.Title+"%"))
	}
	if req.Category != "" {
		where = append(where, goqu.C("category").ILike(req.Category))
	}
	return where
}

/* Returns filtered content of database in a list of books. */
func (store *Store) ListBooks(ctx context.Context, req book.ListBooksRequest) ([]book.Book, error) {
	sortColumn, ok := sortColumns[req.SortBy]
	if !ok {
		sortColumn = "title"
	}
	order := goqu.I(sortColumn).Asc()
	if req.SortDirection == "desc" {
		order = goqu.I(sortColumn).Desc()
	}

	sqlStatement, args, err := goqu.Dialect(dialectPostgres).
		From("books").
		Prepared(true).
		Select(bookColumns...).
		Where(booksFilter(req)...).
		Order(order, goqu.I("id").Asc()).
		Limit(uint(req.PageSize)).
		Offset(uint((req.Page - 1) * req.PageSize)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("listing books from db, building query: %w", err)
	}

	rows, err := store.exc.QueryContext(ctx, sqlStatement, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	defer rows.Close()

	bookslist := []book.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}
		bookslist = append(bookslist, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	return bookslist, nil
}

/* Counts how many rows in db fit the specified filter parameters. */
func (store *Store) ListBooksTotals(ctx context.Context, req book.ListBooksRequest) (int, error) {
	sqlStatement, args, err := goqu.Dialect(dialectPostgres).
		From("books").
		Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(booksFilter(req)...).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("counting books from db, building query: %w", err)
	}

	var count int
	err = store.exc.QueryRowContext(ctx, sqlStatement, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting books from db: %w", err)
	}
	return count, nil
}

// -- Authors --

func scanAuthor(row rowScanner) (book.Author, error) {
	var a book.Author
	err := row.Scan(&a.ID, &a.FullName, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (store *Store) CreateAuthor(ctx context.Context, a book.Author) (book.Author, error) {
	sqlStatement := `
	INSERT INTO authors (id, full_name, created_at, updated_at)
	VALUES ($1, $2, $3, $4)
	RETURNING id, full_name, created_at, updated_at`
	created, err := scanAuthor(store.exc.QueryRowContext(ctx, sqlStatement, a.ID, a.FullName, a.CreatedAt, a.UpdatedAt))
	if err != nil {
		return book.Author{}, fmt.Errorf("storing author on db: %w", err)
	}
	return created, nil
}

func (store *Store) GetAuthorByID(ctx context.Context, id uuid.UUID) (book.Author, error) {
	sqlStatement := `SELECT id, full_name, created_at, updated_at FROM authors WHERE id = $1`
	a, err := scanAuthor(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Author{}, fmt.Errorf("searching author by ID: %w", book.ErrResponseAuthorNotFound)
		default:
			return book.Author{}, fmt.Errorf("searching author by ID: %w", err)
		}
	}
	return a, nil
}

func (store *Store) UpdateAuthor(ctx context.Context, a book.Author) (book.Author, error) {
	sqlStatement := `
	UPDATE authors
	SET full_name = $2, updated_at = $3
	WHERE id = $1
	RETURNING id, full_name, created_at, updated_at`
	updated, err := scanAuthor(store.exc.QueryRowContext(ctx, sqlStatement, a.ID, a.FullName, a.UpdatedAt))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Author{}, fmt.Errorf("updating author on db: %w", book.ErrResponseAuthorNotFound)
		default:
			return book.Author{}, fmt.Errorf("updating author on db: %w", err)
		}
	}
	return updated, nil
}

/* Deletes the author; the foreign key detaches its books (ON DELETE SET NULL). */
func (store *Store) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	result, err := store.exc.ExecContext(ctx, `DELETE FROM authors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting author on db: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting author on db: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("deleting author on db: %w", book.ErrResponseAuthorNotFound)
	}
	return nil
}

func (store *Store) ListAuthors(ctx context.Context) ([]book.Author, error) {
	rows, err := store.exc.QueryContext(ctx, `SELECT id, full_name, created_at, updated_at FROM authors ORDER BY full_name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", err)
	}
	defer rows.Close()

	authors := []book.Author{}
	for rows.Next() {
		a, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("listing authors from db: %w", err)
		}
		authors = append(authors, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("listing authors from db: %w", err)
	}
	return authors, nil
}

// -- Members --

func scanMember(row rowScanner) (book.Member, error) {
	var m book.Member
	err := row.Scan(&m.ID, &m.FullName, &m.CreatedAt)
	return m, err
}

func (store *Store) CreateMember(ctx context.Context, m book.Member) (book.Member, error) {
	sqlStatement := `
	INSERT INTO members (id, full_name, created_at)
	VALUES ($1, $2, $3)
	RETURNING id, full_name, created_at`
	created, err := scanMember(store.exc.QueryRowContext(ctx, sqlStatement, m.ID, m.FullName, m.CreatedAt))
	if err != nil {
		return book.Member{}, fmt.Errorf("storing member on db: %w", err)
	}
	return created, nil
}

func (store *Store) getMember(ctx context.Context, sqlStatement string, id uuid.UUID) (book.Member, error) {
	m, err := scanMember(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Member{}, fmt.Errorf("searching member by ID: %w", book.ErrResponseMemberNotFound)
		default:
			return book.Member{}, fmt.Errorf("searching member by ID: %w", err)
		}
	}
	return m, nil
}

func (store *Store) GetMemberByID(ctx context.Context, id uuid.UUID) (book.Member, error) {
	return store.getMember(ctx, `SELECT id, full_name, created_at FROM members WHERE id = $1`, id)
}

/* Reads the member and holds a row lock on it, serializing the borrows of one member. */
func (store *Store) GetMemberForUpdate(ctx context.Context, id uuid.UUID) (book.Member, error) {
	return store.getMember(ctx, `SELECT id, full_name, created_at FROM members WHERE id = $1 FOR UPDATE`, id)
}

func (store *Store) ListMembers(ctx context.Context) ([]book.Member, error) {
	rows, err := store.exc.QueryContext(ctx, `SELECT id, full_name, created_at FROM members ORDER BY full_name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing members from db: %w", err)
	}
	defer rows.Close()

	members := []book.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("listing members from db: %w", err)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("listing members from db: %w", err)
	}
	return members, nil
}

// -- Loans --

func (store *Store) CreateLoan(ctx context.Context, l book.Loan) (book.Loan, error) {
	sqlStatement := `
	INSERT INTO loans (id, book_id, member_id, borrowed_at, due_at, returned)
	VALUES ($1, $2, $3, $4, $5, FALSE)
	RETURNING ` + loanReturning
	created, err := scanLoan(store.exc.QueryRowContext(ctx, sqlStatement, l.ID, l.BookID, l.MemberID, l.BorrowedAt, l.DueAt))
	if err != nil {
		return book.Loan{}, fmt.Errorf("storing loan on db: %w", classify(err))
	}
	return created, nil
}

func (store *Store) GetLoanByID(ctx context.Context, id uuid.UUID) (book.Loan, error) {
	l, err := scanLoan(store.exc.QueryRowContext(ctx, `SELECT `+loanReturning+` FROM loans WHERE id = $1`, id))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Loan{}, fmt.Errorf("searching loan by ID: %w", book.ErrResponseLoanNotFound)
		default:
			return book.Loan{}, fmt.Errorf("searching loan by ID: %w", err)
		}
	}
	return l, nil
}

func (store *Store) CountActiveLoans(ctx context.Context, memberID uuid.UUID) (int, error) {
	var count int
	err := store.exc.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE member_id = $1 AND returned = FALSE`, memberID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active loans on db: %w", err)
	}
	return count, nil
}

/*
Closes the loan only if it is still open. Two concurrent returns race on the same row
and the loser finds no open loan.
*/
func (store *Store) MarkLoanReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (book.Loan, error) {
	sqlStatement := `
	UPDATE loans
	SET returned = TRUE, returned_at = $2
	WHERE id = $1 AND returned = FALSE
	RETURNING ` + loanReturning
	l, err := scanLoan(store.exc.QueryRowContext(ctx, sqlStatement, id, returnedAt))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return book.Loan{}, fmt.Errorf("returning loan on db: %w", book.ErrResponseLoanNotFound)
		default:
			return book.Loan{}, fmt.Errorf("returning loan on db: %w", err)
		}
	}
	return l, nil
}

func (store *Store) listLoans(ctx context.Context, sqlStatement string, args ...any) ([]book.Loan, error) {
	rows, err := store.exc.QueryContext(ctx, sqlStatement, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := []book.Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (store *Store) ListActiveLoansByMember(ctx context.Context, memberID uuid.UUID) ([]book.Loan, error) {
	loans, err := store.listLoans(ctx,
		`SELECT `+loanReturning+` FROM loans WHERE member_id = $1 AND returned = FALSE ORDER BY borrowed_at`, memberID)
	if err != nil {
		return nil, fmt.Errorf("listing active loans from db: %w", err)
	}
	return loans, nil
}

func (store *Store) ListOverdueLoans(ctx context.Context, now time.Time) ([]book.Loan, error) {
	loans, err := store.listLoans(ctx,
		`SELECT `+loanReturning+` FROM loans WHERE returned = FALSE AND due_at < $1 ORDER BY due_at`, now)
	if err != nil {
		return nil, fmt.Errorf("listing overdue loans from db: %w", err)
	}
	return loans, nil
}
