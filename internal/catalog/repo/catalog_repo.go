package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

const bookColumns = `id, isbn, title, author, category_id, publisher, publication_year,
	description, location, total_copies, available_copies, is_active, created_at, updated_at`

// CatalogRepo stores books, categories and book statistics.
type CatalogRepo struct {
	db *sqlx.DB
}

func NewCatalogRepo(db *sqlx.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// EnsureTable creates the catalog tables if they do not exist.
func (r *CatalogRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS categories (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  parent_id BIGINT REFERENCES categories(id),
  is_active BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS books (
  id TEXT PRIMARY KEY,
  isbn TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL,
  author TEXT NOT NULL,
  category_id BIGINT REFERENCES categories(id),
  publisher TEXT NOT NULL DEFAULT '',
  publication_year INT,
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  total_copies INT NOT NULL DEFAULT 1 CHECK (total_copies >= 0),
  available_copies INT NOT NULL DEFAULT 1 CHECK (available_copies >= 0 AND available_copies <= total_copies),
  is_active BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);
CREATE INDEX IF NOT EXISTS idx_books_author ON books(author);
CREATE INDEX IF NOT EXISTS idx_books_category ON books(category_id);
CREATE TABLE IF NOT EXISTS book_statistics (
  book_id TEXT PRIMARY KEY REFERENCES books(id),
  total_borrowed_count INT NOT NULL DEFAULT 0,
  current_borrowed_count INT NOT NULL DEFAULT 0,
  average_borrowing_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
  popularity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_borrowed_date TIMESTAMPTZ,
  last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_book_statistics_popularity ON book_statistics(popularity_score DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *CatalogRepo) CreateBook(ctx context.Context, b *entity.Book) error {
	const q = `INSERT INTO books (id, isbn, title, author, category_id, publisher, publication_year,
		description, location, total_copies, available_copies, is_active, created_at, updated_at)
		VALUES (:id, :isbn, :title, :author, :category_id, :publisher, :publication_year,
		:description, :location, :total_copies, :available_copies, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, b)
	return err
}

func (r *CatalogRepo) GetBook(ctx context.Context, id string) (*entity.Book, error) {
	var b entity.Book
	if err := r.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

const (
	lockBookSQL   = `SELECT ` + bookColumns + ` FROM books WHERE id=$1 FOR UPDATE`
	updateBookSQL = `UPDATE books SET title=:title, author=:author, category_id=:category_id,
		publisher=:publisher, publication_year=:publication_year, description=:description,
		location=:location, total_copies=:total_copies, available_copies=:available_copies,
		is_active=:is_active, updated_at=:updated_at WHERE id=:id`
	deactivateBookSQL = `UPDATE books SET is_active=false, updated_at=$2 WHERE id=$1`
)

// UpdateBook holds the row lock the ledger takes on borrow and return, so
// an edit never writes back stale copy counts.
func (r *CatalogRepo) UpdateBook(ctx context.Context, id string, fn func(b *entity.Book) error) (*entity.Book, error) {
	var out *entity.Book
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var b entity.Book
		if err := tx.GetContext(ctx, &b, lockBookSQL, id); err != nil {
			return err
		}
		if err := fn(&b); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, updateBookSQL, &b); err != nil {
			return err
		}
		out = &b
		return nil
	})
	return out, err
}

func (r *CatalogRepo) DeactivateBook(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, deactivateBookSQL, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SearchBooks builds the filter with goqu so optional predicates compose.
func (r *CatalogRepo) SearchBooks(ctx context.Context, f catalog.Filter) ([]*entity.Book, error) {
	q, args, err := searchQuery(f).ToSQL()
	if err != nil {
		return nil, err
	}
	books := []*entity.Book{}
	if err := r.db.SelectContext(ctx, &books, q, args...); err != nil {
		return nil, err
	}
	return books, nil
}

func searchQuery(f catalog.Filter) *goqu.SelectDataset {
	ds := goqu.Dialect("postgres").
		From("books").
		Prepared(true).
		Select(goqu.L(bookColumns)).
		Where(goqu.C("is_active").IsTrue()).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	if f.Query != "" {
		like := "%" + f.Query + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").ILike(like),
			goqu.C("author").ILike(like),
			goqu.C("isbn").ILike(like),
			goqu.C("description").ILike(like),
		))
	}
	if f.Title != "" {
		ds = ds.Where(goqu.C("title").ILike("%" + f.Title + "%"))
	}
	if f.Author != "" {
		ds = ds.Where(goqu.C("author").ILike("%" + f.Author + "%"))
	}
	if f.ISBN != "" {
		ds = ds.Where(goqu.C("isbn").Eq(f.ISBN))
	}
	if f.CategoryID != nil {
		ds = ds.Where(goqu.C("category_id").Eq(*f.CategoryID))
	}
	if f.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	return ds
}

func (r *CatalogRepo) ListBookIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM books WHERE is_active ORDER BY id`)
	return ids, err
}

func (r *CatalogRepo) CreateCategory(ctx context.Context, c *entity.Category) error {
	const q = `INSERT INTO categories (name, description, parent_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return r.db.QueryRowxContext(ctx, q, c.Name, c.Description, c.ParentID, c.IsActive, c.CreatedAt).Scan(&c.ID)
}

func (r *CatalogRepo) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	out := []*entity.Category{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, name, description, parent_id, is_active, created_at FROM categories WHERE is_active ORDER BY name`)
	return out, err
}

func (r *CatalogRepo) BorrowWindows(ctx context.Context, bookID string) ([]catalog.BorrowWindow, error) {
	const q = `SELECT borrow_date, return_date, status IN ('borrowed','overdue','renewed') AS active
		FROM borrowing_records WHERE book_id=$1`
	out := []catalog.BorrowWindow{}
	err := r.db.SelectContext(ctx, &out, q, bookID)
	return out, err
}

func (r *CatalogRepo) UpsertStatistics(ctx context.Context, st *entity.Statistics) error {
	const q = `INSERT INTO book_statistics (book_id, total_borrowed_count, current_borrowed_count,
		average_borrowing_duration, popularity_score, last_borrowed_date, last_updated)
		VALUES (:book_id, :total_borrowed_count, :current_borrowed_count,
		:average_borrowing_duration, :popularity_score, :last_borrowed_date, :last_updated)
		ON CONFLICT (book_id) DO UPDATE SET
		  total_borrowed_count = EXCLUDED.total_borrowed_count,
		  current_borrowed_count = EXCLUDED.current_borrowed_count,
		  average_borrowing_duration = EXCLUDED.average_borrowing_duration,
		  popularity_score = EXCLUDED.popularity_score,
		  last_borrowed_date = EXCLUDED.last_borrowed_date,
		  last_updated = EXCLUDED.last_updated`
	_, err := r.db.NamedExecContext(ctx, q, st)
	return err
}

func (r *CatalogRepo) GetStatistics(ctx context.Context, bookID string) (*entity.Statistics, error) {
	var st entity.Statistics
	err := r.db.GetContext(ctx, &st, `SELECT book_id, total_borrowed_count, current_borrowed_count,
		average_borrowing_duration, popularity_score, last_borrowed_date, last_updated
		FROM book_statistics WHERE book_id=$1`, bookID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *CatalogRepo) Popular(ctx context.Context, limit int) ([]*entity.PopularBook, error) {
	const q = `SELECT b.id, b.isbn, b.title, b.author, b.category_id, b.publisher, b.publication_year,
		b.description, b.location, b.total_copies, b.available_copies, b.is_active, b.created_at, b.updated_at,
		s.total_borrowed_count, s.popularity_score
		FROM books b JOIN book_statistics s ON s.book_id = b.id
		WHERE b.is_active
		ORDER BY s.popularity_score DESC, s.total_borrowed_count DESC, b.id
		LIMIT $1`
	out := []*entity.PopularBook{}
	err := r.db.SelectContext(ctx, &out, q, limit)
	return out, err
}

func (r *CatalogRepo) LowInventory(ctx context.Context, ratio float64) ([]*entity.Book, error) {
	const q = `SELECT ` + bookColumns + ` FROM books
		WHERE is_active AND total_copies > 0
		  AND available_copies::float8 / total_copies < $1
		ORDER BY available_copies::float8 / total_copies, id`
	out := []*entity.Book{}
	err := r.db.SelectContext(ctx, &out, q, ratio)
	return out, err
}
