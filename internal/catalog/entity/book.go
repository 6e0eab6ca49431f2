package entity

import "time"

// Book is a catalog title with its copy counts. available_copies is kept in
// [0, total_copies] on every write.
type Book struct {
	ID              string    `db:"id" json:"id"`
	ISBN            string    `db:"isbn" json:"isbn"`
	Title           string    `db:"title" json:"title"`
	Author          string    `db:"author" json:"author"`
	CategoryID      *int64    `db:"category_id" json:"category_id,omitempty"`
	Publisher       string    `db:"publisher" json:"publisher"`
	PublicationYear *int      `db:"publication_year" json:"publication_year,omitempty"`
	Description     string    `db:"description" json:"description"`
	Location        string    `db:"location" json:"location"`
	TotalCopies     int       `db:"total_copies" json:"total_copies"`
	AvailableCopies int       `db:"available_copies" json:"available_copies"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ClampCopies enforces total >= 1 and 0 <= available <= total.
func (b *Book) ClampCopies() {
	if b.TotalCopies < 1 {
		b.TotalCopies = 1
	}
	if b.AvailableCopies < 0 {
		b.AvailableCopies = 0
	}
	if b.AvailableCopies > b.TotalCopies {
		b.AvailableCopies = b.TotalCopies
	}
}

// IsAvailable reports whether a copy can be lent right now.
func (b *Book) IsAvailable() bool {
	return b.IsActive && b.AvailableCopies > 0
}

// Category groups books; ParentID allows one level of nesting or more.
type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	ParentID    *int64    `db:"parent_id" json:"parent_id,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Statistics is derived from the ledger and refreshed after borrow and return.
type Statistics struct {
	BookID                   string     `db:"book_id" json:"book_id"`
	TotalBorrowedCount       int        `db:"total_borrowed_count" json:"total_borrowed_count"`
	CurrentBorrowedCount     int        `db:"current_borrowed_count" json:"current_borrowed_count"`
	AverageBorrowingDuration float64    `db:"average_borrowing_duration" json:"average_borrowing_duration"`
	PopularityScore          float64    `db:"popularity_score" json:"popularity_score"`
	LastBorrowedDate         *time.Time `db:"last_borrowed_date" json:"last_borrowed_date,omitempty"`
	LastUpdated              time.Time  `db:"last_updated" json:"last_updated"`
}

// PopularBook is a book joined with its statistics.
type PopularBook struct {
	Book
	TotalBorrowedCount int     `db:"total_borrowed_count" json:"total_borrowed_count"`
	PopularityScore    float64 `db:"popularity_score" json:"popularity_score"`
}
