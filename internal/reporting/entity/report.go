package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

type Action string

const (
	ActionLogin  Action = "login"
	ActionBorrow Action = "borrow"
	ActionReturn Action = "return"
	ActionRenew  Action = "renew"
)

// Activity is one row of the user activity log.
type Activity struct {
	ID         int64            `db:"id" json:"id"`
	UserID     int64            `db:"user_id" json:"user_id"`
	Username   string           `db:"username" json:"username,omitempty"`
	Action     Action           `db:"action" json:"action"`
	Details    database.JSONMap `db:"details" json:"details"`
	OccurredAt time.Time        `db:"occurred_at" json:"occurred_at"`
}

// RankItem is a named count in a top-N list.
type RankItem struct {
	Name   string `db:"name" json:"name"`
	Author string `db:"author" json:"author,omitempty"`
	Count  int    `db:"count" json:"count"`
}

// RankList is stored as a JSONB array.
type RankList []RankItem

func (l RankList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *RankList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = RankList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("rank list: unsupported type %T", src)
	}
	out := RankList{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*l = out
	return nil
}

// DailyAnalytics is the per-date library snapshot.
type DailyAnalytics struct {
	Date              time.Time       `db:"date" json:"date"`
	TotalUsers        int             `db:"total_users" json:"total_users"`
	ActiveUsers       int             `db:"active_users" json:"active_users"`
	NewRegistrations  int             `db:"new_registrations" json:"new_registrations"`
	TotalBooks        int             `db:"total_books" json:"total_books"`
	AvailableBooks    int             `db:"available_books" json:"available_books"`
	BooksBorrowed     int             `db:"books_borrowed" json:"books_borrowed"`
	BooksReturned     int             `db:"books_returned" json:"books_returned"`
	TotalTransactions int             `db:"total_transactions" json:"total_transactions"`
	OverdueBooks      int             `db:"overdue_books" json:"overdue_books"`
	LateFeesCollected decimal.Decimal `db:"late_fees_collected" json:"late_fees_collected"`
	PopularCategories RankList        `db:"popular_categories" json:"popular_categories"`
	PopularBooks      RankList        `db:"popular_books" json:"popular_books"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Loan is a borrowing record joined with its book for dashboards.
type Loan struct {
	RecordID     string          `db:"record_id" json:"record_id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	Username     string          `db:"username" json:"username,omitempty"`
	Email        string          `db:"email" json:"email,omitempty"`
	BookID       string          `db:"book_id" json:"book_id"`
	Title        string          `db:"title" json:"title"`
	Author       string          `db:"author" json:"author"`
	ISBN         string          `db:"isbn" json:"isbn"`
	Status       string          `db:"status" json:"status"`
	BorrowDate   time.Time       `db:"borrow_date" json:"borrow_date"`
	DueDate      time.Time       `db:"due_date" json:"due_date"`
	ReturnDate   *time.Time      `db:"return_date" json:"return_date,omitempty"`
	LateFees     decimal.Decimal `db:"late_fees" json:"late_fees"`
	RenewalCount int             `db:"renewal_count" json:"renewal_count"`
	MaxRenewals  int             `db:"max_renewals" json:"max_renewals"`
	ReminderSent bool            `db:"reminder_sent" json:"reminder_sent"`

	DaysRemaining int  `db:"-" json:"days_remaining"`
	IsOverdue     bool `db:"-" json:"is_overdue"`
	CanRenew      bool `db:"-" json:"can_renew"`
}

// UserSummary is the profile block of the user dashboard.
type UserSummary struct {
	UserID         int64     `db:"user_id" json:"user_id"`
	Name           string    `db:"name" json:"name"`
	UserType       string    `db:"user_type" json:"user_type"`
	MemberSince    time.Time `db:"member_since" json:"member_since"`
	EmailVerified  bool      `db:"email_verified" json:"email_verified"`
	BaseLimit      int       `db:"base_limit" json:"-"`
	CreditScore    float64   `db:"-" json:"credit_score"`
	Rating         string    `db:"-" json:"reliability_rating"`
	BorrowingLimit int       `db:"-" json:"borrowing_limit"`
}

// BorrowingSummary aggregates one user's records.
type BorrowingSummary struct {
	CurrentBorrowed int             `db:"current_borrowed" json:"current_borrowed"`
	TotalBorrowed   int             `db:"total_borrowed" json:"total_borrowed"`
	OverdueBooks    int             `db:"overdue_books" json:"overdue_books"`
	DueSoon         int             `db:"due_soon" json:"books_due_soon"`
	TotalLateFees   decimal.Decimal `db:"total_late_fees" json:"total_late_fees"`
	OutstandingFees decimal.Decimal `db:"-" json:"outstanding_fees"`
	CanBorrowMore   bool            `db:"-" json:"can_borrow_more"`
}

type UserDashboard struct {
	User         UserSummary      `json:"user_summary"`
	Borrowing    BorrowingSummary `json:"borrowing_summary"`
	CurrentBooks []*Loan          `json:"current_books"`
	History      []*Loan          `json:"borrowing_history"`
}

// Overview is the system block of the admin dashboard.
type Overview struct {
	TotalUsers     int `db:"total_users" json:"total_users"`
	TotalBooks     int `db:"total_books" json:"total_books"`
	AvailableBooks int `db:"available_books" json:"available_books"`
	CurrentBorrows int `db:"current_borrows" json:"current_borrows"`
	OverdueBooks   int `db:"overdue_books" json:"overdue_books"`
	LowInventory   int `db:"low_inventory" json:"low_inventory"`
	OutOfStock     int `db:"out_of_stock" json:"out_of_stock"`
	NewUsersToday  int `db:"new_users_today" json:"new_users_today"`
}

type Alert struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

type AdminDashboard struct {
	Overview       Overview       `json:"system_overview"`
	Utilization    float64        `json:"utilization_pct"`
	RecentActivity []*Activity    `json:"recent_activity"`
	Alerts         []Alert        `json:"alerts"`
	TopBooks       []*PopularBook `json:"top_books"`
}

// PopularBook ranks a book by borrows inside a reporting window.
type PopularBook struct {
	BookID          string  `db:"book_id" json:"book_id"`
	Title           string  `db:"title" json:"title"`
	Author          string  `db:"author" json:"author"`
	ISBN            string  `db:"isbn" json:"isbn"`
	Category        string  `db:"category" json:"category"`
	BorrowCount     int     `db:"borrow_count" json:"borrow_count"`
	UniqueUsers     int     `db:"unique_users" json:"unique_users"`
	AvgDurationDays float64 `db:"avg_duration_days" json:"avg_duration_days"`
}

type Period struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
	Days  int       `json:"days"`
}

type PopularReport struct {
	Period      Period         `json:"report_period"`
	Books       []*PopularBook `json:"popular_books"`
	Categories  []RankItem     `json:"category_distribution"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type InventoryRow struct {
	BookID          string  `db:"book_id" json:"book_id"`
	Title           string  `db:"title" json:"title"`
	Category        string  `db:"category" json:"category"`
	TotalCopies     int     `db:"total_copies" json:"total_copies"`
	AvailableCopies int     `db:"available_copies" json:"available_copies"`
	BorrowedCopies  int     `db:"-" json:"borrowed_copies"`
	OutOfStock      bool    `db:"-" json:"out_of_stock"`
	Utilization     float64 `db:"-" json:"utilization_pct"`
}

type InventoryTotals struct {
	Books           int     `json:"books"`
	TotalCopies     int     `json:"total_copies"`
	AvailableCopies int     `json:"available_copies"`
	BorrowedCopies  int     `json:"borrowed_copies"`
	OutOfStock      int     `json:"out_of_stock"`
	Utilization     float64 `json:"utilization_pct"`
}

type InventoryReport struct {
	Totals      InventoryTotals `json:"totals"`
	Books       []*InventoryRow `json:"books"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// OverdueLoan is a Loan with fees computed at report time.
type OverdueLoan struct {
	Loan
	DaysOverdue int             `json:"days_overdue"`
	LateFee     decimal.Decimal `json:"late_fee"`
}

type Offender struct {
	UserID           int64  `json:"user_id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	OverdueCount     int    `json:"overdue_count"`
	TotalDaysOverdue int    `json:"total_days_overdue"`
}

type OverdueSummary struct {
	TotalOverdue  int             `json:"total_overdue"`
	TotalLateFees decimal.Decimal `json:"total_late_fees"`
	Buckets       map[string]int  `json:"buckets"`
}

type OverdueReport struct {
	Summary         OverdueSummary            `json:"summary"`
	ByBucket        map[string][]*OverdueLoan `json:"overdue_by_bucket"`
	RepeatOffenders []Offender                `json:"repeat_offenders"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

type TrendPoint struct {
	Day   time.Time `db:"day" json:"day"`
	Count int       `db:"count" json:"count"`
}

type TrendReport struct {
	Period          string         `json:"period"`
	Range           Period         `json:"date_range"`
	Daily           []TrendPoint   `json:"borrowing_trends"`
	Categories      []RankItem     `json:"popular_categories"`
	Books           []*PopularBook `json:"popular_books"`
	ActiveUsers     int            `json:"active_users"`
	TotalBorrows    int            `json:"total_borrows"`
	AvgDurationDays float64        `json:"avg_duration_days"`
}
