package app

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogentity "github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger"
	ledgerentity "github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/entity"
	reportingentity "github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

// newIntegrationApp migrates and wires the services against
// LIBRARY_TEST_DATABASE_URL, skipping when it is unset.
func newIntegrationApp(t *testing.T) *App {
	t.Helper()
	dsn := os.Getenv("LIBRARY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LIBRARY_TEST_DATABASE_URL not set")
	}
	db, err := database.ConnectX(database.Config{DSN: dsn, MaxConns: 5, Timeout: 5 * time.Second, TimeZone: "UTC"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(t.Context(), db, nil))
	// a second run must be a no-op
	require.NoError(t, Migrate(t.Context(), db, nil))

	cfg, err := config.Parse()
	require.NoError(t, err)
	cfg.Auth.Secret = "integration-secret"
	a, err := New(t.Context(), cfg, db, nil)
	require.NoError(t, err)
	return a
}

// randomISBN returns a valid ISBN-13 so reruns do not collide.
func randomISBN() string {
	digits := fmt.Sprintf("978%09d", uuid.New().ID()%1_000_000_000)
	sum := 0
	for i, c := range digits {
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return fmt.Sprintf("%s%d", digits, (10-sum%10)%10)
}

func signup(t *testing.T, a *App) int64 {
	t.Helper()
	name := "it-" + uuid.NewString()[:8]
	u, err := a.Users.Signup(t.Context(), user.SignupInput{Username: name, Email: name + "@example.com", Password: "integration-pass"})
	require.NoError(t, err)
	return u.ID
}

func TestIntegrationBorrowReturn(t *testing.T) {
	a := newIntegrationApp(t)
	ctx := t.Context()

	alice, bob := signup(t, a), signup(t, a)
	book, err := a.Catalog.CreateBook(ctx, &catalogentity.Book{ISBN: randomISBN(), Title: "Integration", Author: "Tester", TotalCopies: 1})
	require.NoError(t, err)

	rec, err := a.Ledger.Borrow(ctx, alice, book.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ledgerentity.StatusBorrowed, rec.Status)

	_, err = a.Ledger.Borrow(ctx, bob, book.ID, "")
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	_, err = a.Ledger.Borrow(ctx, alice, book.ID, "")
	assert.Error(t, err)

	returned, err := a.Ledger.Return(ctx, rec.ID, alice, "fine")
	require.NoError(t, err)
	assert.Equal(t, ledgerentity.StatusReturned, returned.Status)
	assert.True(t, returned.LateFees.IsZero())

	got, err := a.Catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)

	st, err := a.Catalog.Statistics(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalBorrowedCount)

	d, err := a.Reports.UserDashboard(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Borrowing.TotalBorrowed)
	assert.Zero(t, d.Borrowing.CurrentBorrowed)
	require.Len(t, d.History, 1)
	assert.Equal(t, rec.ID, d.History[0].RecordID)

	admin, err := a.Reports.AdminDashboard(ctx)
	require.NoError(t, err)
	actions := map[reportingentity.Action]bool{}
	for _, act := range admin.RecentActivity {
		if act.UserID == alice {
			actions[act.Action] = true
		}
	}
	assert.True(t, actions[reportingentity.ActionReturn])
}

func TestIntegrationDailyAnalytics(t *testing.T) {
	a := newIntegrationApp(t)
	day := time.Now().UTC()

	d, err := a.Reports.GenerateDailyAnalytics(t.Context(), day)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.TotalUsers, 0)

	rows, err := a.Reports.DailyReport(t.Context(), day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, d.TotalTransactions, rows[0].TotalTransactions)
}
