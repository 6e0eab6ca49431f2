package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/app"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-library-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

// runtime connects lazily so --help and argument errors need no database.
type runtime struct {
	logger *zap.SugaredLogger
	db     *sqlx.DB
	app    *app.App
}

func (r *runtime) open(ctx context.Context) error {
	if r.db != nil {
		return nil
	}
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	r.logger = lg.Sugar()
	if r.db, err = database.ConnectX(database.ConfigFromEnv()); err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	return nil
}

func (r *runtime) services(ctx context.Context) (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	if err := r.open(ctx); err != nil {
		return nil, err
	}
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	if r.app, err = app.New(ctx, cfg, r.db, r.logger); err != nil {
		return nil, err
	}
	return r.app, nil
}

func (r *runtime) close() {
	if r.logger != nil {
		_ = r.logger.Sync()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Maintenance commands for the library service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			rt.close()
		},
	}
	root.AddCommand(
		migrateCmd(rt),
		sweepCmd(rt),
		jobCmd(rt, "dispatch", "Deliver due notifications once", app.Jobs.Dispatch),
		statsCmd(rt),
		scoresCmd(rt),
		analyticsCmd(rt),
		usersCmd(rt),
	)
	return root
}

func migrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.open(cmd.Context()); err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), rt.db, rt.logger)
		},
	}
}

// jobCmd runs one of the scheduled jobs in the foreground.
func jobCmd(rt *runtime, use, short string, job func(app.Jobs, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			return job(a.Jobs(), cmd.Context())
		},
	}
}

func sweepCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{Use: "sweep", Short: "Run the borrowing record sweeps"}
	cmd.AddCommand(
		jobCmd(rt, "overdue", "Mark records past their due date overdue", app.Jobs.SweepOverdue),
		jobCmd(rt, "lost", "Mark long overdue records lost", app.Jobs.SweepLost),
	)
	return cmd
}

func statsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{Use: "stats", Short: "Book statistics"}
	cmd.AddCommand(jobCmd(rt, "refresh", "Recompute statistics for every book", app.Jobs.RefreshStatistics))
	return cmd
}

func scoresCmd(rt *runtime) *cobra.Command {
	var userID int64
	recompute := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute credit scores for all users, or one with --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if userID == 0 {
				return a.Jobs().RecomputeScores(cmd.Context())
			}
			cs, err := a.Scores.Recompute(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cs)
		},
	}
	recompute.Flags().Int64Var(&userID, "user", 0, "recompute a single user")

	cmd := &cobra.Command{Use: "scores", Short: "Credit scores"}
	cmd.AddCommand(
		recompute,
		jobCmd(rt, "at-risk", "Warn users whose score and overdue books put them at risk", app.Jobs.AtRisk),
	)
	return cmd
}

func analyticsCmd(rt *runtime) *cobra.Command {
	var date string
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Generate the daily analytics snapshot (default yesterday, UTC)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(date, time.Now().UTC().AddDate(0, 0, -1))
			if err != nil {
				return err
			}
			a, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			d, err := a.Reports.GenerateDailyAnalytics(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	daily.Flags().StringVar(&date, "date", "", "day to snapshot, YYYY-MM-DD")

	cmd := &cobra.Command{Use: "analytics", Short: "Reporting snapshots"}
	cmd.AddCommand(daily, jobCmd(rt, "low-inventory", "Alert admins about books running short", app.Jobs.LowInventory))
	return cmd
}

func usersCmd(rt *runtime) *cobra.Command {
	var in user.SignupInput
	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			in.UserType = userentity.TypeAdmin
			in.AllowAdmin = true
			u, err := a.Users.Signup(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
	createAdmin.Flags().StringVar(&in.Username, "username", "", "login name")
	createAdmin.Flags().StringVar(&in.Email, "email", "", "email address")
	createAdmin.Flags().StringVar(&in.Password, "password", "", "initial password, at least 8 characters")
	_ = createAdmin.MarkFlagRequired("password")

	cmd := &cobra.Command{Use: "users", Short: "User accounts"}
	cmd.AddCommand(createAdmin)
	return cmd
}

func parseDay(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD")
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
