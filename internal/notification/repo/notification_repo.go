package repo

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
)

const itemColumns = `id, user_id, notification_type, scheduled_for, priority, payload, attempts,
	max_attempts, is_processed, processed_at, error_message, outcome, leased_until, created_at, updated_at`

const preferenceColumns = `user_id, email_enabled, welcome, borrow_confirmation, return_confirmation,
	pre_due_reminder, overdue_notice, credit_score_updates, newsletter, reminder_days_before,
	quiet_hours_start, quiet_hours_end, updated_at`

// NotificationRepo stores the queue and preferences in Postgres.
type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo { return &NotificationRepo{db: db} }

var _ notification.Store = (*NotificationRepo)(nil)

// EnsureTable creates the queue and preference tables. It depends on users.
func (r *NotificationRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS notification_queue (
  id TEXT PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  notification_type TEXT NOT NULL,
  scheduled_for TIMESTAMPTZ NOT NULL,
  priority SMALLINT NOT NULL DEFAULT 1 CHECK (priority BETWEEN 0 AND 3),
  payload JSONB NOT NULL DEFAULT '{}'::jsonb,
  attempts INT NOT NULL DEFAULT 0,
  max_attempts INT NOT NULL DEFAULT 3,
  is_processed BOOLEAN NOT NULL DEFAULT false,
  processed_at TIMESTAMPTZ,
  error_message TEXT NOT NULL DEFAULT '',
  outcome TEXT NOT NULL DEFAULT '',
  leased_until TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notification_queue_due
  ON notification_queue(scheduled_for, priority DESC) WHERE NOT is_processed;
CREATE INDEX IF NOT EXISTS idx_notification_queue_user ON notification_queue(user_id, notification_type);
CREATE TABLE IF NOT EXISTS notification_preferences (
  user_id BIGINT PRIMARY KEY REFERENCES users(id),
  email_enabled BOOLEAN NOT NULL DEFAULT true,
  welcome BOOLEAN NOT NULL DEFAULT true,
  borrow_confirmation BOOLEAN NOT NULL DEFAULT true,
  return_confirmation BOOLEAN NOT NULL DEFAULT true,
  pre_due_reminder BOOLEAN NOT NULL DEFAULT true,
  overdue_notice BOOLEAN NOT NULL DEFAULT true,
  credit_score_updates BOOLEAN NOT NULL DEFAULT true,
  newsletter BOOLEAN NOT NULL DEFAULT false,
  reminder_days_before INT NOT NULL DEFAULT 3,
  quiet_hours_start TEXT NOT NULL DEFAULT '22:00',
  quiet_hours_end TEXT NOT NULL DEFAULT '08:00',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *NotificationRepo) Enqueue(ctx context.Context, it *entity.Item) error {
	const q = `INSERT INTO notification_queue (` + itemColumns + `)
		VALUES (:id, :user_id, :notification_type, :scheduled_for, :priority, :payload, :attempts,
		:max_attempts, :is_processed, :processed_at, :error_message, :outcome, :leased_until, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, it)
	return err
}

func (r *NotificationRepo) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*entity.Item, error) {
	const q = `WITH due AS (
		SELECT id FROM notification_queue
		WHERE NOT is_processed AND scheduled_for <= $1
		  AND (leased_until IS NULL OR leased_until < $1)
		ORDER BY scheduled_for ASC, priority DESC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	UPDATE notification_queue q SET leased_until = $2, updated_at = $1
	FROM due WHERE q.id = due.id
	RETURNING ` + qualifiedItemColumns
	out := []*entity.Item{}
	if err := r.db.SelectContext(ctx, &out, q, now, leaseUntil, limit); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].Priority > out[j].Priority
	})
	return out, nil
}

const qualifiedItemColumns = `q.id, q.user_id, q.notification_type, q.scheduled_for, q.priority, q.payload,
	q.attempts, q.max_attempts, q.is_processed, q.processed_at, q.error_message, q.outcome,
	q.leased_until, q.created_at, q.updated_at`

const saveItemSQL = `UPDATE notification_queue SET scheduled_for=:scheduled_for, attempts=:attempts,
	is_processed=:is_processed, processed_at=:processed_at, error_message=:error_message,
	outcome=:outcome, leased_until=NULL, updated_at=:updated_at
	WHERE id=:id AND leased_until IS NOT DISTINCT FROM :leased_until`

func (r *NotificationRepo) Save(ctx context.Context, it *entity.Item) error {
	res, err := r.db.NamedExecContext(ctx, saveItemSQL, it)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notification.ErrLeaseLost
	}
	return nil
}

func (r *NotificationRepo) Supersede(ctx context.Context, userID int64, t entity.Type, recordID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notification_queue
		SET is_processed=true, processed_at=$4, outcome='superseded', updated_at=$4
		WHERE user_id=$1 AND notification_type=$2 AND NOT is_processed AND payload->>'record_id' = $3`,
		userID, string(t), recordID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *NotificationRepo) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*entity.Item, error) {
	out := []*entity.Item{}
	err := r.db.SelectContext(ctx, &out, `SELECT `+itemColumns+` FROM notification_queue
		WHERE user_id=$1 ORDER BY scheduled_for DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	return out, err
}

func (r *NotificationRepo) Stats(ctx context.Context, now time.Time) (*entity.QueueStats, error) {
	var st entity.QueueStats
	err := r.db.GetContext(ctx, &st, `SELECT
		COUNT(*) FILTER (WHERE NOT is_processed) AS pending,
		COUNT(*) FILTER (WHERE NOT is_processed AND scheduled_for <= $1) AS due,
		COUNT(*) FILTER (WHERE outcome = 'sent') AS sent,
		COUNT(*) FILTER (WHERE outcome = 'failed') AS failed,
		COUNT(*) FILTER (WHERE outcome = 'suppressed') AS suppressed
		FROM notification_queue`, now)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *NotificationRepo) GetPreference(ctx context.Context, userID int64) (*entity.Preference, error) {
	var p entity.Preference
	if err := r.db.GetContext(ctx, &p, `SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id=$1`, userID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *NotificationRepo) UpsertPreference(ctx context.Context, p *entity.Preference) error {
	const q = `INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES (:user_id, :email_enabled, :welcome, :borrow_confirmation, :return_confirmation,
		:pre_due_reminder, :overdue_notice, :credit_score_updates, :newsletter, :reminder_days_before,
		:quiet_hours_start, :quiet_hours_end, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
		  email_enabled=EXCLUDED.email_enabled, welcome=EXCLUDED.welcome,
		  borrow_confirmation=EXCLUDED.borrow_confirmation, return_confirmation=EXCLUDED.return_confirmation,
		  pre_due_reminder=EXCLUDED.pre_due_reminder, overdue_notice=EXCLUDED.overdue_notice,
		  credit_score_updates=EXCLUDED.credit_score_updates, newsletter=EXCLUDED.newsletter,
		  reminder_days_before=EXCLUDED.reminder_days_before,
		  quiet_hours_start=EXCLUDED.quiet_hours_start, quiet_hours_end=EXCLUDED.quiet_hours_end,
		  updated_at=EXCLUDED.updated_at`
	_, err := r.db.NamedExecContext(ctx, q, p)
	return err
}
