package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk/internal/domain"
)

// NotificationFilter narrows a user's inbox.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository persists in-app notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, filter NotificationFilter) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a Postgres-backed implementation.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

const notificationColumns = `id, tenant_id, user_id, request_id, kind, locale, subject, body, read_at, created_at`

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	const query = `
        INSERT INTO notifications (tenant_id, user_id, request_id, kind, locale, subject, body)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		n.TenantID,
		n.UserID,
		n.RequestID,
		n.Kind,
		n.Locale,
		n.Subject,
		n.Body,
	).Scan(&n.ID, &n.CreatedAt)
}

func (r *notificationRepository) ListByUser(ctx context.Context, filter NotificationFilter) ([]domain.Notification, error) {
	where := "user_id=$1"
	if filter.UnreadOnly {
		where += " AND read_at IS NULL"
	}
	limit, offset := normalizePage(filter.Limit, filter.Offset, 50)
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		notificationColumns, where, limit, offset)

	rows, err := r.pool.Query(ctx, query, filter.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// MarkRead stamps read_at once; re-reading keeps the first timestamp.
func (r *notificationRepository) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	query := `
        UPDATE notifications SET read_at=COALESCE(read_at, NOW())
        WHERE id=$1 AND user_id=$2
        RETURNING ` + notificationColumns
	return scanNotification(r.pool.QueryRow(ctx, query, id, userID))
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	const query = `UPDATE notifications SET read_at=NOW() WHERE user_id=$1 AND read_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	if err := row.Scan(
		&n.ID,
		&n.TenantID,
		&n.UserID,
		&n.RequestID,
		&n.Kind,
		&n.Locale,
		&n.Subject,
		&n.Body,
		&n.ReadAt,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}
