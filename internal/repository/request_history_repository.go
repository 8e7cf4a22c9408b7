package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk/internal/domain"
)

// RequestHistoryRepository reads the audit trail of a request.
// Entries are written by RequestRepository in the same transaction as the change.
type RequestHistoryRepository interface {
	ListByRequest(ctx context.Context, requestID string) ([]domain.RequestHistory, error)
}

type requestHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewRequestHistoryRepository returns a Postgres-backed implementation.
func NewRequestHistoryRepository(pool *pgxpool.Pool) RequestHistoryRepository {
	return &requestHistoryRepository{pool: pool}
}

const insertHistorySQL = `
        INSERT INTO request_history (request_id, actor_type, actor_id, action, from_status, to_status, details)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertHistory(ctx context.Context, q rowQuerier, entry *domain.RequestHistory) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	return q.QueryRow(ctx, insertHistorySQL,
		entry.RequestID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.FromStatus,
		entry.ToStatus,
		details,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *requestHistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.RequestHistory, error) {
	const query = `
        SELECT id, request_id, actor_type, actor_id, action, from_status, to_status, details, created_at
        FROM request_history WHERE request_id=$1 ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RequestHistory
	for rows.Next() {
		var entry domain.RequestHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.ActorType,
			&entry.ActorID,
			&entry.Action,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.Details,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
