package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk/internal/domain"
)

// ErrStaleState is returned when a conditional transition finds the request
// no longer in the expected status.
var ErrStaleState = errors.New("service request changed concurrently")

// RequestFilter narrows request listings. TenantID is always required.
type RequestFilter struct {
	TenantID   string
	CustomerID string
	PartnerID  string
	Statuses   []domain.RequestStatus
	Priorities []domain.RequestPriority
	Search     string
	Limit      int
	Offset     int
}

// ExpiredAssignment describes a request reclaimed by the timeout check.
type ExpiredAssignment struct {
	RequestID         string
	TenantID          string
	Reference         string
	Title             string
	CustomerID        string
	PreviousPartnerID string
	Deadline          time.Time
}

// RequestRepository persists service requests together with their history.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.ServiceRequest, entry *domain.RequestHistory) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.ServiceRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, error)
	Transition(ctx context.Context, req *domain.ServiceRequest, expected domain.RequestStatus, entry *domain.RequestHistory) error
	ReassignExpired(ctx context.Context, now time.Time, limit int) ([]ExpiredAssignment, error)
}

// txBeginner is the subset of *pgxpool.Pool the request repository needs.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type requestRepository struct {
	pool txBeginner
}

// NewRequestRepository returns a Postgres-backed implementation.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return newRequestRepository(pool)
}

func newRequestRepository(pool txBeginner) *requestRepository {
	return &requestRepository{pool: pool}
}

const requestColumns = `id, tenant_id, reference, customer_id, partner_id, title, description, category,
        priority, status, assigned_at, response_deadline, responded_at, rejection_reason,
        started_at, completed_at, closed_at, cancelled_at, timeout_count, created_at, updated_at`

func (r *requestRepository) Create(ctx context.Context, req *domain.ServiceRequest, entry *domain.RequestHistory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO service_requests (tenant_id, reference, customer_id, title, description, category, priority, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, query,
		req.TenantID,
		req.Reference,
		req.CustomerID,
		req.Title,
		req.Description,
		req.Category,
		req.Priority,
		req.Status,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return err
	}

	if entry != nil {
		entry.RequestID = req.ID
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *requestRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE tenant_id=$1 AND id=$2`
	return scanRequest(r.pool.QueryRow(ctx, query, tenantID, id))
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, error) {
	args := []any{filter.TenantID}
	clauses := []string{"tenant_id=$1"}

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.PartnerID != "" {
		args = append(args, filter.PartnerID)
		clauses = append(clauses, fmt.Sprintf("partner_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Priorities) > 0 {
		priorities := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			priorities[i] = string(p)
		}
		args = append(args, priorities)
		clauses = append(clauses, fmt.Sprintf("priority = ANY($%d)", len(args)))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR reference ILIKE $%d OR description ILIKE $%d)", n, n, n))
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset, 50)
	query := fmt.Sprintf(`SELECT %s FROM service_requests WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		requestColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

// Transition writes the mutable fields of req only if the stored status still
// equals expected, and appends entry in the same transaction.
func (r *requestRepository) Transition(ctx context.Context, req *domain.ServiceRequest, expected domain.RequestStatus, entry *domain.RequestHistory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        UPDATE service_requests SET
            partner_id=$1, status=$2, assigned_at=$3, response_deadline=$4, responded_at=$5,
            rejection_reason=$6, started_at=$7, completed_at=$8, closed_at=$9, cancelled_at=$10,
            timeout_count=$11, updated_at=NOW()
        WHERE id=$12 AND tenant_id=$13 AND status=$14
        RETURNING updated_at`
	err = tx.QueryRow(ctx, query,
		req.PartnerID,
		req.Status,
		req.AssignedAt,
		req.ResponseDeadline,
		req.RespondedAt,
		req.RejectionReason,
		req.StartedAt,
		req.CompletedAt,
		req.ClosedAt,
		req.CancelledAt,
		req.TimeoutCount,
		req.ID,
		req.TenantID,
		expected,
	).Scan(&req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStaleState
	}
	if err != nil {
		return err
	}

	if entry != nil {
		entry.RequestID = req.ID
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReassignExpired returns every assignment whose response deadline has passed
// to the unassigned pool. Rows locked by a concurrent confirm or reject are
// skipped and picked up on the next run once they are still assigned.
func (r *requestRepository) ReassignExpired(ctx context.Context, now time.Time, limit int) ([]ExpiredAssignment, error) {
	if limit <= 0 {
		limit = 500
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        WITH expired AS (
            SELECT id, partner_id, response_deadline
            FROM service_requests
            WHERE status = 'assigned' AND response_deadline <= $1
            ORDER BY response_deadline
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        UPDATE service_requests r SET
            status = 'submitted',
            partner_id = NULL,
            assigned_at = NULL,
            response_deadline = NULL,
            timeout_count = r.timeout_count + 1,
            updated_at = NOW()
        FROM expired e
        WHERE r.id = e.id
        RETURNING r.id, r.tenant_id, r.reference, r.title, r.customer_id, e.partner_id, e.response_deadline`

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	var expired []ExpiredAssignment
	for rows.Next() {
		var item ExpiredAssignment
		if err := rows.Scan(
			&item.RequestID,
			&item.TenantID,
			&item.Reference,
			&item.Title,
			&item.CustomerID,
			&item.PreviousPartnerID,
			&item.Deadline,
		); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	from := domain.StatusAssigned
	for _, item := range expired {
		entry := &domain.RequestHistory{
			RequestID:  item.RequestID,
			ActorType:  domain.ActorSystem,
			Action:     domain.ActionTimeout,
			FromStatus: &from,
			ToStatus:   domain.StatusSubmitted,
			Details: map[string]any{
				"previous_partner_id": item.PreviousPartnerID,
				"response_deadline":   item.Deadline.UTC().Format(time.RFC3339),
			},
		}
		if err := insertHistory(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func scanRequest(row pgx.Row) (*domain.ServiceRequest, error) {
	var req domain.ServiceRequest
	if err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.Reference,
		&req.CustomerID,
		&req.PartnerID,
		&req.Title,
		&req.Description,
		&req.Category,
		&req.Priority,
		&req.Status,
		&req.AssignedAt,
		&req.ResponseDeadline,
		&req.RespondedAt,
		&req.RejectionReason,
		&req.StartedAt,
		&req.CompletedAt,
		&req.ClosedAt,
		&req.CancelledAt,
		&req.TimeoutCount,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &req, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
