package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk/internal/domain"
)

var (
	transitionSQL = regexp.QuoteMeta(`UPDATE service_requests SET`) + `.*` +
		regexp.QuoteMeta(`WHERE id=$12 AND tenant_id=$13 AND status=$14 RETURNING updated_at`)
	historySQL  = regexp.QuoteMeta(`INSERT INTO request_history`)
	reassignSQL = regexp.QuoteMeta(`WHERE status = 'assigned' AND response_deadline <= $1`) + `.*` +
		regexp.QuoteMeta(`LIMIT $2 FOR UPDATE SKIP LOCKED`)
)

func newMockRequestRepo(t *testing.T) (*requestRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newRequestRepository(mock), mock
}

func assignedRequest() *domain.ServiceRequest {
	partner := "partner-1"
	assigned := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	deadline := assigned.Add(15 * time.Minute)
	return &domain.ServiceRequest{
		ID:               "req-1",
		TenantID:         "tenant-1",
		PartnerID:        &partner,
		Status:           domain.StatusAssigned,
		AssignedAt:       &assigned,
		ResponseDeadline: &deadline,
	}
}

func transitionArgs(req *domain.ServiceRequest, expected domain.RequestStatus) []any {
	return []any{
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
	}
}

func TestTransitionUpdatesAndRecordsHistory(t *testing.T) {
	repo, mock := newMockRequestRepo(t)
	req := assignedRequest()
	updated := time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC)
	created := updated.Add(time.Millisecond)

	actor := "admin-1"
	from := domain.StatusSubmitted
	entry := &domain.RequestHistory{
		ActorType:  domain.ActorUser,
		ActorID:    &actor,
		Action:     domain.ActionAssigned,
		FromStatus: &from,
		ToStatus:   domain.StatusAssigned,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(transitionSQL).
		WithArgs(transitionArgs(req, domain.StatusSubmitted)...).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(updated))
	mock.ExpectQuery(historySQL).
		WithArgs("req-1", domain.ActorUser, &actor, domain.ActionAssigned, &from, domain.StatusAssigned, map[string]any{}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("hist-1", created))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), req, domain.StatusSubmitted, entry)
	require.NoError(t, err)
	assert.Equal(t, updated, req.UpdatedAt)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "hist-1", entry.ID)
	assert.Equal(t, created, entry.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStaleStatusRollsBack(t *testing.T) {
	repo, mock := newMockRequestRepo(t)
	req := assignedRequest()

	mock.ExpectBegin()
	mock.ExpectQuery(transitionSQL).
		WithArgs(transitionArgs(req, domain.StatusSubmitted)...).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}))
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), req, domain.StatusSubmitted, &domain.RequestHistory{
		ActorType: domain.ActorSystem,
		Action:    domain.ActionAssigned,
		ToStatus:  domain.StatusAssigned,
	})
	assert.ErrorIs(t, err, ErrStaleState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionHistoryFailureRollsBack(t *testing.T) {
	repo, mock := newMockRequestRepo(t)
	req := assignedRequest()
	boom := errors.New("insert failed")

	mock.ExpectBegin()
	mock.ExpectQuery(transitionSQL).
		WithArgs(transitionArgs(req, domain.StatusSubmitted)...).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	mock.ExpectQuery(historySQL).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), req, domain.StatusSubmitted, &domain.RequestHistory{
		ActorType: domain.ActorSystem,
		Action:    domain.ActionAssigned,
		ToStatus:  domain.StatusAssigned,
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignExpiredResetsAndRecordsTimeouts(t *testing.T) {
	repo, mock := newMockRequestRepo(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	deadlineA := now.Add(-2 * time.Minute)
	deadlineB := now.Add(-time.Minute)
	from := domain.StatusAssigned

	mock.ExpectBegin()
	mock.ExpectQuery(reassignSQL).
		WithArgs(now, 25).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "reference", "title", "customer_id", "partner_id", "response_deadline"}).
			AddRow("req-a", "tenant-1", "SR-A", "Leaking tap", "cust-1", "partner-1", deadlineA).
			AddRow("req-b", "tenant-2", "SR-B", "Broken lock", "cust-2", "partner-2", deadlineB))
	mock.ExpectQuery(historySQL).
		WithArgs("req-a", domain.ActorSystem, (*string)(nil), domain.ActionTimeout, &from, domain.StatusSubmitted, map[string]any{
			"previous_partner_id": "partner-1",
			"response_deadline":   deadlineA.Format(time.RFC3339),
		}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("hist-a", now))
	mock.ExpectQuery(historySQL).
		WithArgs("req-b", domain.ActorSystem, (*string)(nil), domain.ActionTimeout, &from, domain.StatusSubmitted, map[string]any{
			"previous_partner_id": "partner-2",
			"response_deadline":   deadlineB.Format(time.RFC3339),
		}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("hist-b", now))
	mock.ExpectCommit()

	expired, err := repo.ReassignExpired(context.Background(), now, 25)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, ExpiredAssignment{
		RequestID:         "req-a",
		TenantID:          "tenant-1",
		Reference:         "SR-A",
		Title:             "Leaking tap",
		CustomerID:        "cust-1",
		PreviousPartnerID: "partner-1",
		Deadline:          deadlineA,
	}, expired[0])
	assert.Equal(t, "partner-2", expired[1].PreviousPartnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignExpiredDefaultsLimitAndCommitsEmptyRun(t *testing.T) {
	repo, mock := newMockRequestRepo(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(reassignSQL).
		WithArgs(now, 500).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "reference", "title", "customer_id", "partner_id", "response_deadline"}))
	mock.ExpectCommit()

	expired, err := repo.ReassignExpired(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}
