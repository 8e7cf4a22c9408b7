package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/observability"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

const timeoutLockKey = "servicedesk:lock:assignment-timeouts"

// Locker provides a cluster wide lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error)
}

// TimeoutDependencies bundles collaborators of the timeout check.
type TimeoutDependencies struct {
	RequestRepo repository.RequestRepository
	Locker      Locker
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	LockTTL     time.Duration
	BatchSize   int
	Clock       func() time.Time
}

// ReassignedRequest is one request returned to the unassigned pool.
type ReassignedRequest struct {
	ID                string
	TenantID          string
	Reference         string
	PreviousPartnerID string
}

// TimeoutReport summarizes one check run.
type TimeoutReport struct {
	CheckedAt  time.Time
	Skipped    bool
	Reassigned []ReassignedRequest
}

// TimeoutService reclaims assignments whose response window elapsed.
type TimeoutService struct {
	requests  repository.RequestRepository
	locker    Locker
	events    events.Dispatcher
	metrics   *observability.Metrics
	logger    *zap.Logger
	lockTTL   time.Duration
	batchSize int
	now       func() time.Time
}

// NewTimeoutService creates the service.
func NewTimeoutService(deps TimeoutDependencies) *TimeoutService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	return &TimeoutService{
		requests:  deps.RequestRepo,
		locker:    deps.Locker,
		events:    deps.Dispatcher,
		metrics:   deps.Metrics,
		logger:    logger,
		lockTTL:   lockTTL,
		batchSize: deps.BatchSize,
		now:       clock,
	}
}

// CheckExpired returns every expired assignment to the pool. Concurrent runs
// on other replicas are skipped while one holds the lock.
func (s *TimeoutService) CheckExpired(ctx context.Context) (*TimeoutReport, error) {
	report := &TimeoutReport{CheckedAt: s.now().UTC(), Reassigned: []ReassignedRequest{}}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, timeoutLockKey, s.lockTTL)
		if err != nil {
			s.metrics.RecordTimeoutRun("error", 0)
			return nil, apperrors.NewInternalError(err)
		}
		if !ok {
			s.metrics.RecordTimeoutRun("skipped", 0)
			s.logger.Info("assignment timeout check already running elsewhere")
			report.Skipped = true
			return report, nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			release(releaseCtx)
		}()
	}

	expired, err := s.requests.ReassignExpired(ctx, report.CheckedAt, s.batchSize)
	if err != nil {
		s.metrics.RecordTimeoutRun("error", 0)
		return nil, apperrors.MapError(err)
	}

	for _, item := range expired {
		report.Reassigned = append(report.Reassigned, ReassignedRequest{
			ID:                item.RequestID,
			TenantID:          item.TenantID,
			Reference:         item.Reference,
			PreviousPartnerID: item.PreviousPartnerID,
		})
		s.metrics.RecordTransition(string(domain.StatusAssigned), string(domain.StatusSubmitted))
		s.publishExpired(ctx, report.CheckedAt, item)
	}

	s.metrics.RecordTimeoutRun("ok", len(expired))
	if len(expired) > 0 {
		s.logger.Info("reassigned expired assignments", zap.Int("count", len(expired)))
	}
	return report, nil
}

func (s *TimeoutService) publishExpired(ctx context.Context, at time.Time, item repository.ExpiredAssignment) {
	if s.events == nil {
		return
	}
	previous := item.PreviousPartnerID
	deadline := item.Deadline
	_ = s.events.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventRequestAssignmentExpired,
		TenantID:  item.TenantID,
		RequestID: item.RequestID,
		Actor:     events.SystemActor,
		Timestamp: at,
		Payload: events.RequestPayload{
			Reference:         item.Reference,
			Title:             item.Title,
			CustomerID:        item.CustomerID,
			PreviousPartnerID: &previous,
			FromStatus:        domain.StatusAssigned,
			ToStatus:          domain.StatusSubmitted,
			ResponseDeadline:  &deadline,
		},
	})
}
