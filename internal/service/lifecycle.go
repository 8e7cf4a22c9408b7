package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/observability"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

// CodeResponseWindowElapsed is returned when a partner answers after the deadline.
const CodeResponseWindowElapsed = "RESPONSE_WINDOW_ELAPSED"

// LifecycleDependencies bundles what request and assignment services share.
type LifecycleDependencies struct {
	RequestRepo    repository.RequestRepository
	HistoryRepo    repository.RequestHistoryRepository
	UserRepo       repository.UserRepository
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	ResponseWindow time.Duration
	Clock          func() time.Time
}

// lifecycle applies state machine moves and persists them with history and events.
type lifecycle struct {
	requests repository.RequestRepository
	history  repository.RequestHistoryRepository
	users    repository.UserRepository
	events   events.Dispatcher
	metrics  *observability.Metrics
	logger   *zap.Logger
	window   time.Duration
	now      func() time.Time
}

func newLifecycle(deps LifecycleDependencies) lifecycle {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := deps.ResponseWindow
	if window <= 0 {
		window = domain.DefaultResponseWindow
	}
	return lifecycle{
		requests: deps.RequestRepo,
		history:  deps.HistoryRepo,
		users:    deps.UserRepo,
		events:   deps.Dispatcher,
		metrics:  deps.Metrics,
		logger:   logger,
		window:   window,
		now:      clock,
	}
}

// move is one lifecycle step requested by a user.
type move struct {
	actorID string
	action  domain.HistoryAction
	event   events.EventType
	apply   func(req *domain.ServiceRequest, now time.Time) error
	details map[string]any
}

// transition runs m against req. The write only succeeds if the stored status
// still equals the status req was loaded with.
func (l *lifecycle) transition(ctx context.Context, req *domain.ServiceRequest, m move) (*domain.ServiceRequest, error) {
	from := req.Status
	previousPartner := req.PartnerID
	now := l.now().UTC()

	if err := m.apply(req, now); err != nil {
		return nil, mapLifecycleError(err, req)
	}

	actorID := m.actorID
	entry := &domain.RequestHistory{
		ActorType:  domain.ActorUser,
		ActorID:    &actorID,
		Action:     m.action,
		FromStatus: &from,
		ToStatus:   req.Status,
		Details:    m.details,
	}
	if err := l.requests.Transition(ctx, req, from, entry); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, apperrors.NewConflict("request was changed concurrently, reload and retry",
				map[string]any{"request_id": req.ID})
		}
		return nil, apperrors.MapError(err)
	}
	l.metrics.RecordTransition(string(from), string(req.Status))

	payload := events.PayloadFor(req, from)
	if previousPartner != nil && (req.PartnerID == nil || *previousPartner != *req.PartnerID) {
		payload.PreviousPartnerID = previousPartner
	}
	l.publish(ctx, events.Event{
		Type:      m.event,
		TenantID:  req.TenantID,
		RequestID: req.ID,
		Actor:     events.UserActor(m.actorID),
		Payload:   payload,
	})
	return req, nil
}

func (l *lifecycle) load(ctx context.Context, tenantID, requestID string) (*domain.ServiceRequest, error) {
	req, err := l.requests.GetByID(ctx, tenantID, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("service request", map[string]any{"request_id": requestID})
		}
		return nil, apperrors.MapError(err)
	}
	return req, nil
}

func (l *lifecycle) listHistory(ctx context.Context, requestID string) ([]domain.RequestHistory, error) {
	if l.history == nil {
		return []domain.RequestHistory{}, nil
	}
	entries, err := l.history.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (l *lifecycle) publish(ctx context.Context, event events.Event) {
	if l.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	_ = l.events.Publish(ctx, event)
}

func mapLifecycleError(err error, req *domain.ServiceRequest) error {
	var terr *domain.TransitionError
	switch {
	case errors.Is(err, domain.ErrResponseWindowElapsed):
		details := map[string]any{"request_id": req.ID}
		if req.ResponseDeadline != nil {
			details["response_deadline"] = req.ResponseDeadline.UTC()
		}
		return apperrors.NewCodedConflict(CodeResponseWindowElapsed, "the response window for this assignment has elapsed", details)
	case errors.As(err, &terr):
		return apperrors.NewInvalidTransition(string(terr.From), string(terr.To))
	default:
		return apperrors.MapError(err)
	}
}

func generateReference() string {
	return "SR-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
