package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/config"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/notify"
	"github.com/spec-kit/servicedesk/internal/observability"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

// NotificationService turns domain events into in-app notifications and
// email jobs, and serves the notification inbox.
type NotificationService struct {
	dispatcher    events.Dispatcher
	notifications repository.NotificationRepository
	users         repository.UserRepository
	tenants       repository.TenantRepository
	renderer      *notify.Renderer
	mail          EmailQueue
	metrics       *observability.Metrics
	logger        *zap.Logger
	cfg           config.NotificationConfig
}

// NotificationDependencies bundles collaborators of the notification service.
type NotificationDependencies struct {
	Dispatcher       events.Dispatcher
	NotificationRepo repository.NotificationRepository
	UserRepo         repository.UserRepository
	TenantRepo       repository.TenantRepository
	Renderer         *notify.Renderer
	EmailQueue       EmailQueue
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	Config           config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher:    deps.Dispatcher,
		notifications: deps.NotificationRepo,
		users:         deps.UserRepo,
		tenants:       deps.TenantRepo,
		renderer:      deps.Renderer,
		mail:          deps.EmailQueue,
		metrics:       deps.Metrics,
		logger:        logger,
		cfg:           deps.Config,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	events.SubscribeAll(n.dispatcher, n.HandleEvent)
}

// HandleEvent notifies every recipient of event. A failure for one recipient
// does not prevent delivery to the others.
func (n *NotificationService) HandleEvent(ctx context.Context, event events.Event) error {
	tenant, err := n.tenants.GetByID(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", event.TenantID, err)
	}
	recipients, err := n.recipients(ctx, event)
	if err != nil {
		return err
	}

	var errs []error
	for _, user := range recipients {
		if err := n.deliver(ctx, event, tenant, user); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", user.ID, err))
		}
	}
	return errors.Join(errs...)
}

// recipients resolves who hears about event, deduplicated and active only.
func (n *NotificationService) recipients(ctx context.Context, event events.Event) ([]domain.User, error) {
	p := event.Payload
	var (
		withAdmins bool
		ids        []string
	)
	switch event.Type {
	case events.EventRequestCreated:
		withAdmins = true
	case events.EventRequestAssigned:
		ids = appendID(ids, p.PartnerID)
	case events.EventRequestConfirmed:
		withAdmins = true
		ids = append(ids, p.CustomerID)
	case events.EventRequestRejected:
		withAdmins = true
	case events.EventRequestAssignmentExpired:
		withAdmins = true
		ids = appendID(ids, p.PreviousPartnerID)
	case events.EventRequestStarted, events.EventRequestCompleted:
		ids = append(ids, p.CustomerID)
	case events.EventRequestClosed, events.EventRequestCancelled:
		ids = append(ids, p.CustomerID)
		ids = appendID(ids, p.PartnerID)
	default:
		return nil, nil
	}

	seen := map[string]struct{}{}
	if event.Actor.UserID != nil {
		// Nobody is told about their own action.
		seen[*event.Actor.UserID] = struct{}{}
	}
	var out []domain.User
	add := func(u domain.User) {
		if _, dup := seen[u.ID]; dup || !u.Active || u.TenantID != event.TenantID {
			return
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}

	if withAdmins {
		active := true
		admins, err := n.users.List(ctx, repository.UserFilter{
			TenantID: event.TenantID,
			Roles:    []domain.Role{domain.RoleAdmin},
			Active:   &active,
			Limit:    500,
		})
		if err != nil {
			return nil, fmt.Errorf("list admins: %w", err)
		}
		for _, a := range admins {
			add(a)
		}
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		u, err := n.users.GetByID(ctx, id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load recipient %s: %w", id, err)
		}
		add(*u)
	}
	return out, nil
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event, tenant *domain.Tenant, user domain.User) error {
	data := notify.TemplateData{
		RecipientName: user.Name,
		RecipientRole: string(user.Role),
		TenantName:    tenant.Name,
		Reference:     event.Payload.Reference,
		Title:         event.Payload.Title,
		Reason:        event.Payload.Reason,
	}
	if d := event.Payload.ResponseDeadline; d != nil {
		data.Deadline = d.UTC().Format("2006-01-02 15:04 MST")
	}
	msg, err := n.renderer.Render(string(event.Type), data, user.Locale, tenant.DefaultLocale, n.cfg.DefaultLocale)
	if err != nil {
		n.metrics.RecordNotification("in_app", "render_failed")
		return err
	}

	requestID := event.RequestID
	record := &domain.Notification{
		TenantID:  tenant.ID,
		UserID:    user.ID,
		RequestID: &requestID,
		Kind:      string(event.Type),
		Locale:    msg.Locale,
		Subject:   msg.Subject,
		Body:      msg.Body,
	}
	if err := n.notifications.Create(ctx, record); err != nil {
		n.metrics.RecordNotification("in_app", "failed")
		return err
	}
	n.metrics.RecordNotification("in_app", "stored")

	if n.mail == nil {
		return nil
	}
	job := notify.EmailJob{NotificationID: record.ID, To: user.Email, Subject: msg.Subject, Body: msg.Body}
	if err := n.mail.Enqueue(ctx, job); err != nil {
		n.metrics.RecordNotification("email", "enqueue_failed")
		return err
	}
	n.metrics.RecordNotification("email", "queued")
	n.logger.Debug("notification queued",
		zap.String("event_type", string(event.Type)),
		zap.String("request_id", event.RequestID),
		zap.String("user_id", user.ID))
	return nil
}

// List returns the user's notifications, newest first.
func (n *NotificationService) List(ctx context.Context, user *domain.User, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	items, err := n.notifications.ListByUser(ctx, repository.NotificationFilter{
		UserID:     user.ID,
		UnreadOnly: unreadOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// MarkRead marks one of the user's notifications read.
func (n *NotificationService) MarkRead(ctx context.Context, user *domain.User, id string) (*domain.Notification, error) {
	item, err := n.notifications.MarkRead(ctx, user.ID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("notification", map[string]any{"notification_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return item, nil
}

// MarkAllRead marks every unread notification of the user read.
func (n *NotificationService) MarkAllRead(ctx context.Context, user *domain.User) (int64, error) {
	count, err := n.notifications.MarkAllRead(ctx, user.ID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return count, nil
}

func appendID(ids []string, id *string) []string {
	if id == nil {
		return ids
	}
	return append(ids, *id)
}
