package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/notify"
	"github.com/spec-kit/servicedesk/internal/repository"
)

var uniqueViolation = &pgconn.PgError{Code: "23505", Message: "duplicate key value"}

type idSeq struct {
	mu sync.Mutex
	n  int
}

func (s *idSeq) next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

var seq = &idSeq{}

type fakeTenants struct {
	mu   sync.Mutex
	byID map[string]domain.Tenant
}

func newFakeTenants(tenants ...domain.Tenant) *fakeTenants {
	f := &fakeTenants{byID: map[string]domain.Tenant{}}
	for _, t := range tenants {
		f.byID[t.ID] = t
	}
	return f
}

func (f *fakeTenants) Create(_ context.Context, t *domain.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Slug == t.Slug {
			return uniqueViolation
		}
	}
	t.ID = seq.next("tenant")
	f.byID[t.ID] = *t
	return nil
}

func (f *fakeTenants) Update(_ context.Context, t *domain.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[t.ID]; !ok {
		return pgx.ErrNoRows
	}
	f.byID[t.ID] = *t
	return nil
}

func (f *fakeTenants) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (f *fakeTenants) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.Slug == slug {
			t := t
			return &t, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]domain.User
}

func newFakeUsers(users ...domain.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]domain.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.TenantID == u.TenantID && existing.Email == strings.ToLower(u.Email) {
			return uniqueViolation
		}
	}
	u.ID = seq.next("user")
	f.byID[u.ID] = *u
	return nil
}

func (f *fakeUsers) Update(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[u.ID]; !ok {
		return pgx.ErrNoRows
	}
	f.byID[u.ID] = *u
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, tenantID, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.TenantID == tenantID && u.Email == strings.ToLower(email) {
			u := u
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeUsers) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.User
	for _, u := range f.byID {
		if u.TenantID != filter.TenantID {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		if len(filter.Roles) > 0 && !containsRole(filter.Roles, u.Role) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsRole(roles []domain.Role, r domain.Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

type fakeRequests struct {
	mu      sync.Mutex
	byID    map[string]domain.ServiceRequest
	history map[string][]domain.RequestHistory
	// beforeTransition runs inside Transition before the status check.
	beforeTransition func(stored *domain.ServiceRequest)
	createErrs       []error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{byID: map[string]domain.ServiceRequest{}, history: map[string][]domain.RequestHistory{}}
}

func (f *fakeRequests) put(req domain.ServiceRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[req.ID] = req
}

func (f *fakeRequests) stored(id string) domain.ServiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeRequests) historyOf(id string) []domain.RequestHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RequestHistory(nil), f.history[id]...)
}

func (f *fakeRequests) appendHistory(entry domain.RequestHistory) {
	entry.ID = seq.next("history")
	f.history[entry.RequestID] = append(f.history[entry.RequestID], entry)
}

func (f *fakeRequests) Create(_ context.Context, req *domain.ServiceRequest, entry *domain.RequestHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return err
	}
	req.ID = seq.next("request")
	f.byID[req.ID] = *req
	if entry != nil {
		entry.RequestID = req.ID
		f.appendHistory(*entry)
	}
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, tenantID, id string) (*domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.byID[id]
	if !ok || req.TenantID != tenantID {
		return nil, pgx.ErrNoRows
	}
	return &req, nil
}

func (f *fakeRequests) List(_ context.Context, filter repository.RequestFilter) ([]domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ServiceRequest
	for _, req := range f.byID {
		if req.TenantID != filter.TenantID {
			continue
		}
		if filter.CustomerID != "" && req.CustomerID != filter.CustomerID {
			continue
		}
		if filter.PartnerID != "" && !req.IsAssignedTo(filter.PartnerID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, req.Status) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsStatus(statuses []domain.RequestStatus, s domain.RequestStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (f *fakeRequests) Transition(_ context.Context, req *domain.ServiceRequest, expected domain.RequestStatus, entry *domain.RequestHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[req.ID]
	if !ok || stored.TenantID != req.TenantID {
		return repository.ErrStaleState
	}
	if f.beforeTransition != nil {
		f.beforeTransition(&stored)
		f.byID[req.ID] = stored
	}
	if stored.Status != expected {
		return repository.ErrStaleState
	}
	f.byID[req.ID] = *req
	if entry != nil {
		entry.RequestID = req.ID
		f.appendHistory(*entry)
	}
	return nil
}

func (f *fakeRequests) ReassignExpired(_ context.Context, now time.Time, limit int) ([]repository.ExpiredAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.ExpiredAssignment
	keys := make([]string, 0, len(f.byID))
	for id := range f.byID {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	for _, id := range keys {
		req := f.byID[id]
		if !req.IsAssignmentExpired(now) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		item := repository.ExpiredAssignment{
			RequestID:         req.ID,
			TenantID:          req.TenantID,
			Reference:         req.Reference,
			Title:             req.Title,
			CustomerID:        req.CustomerID,
			PreviousPartnerID: *req.PartnerID,
			Deadline:          *req.ResponseDeadline,
		}
		if err := req.Expire(now); err != nil {
			return nil, err
		}
		f.byID[id] = req
		from := domain.StatusAssigned
		f.appendHistory(domain.RequestHistory{
			RequestID:  id,
			ActorType:  domain.ActorSystem,
			Action:     domain.ActionTimeout,
			FromStatus: &from,
			ToStatus:   domain.StatusSubmitted,
			Details:    map[string]any{"previous_partner_id": item.PreviousPartnerID},
		})
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeRequests) ListByRequest(_ context.Context, requestID string) ([]domain.RequestHistory, error) {
	return f.historyOf(requestID), nil
}

type fakeNotifications struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (f *fakeNotifications) Create(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = seq.next("notification")
	f.items = append(f.items, *n)
	return nil
}

func (f *fakeNotifications) ListByUser(_ context.Context, filter repository.NotificationFilter) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for _, n := range f.items {
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, userID, id string) (*domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].UserID == userID {
			if f.items[i].ReadAt == nil {
				now := time.Now()
				f.items[i].ReadAt = &now
			}
			n := f.items[i]
			return &n, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeNotifications) MarkAllRead(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	now := time.Now()
	for i := range f.items {
		if f.items[i].UserID == userID && f.items[i].ReadAt == nil {
			f.items[i].ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifications) forUser(userID string) []domain.Notification {
	items, _ := f.ListByUser(context.Background(), repository.NotificationFilter{UserID: userID})
	return items
}

type fakeResets struct {
	mu     sync.Mutex
	tokens map[string]repository.PasswordResetToken
}

func newFakeResets() *fakeResets {
	return &fakeResets{tokens: map[string]repository.PasswordResetToken{}}
}

func (f *fakeResets) Create(_ context.Context, t *repository.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = seq.next("reset")
	f.tokens[t.Token] = *t
	return nil
}

func (f *fakeResets) GetByToken(_ context.Context, token string) (*repository.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (f *fakeResets) MarkUsed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.ID == id {
			if t.UsedAt != nil {
				return repository.ErrTokenUsed
			}
			now := time.Now()
			t.UsedAt = &now
			f.tokens[k] = t
			return nil
		}
	}
	return pgx.ErrNoRows
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []notify.EmailJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job notify.EmailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) sent() []notify.EmailJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notify.EmailJob(nil), q.jobs...)
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, _ string, _ time.Duration) (func(context.Context), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) {
		l.held = false
		l.released++
	}, true, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, e events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) types() []events.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.EventType, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

// fixedClock is a mutable test clock.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
