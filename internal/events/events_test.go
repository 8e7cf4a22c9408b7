package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/domain"
)

func TestDispatcherContinuesAfterHandlerError(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var calls []string
	d.Subscribe(EventRequestCreated, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventRequestCreated, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventRequestClosed, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestCreated}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func TestNATSMirrorPublishesEveryType(t *testing.T) {
	pub := &recordingPublisher{}
	mirror := &NATSMirror{pub: pub, prefix: "sd.events", logger: zap.NewNop()}
	d := NewInMemoryDispatcher(nil)
	mirror.Register(d)

	partner := "p1"
	req := &domain.ServiceRequest{ID: "r1", Reference: "SR-1", Status: domain.StatusAssigned, PartnerID: &partner}
	require.NoError(t, d.Publish(context.Background(), Event{
		Type:      EventRequestAssigned,
		RequestID: req.ID,
		Payload:   PayloadFor(req, domain.StatusSubmitted),
	}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestAssignmentExpired}))

	assert.Equal(t, []string{"sd.events.request_assigned", "sd.events.request_assignment_expired"}, pub.subjects)

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, "SR-1", decoded.Payload.Reference)
	assert.Equal(t, domain.StatusSubmitted, decoded.Payload.FromStatus)
	require.NotNil(t, decoded.Payload.PartnerID)
	assert.Equal(t, "p1", *decoded.Payload.PartnerID)
}

func TestNilMirrorRegistersNothing(t *testing.T) {
	var mirror *NATSMirror
	d := NewInMemoryDispatcher(nil)
	mirror.Register(d)
	mirror.Close()
	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventRequestCreated}))
}
