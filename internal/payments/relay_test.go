package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOutboxStore struct{ mock.Mock }

func (m *mockOutboxStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	args := m.Called(ctx, limit)
	if e := args.Get(0); e != nil {
		return e.([]OutboxEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOutboxStore) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOutboxStore) BumpOutboxRetry(ctx context.Context, id uuid.UUID, maxRetries int) error {
	return m.Called(ctx, id, maxRetries).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, subject string, event *eventbus.Event) error {
	return m.Called(ctx, subject, event).Error(0)
}

func outboxEntry(t *testing.T, subject string, createdAt time.Time) OutboxEntry {
	t.Helper()
	paymentID := uuid.New()
	event, err := eventbus.NewEvent(subject, "payments", uuid.New().String(), "default", eventbus.PaymentEventData{
		PaymentID: paymentID.String(),
	})
	require.NoError(t, err)
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	return OutboxEntry{
		ID:        uuid.New(),
		PaymentID: paymentID,
		TenantID:  "default",
		Subject:   subject,
		Payload:   payload,
		Status:    OutboxPending,
		CreatedAt: createdAt,
	}
}

func TestRelayPublishesInOrderAndMarksPublished(t *testing.T) {
	store := &mockOutboxStore{}
	bus := &mockPublisher{}
	relay := NewOutboxRelay(store, bus, 500*time.Millisecond, 50, 5)

	now := time.Now()
	first := outboxEntry(t, eventbus.SubjectPaymentInitiated, now)
	second := outboxEntry(t, eventbus.SubjectPaymentCaptured, now.Add(time.Millisecond))

	store.On("PendingOutbox", mock.Anything, 50).Return([]OutboxEntry{first, second}, nil)

	var publishedSubjects []string
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			publishedSubjects = append(publishedSubjects, args.String(1))
		}).Return(nil)
	store.On("MarkOutboxPublished", mock.Anything, first.ID).Return(nil)
	store.On("MarkOutboxPublished", mock.Anything, second.ID).Return(nil)

	relay.drain(context.Background())

	assert.Equal(t, []string{eventbus.SubjectPaymentInitiated, eventbus.SubjectPaymentCaptured}, publishedSubjects)
	store.AssertCalled(t, "MarkOutboxPublished", mock.Anything, first.ID)
	store.AssertCalled(t, "MarkOutboxPublished", mock.Anything, second.ID)
}

func TestRelayPreservesEventIDForDedupe(t *testing.T) {
	store := &mockOutboxStore{}
	bus := &mockPublisher{}
	relay := NewOutboxRelay(store, bus, 500*time.Millisecond, 50, 5)

	entry := outboxEntry(t, eventbus.SubjectPaymentInitiated, time.Now())
	var original eventbus.Event
	require.NoError(t, json.Unmarshal(entry.Payload, &original))

	store.On("PendingOutbox", mock.Anything, 50).Return([]OutboxEntry{entry}, nil)

	var published *eventbus.Event
	bus.On("Publish", mock.Anything, entry.Subject, mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(2).(*eventbus.Event)
		}).Return(nil)
	store.On("MarkOutboxPublished", mock.Anything, entry.ID).Return(nil)

	relay.drain(context.Background())

	require.NotNil(t, published)
	assert.Equal(t, original.ID, published.ID)
	assert.Equal(t, original.TenantID, published.TenantID)
}

func TestRelayStopsBatchOnPublishFailure(t *testing.T) {
	store := &mockOutboxStore{}
	bus := &mockPublisher{}
	relay := NewOutboxRelay(store, bus, 500*time.Millisecond, 50, 5)

	now := time.Now()
	first := outboxEntry(t, eventbus.SubjectPaymentInitiated, now)
	second := outboxEntry(t, eventbus.SubjectPaymentCaptured, now.Add(time.Millisecond))

	store.On("PendingOutbox", mock.Anything, 50).Return([]OutboxEntry{first, second}, nil)
	bus.On("Publish", mock.Anything, first.Subject, mock.Anything).Return(errors.New("broker down"))
	store.On("BumpOutboxRetry", mock.Anything, first.ID, 5).Return(nil)

	relay.drain(context.Background())

	// Ordering holds: the second entry must wait for the first to go out.
	bus.AssertNumberOfCalls(t, "Publish", 1)
	store.AssertCalled(t, "BumpOutboxRetry", mock.Anything, first.ID, 5)
	store.AssertNotCalled(t, "MarkOutboxPublished", mock.Anything, mock.Anything)
}

func TestRelayParksCorruptPayloads(t *testing.T) {
	store := &mockOutboxStore{}
	bus := &mockPublisher{}
	relay := NewOutboxRelay(store, bus, 500*time.Millisecond, 50, 5)

	corrupt := OutboxEntry{
		ID:      uuid.New(),
		Subject: eventbus.SubjectPaymentInitiated,
		Payload: []byte("{not json"),
		Status:  OutboxPending,
	}
	healthy := outboxEntry(t, eventbus.SubjectPaymentCaptured, time.Now())

	store.On("PendingOutbox", mock.Anything, 50).Return([]OutboxEntry{corrupt, healthy}, nil)
	store.On("BumpOutboxRetry", mock.Anything, corrupt.ID, 1).Return(nil)
	bus.On("Publish", mock.Anything, healthy.Subject, mock.Anything).Return(nil)
	store.On("MarkOutboxPublished", mock.Anything, healthy.ID).Return(nil)

	relay.drain(context.Background())

	store.AssertCalled(t, "BumpOutboxRetry", mock.Anything, corrupt.ID, 1)
	store.AssertCalled(t, "MarkOutboxPublished", mock.Anything, healthy.ID)
}
