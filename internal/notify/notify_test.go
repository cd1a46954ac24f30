package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

var at = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n Notification) error {
	return m.Called(ctx, n).Error(0)
}

type fakeConn struct {
	mu         sync.Mutex
	subjects   []string
	payloads   [][]byte
	publishErr error
	closed     bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Close() {
	f.closed = true
}

func mismatch() eventbus.StatusChangeEvent {
	received := int64(8)
	return eventbus.StatusChangeEvent{
		ChequeID:         "CHQ-1",
		EmitterID:        "company-a",
		TargetSiteID:     "SITE-1",
		ReceiverID:       "company-b",
		PalletType:       domain.PalletTypeEuroEpal,
		Quantity:         10,
		QuantityReceived: &received,
		From:             domain.ChequeStatusDeposited,
		To:               domain.ChequeStatusDisputed,
		At:               at,
	}
}

func TestFromEvent(t *testing.T) {
	t.Run("status change", func(t *testing.T) {
		n, ok, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeStatusChange, mismatch(), at))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, KindChequeStatus, n.Kind)
		assert.Equal(t, []string{"company-a", "SITE-1", "company-b"}, n.Recipients)
		assert.Equal(t, "8 of 10 EURO_EPAL pallets received", n.Message)
		assert.Equal(t, at, n.At)
	})

	t.Run("issuance", func(t *testing.T) {
		p := mismatch()
		p.From, p.To, p.QuantityReceived = "", domain.ChequeStatusIssued, nil
		n, ok, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeStatusChange, p, at))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "10 EURO_EPAL pallets issued for site SITE-1", n.Message)
	})

	t.Run("dispute deduplicates recipients", func(t *testing.T) {
		n, ok, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeDispute, eventbus.DisputeEvent{
			DisputeID:    "DSP-1",
			ChequeID:     "CHQ-1",
			Action:       domain.AuditActionEscalated,
			Status:       domain.DisputeStatusEscalated,
			Priority:     domain.DisputePriorityHigh,
			InitiatorID:  "company-a",
			RespondentID: "company-a",
		}, at))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, KindDispute, n.Kind)
		assert.Equal(t, []string{"company-a"}, n.Recipients)
	})

	t.Run("ledger deltas tied to a chèque are skipped", func(t *testing.T) {
		_, ok, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeLedgerDelta, eventbus.LedgerDeltaEvent{
			CompanyID: "company-a",
			Entry:     domain.LedgerEntry{Delta: -10, ChequeID: "CHQ-1"},
		}, at))
		require.NoError(t, err)
		assert.False(t, ok)

		n, ok, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeLedgerDelta, eventbus.LedgerDeltaEvent{
			CompanyID: "company-a",
			Entry:     domain.LedgerEntry{Delta: 5, PalletType: domain.PalletTypeDemiPalette, Reason: "manual", ResultingBalance: 5},
		}, at))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "+5 DEMI_PALETTE (manual), balance 5", n.Message)
	})

	t.Run("unknown payload", func(t *testing.T) {
		_, _, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeStatusChange, 42, at))
		assert.Error(t, err)
	})
}

func TestNATSNotifier_PublishesPerKindSubject(t *testing.T) {
	fc := &fakeConn{}
	nn := newNATSNotifier(fc, "")

	n, _, err := FromEvent(eventbus.NewEvent(eventbus.EventTypeStatusChange, mismatch(), at))
	require.NoError(t, err)
	require.NoError(t, nn.Notify(context.Background(), n))

	require.Len(t, fc.subjects, 1)
	assert.Equal(t, "palette.notifications.cheque.status", fc.subjects[0])

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(fc.payloads[0], &decoded))
	assert.Equal(t, n.ID, decoded["id"])
	assert.Equal(t, "cheque.status", decoded["kind"])

	nn.Close()
	assert.True(t, fc.closed)
}

func TestNATSNotifier_Errors(t *testing.T) {
	fc := &fakeConn{publishErr: errors.New("nats: connection closed")}
	nn := newNATSNotifier(fc, "custom")

	err := nn.Notify(context.Background(), Notification{Kind: KindDispute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom.dispute")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, nn.Notify(ctx, Notification{Kind: KindDispute}), context.Canceled)
}

func TestConsumer_ForwardsAndReportsFailures(t *testing.T) {
	ctx := context.Background()
	notifier := &mockNotifier{}
	consumer := NewConsumer(Multi{NewLogNotifier(logger.NewNop()), notifier}, logger.NewNop(), 3)
	assert.Equal(t, 3, consumer.GetWorkerCount())

	event := eventbus.NewEvent(eventbus.EventTypeStatusChange, mismatch(), at)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.ID == event.ID && n.Kind == KindChequeStatus
	})).Return(nil).Once()
	require.NoError(t, consumer.Consume(ctx, event))

	failing := eventbus.NewEvent(eventbus.EventTypeStatusChange, mismatch(), at)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.ID == failing.ID
	})).Return(errors.New("unreachable")).Once()
	assert.Error(t, consumer.Consume(ctx, failing))

	skipped := eventbus.NewEvent(eventbus.EventTypeLedgerDelta, eventbus.LedgerDeltaEvent{
		CompanyID: "company-a",
		Entry:     domain.LedgerEntry{Delta: 1, ChequeID: "CHQ-1"},
	}, at)
	require.NoError(t, consumer.Consume(ctx, skipped))

	assert.Error(t, consumer.Consume(ctx, eventbus.NewEvent(eventbus.EventTypeDispute, "bogus", at)))
	notifier.AssertExpectations(t)
}
