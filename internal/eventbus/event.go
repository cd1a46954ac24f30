package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

type EventType string

const (
	EventTypeStatusChange EventType = "status-change"
	EventTypeDispute      EventType = "dispute-event"
	EventTypeLedgerDelta  EventType = "ledger-delta"
)

type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

func NewEvent(eventType EventType, payload interface{}, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: at,
	}
}

// StatusChangeEvent is emitted for every accepted chèque transition.
type StatusChangeEvent struct {
	ChequeID         string              `json:"cheque_id"`
	EmitterID        string              `json:"emitter_id"`
	TargetSiteID     string              `json:"target_site_id"`
	ReceiverID       string              `json:"receiver_id,omitempty"`
	PalletType       domain.PalletType   `json:"pallet_type"`
	Quantity         int64               `json:"quantity"`
	QuantityReceived *int64              `json:"quantity_received,omitempty"`
	From             domain.ChequeStatus `json:"from,omitempty"`
	To               domain.ChequeStatus `json:"to"`
	At               time.Time           `json:"at"`
}

type DisputeEvent struct {
	DisputeID    string                 `json:"dispute_id"`
	ChequeID     string                 `json:"cheque_id"`
	Action       string                 `json:"action"`
	Status       domain.DisputeStatus   `json:"status"`
	Priority     domain.DisputePriority `json:"priority"`
	InitiatorID  string                 `json:"initiator_id"`
	RespondentID string                 `json:"respondent_id"`
	By           string                 `json:"by"`
	At           time.Time              `json:"at"`
}

type LedgerDeltaEvent struct {
	CompanyID string             `json:"company_id"`
	Entry     domain.LedgerEntry `json:"entry"`
}
