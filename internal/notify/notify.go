// Package notify turns core events into notifications for the parties of a
// chèque, a dispute or a ledger and hands them to delivery backends.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type Kind string

const (
	KindChequeStatus Kind = "cheque.status"
	KindDispute      Kind = "dispute"
	KindLedger       Kind = "ledger"
)

type Notification struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Recipients []string    `json:"recipients"`
	Title      string      `json:"title"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	At         time.Time   `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (ln *LogNotifier) Notify(ctx context.Context, n Notification) error {
	ln.logger.Info(ctx, "Notification",
		"notification_id", n.ID,
		"kind", string(n.Kind),
		"recipients", n.Recipients,
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}

// FromEvent builds the notification for a bus event. ok is false for events
// nobody needs to hear about.
func FromEvent(event eventbus.Event) (n Notification, ok bool, err error) {
	n = Notification{ID: event.ID, At: event.Timestamp, Data: event.Payload}

	switch p := event.Payload.(type) {
	case eventbus.StatusChangeEvent:
		n.Kind = KindChequeStatus
		n.Recipients = recipients(p.EmitterID, p.TargetSiteID, p.ReceiverID)
		n.Title = fmt.Sprintf("Chèque %s %s", p.ChequeID, p.To)
		n.Message = statusMessage(p)
	case eventbus.DisputeEvent:
		n.Kind = KindDispute
		n.Recipients = recipients(p.InitiatorID, p.RespondentID)
		n.Title = fmt.Sprintf("Dispute %s %s", p.DisputeID, p.Action)
		n.Message = fmt.Sprintf("dispute on chèque %s is %s (priority %s)", p.ChequeID, p.Status, p.Priority)
	case eventbus.LedgerDeltaEvent:
		// Only movements outside the chèque lifecycle are announced; the others
		// already produce a status notification.
		if p.Entry.ChequeID != "" {
			return n, false, nil
		}
		n.Kind = KindLedger
		n.Recipients = recipients(p.CompanyID)
		n.Title = fmt.Sprintf("Ledger %s adjusted", p.CompanyID)
		n.Message = fmt.Sprintf("%+d %s (%s), balance %d", p.Entry.Delta, p.Entry.PalletType, p.Entry.Reason, p.Entry.ResultingBalance)
	default:
		return n, false, fmt.Errorf("invalid payload type %T", event.Payload)
	}
	return n, true, nil
}

func statusMessage(p eventbus.StatusChangeEvent) string {
	if p.QuantityReceived != nil && *p.QuantityReceived != p.Quantity {
		return fmt.Sprintf("%d of %d %s pallets received", *p.QuantityReceived, p.Quantity, p.PalletType)
	}
	if p.From == "" {
		return fmt.Sprintf("%d %s pallets issued for site %s", p.Quantity, p.PalletType, p.TargetSiteID)
	}
	return fmt.Sprintf("%d %s pallets moved from %s to %s", p.Quantity, p.PalletType, p.From, p.To)
}

func recipients(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
