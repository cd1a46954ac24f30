package registry

import (
	"context"
	"fmt"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

// MovementConsumer reports issuances, receptions and cancellations of
// tracked pallet types to the mirror. Handled event ids are recorded so a
// redelivered event is not reported twice.
type MovementConsumer struct {
	mirror      *Mirror
	events      domain.EventLog
	logger      *logger.Logger
	workerCount int
}

func NewMovementConsumer(mirror *Mirror, events domain.EventLog, log *logger.Logger, workerCount int) *MovementConsumer {
	return &MovementConsumer{
		mirror:      mirror,
		events:      events,
		logger:      log,
		workerCount: workerCount,
	}
}

func (mc *MovementConsumer) Consume(ctx context.Context, event eventbus.Event) error {
	payload, ok := event.Payload.(eventbus.StatusChangeEvent)
	if !ok {
		mc.logger.Error(ctx, "Invalid payload type for status change event",
			"event_id", event.ID,
		)
		return fmt.Errorf("invalid payload type %T", event.Payload)
	}

	mv, ok := movementFor(payload)
	if !ok {
		return nil
	}

	processed, err := mc.events.IsEventProcessed(ctx, event.ID)
	if err != nil {
		mc.logger.Error(ctx, "Failed to check event processed status",
			"event_id", event.ID,
			"error", err,
		)
		return err
	}
	if processed {
		mc.logger.Debug(ctx, "Event already processed, skipping",
			"event_id", event.ID,
		)
		return nil
	}

	ctx = logger.WithChequeID(ctx, payload.ChequeID)

	if _, err := mc.mirror.ReportMovement(ctx, mv); err != nil {
		mc.logger.Error(ctx, "Failed to report movement",
			"event_id", event.ID,
			"error", err,
		)
		return err
	}

	if err := mc.events.MarkEventProcessed(ctx, event.ID); err != nil {
		mc.logger.Error(ctx, "Failed to mark event as processed",
			"event_id", event.ID,
			"error", err,
		)
		return err
	}
	return nil
}

func (mc *MovementConsumer) GetWorkerCount() int {
	return mc.workerCount
}

// movementFor maps a transition to the movement it reports, mirroring the
// ledger effects of issuance, reception and cancellation.
func movementFor(e eventbus.StatusChangeEvent) (Movement, bool) {
	if !Tracks(e.PalletType) {
		return Movement{}, false
	}

	mv := Movement{ChequeID: e.ChequeID, PalletType: e.PalletType, At: e.At}
	switch {
	case e.From == "" && e.To == domain.ChequeStatusIssued:
		mv.Kind = MovementEmission
		mv.CompanyID = e.EmitterID
		mv.Quantity = -e.Quantity
	case e.From == domain.ChequeStatusDeposited && (e.To == domain.ChequeStatusReceived || e.To == domain.ChequeStatusDisputed):
		received := e.Quantity
		if e.QuantityReceived != nil {
			received = *e.QuantityReceived
		}
		if e.ReceiverID == "" || received == 0 {
			return Movement{}, false
		}
		mv.Kind = MovementReception
		mv.CompanyID = e.ReceiverID
		mv.Quantity = received
	case e.To == domain.ChequeStatusCancelled:
		mv.Kind = MovementCancellation
		mv.CompanyID = e.EmitterID
		mv.Quantity = e.Quantity
	default:
		return Movement{}, false
	}
	return mv, true
}
