package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

// OpenerConsumer opens a QUANTITY_MISMATCH dispute when a chèque is received
// with a quantity different from the issued one. It listens to status-change
// events and records handled event ids so redeliveries are ignored.
type OpenerConsumer struct {
	resolver    *Resolver
	events      domain.EventLog
	logger      *logger.Logger
	workerCount int
}

func NewOpenerConsumer(resolver *Resolver, events domain.EventLog, log *logger.Logger, workerCount int) *OpenerConsumer {
	return &OpenerConsumer{
		resolver:    resolver,
		events:      events,
		logger:      log,
		workerCount: workerCount,
	}
}

func (oc *OpenerConsumer) Consume(ctx context.Context, event eventbus.Event) error {
	payload, ok := event.Payload.(eventbus.StatusChangeEvent)
	if !ok {
		oc.logger.Error(ctx, "Invalid payload type for status change event", "event_id", event.ID)
		return fmt.Errorf("invalid payload type %T", event.Payload)
	}
	if !isReceiptMismatch(payload) {
		return nil
	}

	processed, err := oc.events.IsEventProcessed(ctx, event.ID)
	if err != nil {
		oc.logger.Error(ctx, "Failed to check event processed status", "event_id", event.ID, "error", err)
		return err
	}
	if processed {
		oc.logger.Debug(ctx, "Event already processed, skipping", "event_id", event.ID)
		return nil
	}

	ctx = logger.WithChequeID(ctx, payload.ChequeID)

	initiator := payload.ReceiverID
	if initiator == "" {
		initiator = payload.TargetSiteID
	}
	received := *payload.QuantityReceived

	d, err := oc.resolver.Open(ctx, OpenInput{
		ChequeID:        payload.ChequeID,
		InitiatorID:     initiator,
		Type:            domain.DisputeTypeQuantity,
		Description:     fmt.Sprintf("received %d of %d pallets", received, payload.Quantity),
		ClaimedQuantity: &payload.Quantity,
		ActualQuantity:  &received,
	})
	switch {
	case errors.Is(err, domain.ErrDisputeAlreadyOpen):
		oc.logger.Debug(ctx, "Dispute already open, nothing to do")
	case err != nil:
		oc.logger.Error(ctx, "Failed to open mismatch dispute", "event_id", event.ID, "error", err)
		return err
	default:
		oc.logger.Info(logger.WithDisputeID(ctx, d.ID), "Mismatch dispute opened automatically")
	}

	if err := oc.events.MarkEventProcessed(ctx, event.ID); err != nil {
		oc.logger.Error(ctx, "Failed to mark event as processed", "event_id", event.ID, "error", err)
		return err
	}
	return nil
}

func (oc *OpenerConsumer) GetWorkerCount() int {
	return oc.workerCount
}

func isReceiptMismatch(e eventbus.StatusChangeEvent) bool {
	return e.From == domain.ChequeStatusDeposited &&
		e.To == domain.ChequeStatusDisputed &&
		e.QuantityReceived != nil &&
		*e.QuantityReceived != e.Quantity
}
