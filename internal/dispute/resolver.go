// Package dispute adjudicates quantity disputes on chèques. Accepting a
// resolution issues the compensating ledger adjustment and closes the chèque.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grachmannico95/palette-cheque/internal/cheque"
	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/internal/ledger"
	"github.com/grachmannico95/palette-cheque/internal/metrics"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const DefaultEscalationThreshold = 48 * time.Hour

type OpenInput struct {
	ChequeID        string                 `json:"cheque_id"`
	InitiatorID     string                 `json:"initiator_id"`
	Type            domain.DisputeType     `json:"type"`
	Description     string                 `json:"description"`
	ClaimedQuantity *int64                 `json:"claimed_quantity,omitempty"`
	ActualQuantity  *int64                 `json:"actual_quantity,omitempty"`
	Priority        domain.DisputePriority `json:"priority,omitempty"`
}

type ProposeInput struct {
	Type             domain.ResolutionType `json:"type"`
	AdjustedQuantity int64                 `json:"adjusted_quantity"`
	Description      string                `json:"description"`
	ProposedBy       string                `json:"proposed_by"`
}

type ValidateInput struct {
	Accept      bool   `json:"accept"`
	ValidatedBy string `json:"validated_by"`
	Comment     string `json:"comment,omitempty"`
}

// Details is a dispute together with the chèque it is about.
type Details struct {
	Dispute *domain.Dispute `json:"dispute"`
	Cheque  *domain.Cheque  `json:"cheque,omitempty"`
}

type Stats struct {
	Total                  int                            `json:"total"`
	Open                   int                            `json:"open"`
	Closed                 int                            `json:"closed"`
	ResolutionRate         float64                        `json:"resolution_rate"`
	AvgResolutionTimeHours float64                        `json:"avg_resolution_time_hours"`
	ByStatus               map[domain.DisputeStatus]int   `json:"by_status"`
	ByType                 map[domain.DisputeType]int     `json:"by_type"`
	ByPriority             map[domain.DisputePriority]int `json:"by_priority"`
}

// DisputeRecorder counts disputes against the site a chèque targets.
type DisputeRecorder interface {
	RecordDispute(ctx context.Context, siteID string) error
}

type Resolver struct {
	disputes  domain.DisputeRepository
	cheques   domain.ChequeRepository
	ledger    *ledger.Store
	sites     DisputeRecorder
	publisher eventbus.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithPublisher(p eventbus.Publisher) Option {
	return func(r *Resolver) {
		if p != nil {
			r.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(
	disputes domain.DisputeRepository,
	cheques domain.ChequeRepository,
	ledgerStore *ledger.Store,
	sites DisputeRecorder,
	log *logger.Logger,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		disputes:  disputes,
		cheques:   cheques,
		ledger:    ledgerStore,
		sites:     sites,
		publisher: eventbus.Discard,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newDisputeID(at time.Time) string {
	stamp := strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))
	return "DSP-" + stamp + "-" + strings.ToUpper(uuid.New().String()[:6])
}

// Open files a dispute on a deposited or received chèque. A deposited chèque
// moves to DISPUTED.
func (r *Resolver) Open(ctx context.Context, in OpenInput) (*domain.Dispute, error) {
	if err := validateOpen(in); err != nil {
		return nil, err
	}

	c, err := r.cheques.GetCheque(ctx, in.ChequeID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case domain.ChequeStatusDeposited, domain.ChequeStatusDisputed, domain.ChequeStatusReceived:
	default:
		return nil, domain.ChequeTransitionError(c, domain.ChequeStatusDisputed)
	}

	now := r.now()
	d := &domain.Dispute{
		ID:              newDisputeID(now),
		ChequeID:        c.ID,
		InitiatorID:     in.InitiatorID,
		RespondentID:    respondentFor(c, in.InitiatorID),
		Type:            in.Type,
		Description:     in.Description,
		ClaimedQuantity: c.Quantity,
		PalletType:      c.PalletType,
		Status:          domain.DisputeStatusOpen,
		Priority:        domain.DisputePriorityMedium,
		Comments:        []domain.Comment{},
		CreatedAt:       now,
	}
	if c.QuantityReceived != nil {
		d.ActualQuantity = *c.QuantityReceived
	}
	if in.ClaimedQuantity != nil {
		d.ClaimedQuantity = *in.ClaimedQuantity
	}
	if in.ActualQuantity != nil {
		d.ActualQuantity = *in.ActualQuantity
	}
	if in.Priority != "" {
		d.Priority = in.Priority
	}
	d.Audit(domain.AuditActionCreated, in.InitiatorID, "dispute opened: "+string(in.Type), now)

	if err := r.disputes.CreateDispute(ctx, d); err != nil {
		return nil, err
	}

	ctx = logger.WithDisputeID(logger.WithChequeID(ctx, c.ID), d.ID)

	if err := r.markChequeDisputed(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("flag cheque as disputed: %w", err)
	}

	if r.sites != nil {
		if err := r.sites.RecordDispute(ctx, c.TargetSiteID); err != nil {
			r.logger.Warn(ctx, "Failed to count dispute on site", "site_id", c.TargetSiteID, "error", err)
		}
	}

	r.logger.Info(ctx, "Dispute opened",
		"initiator_id", d.InitiatorID,
		"respondent_id", d.RespondentID,
		"type", d.Type,
	)
	r.published(ctx, d, domain.AuditActionCreated, d.InitiatorID)

	return d, nil
}

func validateOpen(in OpenInput) error {
	switch {
	case in.ChequeID == "":
		return domain.NewValidationError("cheque_id", "required")
	case in.InitiatorID == "":
		return domain.NewValidationError("initiator_id", "required")
	case !in.Type.Valid():
		return domain.NewValidationError("type", "unknown dispute type")
	case in.Description == "":
		return domain.NewValidationError("description", "required")
	case in.Priority != "" && !in.Priority.Valid():
		return domain.NewValidationError("priority", "must be low, medium or high")
	case in.ClaimedQuantity != nil && *in.ClaimedQuantity < 0,
		in.ActualQuantity != nil && *in.ActualQuantity < 0:
		return domain.NewValidationError("quantity", "must not be negative")
	}
	return nil
}

// respondentFor is the target site when the emitter complains, the emitter
// otherwise.
func respondentFor(c *domain.Cheque, initiatorID string) string {
	if initiatorID == c.EmitterID {
		return c.TargetSiteID
	}
	return c.EmitterID
}

func (r *Resolver) markChequeDisputed(ctx context.Context, chequeID string) error {
	var (
		updated *domain.Cheque
		moved   bool
	)
	err := domain.RetryOnConflict(ctx, func() error {
		c, err := r.cheques.GetCheque(ctx, chequeID)
		if err != nil {
			return err
		}
		moved = c.Status == domain.ChequeStatusDeposited
		if !moved {
			return nil
		}
		c.Status = domain.ChequeStatusDisputed
		c.UpdatedAt = r.now()
		updated = c
		return r.cheques.UpdateCheque(ctx, c)
	})
	if err != nil {
		return err
	}
	if moved {
		r.chequeMoved(ctx, updated, domain.ChequeStatusDeposited)
	}
	return nil
}

func (r *Resolver) Get(ctx context.Context, id string) (*domain.Dispute, error) {
	return r.disputes.GetDispute(ctx, id)
}

func (r *Resolver) Details(ctx context.Context, id string) (*Details, error) {
	d, err := r.disputes.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}

	c, err := r.cheques.GetCheque(ctx, d.ChequeID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &Details{Dispute: d, Cheque: c}, nil
}

func (r *Resolver) List(ctx context.Context, filter domain.DisputeFilter) ([]*domain.Dispute, int, error) {
	return r.disputes.ListDisputes(ctx, filter)
}

// mutate claims a dispute transition with a versioned write. fn runs on a
// fresh copy on every attempt and must re-check the status it depends on.
func (r *Resolver) mutate(ctx context.Context, id string, fn func(d *domain.Dispute, now time.Time) error) (*domain.Dispute, error) {
	var d *domain.Dispute
	err := domain.RetryOnConflict(ctx, func() error {
		var err error
		d, err = r.disputes.GetDispute(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(d, r.now()); err != nil {
			return err
		}
		return r.disputes.UpdateDispute(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Resolver) Propose(ctx context.Context, id string, in ProposeInput) (*domain.Dispute, error) {
	switch {
	case !in.Type.Valid():
		return nil, domain.NewValidationError("type", "unknown resolution type")
	case in.AdjustedQuantity < 0:
		return nil, domain.NewValidationError("adjusted_quantity", "must not be negative")
	case in.ProposedBy == "":
		return nil, domain.NewValidationError("proposed_by", "required")
	}

	ctx = logger.WithDisputeID(ctx, id)
	d, err := r.mutate(ctx, id, func(d *domain.Dispute, now time.Time) error {
		if !d.Status.CanTransitionTo(domain.DisputeStatusProposed) {
			return domain.DisputeTransitionError(d, domain.DisputeStatusProposed)
		}
		d.Status = domain.DisputeStatusProposed
		d.Resolution = &domain.Resolution{
			Type:             in.Type,
			AdjustedQuantity: in.AdjustedQuantity,
			Description:      in.Description,
			ProposedBy:       in.ProposedBy,
			ProposedAt:       now,
		}
		d.Audit(domain.AuditActionProposed, in.ProposedBy,
			fmt.Sprintf("%s, adjusted quantity %d", in.Type, in.AdjustedQuantity), now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info(ctx, "Resolution proposed", "type", in.Type, "adjusted_quantity", in.AdjustedQuantity)
	r.published(ctx, d, domain.AuditActionProposed, in.ProposedBy)
	return d, nil
}

// Validate accepts or declines the pending proposal. Acceptance resolves the
// dispute, applies adjusted-minus-current to the initiator's ledger and
// closes the chèque at the adjusted quantity. Declining escalates.
func (r *Resolver) Validate(ctx context.Context, id string, in ValidateInput) (*domain.Dispute, error) {
	if in.ValidatedBy == "" {
		return nil, domain.NewValidationError("validated_by", "required")
	}

	ctx = logger.WithDisputeID(ctx, id)

	next := domain.DisputeStatusEscalated
	if in.Accept {
		next = domain.DisputeStatusResolved
	}

	d, err := r.mutate(ctx, id, func(d *domain.Dispute, now time.Time) error {
		if d.Status != domain.DisputeStatusProposed || d.Resolution == nil {
			return domain.DisputeTransitionError(d, next)
		}
		d.Status = next
		if in.Accept {
			d.Resolution.ValidatedBy = in.ValidatedBy
			d.Resolution.ValidatedAt = &now
			d.ResolvedAt = &now
			d.Audit(domain.AuditActionAccepted, in.ValidatedBy, orDefault(in.Comment, "resolution accepted"), now)
		} else {
			d.Priority = domain.DisputePriorityHighest
			d.EscalatedAt = &now
			d.Audit(domain.AuditActionDeclined, in.ValidatedBy, orDefault(in.Comment, "resolution declined, escalated"), now)
		}
		if in.Comment != "" {
			d.Comments = append(d.Comments, domain.Comment{Author: in.ValidatedBy, Content: in.Comment, At: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !in.Accept {
		r.metrics.DisputeEscalated(in.ValidatedBy)
		r.logger.Warn(ctx, "Resolution declined, dispute escalated", "validated_by", in.ValidatedBy)
		r.published(ctx, d, domain.AuditActionDeclined, in.ValidatedBy)
		return d, nil
	}

	if err := r.settle(ctx, d); err != nil {
		r.rollback(ctx, d.ID, domain.DisputeStatusResolved, domain.DisputeStatusProposed, err)
		return nil, err
	}

	r.logger.Info(ctx, "Dispute resolved",
		"resolution_type", d.Resolution.Type,
		"adjusted_quantity", d.Resolution.AdjustedQuantity,
	)
	r.published(ctx, d, domain.AuditActionAccepted, in.ValidatedBy)
	return d, nil
}

// settle applies an accepted resolution: ledger first, then the chèque.
func (r *Resolver) settle(ctx context.Context, d *domain.Dispute) error {
	ctx = logger.WithChequeID(ctx, d.ChequeID)

	c, err := r.cheques.GetCheque(ctx, d.ChequeID)
	if err != nil {
		return fmt.Errorf("load disputed cheque: %w", err)
	}

	final := c.CurrentQuantity()
	var adjustment int64
	if d.Resolution.Type != domain.ResolutionRejection {
		final = d.Resolution.AdjustedQuantity
		adjustment = final - c.CurrentQuantity()
	}

	in := ledger.AdjustInput{
		CompanyID:  d.InitiatorID,
		PalletType: c.PalletType,
		Delta:      adjustment,
		Reason:     ledger.ReasonDispute,
		ChequeID:   c.ID,
	}
	if adjustment != 0 {
		if _, err := r.ledger.Adjust(ctx, in); err != nil {
			return fmt.Errorf("apply dispute adjustment: %w", err)
		}
	}

	if err := r.closeCheque(ctx, c.ID, final); err != nil {
		if adjustment != 0 {
			in.Delta = -adjustment
			in.Reason = ledger.ReasonDispute + " reversal"
			if _, rerr := r.ledger.Adjust(ctx, in); rerr != nil {
				r.logger.Error(ctx, "Failed to reverse dispute adjustment", "delta", in.Delta, "error", rerr)
			}
		}
		return err
	}
	return nil
}

// rollback returns a dispute from claimed to prev after the effects of the
// claim could not be applied, so the action can be retried.
func (r *Resolver) rollback(ctx context.Context, id string, claimed, prev domain.DisputeStatus, cause error) {
	_, err := r.mutate(ctx, id, func(d *domain.Dispute, now time.Time) error {
		if d.Status != claimed {
			return domain.DisputeTransitionError(d, prev)
		}
		d.Status = prev
		d.ResolvedAt = nil
		if claimed == domain.DisputeStatusResolved && d.Resolution != nil {
			d.Resolution.ValidatedBy = ""
			d.Resolution.ValidatedAt = nil
		}
		d.Audit(domain.AuditActionRolledBack, domain.AuditActorSystem, "rolled back: "+cause.Error(), now)
		return nil
	})
	if err != nil {
		r.logger.Error(ctx, "Failed to roll back dispute", "status", claimed, "error", err)
		return
	}
	r.logger.Warn(ctx, "Dispute rolled back", "from", claimed, "to", prev, "cause", cause)
}

// closeCheque records the final quantity and moves a disputed chèque to
// RECEIVED. A chèque already RECEIVED only gets its quantity updated.
func (r *Resolver) closeCheque(ctx context.Context, chequeID string, quantity int64) error {
	var (
		c    *domain.Cheque
		from domain.ChequeStatus
	)
	err := domain.RetryOnConflict(ctx, func() error {
		var err error
		c, err = r.cheques.GetCheque(ctx, chequeID)
		if err != nil {
			return err
		}
		from = c.Status
		switch c.Status {
		case domain.ChequeStatusDisputed:
			c.Status = domain.ChequeStatusReceived
		case domain.ChequeStatusReceived:
		default:
			return domain.ChequeTransitionError(c, domain.ChequeStatusReceived)
		}
		q := quantity
		c.QuantityReceived = &q
		c.UpdatedAt = r.now()
		return r.cheques.UpdateCheque(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("close cheque: %w", err)
	}

	if from != c.Status {
		r.chequeMoved(ctx, c, from)
	}
	return nil
}

// Comment appends a comment in any status.
func (r *Resolver) Comment(ctx context.Context, id, author, content string) (*domain.Dispute, error) {
	if author == "" || content == "" {
		return nil, domain.NewValidationError("comment", "author and content are required")
	}

	return r.mutate(logger.WithDisputeID(ctx, id), id, func(d *domain.Dispute, now time.Time) error {
		d.Comments = append(d.Comments, domain.Comment{Author: author, Content: content, At: now})
		d.Audit(domain.AuditActionCommented, author, "", now)
		return nil
	})
}

// Escalate is the manual escalation of an open or proposed dispute.
func (r *Resolver) Escalate(ctx context.Context, id, by, reason string) (*domain.Dispute, error) {
	by = orDefault(by, domain.AuditActorSystem)
	ctx = logger.WithDisputeID(ctx, id)

	d, err := r.mutate(ctx, id, func(d *domain.Dispute, now time.Time) error {
		return escalate(d, by, orDefault(reason, "manual escalation"), now)
	})
	if err != nil {
		return nil, err
	}

	r.metrics.DisputeEscalated(by)
	r.logger.Warn(ctx, "Dispute escalated", "by", by)
	r.published(ctx, d, domain.AuditActionEscalated, by)
	return d, nil
}

func escalate(d *domain.Dispute, by, reason string, now time.Time) error {
	if !d.Status.CanTransitionTo(domain.DisputeStatusEscalated) {
		return domain.DisputeTransitionError(d, domain.DisputeStatusEscalated)
	}
	d.Status = domain.DisputeStatusEscalated
	d.Priority = domain.DisputePriorityHighest
	d.EscalatedAt = &now
	d.Audit(domain.AuditActionEscalated, by, reason, now)
	return nil
}

// Reject records an external decision dismissing the dispute. A chèque still
// DISPUTED is closed at its recorded quantity with no ledger change.
func (r *Resolver) Reject(ctx context.Context, id, by, reason string) (*domain.Dispute, error) {
	if by == "" {
		return nil, domain.NewValidationError("by", "required")
	}
	ctx = logger.WithDisputeID(ctx, id)

	var prev domain.DisputeStatus
	d, err := r.mutate(ctx, id, func(d *domain.Dispute, now time.Time) error {
		if !d.Status.CanTransitionTo(domain.DisputeStatusRejected) {
			return domain.DisputeTransitionError(d, domain.DisputeStatusRejected)
		}
		prev = d.Status
		d.Status = domain.DisputeStatusRejected
		d.ResolvedAt = &now
		d.Audit(domain.AuditActionRejected, by, orDefault(reason, "dispute rejected"), now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c, err := r.cheques.GetCheque(ctx, d.ChequeID)
	if err == nil && c.Status == domain.ChequeStatusDisputed {
		err = r.closeCheque(ctx, c.ID, c.CurrentQuantity())
	}
	if err != nil {
		r.rollback(ctx, d.ID, domain.DisputeStatusRejected, prev, err)
		return nil, fmt.Errorf("close disputed cheque: %w", err)
	}

	r.logger.Info(ctx, "Dispute rejected", "by", by)
	r.published(ctx, d, domain.AuditActionRejected, by)
	return d, nil
}

// AutoEscalate escalates every OPEN or PROPOSED dispute created more than
// threshold before now. Disputes that moved on concurrently are skipped, so
// repeated sweeps are harmless.
func (r *Resolver) AutoEscalate(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	cutoff := now.Add(-threshold)

	stale, _, err := r.disputes.ListDisputes(ctx, domain.DisputeFilter{
		Statuses:      domain.OpenDisputeStatuses,
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale disputes: %w", err)
	}

	reason := fmt.Sprintf("no resolution after %s", threshold)
	escalated := 0
	for _, candidate := range stale {
		dctx := logger.WithDisputeID(ctx, candidate.ID)
		d, err := r.mutate(dctx, candidate.ID, func(d *domain.Dispute, _ time.Time) error {
			return escalate(d, domain.AuditActorSystem, reason, now)
		})
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			r.logger.Error(dctx, "Failed to auto-escalate dispute", "error", err)
			continue
		}

		escalated++
		r.metrics.DisputeEscalated(domain.AuditActorSystem)
		r.published(dctx, d, domain.AuditActionEscalated, domain.AuditActorSystem)
	}

	if escalated > 0 {
		r.logger.Info(ctx, "Stale disputes escalated", "count", escalated, "threshold", threshold.String())
	}
	return escalated, nil
}

func (r *Resolver) Stats(ctx context.Context) (*Stats, error) {
	all, _, err := r.disputes.ListDisputes(ctx, domain.DisputeFilter{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:      len(all),
		ByStatus:   map[domain.DisputeStatus]int{},
		ByType:     map[domain.DisputeType]int{},
		ByPriority: map[domain.DisputePriority]int{},
	}

	var (
		resolved      int
		resolvedHours float64
	)
	for _, d := range all {
		stats.ByStatus[d.Status]++
		stats.ByType[d.Type]++
		stats.ByPriority[d.Priority]++
		if !d.Status.IsTerminal() {
			stats.Open++
		}
		if d.Status == domain.DisputeStatusResolved && d.ResolvedAt != nil {
			resolved++
			resolvedHours += d.ResolvedAt.Sub(d.CreatedAt).Hours()
		}
	}

	stats.Closed = stats.Total - stats.Open
	if stats.Total > 0 {
		stats.ResolutionRate = math.Round(float64(stats.Closed) / float64(stats.Total) * 100)
	}
	if resolved > 0 {
		stats.AvgResolutionTimeHours = math.Round(resolvedHours / float64(resolved))
	}
	return stats, nil
}

func (r *Resolver) published(ctx context.Context, d *domain.Dispute, action, by string) {
	event := eventbus.NewEvent(eventbus.EventTypeDispute, eventbus.DisputeEvent{
		DisputeID:    d.ID,
		ChequeID:     d.ChequeID,
		Action:       action,
		Status:       d.Status,
		Priority:     d.Priority,
		InitiatorID:  d.InitiatorID,
		RespondentID: d.RespondentID,
		By:           by,
		At:           d.UpdatedAt,
	}, d.UpdatedAt)
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn(ctx, "Failed to publish dispute event", "action", action, "error", err)
	}
}

func (r *Resolver) chequeMoved(ctx context.Context, c *domain.Cheque, from domain.ChequeStatus) {
	r.metrics.ChequeTransition(from, c.Status)
	event := eventbus.NewEvent(eventbus.EventTypeStatusChange, cheque.StatusChange(c, from), c.UpdatedAt)
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn(ctx, "Failed to publish status change", "status", c.Status, "error", err)
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
