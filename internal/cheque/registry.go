// Package cheque issues signed pallet chèques and drives them through their
// lifecycle: dispatch, deposit, receipt and cancellation.
package cheque

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/internal/geofence"
	"github.com/grachmannico95/palette-cheque/internal/ledger"
	"github.com/grachmannico95/palette-cheque/internal/matching"
	"github.com/grachmannico95/palette-cheque/internal/metrics"
	"github.com/grachmannico95/palette-cheque/internal/signature"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const (
	photoStageDeposit = "deposit"
	photoStageReceipt = "receipt"
)

type CreateInput struct {
	OrderID      string            `json:"order_id,omitempty"`
	EmitterID    string            `json:"emitter_id"`
	EmitterName  string            `json:"emitter_name,omitempty"`
	TargetSiteID string            `json:"target_site_id,omitempty"`
	Quantity     int64             `json:"quantity"`
	PalletType   domain.PalletType `json:"pallet_type"`
	VehiclePlate string            `json:"vehicle_plate,omitempty"`
	DriverName   string            `json:"driver_name,omitempty"`
	// Location and RadiusKm drive automatic site selection when
	// TargetSiteID is empty.
	Location *domain.GeoPoint `json:"location,omitempty"`
	RadiusKm float64          `json:"radius_km,omitempty"`
}

type DepositInput struct {
	Location  *domain.GeoPoint `json:"geolocation,omitempty"`
	Signature string           `json:"signature,omitempty"`
	Photos    []string         `json:"photos,omitempty"`
}

type ReceiveInput struct {
	QuantityReceived *int64           `json:"quantity_received,omitempty"`
	Location         *domain.GeoPoint `json:"geolocation,omitempty"`
	Signature        string           `json:"signature,omitempty"`
	ReceiverID       string           `json:"receiver_id,omitempty"`
	ReceiverName     string           `json:"receiver_name,omitempty"`
	Photos           []string         `json:"photos,omitempty"`
}

type VerifyResult struct {
	ChequeID   string              `json:"cheque_id"`
	Valid      bool                `json:"is_valid"`
	Status     domain.ChequeStatus `json:"status"`
	VerifiedAt time.Time           `json:"verified_at"`
}

// Proof is what the QR rendering collaborator needs to print on a chèque.
type Proof struct {
	Payload            signature.ChequePayload `json:"payload"`
	Signature          string                  `json:"signature"`
	TruncatedSignature string                  `json:"truncated_signature"`
	PublicKey          string                  `json:"public_key"`
}

type Registry struct {
	cheques   domain.ChequeRepository
	sites     domain.SiteRepository
	ledger    *ledger.Store
	matcher   *matching.Matcher
	signer    *signature.Service
	receipts  ReceiptRecorder
	publisher eventbus.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// ReceiptRecorder charges received pallets to the target site's quota.
type ReceiptRecorder interface {
	RecordReceipt(ctx context.Context, siteID string, quantity int64) error
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithPublisher(p eventbus.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithMatcher(m *matching.Matcher) Option {
	return func(r *Registry) { r.matcher = m }
}

func NewRegistry(
	cheques domain.ChequeRepository,
	sites domain.SiteRepository,
	ledgerStore *ledger.Store,
	signer *signature.Service,
	receipts ReceiptRecorder,
	log *logger.Logger,
	opts ...Option,
) *Registry {
	r := &Registry{
		cheques:   cheques,
		sites:     sites,
		ledger:    ledgerStore,
		signer:    signer,
		receipts:  receipts,
		publisher: eventbus.Discard,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newChequeID(at time.Time) string {
	stamp := strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))
	return "CHQ-" + stamp + "-" + strings.ToUpper(uuid.New().String()[:8])
}

// Create issues a signed chèque at ISSUED and debits the emitter.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*domain.Cheque, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	var match *domain.MatchingInfo
	if in.TargetSiteID == "" {
		picked, err := r.pickSite(ctx, in)
		if err != nil {
			return nil, err
		}
		in.TargetSiteID = picked.SiteID
		match = &domain.MatchingInfo{Score: picked.Score, Rank: picked.Rank, DistanceKm: picked.DistanceKm}
	}

	site, err := r.sites.GetSite(ctx, in.TargetSiteID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("target_site_id", "unknown site "+in.TargetSiteID)
	}
	if err != nil {
		return nil, fmt.Errorf("load target site: %w", err)
	}
	if !site.Active {
		return nil, domain.NewValidationError("target_site_id", "site "+site.ID+" is inactive")
	}

	available := site.Quota.Remaining()
	if capacity := site.Capacities.Get(in.PalletType); capacity < available {
		available = capacity
	}
	if available < in.Quantity {
		return nil, &domain.QuotaError{SiteID: site.ID, Requested: in.Quantity, Available: available}
	}

	now := r.now()
	cheque := &domain.Cheque{
		ID:             newChequeID(now),
		OrderID:        in.OrderID,
		EmitterID:      in.EmitterID,
		EmitterName:    in.EmitterName,
		TargetSiteID:   site.ID,
		TargetSiteName: site.Name,
		Quantity:       in.Quantity,
		PalletType:     in.PalletType,
		Status:         domain.ChequeStatusIssued,
		VehiclePlate:   in.VehiclePlate,
		DriverName:     in.DriverName,
		Timestamps:     domain.ChequeTimestamps{EmittedAt: now},
		Matching:       match,
		UpdatedAt:      now,
	}

	cheque.Signature, err = r.signer.Sign(signature.PayloadFor(cheque))
	if err != nil {
		return nil, fmt.Errorf("sign cheque: %w", err)
	}

	// No chèque is persisted without its emitter debit.
	ctx = logger.WithChequeID(ctx, cheque.ID)
	debit := ledger.AdjustInput{
		CompanyID:   cheque.EmitterID,
		CompanyName: cheque.EmitterName,
		PalletType:  cheque.PalletType,
		Delta:       -cheque.Quantity,
		Reason:      ledger.ReasonIssuance,
		ChequeID:    cheque.ID,
	}
	if _, err := r.ledger.Adjust(ctx, debit); err != nil {
		return nil, fmt.Errorf("debit emitter: %w", err)
	}

	if err := r.cheques.CreateCheque(ctx, cheque); err != nil {
		r.reverse(ctx, debit)
		return nil, fmt.Errorf("create cheque: %w", err)
	}

	r.logger.Info(ctx, "Cheque issued",
		"emitter_id", cheque.EmitterID,
		"site_id", cheque.TargetSiteID,
		"quantity", cheque.Quantity,
		"pallet_type", cheque.PalletType.String(),
	)
	r.transitioned(ctx, cheque, "")

	return cheque, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case in.EmitterID == "":
		return domain.NewValidationError("emitter_id", "required")
	case in.Quantity <= 0:
		return domain.NewValidationError("quantity", "must be positive")
	case !in.PalletType.Valid():
		return domain.NewValidationError("pallet_type", "unknown pallet type")
	case in.TargetSiteID == "" && in.Location == nil:
		return domain.NewValidationError("target_site_id", "required when no location is given")
	}
	return nil
}

func (r *Registry) pickSite(ctx context.Context, in CreateInput) (matching.MatchedSite, error) {
	if r.matcher == nil {
		return matching.MatchedSite{}, domain.NewValidationError("target_site_id", "required")
	}

	best, found, err := r.matcher.FindBest(ctx, matching.Request{
		Location:   *in.Location,
		Quantity:   in.Quantity,
		PalletType: in.PalletType,
		RadiusKm:   in.RadiusKm,
		CompanyID:  in.EmitterID,
	})
	if err != nil {
		return matching.MatchedSite{}, err
	}
	if !found {
		return matching.MatchedSite{}, domain.NewValidationError("target_site_id", "no eligible site near the given location")
	}
	return best, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Cheque, error) {
	return r.cheques.GetCheque(ctx, id)
}

func (r *Registry) List(ctx context.Context, filter domain.ChequeFilter) ([]*domain.Cheque, int, error) {
	return r.cheques.ListCheques(ctx, filter)
}

// transition re-reads the chèque, checks that it may move to next and lets
// apply fill in the rest before a versioned save. It returns the saved chèque
// and the status it left.
func (r *Registry) transition(
	ctx context.Context,
	id string,
	next domain.ChequeStatus,
	apply func(c *domain.Cheque) error,
) (*domain.Cheque, domain.ChequeStatus, error) {
	var (
		cheque *domain.Cheque
		from   domain.ChequeStatus
	)
	err := domain.RetryOnConflict(ctx, func() error {
		var err error
		cheque, err = r.cheques.GetCheque(ctx, id)
		if err != nil {
			return err
		}
		if !cheque.Status.CanTransitionTo(next) {
			return domain.ChequeTransitionError(cheque, next)
		}
		from = cheque.Status
		cheque.Status = next
		if err := apply(cheque); err != nil {
			return err
		}
		cheque.UpdatedAt = r.now()
		return r.cheques.UpdateCheque(ctx, cheque)
	})
	if err != nil {
		return nil, "", err
	}
	return cheque, from, nil
}

// Dispatch marks an issued chèque as on its way to the site.
func (r *Registry) Dispatch(ctx context.Context, id string) (*domain.Cheque, error) {
	ctx = logger.WithChequeID(ctx, id)
	cheque, from, err := r.transition(ctx, id, domain.ChequeStatusInTransit, func(c *domain.Cheque) error {
		at := r.now()
		c.Timestamps.DispatchedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.transitioned(ctx, cheque, from)
	return cheque, nil
}

// Deposit records the physical drop-off at the target site.
func (r *Registry) Deposit(ctx context.Context, id string, in DepositInput) (*domain.Cheque, error) {
	ctx = logger.WithChequeID(ctx, id)
	cheque, from, err := r.transition(ctx, id, domain.ChequeStatusDeposited, func(c *domain.Cheque) error {
		if err := r.checkSignature(c); err != nil {
			return err
		}
		if err := r.checkGeofence(ctx, c.TargetSiteID, in.Location); err != nil {
			return err
		}

		at := r.now()
		c.Timestamps.DepositedAt = &at
		if in.Location != nil {
			loc := *in.Location
			c.DepositLocation = &loc
		}
		if in.Signature != "" {
			c.TransporterSignature = in.Signature
		}
		c.Photos = appendPhotos(c.Photos, photoStageDeposit, in.Photos, at)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info(ctx, "Cheque deposited", "site_id", cheque.TargetSiteID)
	r.transitioned(ctx, cheque, from)
	return cheque, nil
}

// Receive confirms receipt at the site. A received quantity that differs from
// the issued one leaves the chèque DISPUTED.
func (r *Registry) Receive(ctx context.Context, id string, in ReceiveInput) (*domain.Cheque, error) {
	if in.QuantityReceived != nil && *in.QuantityReceived < 0 {
		return nil, domain.NewValidationError("quantity_received", "must not be negative")
	}

	ctx = logger.WithChequeID(ctx, id)

	var (
		cheque *domain.Cheque
		from   domain.ChequeStatus
	)
	err := domain.RetryOnConflict(ctx, func() error {
		var err error
		cheque, err = r.cheques.GetCheque(ctx, id)
		if err != nil {
			return err
		}

		received := cheque.Quantity
		if in.QuantityReceived != nil {
			received = *in.QuantityReceived
		}
		next := domain.ChequeStatusReceived
		if received != cheque.Quantity {
			next = domain.ChequeStatusDisputed
		}
		if cheque.Status != domain.ChequeStatusDeposited {
			return domain.ChequeTransitionError(cheque, next)
		}
		if err := r.checkSignature(cheque); err != nil {
			return err
		}
		if err := r.checkGeofence(ctx, cheque.TargetSiteID, in.Location); err != nil {
			return err
		}

		at := r.now()
		from = cheque.Status
		cheque.Status = next
		cheque.QuantityReceived = &received
		cheque.Timestamps.ReceivedAt = &at
		if in.Location != nil {
			loc := *in.Location
			cheque.ReceiptLocation = &loc
		}
		if in.Signature != "" {
			cheque.ReceiverSignature = in.Signature
		}
		if in.ReceiverID != "" {
			cheque.ReceiverID = in.ReceiverID
		}
		cheque.Photos = appendPhotos(cheque.Photos, photoStageReceipt, in.Photos, at)
		cheque.UpdatedAt = at
		return r.cheques.UpdateCheque(ctx, cheque)
	})
	if err != nil {
		return nil, err
	}

	received := *cheque.QuantityReceived
	if in.ReceiverID != "" && received > 0 {
		if _, err := r.ledger.Adjust(ctx, ledger.AdjustInput{
			CompanyID:   in.ReceiverID,
			CompanyName: in.ReceiverName,
			PalletType:  cheque.PalletType,
			Delta:       received,
			Reason:      ledger.ReasonReception,
			ChequeID:    cheque.ID,
		}); err != nil {
			r.revert(ctx, id, cheque.Status, from, undoReceipt)
			return nil, fmt.Errorf("credit receiver: %w", err)
		}
	}

	if r.receipts != nil {
		if err := r.receipts.RecordReceipt(ctx, cheque.TargetSiteID, received); err != nil {
			r.logger.Error(ctx, "Failed to record site receipt", "site_id", cheque.TargetSiteID, "error", err)
		}
	}

	if cheque.Status == domain.ChequeStatusDisputed {
		r.logger.Warn(ctx, "Cheque received with quantity mismatch",
			"quantity", cheque.Quantity,
			"quantity_received", received,
		)
	} else {
		r.logger.Info(ctx, "Cheque received", "quantity_received", received)
	}
	r.transitioned(ctx, cheque, from)

	return cheque, nil
}

// Cancel voids an issued chèque and credits the emitter back.
func (r *Registry) Cancel(ctx context.Context, id, reason string) (*domain.Cheque, error) {
	ctx = logger.WithChequeID(ctx, id)
	if reason == "" {
		reason = "unspecified"
	}

	cheque, from, err := r.transition(ctx, id, domain.ChequeStatusCancelled, func(c *domain.Cheque) error {
		at := r.now()
		c.Timestamps.CancelledAt = &at
		c.CancelReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.ledger.Adjust(ctx, ledger.AdjustInput{
		CompanyID:   cheque.EmitterID,
		CompanyName: cheque.EmitterName,
		PalletType:  cheque.PalletType,
		Delta:       cheque.Quantity,
		Reason:      ledger.ReasonCancellation + ": " + reason,
		ChequeID:    cheque.ID,
	}); err != nil {
		r.revert(ctx, id, domain.ChequeStatusCancelled, from, undoCancel)
		return nil, fmt.Errorf("credit emitter: %w", err)
	}

	r.logger.Info(ctx, "Cheque cancelled", "reason", reason)
	r.transitioned(ctx, cheque, from)
	return cheque, nil
}

// Verify recomputes the canonical payload and checks the stored signature.
func (r *Registry) Verify(ctx context.Context, id string) (VerifyResult, error) {
	cheque, err := r.cheques.GetCheque(ctx, id)
	if err != nil {
		return VerifyResult{}, err
	}

	return VerifyResult{
		ChequeID:   cheque.ID,
		Valid:      r.signer.Verify(signature.PayloadFor(cheque), cheque.Signature),
		Status:     cheque.Status,
		VerifiedAt: r.now(),
	}, nil
}

func (r *Registry) Proof(ctx context.Context, id string) (Proof, error) {
	cheque, err := r.cheques.GetCheque(ctx, id)
	if err != nil {
		return Proof{}, err
	}

	return Proof{
		Payload:            signature.PayloadFor(cheque),
		Signature:          cheque.Signature,
		TruncatedSignature: signature.Truncate(cheque.Signature),
		PublicKey:          r.signer.PublicKey(),
	}, nil
}

func (r *Registry) checkSignature(c *domain.Cheque) error {
	if !r.signer.Verify(signature.PayloadFor(c), c.Signature) {
		return fmt.Errorf("cheque %s: %w", c.ID, domain.ErrSignatureInvalid)
	}
	return nil
}

// checkGeofence enforces the site radius for strict sites. Non-strict sites
// accept any position, including none.
func (r *Registry) checkGeofence(ctx context.Context, siteID string, at *domain.GeoPoint) error {
	site, err := r.sites.GetSite(ctx, siteID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load site for geofence: %w", err)
	}
	if !site.Geofence.Strict {
		return nil
	}

	if at == nil {
		return &domain.GeofenceError{
			SiteID:       site.ID,
			RadiusMeters: site.Geofence.RadiusMeters,
			Reason:       "geolocation required by strict geofencing",
		}
	}

	result := geofence.Validate(*at, site.Location, site.Geofence.RadiusMeters)
	if !result.WithinRadius {
		return &domain.GeofenceError{
			SiteID:         site.ID,
			DistanceMeters: result.DistanceMeters,
			RadiusMeters:   site.Geofence.RadiusMeters,
		}
	}
	return nil
}

func appendPhotos(photos []domain.Photo, stage string, urls []string, at time.Time) []domain.Photo {
	for _, url := range urls {
		if url == "" {
			continue
		}
		photos = append(photos, domain.Photo{Stage: stage, URL: url, At: at})
	}
	return photos
}

// reverse books the opposite of an adjustment whose chèque write failed.
func (r *Registry) reverse(ctx context.Context, in ledger.AdjustInput) {
	in.Delta = -in.Delta
	in.Reason += " reversal"
	if _, err := r.ledger.Adjust(ctx, in); err != nil {
		r.logger.Error(ctx, "Failed to reverse ledger adjustment",
			"company_id", in.CompanyID,
			"delta", in.Delta,
			"error", err,
		)
	}
}

// revert moves a chèque from claimed back to prev when the ledger side of
// the transition could not be written. undo clears what the transition
// recorded. Nothing is published for either move.
func (r *Registry) revert(ctx context.Context, id string, claimed, prev domain.ChequeStatus, undo func(c *domain.Cheque)) {
	err := domain.RetryOnConflict(ctx, func() error {
		c, err := r.cheques.GetCheque(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != claimed {
			return domain.ChequeTransitionError(c, prev)
		}
		c.Status = prev
		undo(c)
		c.UpdatedAt = r.now()
		return r.cheques.UpdateCheque(ctx, c)
	})
	if err != nil {
		r.logger.Error(ctx, "Failed to revert cheque transition",
			"from", claimed,
			"to", prev,
			"error", err,
		)
		return
	}
	r.logger.Warn(ctx, "Cheque transition reverted", "from", claimed, "to", prev)
}

func undoCancel(c *domain.Cheque) {
	c.Timestamps.CancelledAt = nil
	c.CancelReason = ""
}

func undoReceipt(c *domain.Cheque) {
	c.QuantityReceived = nil
	c.Timestamps.ReceivedAt = nil
	c.ReceiptLocation = nil
	c.ReceiverSignature = ""
	c.ReceiverID = ""

	kept := c.Photos[:0]
	for _, p := range c.Photos {
		if p.Stage != photoStageReceipt {
			kept = append(kept, p)
		}
	}
	c.Photos = kept
}

// transitioned records the metric and publishes the status change. An empty
// from marks issuance.
func (r *Registry) transitioned(ctx context.Context, c *domain.Cheque, from domain.ChequeStatus) {
	r.metrics.ChequeTransition(from, c.Status)

	event := eventbus.NewEvent(eventbus.EventTypeStatusChange, StatusChange(c, from), c.UpdatedAt)
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn(ctx, "Failed to publish status change", "status", c.Status, "error", err)
	}
}

// StatusChange builds the event payload for a chèque that just left from.
func StatusChange(c *domain.Cheque, from domain.ChequeStatus) eventbus.StatusChangeEvent {
	return eventbus.StatusChangeEvent{
		ChequeID:         c.ID,
		EmitterID:        c.EmitterID,
		TargetSiteID:     c.TargetSiteID,
		ReceiverID:       c.ReceiverID,
		PalletType:       c.PalletType,
		Quantity:         c.Quantity,
		QuantityReceived: c.QuantityReceived,
		From:             from,
		To:               c.Status,
		At:               c.UpdatedAt,
	}
}
