// Package ledger keeps the per-company pallet balances. Every change goes
// through Adjust, which appends a history entry and keeps
// Balances == Base + sum(History) per pallet type.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/internal/metrics"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const DefaultHistoryRetention = 100

const (
	ReasonIssuance     = "issuance"
	ReasonReception    = "reception"
	ReasonCancellation = "cancellation"
	ReasonDispute      = "dispute resolution"
	ReasonManual       = "manual adjustment"
)

type AdjustInput struct {
	CompanyID   string            `json:"company_id"`
	CompanyName string            `json:"company_name,omitempty"`
	PalletType  domain.PalletType `json:"pallet_type"`
	Delta       int64             `json:"delta"`
	Reason      string            `json:"reason"`
	ChequeID    string            `json:"cheque_id,omitempty"`
}

type Stats struct {
	Companies    int               `json:"companies"`
	InDebt       int               `json:"in_debt"`
	InCredit     int               `json:"in_credit"`
	Balanced     int               `json:"balanced"`
	Totals       domain.Quantities `json:"totals"`
	TotalBalance int64             `json:"total_balance"`
}

type Store struct {
	repo      domain.LedgerRepository
	publisher eventbus.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	retention int
	now       func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

func WithPublisher(p eventbus.Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func NewStore(repo domain.LedgerRepository, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		publisher: eventbus.Discard,
		logger:    log,
		retention: DefaultHistoryRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, companyID string) (*domain.Ledger, error) {
	return s.repo.GetLedger(ctx, companyID)
}

// GetOrCreate returns the company ledger, creating an empty one on first use.
func (s *Store) GetOrCreate(ctx context.Context, companyID string) (*domain.Ledger, error) {
	if companyID == "" {
		return nil, domain.NewValidationError("company_id", "required")
	}

	ledger, err := s.repo.GetLedger(ctx, companyID)
	if err == nil {
		return ledger, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ledger = domain.NewLedger(companyID, s.now())
	err = s.repo.CreateLedger(ctx, ledger)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.repo.GetLedger(ctx, companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	s.logger.Info(logger.WithCompanyID(ctx, companyID), "Ledger created")
	return ledger, nil
}

// Adjust applies a signed delta and returns the appended entry. Concurrent
// adjustments of the same company are serialised by the ledger version.
func (s *Store) Adjust(ctx context.Context, in AdjustInput) (domain.LedgerEntry, error) {
	if err := validateAdjust(in); err != nil {
		return domain.LedgerEntry{}, err
	}
	if in.Reason == "" {
		in.Reason = ReasonManual
	}

	ctx = logger.WithCompanyID(ctx, in.CompanyID)

	var entry domain.LedgerEntry
	err := domain.RetryOnConflict(ctx, func() error {
		ledger, err := s.GetOrCreate(ctx, in.CompanyID)
		if err != nil {
			return err
		}

		if ledger.CompanyName == "" && in.CompanyName != "" {
			ledger.CompanyName = in.CompanyName
		}
		entry = ledger.Apply(in.PalletType, in.Delta, in.Reason, in.ChequeID, s.now(), s.retention)

		return s.repo.UpdateLedger(ctx, ledger)
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to adjust ledger",
			"pallet_type", in.PalletType.String(),
			"delta", in.Delta,
			"error", err,
		)
		return domain.LedgerEntry{}, fmt.Errorf("adjust ledger %s: %w", in.CompanyID, err)
	}

	s.metrics.LedgerAdjusted(in.PalletType)
	s.logger.Info(ctx, "Ledger adjusted",
		"pallet_type", in.PalletType.String(),
		"delta", in.Delta,
		"reason", in.Reason,
		"resulting_balance", entry.ResultingBalance,
	)

	event := eventbus.NewEvent(eventbus.EventTypeLedgerDelta, eventbus.LedgerDeltaEvent{
		CompanyID: in.CompanyID,
		Entry:     entry,
	}, entry.At)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "Failed to publish ledger delta", "error", err)
	}

	return entry, nil
}

func validateAdjust(in AdjustInput) error {
	if in.CompanyID == "" {
		return domain.NewValidationError("company_id", "required")
	}
	if !in.PalletType.Valid() {
		return domain.NewValidationError("pallet_type", "unknown pallet type")
	}
	if in.Delta == 0 {
		return domain.NewValidationError("delta", "must not be zero")
	}
	return nil
}

// TotalBalance sums the four buckets. Unknown companies have a zero balance.
func (s *Store) TotalBalance(ctx context.Context, companyID string) (int64, error) {
	ledger, err := s.repo.GetLedger(ctx, companyID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ledger.Balances.Total(), nil
}

// History returns the retained entries newest first. PalletTypeUnknown
// selects every type; a non-positive limit returns all of them.
func (s *Store) History(ctx context.Context, companyID string, palletType domain.PalletType, limit int) ([]domain.LedgerEntry, error) {
	ledger, err := s.repo.GetLedger(ctx, companyID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, len(ledger.History))
	for i := len(ledger.History) - 1; i >= 0; i-- {
		e := ledger.History[i]
		if palletType != domain.PalletTypeUnknown && e.PalletType != palletType {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) == limit {
			break
		}
	}

	return entries, nil
}

func (s *Store) List(ctx context.Context) ([]*domain.Ledger, error) {
	return s.repo.ListLedgers(ctx)
}

// Debtors returns the ledgers with a negative total, most indebted first.
func (s *Store) Debtors(ctx context.Context) ([]*domain.Ledger, error) {
	ledgers, err := s.repo.ListLedgers(ctx)
	if err != nil {
		return nil, err
	}

	var debtors []*domain.Ledger
	for _, l := range ledgers {
		if l.Total() < 0 {
			debtors = append(debtors, l)
		}
	}
	sort.SliceStable(debtors, func(i, j int) bool {
		return debtors[i].Total() < debtors[j].Total()
	})

	return debtors, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ledgers, err := s.repo.ListLedgers(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, l := range ledgers {
		stats.Companies++
		for _, t := range domain.AllPalletTypes() {
			stats.Totals.Add(t, l.Balances.Get(t))
		}
		switch total := l.Total(); {
		case total < 0:
			stats.InDebt++
		case total > 0:
			stats.InCredit++
		default:
			stats.Balanced++
		}
	}
	stats.TotalBalance = stats.Totals.Total()

	return stats, nil
}
