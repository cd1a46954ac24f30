// Package registry keeps an informational mirror of the external pallet
// registry. Nothing in the exchange reads balances from it; it only reports
// movements and compares its view against the local ledgers.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const DefaultPrefix = "EPAL"

type CertificationStatus string

const (
	CertificationValid   CertificationStatus = "valid"
	CertificationExpired CertificationStatus = "expired"
	CertificationRevoked CertificationStatus = "revoked"
)

type MovementKind string

const (
	MovementEmission     MovementKind = "emission"
	MovementReception    MovementKind = "reception"
	MovementCancellation MovementKind = "cancellation"
)

type PalletRecord struct {
	Serial           string              `json:"serial"`
	PalletType       domain.PalletType   `json:"pallet_type"`
	ManufacturerCode string              `json:"manufacturer_code"`
	ProductionYear   int                 `json:"production_year"`
	Status           CertificationStatus `json:"certification_status"`
	RegisteredAt     time.Time           `json:"registered_at"`
}

type SerialCheck struct {
	Serial string        `json:"serial"`
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason,omitempty"`
	Record *PalletRecord `json:"record,omitempty"`
}

// Movement is signed from the point of view of CompanyID: an emission is
// negative, a reception or a cancellation credit is positive.
type Movement struct {
	ReportID   string            `json:"report_id"`
	ChequeID   string            `json:"cheque_id"`
	Kind       MovementKind      `json:"kind"`
	CompanyID  string            `json:"company_id"`
	PalletType domain.PalletType `json:"pallet_type"`
	Quantity   int64             `json:"quantity"`
	At         time.Time         `json:"at"`
}

type SyncReport struct {
	CompanyID    string            `json:"company_id"`
	Synchronized bool              `json:"synchronized"`
	Local        domain.Quantities `json:"local"`
	Registry     domain.Quantities `json:"registry"`
	Delta        int64             `json:"delta"`
	SyncedAt     time.Time         `json:"synced_at"`
}

type Stats struct {
	TotalPallets int            `json:"total_pallets"`
	ByCountry    map[string]int `json:"by_country"`
	ByStatus     map[string]int `json:"by_status"`
	Movements    int            `json:"movements"`
}

// LedgerReader is satisfied by *ledger.Store.
type LedgerReader interface {
	Get(ctx context.Context, companyID string) (*domain.Ledger, error)
}

// Tracks reports whether the registry follows movements of pallet type t.
// Only the EPAL-certified types carry serial numbers.
func Tracks(t domain.PalletType) bool {
	return t == domain.PalletTypeEuroEpal || t == domain.PalletTypeEuroEpal2
}

type Mirror struct {
	prefix  string
	pattern *regexp.Regexp
	ledgers LedgerReader
	logger  *logger.Logger
	now     func() time.Time

	mu        sync.RWMutex
	records   map[string]*PalletRecord
	balances  map[string]*domain.Quantities
	movements []Movement
}

type Option func(*Mirror)

func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

func WithPrefix(prefix string) Option {
	return func(m *Mirror) {
		if prefix != "" {
			m.prefix = strings.ToUpper(prefix)
		}
	}
}

func NewMirror(ledgers LedgerReader, log *logger.Logger, opts ...Option) *Mirror {
	m := &Mirror{
		prefix:   DefaultPrefix,
		ledgers:  ledgers,
		logger:   log,
		now:      time.Now,
		records:  make(map[string]*PalletRecord),
		balances: make(map[string]*domain.Quantities),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pattern = regexp.MustCompile(`^` + regexp.QuoteMeta(m.prefix) + `-(\d{4})-([A-Z]{2})-\d{6}$`)
	return m
}

// Register seeds a pallet record, typically to mark a serial as revoked.
func (m *Mirror) Register(record PalletRecord) error {
	if !m.pattern.MatchString(record.Serial) {
		return domain.NewValidationError("serial", m.formatHint())
	}
	if record.Status == "" {
		record.Status = CertificationValid
	}
	if record.RegisteredAt.IsZero() {
		record.RegisteredAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Serial] = &record
	return nil
}

// ValidateSerial checks the serial format and its certification status. An
// unknown well-formed serial is registered on first sight.
func (m *Mirror) ValidateSerial(ctx context.Context, serial string) (SerialCheck, error) {
	check := SerialCheck{Serial: serial}

	parts := m.pattern.FindStringSubmatch(serial)
	if parts == nil {
		check.Reason = m.formatHint()
		return check, nil
	}

	m.mu.Lock()
	record, ok := m.records[serial]
	if !ok {
		year, _ := strconv.Atoi(parts[1])
		record = &PalletRecord{
			Serial:           serial,
			PalletType:       domain.PalletTypeEuroEpal,
			ManufacturerCode: parts[2],
			ProductionYear:   year,
			Status:           CertificationValid,
			RegisteredAt:     m.now(),
		}
		m.records[serial] = record
	}
	snapshot := *record
	m.mu.Unlock()

	if !ok {
		m.logger.Debug(ctx, "Registered new pallet serial", "serial", serial)
	}

	check.Record = &snapshot
	if snapshot.Status != CertificationValid {
		check.Reason = fmt.Sprintf("pallet certification is %s", snapshot.Status)
		return check, nil
	}
	check.Valid = true
	return check, nil
}

func (m *Mirror) formatHint() string {
	return fmt.Sprintf("invalid serial format, expected %s-YYYY-CC-NNNNNN", m.prefix)
}

// ReportMovement records a movement and returns its report id.
func (m *Mirror) ReportMovement(ctx context.Context, mv Movement) (string, error) {
	if mv.ChequeID == "" {
		return "", domain.NewValidationError("cheque_id", "required")
	}
	if mv.CompanyID == "" {
		return "", domain.NewValidationError("company_id", "required")
	}
	if !Tracks(mv.PalletType) {
		return "", domain.NewValidationError("pallet_type", fmt.Sprintf("%s is not tracked by the registry", mv.PalletType))
	}

	now := m.now()
	if mv.At.IsZero() {
		mv.At = now
	}
	mv.ReportID = fmt.Sprintf("%s-RPT-%s-%s",
		m.prefix,
		strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		strings.ToUpper(uuid.New().String()[:6]),
	)

	m.mu.Lock()
	balance, ok := m.balances[mv.CompanyID]
	if !ok {
		balance = &domain.Quantities{}
		m.balances[mv.CompanyID] = balance
	}
	balance.Add(mv.PalletType, mv.Quantity)
	m.movements = append(m.movements, mv)
	m.mu.Unlock()

	m.logger.Info(logger.WithCompanyID(ctx, mv.CompanyID), "Registry movement reported",
		"report_id", mv.ReportID,
		"cheque_id", mv.ChequeID,
		"kind", string(mv.Kind),
		"quantity", mv.Quantity,
	)
	return mv.ReportID, nil
}

// Movements returns the reports of one company, or all of them when
// companyID is empty, oldest first.
func (m *Mirror) Movements(companyID string) []Movement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Movement, 0, len(m.movements))
	for _, mv := range m.movements {
		if companyID == "" || mv.CompanyID == companyID {
			out = append(out, mv)
		}
	}
	return out
}

// SyncLedger compares the tracked balances of a company's ledger with the
// movements reported for it. A mismatch is logged, never corrected.
func (m *Mirror) SyncLedger(ctx context.Context, companyID string) (SyncReport, error) {
	l, err := m.ledgers.Get(ctx, companyID)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to load ledger %s: %w", companyID, err)
	}

	report := SyncReport{CompanyID: companyID, SyncedAt: m.now()}

	m.mu.RLock()
	if balance, ok := m.balances[companyID]; ok {
		report.Registry = *balance
	}
	m.mu.RUnlock()

	for _, t := range domain.AllPalletTypes() {
		if !Tracks(t) {
			continue
		}
		report.Local.Set(t, l.Balances.Get(t))
		diff := report.Local.Get(t) - report.Registry.Get(t)
		if diff < 0 {
			diff = -diff
		}
		report.Delta += diff
	}
	report.Synchronized = report.Delta == 0

	if !report.Synchronized {
		m.logger.Warn(logger.WithCompanyID(ctx, companyID), "Ledger differs from registry", "delta", report.Delta)
	}
	return report, nil
}

func (m *Mirror) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalPallets: len(m.records),
		ByCountry:    make(map[string]int),
		ByStatus:     make(map[string]int),
		Movements:    len(m.movements),
	}
	for _, r := range m.records {
		stats.ByCountry[r.ManufacturerCode]++
		stats.ByStatus[string(r.Status)]++
	}
	return stats
}
