package domain

import (
	"context"
	"time"
)

type ChequeFilter struct {
	EmitterID string
	SiteID    string
	Statuses  []ChequeStatus
	Limit     int
	Offset    int
}

type SiteFilter struct {
	CompanyID  string
	ActiveOnly bool
	Priority   SitePriority
	Bounds     *BoundingBox
	ExcludeIDs []string
}

type DisputeFilter struct {
	ChequeID      string
	CompanyID     string
	Statuses      []DisputeStatus
	Priority      DisputePriority
	Type          DisputeType
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Update methods follow the same optimistic-concurrency contract: the write
// succeeds only when the stored Version equals the Version of the argument,
// in which case both are incremented. Otherwise ErrVersionConflict is returned
// and nothing is written.

type ChequeRepository interface {
	CreateCheque(ctx context.Context, cheque *Cheque) error
	GetCheque(ctx context.Context, id string) (*Cheque, error)
	UpdateCheque(ctx context.Context, cheque *Cheque) error
	// ListCheques returns the page and the total number of matches, newest first.
	ListCheques(ctx context.Context, filter ChequeFilter) ([]*Cheque, int, error)
}

type LedgerRepository interface {
	CreateLedger(ctx context.Context, ledger *Ledger) error
	GetLedger(ctx context.Context, companyID string) (*Ledger, error)
	UpdateLedger(ctx context.Context, ledger *Ledger) error
	ListLedgers(ctx context.Context) ([]*Ledger, error)
}

type SiteRepository interface {
	CreateSite(ctx context.Context, site *Site) error
	GetSite(ctx context.Context, id string) (*Site, error)
	UpdateSite(ctx context.Context, site *Site) error
	// ListSites returns matches in creation order.
	ListSites(ctx context.Context, filter SiteFilter) ([]*Site, error)
}

type DisputeRepository interface {
	// CreateDispute fails with ErrDisputeAlreadyOpen when another dispute on
	// the same chèque is OPEN or PROPOSED.
	CreateDispute(ctx context.Context, dispute *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	UpdateDispute(ctx context.Context, dispute *Dispute) error
	ListDisputes(ctx context.Context, filter DisputeFilter) ([]*Dispute, int, error)
}

// EventLog records which bus events a consumer has already applied.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// ScopeEventLog prefixes event ids with scope, so that several consumers of
// the same event each keep their own processed marker.
func ScopeEventLog(log EventLog, scope string) EventLog {
	return scopedEventLog{log: log, prefix: scope + ":"}
}

type scopedEventLog struct {
	log    EventLog
	prefix string
}

func (s scopedEventLog) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.log.IsEventProcessed(ctx, s.prefix+eventID)
}

func (s scopedEventLog) MarkEventProcessed(ctx context.Context, eventID string) error {
	return s.log.MarkEventProcessed(ctx, s.prefix+eventID)
}

type Repository interface {
	ChequeRepository
	LedgerRepository
	SiteRepository
	DisputeRepository
	EventLog

	Ping(ctx context.Context) error
	Close() error
}
