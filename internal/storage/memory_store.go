package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

// MemoryStore is the default domain.Repository. Values are cloned on the way
// in and out so callers never share memory with the store.
type MemoryStore struct {
	cheques     map[string]*domain.Cheque
	chequeOrder []string

	ledgers map[string]*domain.Ledger

	sites     map[string]*domain.Site
	siteOrder []string

	disputes     map[string]*domain.Dispute
	disputeOrder []string

	processedEvents map[string]bool
	mu              sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cheques:         make(map[string]*domain.Cheque),
		ledgers:         make(map[string]*domain.Ledger),
		sites:           make(map[string]*domain.Site),
		disputes:        make(map[string]*domain.Dispute),
		processedEvents: make(map[string]bool),
	}
}

func (s *MemoryStore) CreateCheque(ctx context.Context, cheque *domain.Cheque) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cheques[cheque.ID]; exists {
		return domain.ErrAlreadyExists
	}

	cheque.Version = 1
	s.cheques[cheque.ID] = cheque.Clone()
	s.chequeOrder = append(s.chequeOrder, cheque.ID)

	return nil
}

func (s *MemoryStore) GetCheque(ctx context.Context, id string) (*domain.Cheque, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cheque, exists := s.cheques[id]
	if !exists {
		return nil, domain.NewNotFoundError("cheque", id)
	}

	return cheque.Clone(), nil
}

func (s *MemoryStore) UpdateCheque(ctx context.Context, cheque *domain.Cheque) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.cheques[cheque.ID]
	if !exists {
		return domain.NewNotFoundError("cheque", cheque.ID)
	}
	if stored.Version != cheque.Version {
		return domain.ErrVersionConflict
	}

	cheque.Version++
	s.cheques[cheque.ID] = cheque.Clone()

	return nil
}

func (s *MemoryStore) ListCheques(ctx context.Context, filter domain.ChequeFilter) ([]*domain.Cheque, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Cheque
	for i := len(s.chequeOrder) - 1; i >= 0; i-- {
		c := s.cheques[s.chequeOrder[i]]

		if filter.EmitterID != "" && c.EmitterID != filter.EmitterID {
			continue
		}
		if filter.SiteID != "" && c.TargetSiteID != filter.SiteID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, c.Status) {
			continue
		}

		matched = append(matched, c)
	}

	page := paginate(matched, filter.Limit, filter.Offset)
	out := make([]*domain.Cheque, 0, len(page))
	for _, c := range page {
		out = append(out, c.Clone())
	}

	return out, len(matched), nil
}

func (s *MemoryStore) CreateLedger(ctx context.Context, ledger *domain.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledgers[ledger.CompanyID]; exists {
		return domain.ErrAlreadyExists
	}

	ledger.Version = 1
	s.ledgers[ledger.CompanyID] = ledger.Clone()

	return nil
}

func (s *MemoryStore) GetLedger(ctx context.Context, companyID string) (*domain.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, exists := s.ledgers[companyID]
	if !exists {
		return nil, domain.NewNotFoundError("ledger", companyID)
	}

	return ledger.Clone(), nil
}

func (s *MemoryStore) UpdateLedger(ctx context.Context, ledger *domain.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.ledgers[ledger.CompanyID]
	if !exists {
		return domain.NewNotFoundError("ledger", ledger.CompanyID)
	}
	if stored.Version != ledger.Version {
		return domain.ErrVersionConflict
	}

	ledger.Version++
	s.ledgers[ledger.CompanyID] = ledger.Clone()

	return nil
}

func (s *MemoryStore) ListLedgers(ctx context.Context) ([]*domain.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Ledger, 0, len(s.ledgers))
	for _, l := range s.ledgers {
		out = append(out, l.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.Ledger) int {
		switch {
		case a.CompanyID < b.CompanyID:
			return -1
		case a.CompanyID > b.CompanyID:
			return 1
		}
		return 0
	})

	return out, nil
}

func (s *MemoryStore) CreateSite(ctx context.Context, site *domain.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sites[site.ID]; exists {
		return domain.ErrAlreadyExists
	}

	site.Version = 1
	s.sites[site.ID] = site.Clone()
	s.siteOrder = append(s.siteOrder, site.ID)

	return nil
}

func (s *MemoryStore) GetSite(ctx context.Context, id string) (*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, exists := s.sites[id]
	if !exists {
		return nil, domain.NewNotFoundError("site", id)
	}

	return site.Clone(), nil
}

func (s *MemoryStore) UpdateSite(ctx context.Context, site *domain.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sites[site.ID]
	if !exists {
		return domain.NewNotFoundError("site", site.ID)
	}
	if stored.Version != site.Version {
		return domain.ErrVersionConflict
	}

	site.Version++
	s.sites[site.ID] = site.Clone()

	return nil
}

func (s *MemoryStore) ListSites(ctx context.Context, filter domain.SiteFilter) ([]*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Site{}
	for _, id := range s.siteOrder {
		site := s.sites[id]

		if filter.CompanyID != "" && site.CompanyID != filter.CompanyID {
			continue
		}
		if filter.ActiveOnly && !site.Active {
			continue
		}
		if filter.Priority != "" && site.Priority != filter.Priority {
			continue
		}
		if filter.Bounds != nil && !filter.Bounds.Contains(site.Location) {
			continue
		}
		if slices.Contains(filter.ExcludeIDs, site.ID) {
			continue
		}

		out = append(out, site.Clone())
	}

	return out, nil
}

func (s *MemoryStore) CreateDispute(ctx context.Context, dispute *domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.disputes[dispute.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.disputes {
		if existing.ChequeID == dispute.ChequeID && existing.IsOpen() {
			return domain.ErrDisputeAlreadyOpen
		}
	}

	dispute.Version = 1
	s.disputes[dispute.ID] = dispute.Clone()
	s.disputeOrder = append(s.disputeOrder, dispute.ID)

	return nil
}

func (s *MemoryStore) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dispute, exists := s.disputes[id]
	if !exists {
		return nil, domain.NewNotFoundError("dispute", id)
	}

	return dispute.Clone(), nil
}

func (s *MemoryStore) UpdateDispute(ctx context.Context, dispute *domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.disputes[dispute.ID]
	if !exists {
		return domain.NewNotFoundError("dispute", dispute.ID)
	}
	if stored.Version != dispute.Version {
		return domain.ErrVersionConflict
	}

	dispute.Version++
	s.disputes[dispute.ID] = dispute.Clone()

	return nil
}

func (s *MemoryStore) ListDisputes(ctx context.Context, filter domain.DisputeFilter) ([]*domain.Dispute, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Dispute
	for i := len(s.disputeOrder) - 1; i >= 0; i-- {
		d := s.disputes[s.disputeOrder[i]]

		if filter.ChequeID != "" && d.ChequeID != filter.ChequeID {
			continue
		}
		if filter.CompanyID != "" && d.InitiatorID != filter.CompanyID && d.RespondentID != filter.CompanyID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, d.Status) {
			continue
		}
		if filter.Priority != "" && d.Priority != filter.Priority {
			continue
		}
		if filter.Type != "" && d.Type != filter.Type {
			continue
		}
		if filter.CreatedBefore != nil && !d.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}

		matched = append(matched, d)
	}

	page := paginate(matched, filter.Limit, filter.Offset)
	out := make([]*domain.Dispute, 0, len(page))
	for _, d := range page {
		out = append(out, d.Clone())
	}

	return out, len(matched), nil
}

func (s *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.processedEvents[eventID], nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processedEvents[eventID] = true

	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// paginate applies offset then limit. A non-positive limit returns everything
// after the offset.
func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
