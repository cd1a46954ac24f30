// Package storagetest holds the behaviour every domain.Repository must share,
// run against each storage driver from its own tests.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newRepo func(t *testing.T) domain.Repository) {
	t.Run("ChequeLifecycle", func(t *testing.T) { testChequeLifecycle(t, newRepo(t)) })
	t.Run("ChequeVersionConflict", func(t *testing.T) { testChequeVersionConflict(t, newRepo(t)) })
	t.Run("ListChequesFilters", func(t *testing.T) { testListCheques(t, newRepo(t)) })
	t.Run("LedgerRoundTrip", func(t *testing.T) { testLedger(t, newRepo(t)) })
	t.Run("SitesBoundsAndOrder", func(t *testing.T) { testSites(t, newRepo(t)) })
	t.Run("OneOpenDisputePerCheque", func(t *testing.T) { testOneOpenDispute(t, newRepo(t)) })
	t.Run("ConcurrentOpenDispute", func(t *testing.T) { testConcurrentOpenDispute(t, newRepo(t)) })
	t.Run("ListDisputesFilters", func(t *testing.T) { testListDisputes(t, newRepo(t)) })
	t.Run("EventLog", func(t *testing.T) { testEventLog(t, newRepo(t)) })
}

func NewCheque(id string, emitted time.Time) *domain.Cheque {
	return &domain.Cheque{
		ID:           id,
		EmitterID:    "company-a",
		EmitterName:  "Company A",
		TargetSiteID: "site-1",
		Quantity:     10,
		PalletType:   domain.PalletTypeEuroEpal,
		Status:       domain.ChequeStatusIssued,
		Timestamps:   domain.ChequeTimestamps{EmittedAt: emitted},
		Signature:    "sig",
		UpdatedAt:    emitted,
	}
}

func NewSite(id string, location domain.GeoPoint) *domain.Site {
	return &domain.Site{
		ID:            id,
		CompanyID:     "company-b",
		Name:          "Site " + id,
		Location:      location,
		Geofence:      domain.GeofenceSettings{RadiusMeters: 100},
		Quota:         domain.Quota{MaxDaily: 100, MaxWeekly: 500},
		Capacities:    domain.QuantitiesOf(1000, 500, 200, 100),
		Priority:      domain.SitePriorityNetwork,
		PriorityScore: 50,
		OpeningHours:  domain.DefaultOpeningHours(),
		Active:        true,
		Stats:         domain.SiteStats{AvgRating: 5},
		CreatedAt:     baseTime,
		UpdatedAt:     baseTime,
	}
}

func NewDispute(id, chequeID string, created time.Time) *domain.Dispute {
	return &domain.Dispute{
		ID:              id,
		ChequeID:        chequeID,
		InitiatorID:     "company-a",
		RespondentID:    "company-b",
		Type:            domain.DisputeTypeQuantity,
		ClaimedQuantity: 10,
		ActualQuantity:  8,
		PalletType:      domain.PalletTypeEuroEpal,
		Status:          domain.DisputeStatusOpen,
		Priority:        domain.DisputePriorityMedium,
		Comments:        []domain.Comment{},
		AuditTrail:      []domain.AuditEntry{},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func testChequeLifecycle(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	cheque := NewCheque("CHQ-1", baseTime)
	cheque.DepositLocation = &domain.GeoPoint{Latitude: 48.85, Longitude: 2.35}
	cheque.Matching = &domain.MatchingInfo{Score: 81.5, Rank: 1, DistanceKm: 4.2}

	require.NoError(t, repo.CreateCheque(ctx, cheque))
	assert.Equal(t, int64(1), cheque.Version)
	assert.ErrorIs(t, repo.CreateCheque(ctx, NewCheque("CHQ-1", baseTime)), domain.ErrAlreadyExists)

	got, err := repo.GetCheque(ctx, "CHQ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChequeStatusIssued, got.Status)
	assert.True(t, got.Timestamps.EmittedAt.Equal(baseTime))
	assert.Equal(t, 81.5, got.Matching.Score)

	got.Status = domain.ChequeStatusDeposited
	received := int64(8)
	got.QuantityReceived = &received
	require.NoError(t, repo.UpdateCheque(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	again, err := repo.GetCheque(ctx, "CHQ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChequeStatusDeposited, again.Status)
	require.NotNil(t, again.QuantityReceived)
	assert.Equal(t, int64(8), *again.QuantityReceived)

	_, err = repo.GetCheque(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testChequeVersionConflict(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateCheque(ctx, NewCheque("CHQ-1", baseTime)))

	first, err := repo.GetCheque(ctx, "CHQ-1")
	require.NoError(t, err)
	second, err := repo.GetCheque(ctx, "CHQ-1")
	require.NoError(t, err)

	first.Status = domain.ChequeStatusCancelled
	require.NoError(t, repo.UpdateCheque(ctx, first))

	second.Status = domain.ChequeStatusDeposited
	assert.ErrorIs(t, repo.UpdateCheque(ctx, second), domain.ErrVersionConflict)

	stored, err := repo.GetCheque(ctx, "CHQ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChequeStatusCancelled, stored.Status)
}

func testListCheques(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	for i, id := range []string{"CHQ-1", "CHQ-2", "CHQ-3"} {
		c := NewCheque(id, baseTime.Add(time.Duration(i)*time.Minute))
		if id == "CHQ-2" {
			c.EmitterID = "company-z"
			c.Status = domain.ChequeStatusReceived
		}
		require.NoError(t, repo.CreateCheque(ctx, c))
	}

	all, total, err := repo.ListCheques(ctx, domain.ChequeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "CHQ-3", all[0].ID)

	byEmitter, total, err := repo.ListCheques(ctx, domain.ChequeFilter{EmitterID: "company-a"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byEmitter, 2)

	byStatus, _, err := repo.ListCheques(ctx, domain.ChequeFilter{Statuses: []domain.ChequeStatus{domain.ChequeStatusReceived}})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "CHQ-2", byStatus[0].ID)

	page, total, err := repo.ListCheques(ctx, domain.ChequeFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "CHQ-2", page[0].ID)
}

func testLedger(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	ledger := domain.NewLedger("company-a", baseTime)
	ledger.Apply(domain.PalletTypeEuroEpal, -10, "issuance", "CHQ-1", baseTime, 100)
	require.NoError(t, repo.CreateLedger(ctx, ledger))
	assert.ErrorIs(t, repo.CreateLedger(ctx, domain.NewLedger("company-a", baseTime)), domain.ErrAlreadyExists)

	got, err := repo.GetLedger(ctx, "company-a")
	require.NoError(t, err)
	assert.Equal(t, int64(-10), got.Balances.Get(domain.PalletTypeEuroEpal))
	require.Len(t, got.History, 1)
	assert.Equal(t, "CHQ-1", got.History[0].ChequeID)

	stale := got.Clone()
	got.Apply(domain.PalletTypeDemiPalette, 5, "reception", "", baseTime, 100)
	require.NoError(t, repo.UpdateLedger(ctx, got))
	assert.ErrorIs(t, repo.UpdateLedger(ctx, stale), domain.ErrVersionConflict)

	require.NoError(t, repo.CreateLedger(ctx, domain.NewLedger("company-0", baseTime)))
	all, err := repo.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "company-0", all[0].CompanyID)
	assert.Equal(t, int64(-5), all[1].Total())

	_, err = repo.GetLedger(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSites(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	paris := NewSite("site-paris", domain.GeoPoint{Latitude: 48.8566, Longitude: 2.3522})
	lyon := NewSite("site-lyon", domain.GeoPoint{Latitude: 45.7640, Longitude: 4.8357})
	versailles := NewSite("site-versailles", domain.GeoPoint{Latitude: 48.8049, Longitude: 2.1204})
	versailles.Active = false

	for _, s := range []*domain.Site{paris, lyon, versailles} {
		require.NoError(t, repo.CreateSite(ctx, s))
	}

	all, err := repo.ListSites(ctx, domain.SiteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"site-paris", "site-lyon", "site-versailles"}, siteIDs(all))

	box := domain.BoundingBox{MinLatitude: 48, MaxLatitude: 49.5, MinLongitude: 1.5, MaxLongitude: 3}
	near, err := repo.ListSites(ctx, domain.SiteFilter{Bounds: &box})
	require.NoError(t, err)
	assert.Equal(t, []string{"site-paris", "site-versailles"}, siteIDs(near))

	active, err := repo.ListSites(ctx, domain.SiteFilter{Bounds: &box, ActiveOnly: true, ExcludeIDs: []string{"site-lyon"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"site-paris"}, siteIDs(active))

	east := NewSite("site-suva", domain.GeoPoint{Latitude: -17.0, Longitude: 179.9})
	west := NewSite("site-taveuni", domain.GeoPoint{Latitude: -17.0, Longitude: -179.9})
	require.NoError(t, repo.CreateSite(ctx, east))
	require.NoError(t, repo.CreateSite(ctx, west))

	wrapped := domain.BoundingBox{MinLatitude: -18, MaxLatitude: -16, MinLongitude: 179.5, MaxLongitude: -179.5}
	pacific, err := repo.ListSites(ctx, domain.SiteFilter{Bounds: &wrapped})
	require.NoError(t, err)
	assert.Equal(t, []string{"site-suva", "site-taveuni"}, siteIDs(pacific))

	got, err := repo.GetSite(ctx, "site-paris")
	require.NoError(t, err)
	got.Quota.CurrentDaily = 40
	require.NoError(t, repo.UpdateSite(ctx, got))

	reread, err := repo.GetSite(ctx, "site-paris")
	require.NoError(t, err)
	assert.Equal(t, int64(40), reread.Quota.CurrentDaily)
	assert.Equal(t, int64(500), reread.Capacities.Get(domain.PalletTypeEuroEpal2))
}

func testOneOpenDispute(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	first := NewDispute("DSP-1", "CHQ-1", baseTime)
	require.NoError(t, repo.CreateDispute(ctx, first))

	err := repo.CreateDispute(ctx, NewDispute("DSP-2", "CHQ-1", baseTime))
	assert.ErrorIs(t, err, domain.ErrDisputeAlreadyOpen)
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, repo.CreateDispute(ctx, NewDispute("DSP-3", "CHQ-2", baseTime)))

	got, err := repo.GetDispute(ctx, "DSP-1")
	require.NoError(t, err)
	got.Status = domain.DisputeStatusRejected
	got.Audit(domain.AuditActionRejected, "operator", "duplicate", baseTime)
	require.NoError(t, repo.UpdateDispute(ctx, got))

	require.NoError(t, repo.CreateDispute(ctx, NewDispute("DSP-4", "CHQ-1", baseTime)))

	reread, err := repo.GetDispute(ctx, "DSP-1")
	require.NoError(t, err)
	require.Len(t, reread.AuditTrail, 1)
	assert.Equal(t, domain.AuditActionRejected, reread.AuditTrail[0].Action)
}

func testConcurrentOpenDispute(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	const attempts = 8

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := NewDispute("DSP-"+string(rune('A'+i)), "CHQ-RACE", baseTime)
			errs[i] = repo.CreateDispute(ctx, d)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDisputeAlreadyOpen)
	}
	assert.Equal(t, 1, created)
}

func testListDisputes(t *testing.T, repo domain.Repository) {
	ctx := context.Background()
	old := NewDispute("DSP-old", "CHQ-1", baseTime.Add(-72*time.Hour))
	fresh := NewDispute("DSP-new", "CHQ-2", baseTime)
	fresh.Priority = domain.DisputePriorityHigh
	other := NewDispute("DSP-other", "CHQ-3", baseTime)
	other.InitiatorID = "company-x"
	other.RespondentID = "company-y"
	other.Status = domain.DisputeStatusEscalated

	for _, d := range []*domain.Dispute{old, fresh, other} {
		require.NoError(t, repo.CreateDispute(ctx, d))
	}

	cutoff := baseTime.Add(-48 * time.Hour)
	stale, total, err := repo.ListDisputes(ctx, domain.DisputeFilter{
		Statuses:      domain.OpenDisputeStatuses,
		CreatedBefore: &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, stale, 1)
	assert.Equal(t, "DSP-old", stale[0].ID)

	byCompany, total, err := repo.ListDisputes(ctx, domain.DisputeFilter{CompanyID: "company-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byCompany, 2)

	high, _, err := repo.ListDisputes(ctx, domain.DisputeFilter{Priority: domain.DisputePriorityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "DSP-new", high[0].ID)

	byCheque, _, err := repo.ListDisputes(ctx, domain.DisputeFilter{ChequeID: "CHQ-3"})
	require.NoError(t, err)
	require.Len(t, byCheque, 1)
	assert.Equal(t, domain.DisputeStatusEscalated, byCheque[0].Status)
}

func testEventLog(t *testing.T, repo domain.Repository) {
	ctx := context.Background()

	processed, err := repo.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, repo.MarkEventProcessed(ctx, "evt-1"))
	require.NoError(t, repo.MarkEventProcessed(ctx, "evt-1"))

	processed, err = repo.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
	require.NoError(t, repo.Ping(ctx))
}

func siteIDs(sites []*domain.Site) []string {
	ids := make([]string, 0, len(sites))
	for _, s := range sites {
		ids = append(ids, s.ID)
	}
	return ids
}
