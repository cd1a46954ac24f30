package matching

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/geofence"
	"github.com/grachmannico95/palette-cheque/internal/storage"
	"github.com/grachmannico95/palette-cheque/internal/storage/storagetest"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

var (
	origin        = domain.GeoPoint{Latitude: 48.8566, Longitude: 2.3522}
	mondayMorning = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)
	sunday        = time.Date(2026, 10, 25, 10, 30, 0, 0, time.UTC)
)

func newTestMatcher(t *testing.T, now time.Time, sites ...*domain.Site) *Matcher {
	t.Helper()
	repo := storage.NewMemoryStore()
	for _, s := range sites {
		require.NoError(t, repo.CreateSite(context.Background(), s))
	}
	return NewMatcher(repo, logger.NewNop(), WithClock(func() time.Time { return now }))
}

func siteAt(id string, km float64) *domain.Site {
	return storagetest.NewSite(id, geofence.OffsetNorth(origin, km*1000))
}

func request(qty int64) Request {
	return Request{Location: origin, Quantity: qty, PalletType: domain.PalletTypeEuroEpal, RadiusKm: 30}
}

func TestFindSites_CloserSiteRanksStrictlyHigher(t *testing.T) {
	far := siteAt("far", 29)
	near := siteAt("near", 5)
	m := newTestMatcher(t, mondayMorning, far, near)

	sites, err := m.FindSites(context.Background(), request(10))
	require.NoError(t, err)
	require.Len(t, sites, 2)

	assert.Equal(t, "near", sites[0].SiteID)
	assert.Equal(t, 1, sites[0].Rank)
	assert.Equal(t, "far", sites[1].SiteID)
	assert.Equal(t, 2, sites[1].Rank)
	assert.Greater(t, sites[0].Score, sites[1].Score)
	assert.InDelta(t, 5.0, sites[0].DistanceKm, 0.05)
}

func TestFindSites_ScoreFormula(t *testing.T) {
	m := newTestMatcher(t, mondayMorning, siteAt("here", 0))

	sites, err := m.FindSites(context.Background(), request(10))
	require.NoError(t, err)
	require.Len(t, sites, 1)

	got := sites[0]
	assert.InDelta(t, 100, got.Breakdown.Distance, 1e-9)
	assert.InDelta(t, 100, got.Breakdown.Quota, 1e-9)
	assert.InDelta(t, 50, got.Breakdown.Priority, 1e-9)
	assert.InDelta(t, 100, got.Breakdown.Rating, 1e-9)
	assert.InDelta(t, 100, got.Breakdown.OpenNow, 1e-9)
	assert.InDelta(t, 35+25+10+10+10, got.Score, 1e-9)
	assert.True(t, got.IsOpen)
}

func TestFindSites_QuotaScoreHalfWhenExactlyEnough(t *testing.T) {
	site := siteAt("tight", 0)
	site.Quota.CurrentDaily = 90
	m := newTestMatcher(t, mondayMorning, site)

	sites, err := m.FindSites(context.Background(), request(10))
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.InDelta(t, 50, sites[0].Breakdown.Quota, 1e-9)
	assert.Equal(t, int64(10), sites[0].QuotaRemaining)
}

func TestFindSites_Filters(t *testing.T) {
	inactive := siteAt("inactive", 1)
	inactive.Active = false

	excluded := siteAt("excluded", 1)
	outside := siteAt("outside", 31)

	dailyFull := siteAt("daily-full", 1)
	dailyFull.Quota.CurrentDaily = 95

	weeklyFull := siteAt("weekly-full", 1)
	weeklyFull.Quota.CurrentWeekly = 495

	noCapacity := siteAt("no-capacity", 1)
	noCapacity.Capacities.Set(domain.PalletTypeEuroEpal, 5)

	ok := siteAt("ok", 1)

	m := newTestMatcher(t, mondayMorning, inactive, excluded, outside, dailyFull, weeklyFull, noCapacity, ok)

	req := request(10)
	req.ExcludeSiteIDs = []string{"excluded"}
	sites, err := m.FindSites(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "ok", sites[0].SiteID)
}

func TestFindSites_InternalBonusForOwner(t *testing.T) {
	network := siteAt("network", 2)
	internal := siteAt("internal", 2)
	internal.Priority = domain.SitePriorityInternal
	internal.CompanyID = "company-a"
	m := newTestMatcher(t, mondayMorning, network, internal)

	req := request(10)
	sites, err := m.FindSites(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	// Same score without the bonus: stable order keeps insertion order.
	assert.Equal(t, "network", sites[0].SiteID)
	assert.Equal(t, sites[0].Score, sites[1].Score)

	req.CompanyID = "company-a"
	sites, err = m.FindSites(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "internal", sites[0].SiteID)
	assert.InDelta(t, 80, sites[0].Breakdown.Priority, 1e-9)
}

func TestFindSites_ClosedSitesLoseOpenNowPoints(t *testing.T) {
	m := newTestMatcher(t, sunday, siteAt("s", 0))

	sites, err := m.FindSites(context.Background(), request(10))
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.False(t, sites[0].IsOpen)
	assert.Zero(t, sites[0].Breakdown.OpenNow)
	assert.True(t, sites[0].TodayHours.Closed)
}

func TestFindSites_TotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var sites []*domain.Site
	for i := 0; i < 40; i++ {
		s := siteAt(fmt.Sprintf("site-%02d", i), rng.Float64()*30)
		s.PriorityScore = float64(rng.Intn(101))
		s.Stats.AvgRating = rng.Float64() * 5
		s.Quota.CurrentDaily = int64(rng.Intn(90))
		sites = append(sites, s)
	}
	m := newTestMatcher(t, mondayMorning, sites...)

	ranked, err := m.FindSites(context.Background(), request(10))
	require.NoError(t, err)
	require.NotEmpty(t, ranked)

	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
		assert.Equal(t, i+1, ranked[i].Rank)
	}
}

func TestFindSites_DefaultRadius(t *testing.T) {
	m := newTestMatcher(t, mondayMorning, siteAt("at-25", 25), siteAt("at-35", 35))

	req := request(10)
	req.RadiusKm = 0
	sites, err := m.FindSites(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "at-25", sites[0].SiteID)
}

func TestFindSites_AcrossTheAntimeridian(t *testing.T) {
	fiji := storagetest.NewSite("taveuni", domain.GeoPoint{Latitude: -17.0, Longitude: -179.95})
	m := newTestMatcher(t, mondayMorning, fiji)

	req := request(10)
	req.Location = domain.GeoPoint{Latitude: -17.0, Longitude: 179.95}
	sites, err := m.FindSites(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "taveuni", sites[0].SiteID)
	assert.InDelta(t, 10.63, sites[0].DistanceKm, 0.05)
}

func TestFindSites_Validation(t *testing.T) {
	m := newTestMatcher(t, mondayMorning)

	for _, req := range []Request{
		{Location: origin, Quantity: 0, PalletType: domain.PalletTypeEuroEpal},
		{Location: origin, Quantity: 1, PalletType: domain.PalletTypeUnknown},
		{Location: domain.GeoPoint{Latitude: 91}, Quantity: 1, PalletType: domain.PalletTypeEuroEpal},
		{Location: origin, Quantity: 1, PalletType: domain.PalletTypeEuroEpal, RadiusKm: -1},
	} {
		_, err := m.FindSites(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestFindBest(t *testing.T) {
	m := newTestMatcher(t, mondayMorning, siteAt("far", 20), siteAt("near", 3))

	best, found, err := m.FindBest(context.Background(), request(10))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "near", best.SiteID)

	_, found, err = m.FindBest(context.Background(), request(1000))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStats(t *testing.T) {
	a := siteAt("a", 1)
	a.Quota.CurrentDaily = 50
	b := siteAt("b", 1)
	b.Priority = domain.SitePriorityInternal
	c := siteAt("c", 1)
	c.Active = false

	m := newTestMatcher(t, mondayMorning, a, b, c)
	stats, err := m.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalSites)
	assert.Equal(t, 2, stats.ActiveSites)
	assert.Equal(t, 25.0, stats.AvgQuotaUsage)
	assert.Equal(t, 1, stats.SitesByPriority[domain.SitePriorityInternal])
	assert.Equal(t, 1, stats.SitesByPriority[domain.SitePriorityNetwork])
}
