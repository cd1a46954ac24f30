// Package matching ranks candidate restitution sites for a batch of pallets.
package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/geofence"
	"github.com/grachmannico95/palette-cheque/internal/metrics"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const DefaultRadiusKm = 30.0

// Criterion weights. They sum to 1 so the score stays on a 0-100 scale.
const (
	WeightDistance = 0.35
	WeightQuota    = 0.25
	WeightPriority = 0.20
	WeightRating   = 0.10
	WeightOpenNow  = 0.10

	internalBonus = 30.0
)

type Request struct {
	Location       domain.GeoPoint   `json:"location"`
	Quantity       int64             `json:"quantity"`
	PalletType     domain.PalletType `json:"pallet_type"`
	RadiusKm       float64           `json:"radius_km,omitempty"`
	CompanyID      string            `json:"company_id,omitempty"`
	ExcludeSiteIDs []string          `json:"exclude_site_ids,omitempty"`
}

type ScoreBreakdown struct {
	Distance float64 `json:"distance"`
	Quota    float64 `json:"quota"`
	Priority float64 `json:"priority"`
	Rating   float64 `json:"rating"`
	OpenNow  float64 `json:"open_now"`
}

type MatchedSite struct {
	SiteID         string              `json:"site_id"`
	SiteName       string              `json:"site_name"`
	CompanyID      string              `json:"company_id"`
	CompanyName    string              `json:"company_name"`
	Address        domain.Address      `json:"address"`
	Location       domain.GeoPoint     `json:"location"`
	DistanceKm     float64             `json:"distance_km"`
	QuotaRemaining int64               `json:"quota_remaining"`
	Capacity       int64               `json:"capacity"`
	TodayHours     domain.DayHours     `json:"today_hours"`
	Priority       domain.SitePriority `json:"priority"`
	PriorityScore  float64             `json:"priority_score"`
	AvgRating      float64             `json:"avg_rating"`
	IsOpen         bool                `json:"is_open"`
	Score          float64             `json:"score"`
	Breakdown      ScoreBreakdown      `json:"breakdown"`
	Rank           int                 `json:"rank"`
}

type Stats struct {
	TotalSites      int                         `json:"total_sites"`
	ActiveSites     int                         `json:"active_sites"`
	AvgQuotaUsage   float64                     `json:"avg_quota_usage"`
	SitesByPriority map[domain.SitePriority]int `json:"sites_by_priority"`
}

type Matcher struct {
	sites         domain.SiteRepository
	logger        *logger.Logger
	metrics       *metrics.Metrics
	defaultRadius float64
	now           func() time.Time
}

type Option func(*Matcher)

func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

func WithDefaultRadius(km float64) Option {
	return func(m *Matcher) {
		if km > 0 {
			m.defaultRadius = km
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

func NewMatcher(sites domain.SiteRepository, log *logger.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		sites:         sites,
		logger:        log,
		defaultRadius: DefaultRadiusKm,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindSites returns every eligible site ranked by score, best first. An empty
// result is not an error.
func (m *Matcher) FindSites(ctx context.Context, req Request) ([]MatchedSite, error) {
	if err := m.validate(&req); err != nil {
		return nil, err
	}

	box := geofence.BoundingBox(req.Location, req.RadiusKm)
	candidates, err := m.sites.ListSites(ctx, domain.SiteFilter{
		ActiveOnly: true,
		Bounds:     &box,
		ExcludeIDs: req.ExcludeSiteIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate sites: %w", err)
	}

	now := m.now()
	matched := make([]MatchedSite, 0, len(candidates))
	for _, site := range candidates {
		distance := geofence.DistanceKm(req.Location, site.Location)
		if distance > req.RadiusKm {
			continue
		}

		remaining := site.Quota.Remaining()
		if remaining < req.Quantity {
			continue
		}

		capacity := site.Capacities.Get(req.PalletType)
		if capacity < req.Quantity {
			continue
		}

		open := site.OpeningHours.IsOpenAt(now)
		breakdown := scoreSite(site, distance, req, remaining, open)

		matched = append(matched, MatchedSite{
			SiteID:         site.ID,
			SiteName:       site.Name,
			CompanyID:      site.CompanyID,
			CompanyName:    site.CompanyName,
			Address:        site.Address,
			Location:       site.Location,
			DistanceKm:     math.Round(distance*10) / 10,
			QuotaRemaining: remaining,
			Capacity:       capacity,
			TodayHours:     site.OpeningHours.For(now.Weekday()),
			Priority:       site.Priority,
			PriorityScore:  site.PriorityScore,
			AvgRating:      site.Stats.AvgRating,
			IsOpen:         open,
			Score:          breakdown.total(),
			Breakdown:      breakdown,
		})
	}

	// Stable so that equal scores keep repository order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score > matched[j].Score
	})
	for i := range matched {
		matched[i].Rank = i + 1
	}

	m.metrics.MatchingCandidates(len(matched))
	m.logger.Debug(ctx, "Sites matched",
		"candidates", len(candidates),
		"eligible", len(matched),
		"radius_km", req.RadiusKm,
	)

	return matched, nil
}

// FindBest returns the top-ranked site. found is false when no site is
// eligible.
func (m *Matcher) FindBest(ctx context.Context, req Request) (MatchedSite, bool, error) {
	sites, err := m.FindSites(ctx, req)
	if err != nil {
		return MatchedSite{}, false, err
	}
	if len(sites) == 0 {
		return MatchedSite{}, false, nil
	}
	return sites[0], true, nil
}

func (m *Matcher) Stats(ctx context.Context) (Stats, error) {
	sites, err := m.sites.ListSites(ctx, domain.SiteFilter{})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalSites: len(sites),
		SitesByPriority: map[domain.SitePriority]int{
			domain.SitePriorityInternal: 0,
			domain.SitePriorityNetwork:  0,
			domain.SitePriorityExternal: 0,
		},
	}

	var usage float64
	for _, s := range sites {
		if !s.Active {
			continue
		}
		stats.ActiveSites++
		stats.SitesByPriority[s.Priority]++
		if s.Quota.MaxDaily > 0 {
			usage += float64(s.Quota.CurrentDaily) / float64(s.Quota.MaxDaily)
		}
	}
	if stats.ActiveSites > 0 {
		stats.AvgQuotaUsage = math.Round(usage / float64(stats.ActiveSites) * 100)
	}

	return stats, nil
}

func (m *Matcher) validate(req *Request) error {
	if req.Quantity <= 0 {
		return domain.NewValidationError("quantity", "must be positive")
	}
	if !req.PalletType.Valid() {
		return domain.NewValidationError("pallet_type", "unknown pallet type")
	}
	if req.Location.Latitude < -90 || req.Location.Latitude > 90 ||
		req.Location.Longitude < -180 || req.Location.Longitude > 180 {
		return domain.NewValidationError("location", "coordinates out of range")
	}
	if req.RadiusKm < 0 {
		return domain.NewValidationError("radius_km", "must not be negative")
	}
	if req.RadiusKm == 0 {
		req.RadiusKm = m.defaultRadius
	}
	return nil
}

func scoreSite(site *domain.Site, distanceKm float64, req Request, quotaRemaining int64, open bool) ScoreBreakdown {
	var b ScoreBreakdown

	b.Distance = math.Max(0, 100*(1-distanceKm/req.RadiusKm))

	quantity := math.Max(float64(req.Quantity), 1)
	b.Quota = math.Min(100, 50*(float64(quotaRemaining)/quantity))

	b.Priority = site.PriorityScore
	if site.Priority == domain.SitePriorityInternal && req.CompanyID != "" && req.CompanyID == site.CompanyID {
		b.Priority = math.Min(100, b.Priority+internalBonus)
	}

	b.Rating = 100 * site.Stats.AvgRating / 5

	if open {
		b.OpenNow = 100
	}

	return b
}

func (b ScoreBreakdown) total() float64 {
	return WeightDistance*b.Distance +
		WeightQuota*b.Quota +
		WeightPriority*b.Priority +
		WeightRating*b.Rating +
		WeightOpenNow*b.OpenNow
}
