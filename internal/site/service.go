// Package site manages restitution sites: registration, quota limits and
// counters, activation, and per-site reporting.
package site

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const (
	DefaultGeofenceRadiusMeters = 100.0
	DefaultMaxDaily             = 100
	DefaultMaxWeekly            = 500
	DefaultPriorityScore        = 50.0
	DefaultRating               = 5.0
)

// DefaultCapacities per pallet type, in declaration order.
var DefaultCapacities = domain.QuantitiesOf(1000, 500, 200, 100)

var pendingStatuses = []domain.ChequeStatus{
	domain.ChequeStatusIssued,
	domain.ChequeStatusInTransit,
	domain.ChequeStatusDeposited,
}

type QuotaLimits struct {
	MaxDaily  *int64 `json:"max_daily,omitempty"`
	MaxWeekly *int64 `json:"max_weekly,omitempty"`
}

type CreateInput struct {
	CompanyID     string                   `json:"company_id"`
	CompanyName   string                   `json:"company_name"`
	Name          string                   `json:"name"`
	Address       domain.Address           `json:"address"`
	Location      domain.GeoPoint          `json:"location"`
	Geofence      *domain.GeofenceSettings `json:"geofence,omitempty"`
	Quota         QuotaLimits              `json:"quota"`
	Capacities    *domain.Quantities       `json:"capacities,omitempty"`
	Priority      domain.SitePriority      `json:"priority,omitempty"`
	PriorityScore *float64                 `json:"priority_score,omitempty"`
	OpeningHours  *domain.OpeningHours     `json:"opening_hours,omitempty"`
	ContactEmail  string                   `json:"contact_email,omitempty"`
	ContactPhone  string                   `json:"contact_phone,omitempty"`
	Notes         string                   `json:"notes,omitempty"`
}

// UpdateInput changes the settings of an existing site. Nil fields are left
// as they are. Identity, activation, counters and stats are not editable here.
type UpdateInput struct {
	CompanyName   *string                  `json:"company_name,omitempty"`
	Name          *string                  `json:"name,omitempty"`
	Address       *domain.Address          `json:"address,omitempty"`
	Location      *domain.GeoPoint         `json:"location,omitempty"`
	Geofence      *domain.GeofenceSettings `json:"geofence,omitempty"`
	Quota         QuotaLimits              `json:"quota"`
	Capacities    *domain.Quantities       `json:"capacities,omitempty"`
	Priority      domain.SitePriority      `json:"priority,omitempty"`
	PriorityScore *float64                 `json:"priority_score,omitempty"`
	OpeningHours  *domain.OpeningHours     `json:"opening_hours,omitempty"`
	ContactEmail  *string                  `json:"contact_email,omitempty"`
	ContactPhone  *string                  `json:"contact_phone,omitempty"`
	Notes         *string                  `json:"notes,omitempty"`
}

type ResetScope string

const (
	ResetDaily  ResetScope = "daily"
	ResetWeekly ResetScope = "weekly"
	ResetBoth   ResetScope = "both"
)

// Report summarises a site's activity over a period.
type Report struct {
	SiteID         string            `json:"site_id"`
	SiteName       string            `json:"site_name"`
	Active         bool              `json:"active"`
	Quota          domain.Quota      `json:"quota"`
	QuotaRemaining int64             `json:"quota_remaining"`
	Stats          domain.SiteStats  `json:"stats"`
	Period         string            `json:"period"`
	ReceivedCount  int               `json:"received_count"`
	ReceivedByType domain.Quantities `json:"received_by_type"`
	PendingCheques int               `json:"pending_cheques"`
}

type Service struct {
	sites   domain.SiteRepository
	cheques domain.ChequeRepository
	logger  *logger.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(sites domain.SiteRepository, cheques domain.ChequeRepository, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		sites:   sites,
		cheques: cheques,
		logger:  log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Site, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	site := &domain.Site{
		ID:            "SITE-" + strings.ToUpper(uuid.New().String()[:8]),
		CompanyID:     in.CompanyID,
		CompanyName:   in.CompanyName,
		Name:          in.Name,
		Address:       in.Address,
		Location:      in.Location,
		Geofence:      domain.GeofenceSettings{RadiusMeters: DefaultGeofenceRadiusMeters},
		Quota:         domain.Quota{MaxDaily: DefaultMaxDaily, MaxWeekly: DefaultMaxWeekly, LastResetDaily: now, LastResetWeekly: now},
		Capacities:    DefaultCapacities,
		Priority:      domain.SitePriorityNetwork,
		PriorityScore: DefaultPriorityScore,
		OpeningHours:  domain.DefaultOpeningHours(),
		Active:        true,
		Stats:         domain.SiteStats{AvgRating: DefaultRating},
		ContactEmail:  in.ContactEmail,
		ContactPhone:  in.ContactPhone,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Geofence != nil {
		site.Geofence = *in.Geofence
	}
	if in.Quota.MaxDaily != nil {
		site.Quota.MaxDaily = *in.Quota.MaxDaily
	}
	if in.Quota.MaxWeekly != nil {
		site.Quota.MaxWeekly = *in.Quota.MaxWeekly
	}
	if in.Capacities != nil {
		site.Capacities = *in.Capacities
	}
	if in.Priority != "" {
		site.Priority = in.Priority
	}
	if in.PriorityScore != nil {
		site.PriorityScore = *in.PriorityScore
	}
	if in.OpeningHours != nil {
		site.OpeningHours = *in.OpeningHours
	}

	if err := s.sites.CreateSite(ctx, site); err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}

	s.logger.Info(logger.WithCompanyID(ctx, site.CompanyID), "Site created",
		"site_id", site.ID,
		"priority", site.Priority,
	)

	return site, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case in.CompanyID == "":
		return domain.NewValidationError("company_id", "required")
	case in.Name == "":
		return domain.NewValidationError("name", "required")
	case in.Location.Latitude < -90 || in.Location.Latitude > 90 ||
		in.Location.Longitude < -180 || in.Location.Longitude > 180:
		return domain.NewValidationError("location", "coordinates out of range")
	case in.Geofence != nil && in.Geofence.RadiusMeters <= 0:
		return domain.NewValidationError("geofence.radius_meters", "must be positive")
	case in.Quota.MaxDaily != nil && *in.Quota.MaxDaily < 0,
		in.Quota.MaxWeekly != nil && *in.Quota.MaxWeekly < 0:
		return domain.NewValidationError("quota", "limits must not be negative")
	case in.Priority != "" && !in.Priority.Valid():
		return domain.NewValidationError("priority", "must be INTERNAL, NETWORK or EXTERNAL")
	case in.PriorityScore != nil && (*in.PriorityScore < 0 || *in.PriorityScore > 100):
		return domain.NewValidationError("priority_score", "must be between 0 and 100")
	}
	if in.Capacities != nil {
		for _, t := range domain.AllPalletTypes() {
			if in.Capacities.Get(t) < 0 {
				return domain.NewValidationError("capacities", "must not be negative")
			}
		}
	}
	return nil
}

func validateUpdate(in UpdateInput) error {
	switch {
	case in.Name != nil && *in.Name == "":
		return domain.NewValidationError("name", "must not be empty")
	case in.Location != nil && (in.Location.Latitude < -90 || in.Location.Latitude > 90 ||
		in.Location.Longitude < -180 || in.Location.Longitude > 180):
		return domain.NewValidationError("location", "coordinates out of range")
	case in.Geofence != nil && in.Geofence.RadiusMeters <= 0:
		return domain.NewValidationError("geofence.radius_meters", "must be positive")
	case in.Quota.MaxDaily != nil && *in.Quota.MaxDaily < 0,
		in.Quota.MaxWeekly != nil && *in.Quota.MaxWeekly < 0:
		return domain.NewValidationError("quota", "limits must not be negative")
	case in.Priority != "" && !in.Priority.Valid():
		return domain.NewValidationError("priority", "must be INTERNAL, NETWORK or EXTERNAL")
	case in.PriorityScore != nil && (*in.PriorityScore < 0 || *in.PriorityScore > 100):
		return domain.NewValidationError("priority_score", "must be between 0 and 100")
	}
	if in.Capacities != nil {
		for _, t := range domain.AllPalletTypes() {
			if in.Capacities.Get(t) < 0 {
				return domain.NewValidationError("capacities", "must not be negative")
			}
		}
	}
	return nil
}

// Update applies the non-nil fields of in to the site.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Site, error) {
	if err := validateUpdate(in); err != nil {
		return nil, err
	}

	site, err := s.mutate(ctx, id, func(site *domain.Site) error {
		setString(&site.CompanyName, in.CompanyName)
		setString(&site.Name, in.Name)
		setString(&site.ContactEmail, in.ContactEmail)
		setString(&site.ContactPhone, in.ContactPhone)
		setString(&site.Notes, in.Notes)
		if in.Address != nil {
			site.Address = *in.Address
		}
		if in.Location != nil {
			site.Location = *in.Location
		}
		if in.Geofence != nil {
			site.Geofence = *in.Geofence
		}
		if in.Quota.MaxDaily != nil {
			site.Quota.MaxDaily = *in.Quota.MaxDaily
		}
		if in.Quota.MaxWeekly != nil {
			site.Quota.MaxWeekly = *in.Quota.MaxWeekly
		}
		if in.Capacities != nil {
			site.Capacities = *in.Capacities
		}
		if in.Priority != "" {
			site.Priority = in.Priority
		}
		if in.PriorityScore != nil {
			site.PriorityScore = *in.PriorityScore
		}
		if in.OpeningHours != nil {
			site.OpeningHours = *in.OpeningHours
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(logger.WithCompanyID(ctx, site.CompanyID), "Site updated",
		"site_id", site.ID,
		"strict_geofence", site.Geofence.Strict,
		"radius_meters", site.Geofence.RadiusMeters,
	)
	return site, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Site, error) {
	return s.sites.GetSite(ctx, id)
}

func (s *Service) List(ctx context.Context, filter domain.SiteFilter) ([]*domain.Site, error) {
	return s.sites.ListSites(ctx, filter)
}

// mutate runs fn on a fresh copy of the site and saves it, retrying on
// version conflicts.
func (s *Service) mutate(ctx context.Context, id string, fn func(site *domain.Site) error) (*domain.Site, error) {
	var site *domain.Site
	err := domain.RetryOnConflict(ctx, func() error {
		var err error
		site, err = s.sites.GetSite(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(site); err != nil {
			return err
		}
		site.UpdatedAt = s.now()
		return s.sites.UpdateSite(ctx, site)
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (s *Service) UpdateQuota(ctx context.Context, id string, limits QuotaLimits) (*domain.Site, error) {
	if (limits.MaxDaily != nil && *limits.MaxDaily < 0) || (limits.MaxWeekly != nil && *limits.MaxWeekly < 0) {
		return nil, domain.NewValidationError("quota", "limits must not be negative")
	}

	return s.mutate(ctx, id, func(site *domain.Site) error {
		if limits.MaxDaily != nil {
			site.Quota.MaxDaily = *limits.MaxDaily
		}
		if limits.MaxWeekly != nil {
			site.Quota.MaxWeekly = *limits.MaxWeekly
		}
		return nil
	})
}

func (s *Service) ResetQuota(ctx context.Context, id string, scope ResetScope) (*domain.Site, error) {
	if scope == "" {
		scope = ResetBoth
	}
	if scope != ResetDaily && scope != ResetWeekly && scope != ResetBoth {
		return nil, domain.NewValidationError("type", "must be daily, weekly or both")
	}

	now := s.now()
	return s.mutate(ctx, id, func(site *domain.Site) error {
		if scope == ResetDaily || scope == ResetBoth {
			site.Quota.CurrentDaily = 0
			site.Quota.LastResetDaily = now
		}
		if scope == ResetWeekly || scope == ResetBoth {
			site.Quota.CurrentWeekly = 0
			site.Quota.LastResetWeekly = now
		}
		return nil
	})
}

// SetActive toggles a site. Deactivation is refused while chèques targeting
// the site still expect a deposit or receipt.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*domain.Site, error) {
	if !active {
		pending, err := s.pendingCheques(ctx, id)
		if err != nil {
			return nil, err
		}
		if pending > 0 {
			return nil, fmt.Errorf("deactivate site %s: %d pending cheque(s): %w", id, pending, domain.ErrSiteBusy)
		}
	}

	site, err := s.mutate(ctx, id, func(site *domain.Site) error {
		site.Active = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Site activation changed", "site_id", id, "active", active)
	return site, nil
}

// Delete is a soft delete: the site is deactivated and kept for history.
func (s *Service) Delete(ctx context.Context, id string) (*domain.Site, error) {
	return s.SetActive(ctx, id, false)
}

// RecordReceipt charges a receipt to the site's quota counters and stats.
func (s *Service) RecordReceipt(ctx context.Context, id string, quantity int64) error {
	_, err := s.mutate(ctx, id, func(site *domain.Site) error {
		site.Quota.CurrentDaily += quantity
		site.Quota.CurrentWeekly += quantity
		site.Stats.TotalReceived += quantity
		return nil
	})
	return err
}

func (s *Service) RecordDispute(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, func(site *domain.Site) error {
		site.Stats.TotalDisputes++
		return nil
	})
	return err
}

// ResetQuotas clears daily counters once per calendar day and weekly counters
// once every seven days. Calling it repeatedly within the same period is a
// no-op. It returns the number of sites touched.
func (s *Service) ResetQuotas(ctx context.Context, now time.Time) (int, error) {
	sites, err := s.sites.ListSites(ctx, domain.SiteFilter{})
	if err != nil {
		return 0, err
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	touched := 0
	for _, candidate := range sites {
		if !dailyDue(candidate.Quota, startOfDay) && !weeklyDue(candidate.Quota, now) {
			continue
		}

		_, err := s.mutate(ctx, candidate.ID, func(site *domain.Site) error {
			changed := false
			if dailyDue(site.Quota, startOfDay) {
				site.Quota.CurrentDaily = 0
				site.Quota.LastResetDaily = now
				changed = true
			}
			if weeklyDue(site.Quota, now) {
				site.Quota.CurrentWeekly = 0
				site.Quota.LastResetWeekly = now
				changed = true
			}
			if !changed {
				return errNothingToReset
			}
			return nil
		})
		if errors.Is(err, errNothingToReset) {
			continue
		}
		if err != nil {
			s.logger.Error(ctx, "Failed to reset site quota", "site_id", candidate.ID, "error", err)
			continue
		}
		touched++
	}

	if touched > 0 {
		s.logger.Info(ctx, "Site quotas reset", "sites", touched)
	}
	return touched, nil
}

var errNothingToReset = errors.New("nothing to reset")

func dailyDue(q domain.Quota, startOfDay time.Time) bool {
	return q.LastResetDaily.Before(startOfDay)
}

func weeklyDue(q domain.Quota, now time.Time) bool {
	return now.Sub(q.LastResetWeekly) >= 7*24*time.Hour
}

// Stats reports receipts over the period ("7d", "30d" or "90d", default 30d)
// and the number of pending chèques.
func (s *Service) Stats(ctx context.Context, id, period string) (*Report, error) {
	site, err := s.sites.GetSite(ctx, id)
	if err != nil {
		return nil, err
	}

	days := 30
	switch period {
	case "7d":
		days = 7
	case "90d":
		days = 90
	default:
		period = "30d"
	}
	since := s.now().AddDate(0, 0, -days)

	received, _, err := s.cheques.ListCheques(ctx, domain.ChequeFilter{
		SiteID:   id,
		Statuses: []domain.ChequeStatus{domain.ChequeStatusReceived, domain.ChequeStatusDisputed},
	})
	if err != nil {
		return nil, fmt.Errorf("list received cheques: %w", err)
	}

	report := &Report{
		SiteID:         site.ID,
		SiteName:       site.Name,
		Active:         site.Active,
		Quota:          site.Quota,
		QuotaRemaining: site.Quota.Remaining(),
		Stats:          site.Stats,
		Period:         period,
	}
	for _, c := range received {
		at := c.Timestamps.ReceivedAt
		if at == nil || at.Before(since) {
			continue
		}
		report.ReceivedCount++
		report.ReceivedByType.Add(c.PalletType, c.CurrentQuantity())
	}

	report.PendingCheques, err = s.pendingCheques(ctx, id)
	if err != nil {
		return nil, err
	}

	return report, nil
}

func (s *Service) pendingCheques(ctx context.Context, siteID string) (int, error) {
	_, total, err := s.cheques.ListCheques(ctx, domain.ChequeFilter{
		SiteID:   siteID,
		Statuses: pendingStatuses,
		Limit:    1,
	})
	if err != nil {
		return 0, fmt.Errorf("count pending cheques: %w", err)
	}
	return total, nil
}
