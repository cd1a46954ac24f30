package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

func (s *SQLiteStore) CreateSite(ctx context.Context, site *domain.Site) error {
	stored := site.Clone()
	stored.Version = 1
	data, err := encode(stored)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sites (id, company_id, priority, active, latitude, longitude, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID,
		stored.CompanyID,
		string(stored.Priority),
		boolToInt(stored.Active),
		stored.Location.Latitude,
		stored.Location.Longitude,
		stored.Version,
		data,
	)
	if isUniqueViolation(err, "sites.id") {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	site.Version = stored.Version
	return nil
}

func (s *SQLiteStore) GetSite(ctx context.Context, id string) (*domain.Site, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM sites WHERE id = ?", id,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("site", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}

	site := &domain.Site{}
	if err := decode(data, site); err != nil {
		return nil, err
	}
	site.Version = version
	return site, nil
}

func (s *SQLiteStore) UpdateSite(ctx context.Context, site *domain.Site) error {
	next := site.Clone()
	next.Version = site.Version + 1
	data, err := encode(next)
	if err != nil {
		return err
	}

	err = s.casUpdate(ctx, "sites", "id", site.ID, "site", `
		UPDATE sites
		SET company_id = ?, priority = ?, active = ?, latitude = ?, longitude = ?, version = ?, data = ?
		WHERE id = ? AND version = ?`,
		next.CompanyID,
		string(next.Priority),
		boolToInt(next.Active),
		next.Location.Latitude,
		next.Location.Longitude,
		next.Version,
		data,
		site.ID,
		site.Version,
	)
	if err != nil {
		return err
	}

	site.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListSites(ctx context.Context, filter domain.SiteFilter) ([]*domain.Site, error) {
	where := &whereClause{}
	if filter.CompanyID != "" {
		where.add("company_id = ?", filter.CompanyID)
	}
	if filter.ActiveOnly {
		where.add("active = 1")
	}
	if filter.Priority != "" {
		where.add("priority = ?", string(filter.Priority))
	}
	if b := filter.Bounds; b != nil {
		where.add("latitude BETWEEN ? AND ?", b.MinLatitude, b.MaxLatitude)
		if b.WrapsAntimeridian() {
			where.add("(longitude >= ? OR longitude <= ?)", b.MinLongitude, b.MaxLongitude)
		} else {
			where.add("longitude BETWEEN ? AND ?", b.MinLongitude, b.MaxLongitude)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT data, version FROM sites"+where.String()+" ORDER BY rowid",
		where.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	sites := []*domain.Site{}
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		site := &domain.Site{}
		if err := decode(data, site); err != nil {
			return nil, err
		}
		if slices.Contains(filter.ExcludeIDs, site.ID) {
			continue
		}
		site.Version = version
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sites: %w", err)
	}

	return sites, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
