package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

func (s *SQLiteStore) CreateCheque(ctx context.Context, cheque *domain.Cheque) error {
	stored := cheque.Clone()
	stored.Version = 1
	data, err := encode(stored)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cheques (id, emitter_id, target_site_id, status, emitted_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID,
		stored.EmitterID,
		stored.TargetSiteID,
		string(stored.Status),
		stored.Timestamps.EmittedAt.UnixNano(),
		stored.Version,
		data,
	)
	if isUniqueViolation(err, "cheques.id") {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create cheque: %w", err)
	}

	cheque.Version = stored.Version
	return nil
}

func (s *SQLiteStore) GetCheque(ctx context.Context, id string) (*domain.Cheque, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM cheques WHERE id = ?", id,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("cheque", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cheque: %w", err)
	}

	cheque := &domain.Cheque{}
	if err := decode(data, cheque); err != nil {
		return nil, err
	}
	cheque.Version = version
	return cheque, nil
}

func (s *SQLiteStore) UpdateCheque(ctx context.Context, cheque *domain.Cheque) error {
	next := cheque.Clone()
	next.Version = cheque.Version + 1
	data, err := encode(next)
	if err != nil {
		return err
	}

	err = s.casUpdate(ctx, "cheques", "id", cheque.ID, "cheque", `
		UPDATE cheques
		SET emitter_id = ?, target_site_id = ?, status = ?, version = ?, data = ?
		WHERE id = ? AND version = ?`,
		next.EmitterID,
		next.TargetSiteID,
		string(next.Status),
		next.Version,
		data,
		cheque.ID,
		cheque.Version,
	)
	if err != nil {
		return err
	}

	cheque.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListCheques(ctx context.Context, filter domain.ChequeFilter) ([]*domain.Cheque, int, error) {
	where := &whereClause{}
	if filter.EmitterID != "" {
		where.add("emitter_id = ?", filter.EmitterID)
	}
	if filter.SiteID != "" {
		where.add("target_site_id = ?", filter.SiteID)
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	where.in("status", statuses)

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cheques"+where.String(), where.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cheques: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT data, version FROM cheques"+where.String()+" ORDER BY rowid DESC"+limitClause(filter.Limit, filter.Offset),
		where.args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cheques: %w", err)
	}
	defer rows.Close()

	cheques := []*domain.Cheque{}
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, 0, fmt.Errorf("failed to scan cheque: %w", err)
		}
		cheque := &domain.Cheque{}
		if err := decode(data, cheque); err != nil {
			return nil, 0, err
		}
		cheque.Version = version
		cheques = append(cheques, cheque)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate cheques: %w", err)
	}

	return cheques, total, nil
}
