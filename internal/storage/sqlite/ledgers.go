package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

func (s *SQLiteStore) CreateLedger(ctx context.Context, ledger *domain.Ledger) error {
	stored := ledger.Clone()
	stored.Version = 1
	data, err := encode(stored)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO ledgers (company_id, version, data) VALUES (?, ?, ?)",
		stored.CompanyID, stored.Version, data,
	)
	if isUniqueViolation(err, "ledgers.company_id") {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	ledger.Version = stored.Version
	return nil
}

func (s *SQLiteStore) GetLedger(ctx context.Context, companyID string) (*domain.Ledger, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM ledgers WHERE company_id = ?", companyID,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("ledger", companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	ledger := &domain.Ledger{}
	if err := decode(data, ledger); err != nil {
		return nil, err
	}
	ledger.Version = version
	return ledger, nil
}

func (s *SQLiteStore) UpdateLedger(ctx context.Context, ledger *domain.Ledger) error {
	next := ledger.Clone()
	next.Version = ledger.Version + 1
	data, err := encode(next)
	if err != nil {
		return err
	}

	err = s.casUpdate(ctx, "ledgers", "company_id", ledger.CompanyID, "ledger",
		"UPDATE ledgers SET version = ?, data = ? WHERE company_id = ? AND version = ?",
		next.Version, data, ledger.CompanyID, ledger.Version,
	)
	if err != nil {
		return err
	}

	ledger.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListLedgers(ctx context.Context) ([]*domain.Ledger, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data, version FROM ledgers ORDER BY company_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	defer rows.Close()

	ledgers := []*domain.Ledger{}
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("failed to scan ledger: %w", err)
		}
		ledger := &domain.Ledger{}
		if err := decode(data, ledger); err != nil {
			return nil, err
		}
		ledger.Version = version
		ledgers = append(ledgers, ledger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledgers: %w", err)
	}

	return ledgers, nil
}
