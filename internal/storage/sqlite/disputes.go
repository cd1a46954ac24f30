package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

func (s *SQLiteStore) CreateDispute(ctx context.Context, dispute *domain.Dispute) error {
	stored := dispute.Clone()
	stored.Version = 1
	data, err := encode(stored)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO disputes (id, cheque_id, initiator_id, respondent_id, type, status, priority, created_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID,
		stored.ChequeID,
		stored.InitiatorID,
		stored.RespondentID,
		string(stored.Type),
		string(stored.Status),
		string(stored.Priority),
		stored.CreatedAt.UnixNano(),
		stored.Version,
		data,
	)
	switch {
	case isUniqueViolation(err, "disputes.cheque_id"):
		return domain.ErrDisputeAlreadyOpen
	case isUniqueViolation(err, "disputes.id"):
		return domain.ErrAlreadyExists
	case err != nil:
		return fmt.Errorf("failed to create dispute: %w", err)
	}

	dispute.Version = stored.Version
	return nil
}

func (s *SQLiteStore) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, version FROM disputes WHERE id = ?", id,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("dispute", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}

	dispute := &domain.Dispute{}
	if err := decode(data, dispute); err != nil {
		return nil, err
	}
	dispute.Version = version
	return dispute, nil
}

func (s *SQLiteStore) UpdateDispute(ctx context.Context, dispute *domain.Dispute) error {
	next := dispute.Clone()
	next.Version = dispute.Version + 1
	data, err := encode(next)
	if err != nil {
		return err
	}

	err = s.casUpdate(ctx, "disputes", "id", dispute.ID, "dispute", `
		UPDATE disputes
		SET status = ?, priority = ?, version = ?, data = ?
		WHERE id = ? AND version = ?`,
		string(next.Status),
		string(next.Priority),
		next.Version,
		data,
		dispute.ID,
		dispute.Version,
	)
	if isUniqueViolation(err, "disputes.cheque_id") {
		return domain.ErrDisputeAlreadyOpen
	}
	if err != nil {
		return err
	}

	dispute.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListDisputes(ctx context.Context, filter domain.DisputeFilter) ([]*domain.Dispute, int, error) {
	where := &whereClause{}
	if filter.ChequeID != "" {
		where.add("cheque_id = ?", filter.ChequeID)
	}
	if filter.CompanyID != "" {
		where.add("(initiator_id = ? OR respondent_id = ?)", filter.CompanyID, filter.CompanyID)
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	where.in("status", statuses)
	if filter.Priority != "" {
		where.add("priority = ?", string(filter.Priority))
	}
	if filter.Type != "" {
		where.add("type = ?", string(filter.Type))
	}
	if filter.CreatedBefore != nil {
		where.add("created_at < ?", filter.CreatedBefore.UnixNano())
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM disputes"+where.String(), where.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count disputes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT data, version FROM disputes"+where.String()+" ORDER BY rowid DESC"+limitClause(filter.Limit, filter.Offset),
		where.args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	disputes := []*domain.Dispute{}
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, 0, fmt.Errorf("failed to scan dispute: %w", err)
		}
		dispute := &domain.Dispute{}
		if err := decode(data, dispute); err != nil {
			return nil, 0, err
		}
		dispute.Version = version
		disputes = append(disputes, dispute)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate disputes: %w", err)
	}

	return disputes, total, nil
}
