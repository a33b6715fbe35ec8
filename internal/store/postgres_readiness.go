package store

import (
	"context"
	"database/sql"
	"fmt"
)

const readinessColumns = `id, org_id, group_key, group_label, title, description, status, is_custom, sop_id, sort_order, created_at, updated_at`

func scanReadinessItem(row interface{ Scan(...any) error }) (ReadinessItem, error) {
	var item ReadinessItem
	err := row.Scan(
		&item.ID,
		&item.OrgID,
		&item.GroupKey,
		&item.GroupLabel,
		&item.Title,
		&item.Description,
		&item.Status,
		&item.IsCustom,
		&item.SOPID,
		&item.SortOrder,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListReadinessItems(ctx context.Context, orgID string) ([]ReadinessItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readinessColumns+`
		FROM manager_readiness_items
		WHERE org_id=$1 AND deleted_at IS NULL
		ORDER BY group_key, sort_order, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list readiness items: %w", err)
	}
	defer rows.Close()

	items := make([]ReadinessItem, 0)
	for rows.Next() {
		item, err := scanReadinessItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan readiness item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readiness items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountReadinessItems(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM manager_readiness_items WHERE org_id=$1 AND deleted_at IS NULL
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count readiness items: %w", err)
	}
	return count, nil
}

// SeedReadinessItems inserts the default template in one transaction, but
// only when the org still has no rows. Two concurrent first visits seed
// once.
func (s *PostgresStore) SeedReadinessItems(ctx context.Context, orgID string, items []ReadinessItem) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin readiness seed tx: %w", err)
	}
	defer tx.Rollback()

	// Lock the org row to serialize concurrent first visits.
	var lockedOrg string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM organizations WHERE id=$1 FOR UPDATE
	`, orgID).Scan(&lockedOrg); err != nil {
		return false, fmt.Errorf("lock organization: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM manager_readiness_items WHERE org_id=$1 AND deleted_at IS NULL
	`, orgID).Scan(&count); err != nil {
		return false, fmt.Errorf("count readiness items: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO manager_readiness_items (id, org_id, group_key, group_label, title, description, is_custom, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, orgID, item.GroupKey, item.GroupLabel, item.Title, item.Description, item.IsCustom, item.SortOrder); err != nil {
			return false, fmt.Errorf("insert readiness item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit readiness seed tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) UpdateReadinessStatus(ctx context.Context, orgID, itemID string, status *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE manager_readiness_items SET status=$3, updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, itemID, orgID, status)
	if err != nil {
		return fmt.Errorf("update readiness status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update readiness status result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendReadinessItem adds a custom item at the end of its group.
func (s *PostgresStore) AppendReadinessItem(ctx context.Context, item ReadinessItem) (ReadinessItem, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO manager_readiness_items (id, org_id, group_key, group_label, title, description, is_custom, sort_order)
		SELECT $1, $2, $3, $4, $5, $6, TRUE, COALESCE(MAX(sort_order), 0) + 1
		FROM manager_readiness_items
		WHERE org_id=$2 AND group_key=$3 AND deleted_at IS NULL
		RETURNING sort_order, created_at, updated_at
	`, item.ID, item.OrgID, item.GroupKey, item.GroupLabel, item.Title, item.Description).Scan(&item.SortOrder, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ReadinessItem{}, fmt.Errorf("append readiness item: %w", err)
	}
	item.IsCustom = true
	return item, nil
}

func (s *PostgresStore) LinkReadinessSOP(ctx context.Context, orgID, itemID, sopID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE manager_readiness_items SET sop_id=$3, updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, itemID, orgID, sopID)
	if err != nil {
		return fmt.Errorf("link readiness sop: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("link readiness sop result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDeleteReadinessItem removes custom items only. Template rows stay.
func (s *PostgresStore) SoftDeleteReadinessItem(ctx context.Context, orgID, itemID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE manager_readiness_items SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND is_custom AND deleted_at IS NULL
	`, itemID, orgID)
	if err != nil {
		return fmt.Errorf("delete readiness item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete readiness item result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
