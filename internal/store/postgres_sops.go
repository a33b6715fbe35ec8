package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const sopColumns = `id, org_id, title, category, purpose, frequency, status, recommendation_id, published_at, created_by, created_at, updated_at`

func scanSOP(row interface{ Scan(...any) error }) (SOP, error) {
	var item SOP
	err := row.Scan(
		&item.ID,
		&item.OrgID,
		&item.Title,
		&item.Category,
		&item.Purpose,
		&item.Frequency,
		&item.Status,
		&item.RecommendationID,
		&item.PublishedAt,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertSOP(ctx context.Context, item SOP) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sops (id, org_id, title, category, purpose, frequency, status, recommendation_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.OrgID, item.Title, item.Category, item.Purpose, item.Frequency, item.Status, item.RecommendationID, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert sop: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSOP(ctx context.Context, orgID, sopID string) (SOP, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sopColumns+` FROM sops WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, sopID, orgID)
	return scanSOP(row)
}

func (s *PostgresStore) ListSOPs(ctx context.Context, orgID, status string) ([]SOP, error) {
	query := `SELECT ` + sopColumns + ` FROM sops WHERE org_id=$1 AND deleted_at IS NULL`
	args := []any{orgID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sops: %w", err)
	}
	defer rows.Close()

	items := make([]SOP, 0)
	for rows.Next() {
		item, err := scanSOP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sop: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sops: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSOP(ctx context.Context, orgID, sopID, title, category, purpose, frequency string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sops
		SET title=$3, category=$4, purpose=$5, frequency=$6, updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, sopID, orgID, title, category, purpose, frequency)
	if err != nil {
		return fmt.Errorf("update sop: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sop result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SoftDeleteSOP(ctx context.Context, orgID, sopID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sops SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, sopID, orgID)
	if err != nil {
		return fmt.Errorf("delete sop: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete sop result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionSOPStatus moves a SOP from one status to another. The from guard
// makes concurrent transitions race-safe: the loser matches zero rows.
func (s *PostgresStore) TransitionSOPStatus(ctx context.Context, orgID, sopID, from, to string) (bool, error) {
	query := `
		UPDATE sops SET status=$4, updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND status=$3 AND deleted_at IS NULL
	`
	if to == "published" {
		query = `
			UPDATE sops SET status=$4, published_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND org_id=$2 AND status=$3 AND deleted_at IS NULL
		`
	}
	result, err := s.db.ExecContext(ctx, query, sopID, orgID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition sop status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition sop status result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, orgID, sopID string) ([]SOPStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, sop_id, step_number, title, description, created_at, updated_at
		FROM sop_steps
		WHERE sop_id=$1 AND org_id=$2 AND deleted_at IS NULL
		ORDER BY step_number, id
	`, sopID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	items := make([]SOPStep, 0)
	for rows.Next() {
		var item SOPStep
		if err := rows.Scan(&item.ID, &item.OrgID, &item.SOPID, &item.StepNumber, &item.Title, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountSteps(ctx context.Context, orgID, sopID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sop_steps WHERE sop_id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, sopID, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertSteps(ctx context.Context, steps []SOPStep) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin steps tx: %w", err)
	}
	defer tx.Rollback()

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sop_steps (id, org_id, sop_id, step_number, title, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, step.ID, step.OrgID, step.SOPID, step.StepNumber, step.Title, step.Description); err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit steps tx: %w", err)
	}
	return nil
}

// AppendStep inserts a manually added step at the end of the list. The order
// key is the current maximum plus one, claimed inside the insert itself.
func (s *PostgresStore) AppendStep(ctx context.Context, step SOPStep) (SOPStep, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sop_steps (id, org_id, sop_id, step_number, title, description)
		SELECT $1, $2, $3, COALESCE(MAX(step_number), 0) + 1, $4, $5
		FROM sop_steps
		WHERE sop_id=$3 AND org_id=$2 AND deleted_at IS NULL
		RETURNING step_number, created_at, updated_at
	`, step.ID, step.OrgID, step.SOPID, step.Title, step.Description).Scan(&step.StepNumber, &step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return SOPStep{}, fmt.Errorf("append step: %w", err)
	}
	return step, nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, orgID, sopID, stepID, title, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sop_steps
		SET title=$4, description=$5, updated_at=NOW()
		WHERE id=$1 AND sop_id=$2 AND org_id=$3 AND deleted_at IS NULL
	`, stepID, sopID, orgID, title, description)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update step result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SoftDeleteStep(ctx context.Context, orgID, sopID, stepID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sop_steps SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND sop_id=$2 AND org_id=$3 AND deleted_at IS NULL
	`, stepID, sopID, orgID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete step result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SwapStepWithNeighbor exchanges the step's order key with its nearest live
// neighbor above (direction "up") or below ("down"). Ordering ties break on
// id, matching the read order. Returns false when the step is already at the
// edge of the list.
func (s *PostgresStore) SwapStepWithNeighbor(ctx context.Context, orgID, sopID, stepID, direction string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reorder tx: %w", err)
	}
	defer tx.Rollback()

	var current SOPStep
	err = tx.QueryRowContext(ctx, `
		SELECT id, step_number FROM sop_steps
		WHERE id=$1 AND sop_id=$2 AND org_id=$3 AND deleted_at IS NULL
		FOR UPDATE
	`, stepID, sopID, orgID).Scan(&current.ID, &current.StepNumber)
	if err != nil {
		return false, err
	}

	neighborQuery := `
		SELECT id, step_number FROM sop_steps
		WHERE sop_id=$1 AND org_id=$2 AND deleted_at IS NULL
			AND (step_number < $3 OR (step_number = $3 AND id < $4))
		ORDER BY step_number DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`
	if direction == "down" {
		neighborQuery = `
			SELECT id, step_number FROM sop_steps
			WHERE sop_id=$1 AND org_id=$2 AND deleted_at IS NULL
				AND (step_number > $3 OR (step_number = $3 AND id > $4))
			ORDER BY step_number, id
			LIMIT 1
			FOR UPDATE
		`
	}

	var neighbor SOPStep
	err = tx.QueryRowContext(ctx, neighborQuery, sopID, orgID, current.StepNumber, current.ID).Scan(&neighbor.ID, &neighbor.StepNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find neighbor step: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sop_steps SET step_number=$2, updated_at=NOW() WHERE id=$1
	`, current.ID, neighbor.StepNumber); err != nil {
		return false, fmt.Errorf("swap step: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sop_steps SET step_number=$2, updated_at=NOW() WHERE id=$1
	`, neighbor.ID, current.StepNumber); err != nil {
		return false, fmt.Errorf("swap neighbor step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reorder tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetSOPDraft(ctx context.Context, orgID, sopID string) (SOPDraft, error) {
	var draft SOPDraft
	var linksJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT sop_id, org_id, context_links, regulation_text, transcript, updated_at
		FROM sop_drafts
		WHERE sop_id=$1 AND org_id=$2
	`, sopID, orgID).Scan(&draft.SOPID, &draft.OrgID, &linksJSON, &draft.RegulationText, &draft.Transcript, &draft.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SOPDraft{SOPID: sopID, OrgID: orgID, ContextLinks: []ContextLink{}}, nil
	}
	if err != nil {
		return SOPDraft{}, fmt.Errorf("get sop draft: %w", err)
	}
	if err := json.Unmarshal(linksJSON, &draft.ContextLinks); err != nil {
		return SOPDraft{}, fmt.Errorf("decode context links: %w", err)
	}
	return draft, nil
}

func (s *PostgresStore) UpsertSOPDraftContext(ctx context.Context, orgID, sopID string, links []ContextLink, regulationText string) error {
	if links == nil {
		links = []ContextLink{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encode context links: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sop_drafts (sop_id, org_id, context_links, regulation_text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sop_id) DO UPDATE SET context_links=EXCLUDED.context_links, regulation_text=EXCLUDED.regulation_text, updated_at=NOW()
	`, sopID, orgID, linksJSON, regulationText)
	if err != nil {
		return fmt.Errorf("upsert draft context: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertSOPDraftVoice(ctx context.Context, orgID, sopID, transcript string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sop_drafts (sop_id, org_id, transcript)
		VALUES ($1, $2, $3)
		ON CONFLICT (sop_id) DO UPDATE SET transcript=EXCLUDED.transcript, updated_at=NOW()
	`, sopID, orgID, transcript)
	if err != nil {
		return fmt.Errorf("upsert draft voice: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountFindings(ctx context.Context, orgID, sopID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sop_compliance_findings WHERE sop_id=$1 AND org_id=$2
	`, sopID, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListFindings(ctx context.Context, orgID, sopID string) ([]ComplianceFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, sop_id, severity, title, description, suggestion, status, created_at, updated_at
		FROM sop_compliance_findings
		WHERE sop_id=$1 AND org_id=$2
		ORDER BY CASE severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at, id
	`, sopID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	items := make([]ComplianceFinding, 0)
	for rows.Next() {
		var item ComplianceFinding
		if err := rows.Scan(&item.ID, &item.OrgID, &item.SOPID, &item.Severity, &item.Title, &item.Description, &item.Suggestion, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertFindings(ctx context.Context, findings []ComplianceFinding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer tx.Rollback()

	for _, finding := range findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sop_compliance_findings (id, org_id, sop_id, severity, title, description, suggestion, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, finding.ID, finding.OrgID, finding.SOPID, finding.Severity, finding.Title, finding.Description, finding.Suggestion, finding.Status); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit findings tx: %w", err)
	}
	return nil
}

// DeleteFindings removes a SOP's findings outright. Findings are derived
// from a compliance run and are replaced, not versioned, on re-check.
func (s *PostgresStore) DeleteFindings(ctx context.Context, orgID, sopID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sop_compliance_findings WHERE sop_id=$1 AND org_id=$2
	`, sopID, orgID)
	if err != nil {
		return fmt.Errorf("delete findings: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateFindingStatus(ctx context.Context, orgID, findingID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sop_compliance_findings SET status=$3, updated_at=NOW() WHERE id=$1 AND org_id=$2
	`, findingID, orgID, status)
	if err != nil {
		return fmt.Errorf("update finding status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update finding status result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const recommendationColumns = `id, org_id, title, category, description, sort_order, status, sop_id, created_at, updated_at`

func scanRecommendation(row interface{ Scan(...any) error }) (SOPRecommendation, error) {
	var item SOPRecommendation
	err := row.Scan(
		&item.ID,
		&item.OrgID,
		&item.Title,
		&item.Category,
		&item.Description,
		&item.SortOrder,
		&item.Status,
		&item.SOPID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, orgID string) ([]SOPRecommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recommendationColumns+`
		FROM sop_recommendations
		WHERE org_id=$1 AND deleted_at IS NULL
		ORDER BY sort_order, title
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	items := make([]SOPRecommendation, 0)
	for rows.Next() {
		item, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, orgID, recommendationID string) (SOPRecommendation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recommendationColumns+`
		FROM sop_recommendations
		WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, recommendationID, orgID)
	return scanRecommendation(row)
}

func (s *PostgresStore) CountRecommendations(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sop_recommendations WHERE org_id=$1 AND deleted_at IS NULL
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recommendations: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertRecommendations(ctx context.Context, items []SOPRecommendation) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recommendations tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sop_recommendations (id, org_id, title, category, description, sort_order, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.OrgID, item.Title, item.Category, item.Description, item.SortOrder, item.Status); err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recommendations tx: %w", err)
	}
	return nil
}

// MarkRecommendationStarted links the recommendation to the SOP created from
// it. Guarded on the suggested status so a recommendation backs at most one
// SOP.
func (s *PostgresStore) MarkRecommendationStarted(ctx context.Context, orgID, recommendationID, sopID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sop_recommendations SET status='started', sop_id=$3, updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND status='suggested' AND deleted_at IS NULL
	`, recommendationID, orgID, sopID)
	if err != nil {
		return false, fmt.Errorf("mark recommendation started: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark recommendation started result: %w", err)
	}
	return affected > 0, nil
}

// CompleteRecommendationForSOP flips the linked recommendation to completed
// when its SOP publishes. A SOP without a backing recommendation is a no-op.
func (s *PostgresStore) CompleteRecommendationForSOP(ctx context.Context, orgID, sopID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sop_recommendations SET status='completed', updated_at=NOW()
		WHERE sop_id=$2 AND org_id=$1 AND status='started' AND deleted_at IS NULL
	`, orgID, sopID)
	if err != nil {
		return fmt.Errorf("complete recommendation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteRecommendations(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sop_recommendations SET deleted_at=NOW(), updated_at=NOW()
		WHERE org_id=$1 AND deleted_at IS NULL AND status='suggested'
	`, orgID)
	if err != nil {
		return fmt.Errorf("clear recommendations: %w", err)
	}
	return nil
}
