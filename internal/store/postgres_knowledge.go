package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const knowledgeItemColumns = `id, org_id, title, description, type, priority, level, status, suggested_source, provided_url, provided_file, provided_text, provided_transcript, created_at, updated_at`

func scanKnowledgeItem(row interface{ Scan(...any) error }) (KnowledgeItem, error) {
	var item KnowledgeItem
	err := row.Scan(
		&item.ID,
		&item.OrgID,
		&item.Title,
		&item.Description,
		&item.Type,
		&item.Priority,
		&item.Level,
		&item.Status,
		&item.SuggestedSource,
		&item.ProvidedURL,
		&item.ProvidedFile,
		&item.ProvidedText,
		&item.ProvidedTranscript,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListKnowledgeItems(ctx context.Context, orgID string) ([]KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+knowledgeItemColumns+`
		FROM knowledge_items
		WHERE org_id=$1 AND deleted_at IS NULL
		ORDER BY CASE priority WHEN 'REQUIRED' THEN 0 WHEN 'RECOMMENDED' THEN 1 ELSE 2 END, title, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge items: %w", err)
	}
	defer rows.Close()

	items := make([]KnowledgeItem, 0)
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetKnowledgeItem(ctx context.Context, orgID, itemID string) (KnowledgeItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+knowledgeItemColumns+`
		FROM knowledge_items
		WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, itemID, orgID)
	return scanKnowledgeItem(row)
}

func (s *PostgresStore) CountKnowledgeItems(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM knowledge_items WHERE org_id=$1 AND deleted_at IS NULL
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count knowledge items: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertKnowledgeItems(ctx context.Context, items []KnowledgeItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin knowledge items tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_items (id, org_id, title, description, type, priority, level, status, suggested_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, item.OrgID, item.Title, item.Description, item.Type, item.Priority, item.Level, item.Status, item.SuggestedSource); err != nil {
			return fmt.Errorf("insert knowledge item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit knowledge items tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertKnowledgeItem(ctx context.Context, item KnowledgeItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_items (id, org_id, title, description, type, priority, level, status, suggested_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.OrgID, item.Title, item.Description, item.Type, item.Priority, item.Level, item.Status, item.SuggestedSource)
	if err != nil {
		return fmt.Errorf("insert knowledge item: %w", err)
	}
	return nil
}

// SoftDeletePendingKnowledgeItems clears untouched checklist rows before a
// forced regeneration. Items the org already provided, learned, or skipped
// stay.
func (s *PostgresStore) SoftDeletePendingKnowledgeItems(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items SET deleted_at=NOW(), updated_at=NOW()
		WHERE org_id=$1 AND status='pending' AND deleted_at IS NULL
	`, orgID)
	if err != nil {
		return fmt.Errorf("clear pending knowledge items: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteKnowledgeItem(ctx context.Context, orgID, itemID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND deleted_at IS NULL
	`, itemID, orgID)
	if err != nil {
		return fmt.Errorf("delete knowledge item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete knowledge item result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// provideItem is the shared shape of the type-specific save actions: one
// update that moves a pending item to provided and fills exactly one
// provided_* column. The pending guard makes the transition graph
// race-safe.
func (s *PostgresStore) provideItem(ctx context.Context, orgID, itemID, column, value string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE knowledge_items SET status='provided', %s=$3, updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND status='pending' AND deleted_at IS NULL
	`, column)
	result, err := s.db.ExecContext(ctx, query, itemID, orgID, value)
	if err != nil {
		return false, fmt.Errorf("provide knowledge item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("provide knowledge item result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkItemProvidedURL(ctx context.Context, orgID, itemID, url string) (bool, error) {
	return s.provideItem(ctx, orgID, itemID, "provided_url", url)
}

func (s *PostgresStore) MarkItemProvidedFile(ctx context.Context, orgID, itemID, objectKey string) (bool, error) {
	return s.provideItem(ctx, orgID, itemID, "provided_file", objectKey)
}

func (s *PostgresStore) MarkItemProvidedText(ctx context.Context, orgID, itemID, text string) (bool, error) {
	return s.provideItem(ctx, orgID, itemID, "provided_text", text)
}

func (s *PostgresStore) MarkItemProvidedTranscript(ctx context.Context, orgID, itemID, transcript string) (bool, error) {
	return s.provideItem(ctx, orgID, itemID, "provided_transcript", transcript)
}

func (s *PostgresStore) SkipItem(ctx context.Context, orgID, itemID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items SET status='skipped', updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND status='pending' AND deleted_at IS NULL
	`, itemID, orgID)
	if err != nil {
		return false, fmt.Errorf("skip knowledge item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("skip knowledge item result: %w", err)
	}
	return affected > 0, nil
}

// ReopenItem moves a handled item back to pending. Provided content is kept,
// matching the flow where reopening re-asks the question without erasing the
// previous answer.
func (s *PostgresStore) ReopenItem(ctx context.Context, orgID, itemID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items SET status='pending', updated_at=NOW()
		WHERE id=$1 AND org_id=$2 AND status IN ('provided', 'skipped', 'learned') AND deleted_at IS NULL
	`, itemID, orgID)
	if err != nil {
		return false, fmt.Errorf("reopen knowledge item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reopen knowledge item result: %w", err)
	}
	return affected > 0, nil
}

// CountPendingRequired backs the build gate: the knowledge base can only be
// built once every REQUIRED item has left pending.
func (s *PostgresStore) CountPendingRequired(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM knowledge_items
		WHERE org_id=$1 AND priority='REQUIRED' AND status='pending' AND deleted_at IS NULL
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending required: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListHandledKnowledgeItems(ctx context.Context, orgID string) ([]KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+knowledgeItemColumns+`
		FROM knowledge_items
		WHERE org_id=$1 AND status IN ('provided', 'learned') AND deleted_at IS NULL
		ORDER BY title, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list handled knowledge items: %w", err)
	}
	defer rows.Close()

	items := make([]KnowledgeItem, 0)
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkItemsLearned(ctx context.Context, orgID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin learned tx: %w", err)
	}
	defer tx.Rollback()

	for _, itemID := range itemIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE knowledge_items SET status='learned', updated_at=NOW()
			WHERE id=$1 AND org_id=$2 AND status='provided' AND deleted_at IS NULL
		`, itemID, orgID); err != nil {
			return fmt.Errorf("mark item learned: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit learned tx: %w", err)
	}
	return nil
}

// UpsertKnowledgeBase writes the org's single knowledge base row. The unique
// org_id constraint plus ON CONFLICT makes concurrent builds converge on one
// row instead of duplicating.
func (s *PostgresStore) UpsertKnowledgeBase(ctx context.Context, kb KnowledgeBase) (KnowledgeBase, error) {
	if kb.LearnedTopics == nil {
		kb.LearnedTopics = []string{}
	}
	topicsJSON, err := json.Marshal(kb.LearnedTopics)
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("encode learned topics: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO knowledge_base (id, org_id, summary, learned_topics, source_count, status, built_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (org_id) DO UPDATE
			SET summary=EXCLUDED.summary,
				learned_topics=EXCLUDED.learned_topics,
				source_count=EXCLUDED.source_count,
				status=EXCLUDED.status,
				built_at=NOW(),
				updated_at=NOW()
		RETURNING id, built_at, created_at, updated_at
	`, kb.ID, kb.OrgID, kb.Summary, topicsJSON, kb.SourceCount, kb.Status).Scan(&kb.ID, &kb.BuiltAt, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("upsert knowledge base: %w", err)
	}
	return kb, nil
}

func (s *PostgresStore) GetKnowledgeBase(ctx context.Context, orgID string) (KnowledgeBase, error) {
	var kb KnowledgeBase
	var topicsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, summary, learned_topics, source_count, status, built_at, created_at, updated_at
		FROM knowledge_base
		WHERE org_id=$1
	`, orgID).Scan(&kb.ID, &kb.OrgID, &kb.Summary, &topicsJSON, &kb.SourceCount, &kb.Status, &kb.BuiltAt, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return KnowledgeBase{}, err
	}
	if err := json.Unmarshal(topicsJSON, &kb.LearnedTopics); err != nil {
		return KnowledgeBase{}, fmt.Errorf("decode learned topics: %w", err)
	}
	return kb, nil
}

// EnsureInterview returns the org's interview row, creating an empty
// in-progress one if none exists. Creation is an ON CONFLICT no-op so two
// concurrent first loads converge on one row.
func (s *PostgresStore) EnsureInterview(ctx context.Context, orgID, newID string) (KnowledgeInterview, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_interviews (id, org_id)
		VALUES ($1, $2)
		ON CONFLICT (org_id) DO NOTHING
	`, newID, orgID); err != nil {
		return KnowledgeInterview{}, fmt.Errorf("ensure interview: %w", err)
	}
	return s.getInterview(ctx, orgID)
}

func (s *PostgresStore) getInterview(ctx context.Context, orgID string) (KnowledgeInterview, error) {
	var interview KnowledgeInterview
	var messagesJSON []byte
	var profileJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, messages, business_profile, status, created_at, updated_at
		FROM knowledge_interviews
		WHERE org_id=$1
	`, orgID).Scan(&interview.ID, &interview.OrgID, &messagesJSON, &profileJSON, &interview.Status, &interview.CreatedAt, &interview.UpdatedAt)
	if err != nil {
		return KnowledgeInterview{}, err
	}
	if err := json.Unmarshal(messagesJSON, &interview.Messages); err != nil {
		return KnowledgeInterview{}, fmt.Errorf("decode interview messages: %w", err)
	}
	if len(profileJSON) > 0 {
		var profile BusinessProfile
		if err := json.Unmarshal(profileJSON, &profile); err != nil {
			return KnowledgeInterview{}, fmt.Errorf("decode business profile: %w", err)
		}
		interview.Profile = &profile
	}
	return interview, nil
}

func (s *PostgresStore) SaveInterview(ctx context.Context, orgID string, messages []InterviewMessage, profile *BusinessProfile, status string) error {
	if messages == nil {
		messages = []InterviewMessage{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode interview messages: %w", err)
	}
	var profileJSON any
	if profile != nil {
		encoded, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("encode business profile: %w", err)
		}
		profileJSON = encoded
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_interviews SET messages=$2, business_profile=$3, status=$4, updated_at=NOW()
		WHERE org_id=$1
	`, orgID, messagesJSON, profileJSON, status)
	if err != nil {
		return fmt.Errorf("save interview: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save interview result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ResetInterview(ctx context.Context, orgID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_interviews
		SET messages='[]', business_profile=NULL, status='in_progress', updated_at=NOW()
		WHERE org_id=$1
	`, orgID)
	if err != nil {
		return fmt.Errorf("reset interview: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset interview result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
