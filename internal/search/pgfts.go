package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is not configured or unreachable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across sops and knowledge_items using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Step text is
// matched through an EXISTS over sop_steps so a phrase that only appears
// in a step still finds its SOP.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.OrgID == "" {
		return nil, 0, fmt.Errorf("search requires an org")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OrgID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultSOP {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'sop'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.purpose, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.category, s.status,
				ts_rank(s.fts, %s) AS rank
			FROM sops s
			WHERE s.org_id = $2
				AND s.deleted_at IS NULL
				AND s.status = 'published'
				AND (s.fts @@ %s OR EXISTS (
					SELECT 1 FROM sop_steps st
					WHERE st.sop_id = s.id
						AND st.deleted_at IS NULL
						AND to_tsvector('english', st.title || ' ' || coalesce(st.description, '')) @@ %s
				))`, tsQuery, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultKnowledge {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'knowledge_item'::text AS type, ki.id, ki.title,
				ts_headline('english', coalesce(ki.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS category, ki.status,
				ts_rank(ki.fts, %s) AS rank
			FROM knowledge_items ki
			WHERE ki.org_id = $2
				AND ki.deleted_at IS NULL
				AND ki.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, category, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Category, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable rows for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SOPRecord, []KnowledgeRecord, error) {
	sopRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.org_id, s.title, s.category, coalesce(s.purpose, ''), s.status,
			coalesce((
				SELECT string_agg(st.title || ' ' || coalesce(st.description, ''), ' ' ORDER BY st.step_number, st.id)
				FROM sop_steps st
				WHERE st.sop_id = s.id AND st.deleted_at IS NULL
			), '')
		FROM sops s
		WHERE s.deleted_at IS NULL AND s.status = 'published'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sops: %w", err)
	}
	defer sopRows.Close()

	sops := make([]SOPRecord, 0)
	for sopRows.Next() {
		var rec SOPRecord
		if err := sopRows.Scan(&rec.ID, &rec.OrgID, &rec.Title, &rec.Category, &rec.Purpose, &rec.Status, &rec.StepText); err != nil {
			return nil, nil, fmt.Errorf("scan sop: %w", err)
		}
		sops = append(sops, rec)
	}
	if err := sopRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sops: %w", err)
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, title, coalesce(description, ''), coalesce(provided_text, ''), status
		FROM knowledge_items
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load knowledge items: %w", err)
	}
	defer itemRows.Close()

	items := make([]KnowledgeRecord, 0)
	for itemRows.Next() {
		var rec KnowledgeRecord
		if err := itemRows.Scan(&rec.ID, &rec.OrgID, &rec.Title, &rec.Description, &rec.Content, &rec.Status); err != nil {
			return nil, nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		items = append(items, rec)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate knowledge items: %w", err)
	}

	return sops, items, nil
}
