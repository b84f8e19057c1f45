package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The tsvectors are computed inline; case rosters are small enough that no
// stored fts column is needed.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across cases and milestones using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.AllowedCaseIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultCase {
		subQueries = append(subQueries, `
			SELECT 'case'::text AS type, c.id, c.client_name AS title,
				c.status AS snippet, c.id AS case_id,
				ts_rank(to_tsvector('english', c.client_name), plainto_tsquery('english', $1)) AS rank
			FROM cases c
			WHERE c.id = ANY($2)
				AND to_tsvector('english', c.client_name) @@ plainto_tsquery('english', $1)`)
	}

	if q.FilterType == "" || q.FilterType == ResultMilestone {
		subQueries = append(subQueries, `
			SELECT 'milestone'::text AS type, m.id, m.title,
				ts_headline('english', coalesce(m.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
				m.case_id,
				ts_rank(to_tsvector('english', m.title || ' ' || coalesce(m.description, '')), plainto_tsquery('english', $1)) AS rank
			FROM milestones m
			WHERE m.case_id = ANY($2)
				AND to_tsvector('english', m.title || ' ' || coalesce(m.description, '')) @@ plainto_tsquery('english', $1)`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	query := fmt.Sprintf(`
		SELECT type, id, title, snippet, case_id
		FROM (%s) hits
		ORDER BY rank DESC
		LIMIT $3 OFFSET $4
	`, strings.Join(subQueries, " UNION ALL "))

	rows, err := p.db.QueryContext(context.Background(), query, q.Text, q.AllowedCaseIDs, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Snippet, &r.CaseID); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search hits: %w", err)
	}

	return results, len(results), nil
}

// LoadAllRecords reads every case and milestone for reindexing into
// Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CaseRecord, []MilestoneRecord, error) {
	caseRows, err := p.db.QueryContext(ctx, `SELECT id, client_name, status FROM cases`)
	if err != nil {
		return nil, nil, fmt.Errorf("load cases for reindex: %w", err)
	}
	defer caseRows.Close()

	var cases []CaseRecord
	for caseRows.Next() {
		var c CaseRecord
		if err := caseRows.Scan(&c.ID, &c.ClientName, &c.Status); err != nil {
			return nil, nil, fmt.Errorf("scan case record: %w", err)
		}
		c.CaseID = c.ID
		cases = append(cases, c)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate case records: %w", err)
	}

	msRows, err := p.db.QueryContext(ctx, `SELECT id, title, description, status, case_id FROM milestones`)
	if err != nil {
		return nil, nil, fmt.Errorf("load milestones for reindex: %w", err)
	}
	defer msRows.Close()

	var milestones []MilestoneRecord
	for msRows.Next() {
		var m MilestoneRecord
		if err := msRows.Scan(&m.ID, &m.Title, &m.Description, &m.Status, &m.CaseID); err != nil {
			return nil, nil, fmt.Errorf("scan milestone record: %w", err)
		}
		milestones = append(milestones, m)
	}
	if err := msRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate milestone records: %w", err)
	}

	return cases, milestones, nil
}
