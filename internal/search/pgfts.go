package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across section_comments and
// section_questions using plainto_tsquery and ts_rank, with ts_headline
// for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterKind == "" || q.FilterKind == KindComment {
		where := "c.fts @@ " + tsQuery
		if q.FilterSection != "" {
			where += fmt.Sprintf(" AND c.section = $%d", argN)
			args = append(args, q.FilterSection)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS kind, c.id, c.section, c.ctx_full_name AS author,
				ts_headline('english', coalesce(c.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				FALSE AS answered,
				ts_rank(c.fts, %s) AS rank
			FROM section_comments c
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterKind == "" || q.FilterKind == KindQuestion {
		where := "sq.fts @@ " + tsQuery
		if q.FilterSection != "" {
			where += fmt.Sprintf(" AND sq.section = $%d", argN)
			args = append(args, q.FilterSection)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'question'::text AS kind, sq.id, sq.section, sq.ctx_full_name AS author,
				ts_headline('english', coalesce(sq.content, '') || ' ' || coalesce(sq.answer, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				(sq.answer IS NOT NULL) AS answered,
				ts_rank(sq.fts, %s) AS rank
			FROM section_questions sq
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT kind, id, section, author, snippet, answered
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

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
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.Section, &r.Author, &r.Snippet, &r.Answered); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Kind = Kind(kind)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable interactions for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]InteractionRecord, error) {
	records := make([]InteractionRecord, 0)

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, section, ctx_full_name, content
		FROM section_comments
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	for commentRows.Next() {
		rec := InteractionRecord{Kind: KindComment}
		if err := commentRows.Scan(&rec.ID, &rec.Section, &rec.Author, &rec.Content); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		records = append(records, rec)
	}
	if err := commentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	questionRows, err := p.db.QueryContext(ctx, `
		SELECT id, section, ctx_full_name, content, coalesce(answer, '')
		FROM section_questions
	`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer questionRows.Close()

	for questionRows.Next() {
		rec := InteractionRecord{Kind: KindQuestion}
		if err := questionRows.Scan(&rec.ID, &rec.Section, &rec.Author, &rec.Content, &rec.Answer); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		rec.Answered = rec.Answer != ""
		records = append(records, rec)
	}
	if err := questionRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	return records, nil
}
