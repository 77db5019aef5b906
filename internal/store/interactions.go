package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrAlreadyAnswered is returned when a second answer is submitted for
// a question that has one. Answered is terminal.
var ErrAlreadyAnswered = errors.New("question already answered")

// ErrToggleContention is returned when the like toggle loses the
// conflict window to concurrent toggles on every retry.
var ErrToggleContention = errors.New("like toggle contention")

const snapshotColumns = `ctx_full_name, ctx_department, ctx_role, ctx_company_name, ctx_years_at_company, ctx_years_in_role, ctx_years_in_dept`

// ── Comments ──

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO section_comments (id, section, section_id, user_id, content, `+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, c.ID, c.Section, c.SectionID, c.UserID, c.Content,
		c.Context.FullName, c.Context.Department, c.Context.Role, c.Context.CompanyName,
		c.Context.YearsAtCompany, c.Context.YearsInRole, c.Context.YearsInDept,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// ListCommentsBySection returns comments newest-first.
func (s *PostgresStore) ListCommentsBySection(ctx context.Context, section string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section, section_id, user_id, content, `+snapshotColumns+`, created_at, updated_at
		FROM section_comments
		WHERE section=$1
		ORDER BY created_at DESC, id DESC
	`, section)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.Section, &c.SectionID, &c.UserID, &c.Content,
			&c.Context.FullName, &c.Context.Department, &c.Context.Role, &c.Context.CompanyName,
			&c.Context.YearsAtCompany, &c.Context.YearsInRole, &c.Context.YearsInDept,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ── Questions ──

func (s *PostgresStore) InsertQuestion(ctx context.Context, q Question) (Question, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO section_questions (id, section, section_id, user_id, content, `+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, q.ID, q.Section, q.SectionID, q.UserID, q.Content,
		q.Context.FullName, q.Context.Department, q.Context.Role, q.Context.CompanyName,
		q.Context.YearsAtCompany, q.Context.YearsInRole, q.Context.YearsInDept,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return Question{}, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

// ListQuestionsBySection returns questions in insertion order.
func (s *PostgresStore) ListQuestionsBySection(ctx context.Context, section string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section, section_id, user_id, content, answer, `+snapshotColumns+`, created_at, updated_at
		FROM section_questions
		WHERE section=$1
		ORDER BY created_at ASC, id ASC
	`, section)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Section, &q.SectionID, &q.UserID, &q.Content, &q.Answer,
			&q.Context.FullName, &q.Context.Department, &q.Context.Role, &q.Context.CompanyName,
			&q.Context.YearsAtCompany, &q.Context.YearsInRole, &q.Context.YearsInDept,
			&q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

// SetQuestionAnswer records the answer for an unanswered question. The
// guard lives in the WHERE clause, so two racing answers cannot both
// win. Returns ErrAlreadyAnswered if the question has an answer and
// sql.ErrNoRows if it does not exist.
func (s *PostgresStore) SetQuestionAnswer(ctx context.Context, questionID, answer string) (Question, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE section_questions
		SET answer=$2, updated_at=NOW()
		WHERE id=$1 AND answer IS NULL
	`, questionID, answer)
	if err != nil {
		return Question{}, fmt.Errorf("set answer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Question{}, fmt.Errorf("set answer rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM section_questions WHERE id=$1)`, questionID).Scan(&exists); err != nil {
			return Question{}, fmt.Errorf("check question: %w", err)
		}
		if exists {
			return Question{}, ErrAlreadyAnswered
		}
		return Question{}, sql.ErrNoRows
	}
	return s.getQuestion(ctx, questionID)
}

func (s *PostgresStore) getQuestion(ctx context.Context, questionID string) (Question, error) {
	var q Question
	err := s.db.QueryRowContext(ctx, `
		SELECT id, section, section_id, user_id, content, answer, `+snapshotColumns+`, created_at, updated_at
		FROM section_questions
		WHERE id=$1
	`, questionID).Scan(&q.ID, &q.Section, &q.SectionID, &q.UserID, &q.Content, &q.Answer,
		&q.Context.FullName, &q.Context.Department, &q.Context.Role, &q.Context.CompanyName,
		&q.Context.YearsAtCompany, &q.Context.YearsInRole, &q.Context.YearsInDept,
		&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

// ── Likes ──

// ToggleLike deletes the caller's like for the section if one exists,
// otherwise inserts one. The unique index on (section, user_id) makes
// the insert conditional: when two toggles race past the delete, only
// one insert lands and the loser retries the delete. Reports whether a
// like exists after the call.
func (s *PostgresStore) ToggleLike(ctx context.Context, like Like) (bool, *Like, error) {
	for attempt := 0; attempt < 3; attempt++ {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM section_likes WHERE section=$1 AND user_id=$2
		`, like.Section, like.UserID)
		if err != nil {
			return false, nil, fmt.Errorf("toggle like delete: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, nil, fmt.Errorf("toggle like rows: %w", err)
		}
		if affected > 0 {
			return false, nil, nil
		}

		inserted := like
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO section_likes (id, section, section_id, user_id, reaction, `+snapshotColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (section, user_id) DO NOTHING
			RETURNING created_at
		`, like.ID, like.Section, like.SectionID, like.UserID, like.Reaction,
			like.Context.FullName, like.Context.Department, like.Context.Role, like.Context.CompanyName,
			like.Context.YearsAtCompany, like.Context.YearsInRole, like.Context.YearsInDept,
		).Scan(&inserted.CreatedAt)
		if err == nil {
			return true, &inserted, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, nil, fmt.Errorf("toggle like insert: %w", err)
		}
		// Conflict: a concurrent toggle inserted first. Retry the delete.
	}
	return false, nil, ErrToggleContention
}

// ListLikesBySection returns likes in insertion order.
func (s *PostgresStore) ListLikesBySection(ctx context.Context, section string) ([]Like, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section, section_id, user_id, reaction, `+snapshotColumns+`, created_at
		FROM section_likes
		WHERE section=$1
		ORDER BY created_at ASC, id ASC
	`, section)
	if err != nil {
		return nil, fmt.Errorf("list likes: %w", err)
	}
	defer rows.Close()

	items := make([]Like, 0)
	for rows.Next() {
		var l Like
		if err := rows.Scan(&l.ID, &l.Section, &l.SectionID, &l.UserID, &l.Reaction,
			&l.Context.FullName, &l.Context.Department, &l.Context.Role, &l.Context.CompanyName,
			&l.Context.YearsAtCompany, &l.Context.YearsInRole, &l.Context.YearsInDept,
			&l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan like: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate likes: %w", err)
	}
	return items, nil
}

// ── Approvals ──

func (s *PostgresStore) InsertApproval(ctx context.Context, a Approval) (Approval, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO section_approvals (id, section, section_id, user_id, status, comments, `+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, a.ID, a.Section, a.SectionID, a.UserID, a.Status, a.Comments,
		a.Context.FullName, a.Context.Department, a.Context.Role, a.Context.CompanyName,
		a.Context.YearsAtCompany, a.Context.YearsInRole, a.Context.YearsInDept,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return a, nil
}

// ListApprovalsBySection returns the full decision history in insertion
// order. History is never pruned.
func (s *PostgresStore) ListApprovalsBySection(ctx context.Context, section string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section, section_id, user_id, status, comments, `+snapshotColumns+`, created_at, updated_at
		FROM section_approvals
		WHERE section=$1
		ORDER BY created_at ASC, id ASC
	`, section)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]Approval, 0)
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.Section, &a.SectionID, &a.UserID, &a.Status, &a.Comments,
			&a.Context.FullName, &a.Context.Department, &a.Context.Role, &a.Context.CompanyName,
			&a.Context.YearsAtCompany, &a.Context.YearsInRole, &a.Context.YearsInDept,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

// CurrentApprovalStatus derives the latest decision for the pair, or
// "pending" when the user has no history for the section.
func (s *PostgresStore) CurrentApprovalStatus(ctx context.Context, section, userID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM section_approvals
		WHERE section=$1 AND user_id=$2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, section, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "pending", nil
	}
	if err != nil {
		return "", fmt.Errorf("current approval status: %w", err)
	}
	return status, nil
}
