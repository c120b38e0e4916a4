package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	vstepro "github.com/eugener/vstepro/internal"
)

const examSetColumns = `id, title, level, skill, description, duration_min, published, created_at, updated_at`

// CreateExamSet inserts a new exam set.
func (s *Store) CreateExamSet(ctx context.Context, es *vstepro.ExamSet) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO exam_sets (`+examSetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		es.ID, es.Title, es.Level, es.Skill, nullStr(es.Description), es.DurationMin,
		boolToInt(es.Published),
		es.CreatedAt.UTC().Format(time.RFC3339), es.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetExamSet retrieves an exam set by ID.
func (s *Store) GetExamSet(ctx context.Context, id string) (*vstepro.ExamSet, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+examSetColumns+` FROM exam_sets WHERE id=?`, id,
	)
	return scanExamSet(row)
}

// ListExamSets returns exam sets matching the filter, ordered by level then title.
func (s *Store) ListExamSets(ctx context.Context, f vstepro.ExamSetFilter) ([]*vstepro.ExamSet, error) {
	var where []string
	var args []any
	if f.Level != "" {
		where = append(where, "level=?")
		args = append(args, f.Level)
	}
	if f.Skill != "" {
		where = append(where, "skill=?")
		args = append(args, f.Skill)
	}
	if f.PublishedOnly {
		where = append(where, "published=1")
	}

	query := `SELECT ` + examSetColumns + ` FROM exam_sets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY level, title, id"

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*vstepro.ExamSet
	for rows.Next() {
		es, err := scanExamSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, es)
	}
	return sets, rows.Err()
}

// UpdateExamSet updates an existing exam set.
func (s *Store) UpdateExamSet(ctx context.Context, es *vstepro.ExamSet) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE exam_sets SET title=?, level=?, skill=?, description=?, duration_min=?,
		 published=?, updated_at=? WHERE id=?`,
		es.Title, es.Level, es.Skill, nullStr(es.Description), es.DurationMin,
		boolToInt(es.Published), es.UpdatedAt.UTC().Format(time.RFC3339), es.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "exam set")
}

// DeleteExamSet removes an exam set. Its questions and sessions cascade.
func (s *Store) DeleteExamSet(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM exam_sets WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "exam set")
}

func scanExamSet(s scanner) (*vstepro.ExamSet, error) {
	var es vstepro.ExamSet
	var desc, createdAt, updatedAt sql.NullString
	var published int
	err := s.Scan(&es.ID, &es.Title, &es.Level, &es.Skill, &desc, &es.DurationMin,
		&published, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	es.Description = desc.String
	es.Published = published != 0
	if t := parseTime(createdAt); t != nil {
		es.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		es.UpdatedAt = *t
	}
	return &es, nil
}

// --- Questions ---

const questionColumns = `id, exam_set_id, position, prompt, options, answer, points`

// CreateQuestion inserts a question. The owning exam set must exist.
func (s *Store) CreateQuestion(ctx context.Context, q *vstepro.Question) error {
	var opts sql.NullString
	if len(q.Options) > 0 {
		var err error
		if opts, err = marshalJSON(q.Options); err != nil {
			return err
		}
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO questions (`+questionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.ExamSetID, q.Position, q.Prompt, opts, q.Answer, q.Points,
	)
	return err
}

// GetQuestion retrieves a question by ID, including its answer key.
func (s *Store) GetQuestion(ctx context.Context, id string) (*vstepro.Question, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id=?`, id,
	)
	return scanQuestion(row)
}

// ListQuestions returns the questions of an exam set in position order.
func (s *Store) ListQuestions(ctx context.Context, examSetID string) ([]*vstepro.Question, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_set_id=? ORDER BY position, id`,
		examSetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var qs []*vstepro.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

func scanQuestion(s scanner) (*vstepro.Question, error) {
	var q vstepro.Question
	var opts sql.NullString
	if err := s.Scan(&q.ID, &q.ExamSetID, &q.Position, &q.Prompt, &opts, &q.Answer, &q.Points); err != nil {
		return nil, notFoundErr(err)
	}
	o, err := unmarshalJSON[string](opts)
	if err != nil {
		return nil, err
	}
	q.Options = o
	return &q, nil
}
