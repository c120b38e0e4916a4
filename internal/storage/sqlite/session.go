package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	vstepro "github.com/eugener/vstepro/internal"
)

const sessionColumns = `id, user_id, exam_set_id, status, score, max_score, answers, started_at, submitted_at`

// CreateSession inserts a new practice session.
func (s *Store) CreateSession(ctx context.Context, ps *vstepro.PracticeSession) error {
	answers, err := marshalAnswers(ps.Answers)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO practice_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ps.ID, ps.UserID, ps.ExamSetID, ps.Status, ps.Score, ps.MaxScore, answers,
		ps.StartedAt.UTC().Format(time.RFC3339), timeToStr(ps.SubmittedAt),
	)
	return err
}

// GetSession retrieves a practice session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*vstepro.PracticeSession, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM practice_sessions WHERE id=?`, id,
	)
	return scanSession(row)
}

// SubmitSession records the graded result of an in-progress session.
func (s *Store) SubmitSession(ctx context.Context, ps *vstepro.PracticeSession) error {
	answers, err := marshalAnswers(ps.Answers)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE practice_sessions SET status=?, score=?, max_score=?, answers=?, submitted_at=?
		 WHERE id=? AND status=?`,
		vstepro.SessionSubmitted, ps.Score, ps.MaxScore, answers, timeToStr(ps.SubmittedAt),
		ps.ID, vstepro.SessionInProgress,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing session from one that was already submitted.
	if _, err := s.GetSession(ctx, ps.ID); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return fmt.Errorf("session already submitted: %w", vstepro.ErrConflict)
}

func marshalAnswers(a []vstepro.Answer) (sql.NullString, error) {
	if len(a) == 0 {
		return sql.NullString{}, nil
	}
	return marshalJSON(a)
}

func scanSession(s scanner) (*vstepro.PracticeSession, error) {
	var ps vstepro.PracticeSession
	var answers, startedAt, submittedAt sql.NullString
	err := s.Scan(&ps.ID, &ps.UserID, &ps.ExamSetID, &ps.Status, &ps.Score, &ps.MaxScore,
		&answers, &startedAt, &submittedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	a, err := unmarshalJSON[vstepro.Answer](answers)
	if err != nil {
		return nil, err
	}
	ps.Answers = a
	if t := parseTime(startedAt); t != nil {
		ps.StartedAt = *t
	}
	ps.SubmittedAt = parseTime(submittedAt)
	return &ps, nil
}

// --- Statistics ---

// UserStats aggregates the sessions of one user. A user without sessions
// gets zeroed stats rather than ErrNotFound.
func (s *Store) UserStats(ctx context.Context, userID string) (*vstepro.UserStats, error) {
	var started, completed int
	var avg, best sql.NullFloat64
	var last sql.NullString
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*),
		 COALESCE(SUM(CASE WHEN status='submitted' THEN 1 ELSE 0 END), 0),
		 AVG(CASE WHEN status='submitted' AND max_score > 0 THEN score * 100.0 / max_score END),
		 MAX(CASE WHEN status='submitted' AND max_score > 0 THEN score * 100.0 / max_score END),
		 MAX(COALESCE(submitted_at, started_at))
		 FROM practice_sessions WHERE user_id=?`, userID,
	).Scan(&started, &completed, &avg, &best, &last)
	if err != nil {
		return nil, err
	}
	return &vstepro.UserStats{
		UserID:            userID,
		SessionsStarted:   started,
		SessionsCompleted: completed,
		AverageScore:      round2(avg.Float64),
		BestScore:         round2(best.Float64),
		LastActivityAt:    parseTime(last),
	}, nil
}

// Leaderboard ranks users by their best submitted percentage score.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]vstepro.LeaderboardEntry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT user_id, MAX(score * 100.0 / max_score) AS best, COUNT(*)
		 FROM practice_sessions
		 WHERE status='submitted' AND max_score > 0
		 GROUP BY user_id
		 ORDER BY best DESC, user_id
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []vstepro.LeaderboardEntry{}
	for rows.Next() {
		var e vstepro.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.BestScore, &e.Sessions); err != nil {
			return nil, err
		}
		e.Rank = len(entries) + 1
		e.BestScore = round2(e.BestScore)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
