package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrEmptyCorrection reports a correction with a blank question or answer.
var ErrEmptyCorrection = errors.New("correction question and answer must not be empty")

// SaveCorrection upserts a confirmed correction. The first save of a
// question inserts it with confidence 1; saving the same question again
// replaces the answer, bumps confidence, and refreshes the timestamp.
func (s *Store) SaveCorrection(ctx context.Context, question, answer string) (*ConfirmedPair, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil, ErrEmptyCorrection
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO confirmed_qa (original_question, corrected_answer)
		VALUES ($1, $2)
		ON CONFLICT (original_question) DO UPDATE SET
			corrected_answer = EXCLUDED.corrected_answer,
			confidence_score = confirmed_qa.confidence_score + 1,
			updated_at       = now()
		RETURNING id, confidence_score, updated_at`,
		question, answer)

	pair := ConfirmedPair{Question: question, Answer: answer}
	var updatedAt pgtype.Timestamptz
	if err := row.Scan(&pair.ID, &pair.Confidence, &updatedAt); err != nil {
		return nil, fmt.Errorf("saving correction: %w", err)
	}
	if updatedAt.Valid {
		pair.UpdatedAt = updatedAt.Time
	}

	s.logger.Info("correction saved",
		"id", pair.ID, "confidence", pair.Confidence)
	return &pair, nil
}

// GetConfirmed returns a confirmed pair by ID, or nil when absent.
func (s *Store) GetConfirmed(ctx context.Context, id int64) (*ConfirmedPair, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, original_question, corrected_answer, confidence_score, updated_at
		FROM confirmed_qa
		WHERE id = $1`, id)

	var pair ConfirmedPair
	var updatedAt pgtype.Timestamptz
	err := row.Scan(&pair.ID, &pair.Question, &pair.Answer, &pair.Confidence, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading confirmed pair %d: %w", id, err)
	}
	if updatedAt.Valid {
		pair.UpdatedAt = updatedAt.Time
	}
	return &pair, nil
}

// DeleteConfirmed removes a confirmed pair by ID. Returns false when no
// row existed.
func (s *Store) DeleteConfirmed(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM confirmed_qa WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting confirmed pair %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListConfirmed returns all confirmed pairs, highest confidence first.
func (s *Store) ListConfirmed(ctx context.Context) ([]ConfirmedPair, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, original_question, corrected_answer, confidence_score, updated_at
		FROM confirmed_qa
		ORDER BY confidence_score DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing confirmed pairs: %w", err)
	}
	defer rows.Close()

	var pairs []ConfirmedPair
	for rows.Next() {
		var pair ConfirmedPair
		var updatedAt pgtype.Timestamptz
		if err := rows.Scan(&pair.ID, &pair.Question, &pair.Answer,
			&pair.Confidence, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning confirmed pair: %w", err)
		}
		if updatedAt.Valid {
			pair.UpdatedAt = updatedAt.Time
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating confirmed pairs: %w", err)
	}
	return pairs, nil
}

// PurgeInvalidConfirmed deletes rows whose question or answer is blank.
// Such rows can only come from external writes, but they would poison the
// confirmed collection, so they are swept before every rebuild.
func (s *Store) PurgeInvalidConfirmed(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM confirmed_qa
		WHERE btrim(original_question) = '' OR btrim(corrected_answer) = ''`)
	if err != nil {
		return 0, fmt.Errorf("purging invalid confirmed pairs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Warn("purged invalid confirmed pairs", "count", n)
		return n, nil
	}
	return 0, nil
}
