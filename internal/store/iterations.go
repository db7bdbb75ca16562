package store

import (
	"database/sql"
)

const iterationColumns = `id, issue_id, iteration_num, claude_output,
	self_assessment, ci_result, diff, review_json, review_passed, review_model,
	started_at, completed_at`

// StartIteration appends a new iteration row for an issue. Only the issue
// and iteration number are known at start time; the rest is filled in by
// UpdateIteration as the attempt progresses. The row's ID is populated on
// return.
func (s *Store) StartIteration(issueID int64, iterationNum int) (*Iteration, error) {
	res, err := s.db.Exec(`
		INSERT INTO iterations (issue_id, iteration_num)
		VALUES (?, ?)
	`, issueID, iterationNum)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetIteration(id)
}

// UpdateIteration writes the mutable fields of an iteration row back to the
// database. CompletedAt is stamped only when set on the struct.
func (s *Store) UpdateIteration(it *Iteration) error {
	var passed sql.NullBool
	if it.ReviewPassed != nil {
		passed = sql.NullBool{Bool: *it.ReviewPassed, Valid: true}
	}
	var completedAt sql.NullTime
	if it.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *it.CompletedAt, Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE iterations
		SET claude_output = ?, self_assessment = ?, ci_result = ?, diff = ?,
			review_json = ?, review_passed = ?, review_model = ?, completed_at = ?
		WHERE id = ?
	`, it.ClaudeOutput, it.SelfAssessment, it.CIResult, it.Diff,
		it.ReviewJSON, passed, it.ReviewModel, completedAt, it.ID)
	return err
}

// CompleteIteration stamps completed_at on an iteration row.
func (s *Store) CompleteIteration(id int64) error {
	_, err := s.db.Exec(`
		UPDATE iterations SET completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND completed_at IS NULL
	`, id)
	return err
}

// GetIteration retrieves an iteration row by id.
// Returns nil, nil if not found.
func (s *Store) GetIteration(id int64) (*Iteration, error) {
	row := s.db.QueryRow(`SELECT `+iterationColumns+` FROM iterations WHERE id = ?`, id)
	return scanIteration(row)
}

// LatestIteration returns the most recent iteration for an issue, or nil
// when none have been recorded.
func (s *Store) LatestIteration(issueID int64) (*Iteration, error) {
	row := s.db.QueryRow(`
		SELECT `+iterationColumns+` FROM iterations
		WHERE issue_id = ? ORDER BY id DESC LIMIT 1
	`, issueID)
	return scanIteration(row)
}

// ListIterations returns all iterations for an issue, oldest first.
func (s *Store) ListIterations(issueID int64) ([]*Iteration, error) {
	rows, err := s.db.Query(`SELECT `+iterationColumns+` FROM iterations WHERE issue_id = ? ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var its []*Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, err
		}
		its = append(its, it)
	}
	return its, rows.Err()
}

func scanIteration(row scanner) (*Iteration, error) {
	var it Iteration
	var passed sql.NullBool
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&it.ID, &it.IssueID, &it.IterationNum, &it.ClaudeOutput,
		&it.SelfAssessment, &it.CIResult, &it.Diff, &it.ReviewJSON, &passed,
		&it.ReviewModel, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if passed.Valid {
		b := passed.Bool
		it.ReviewPassed = &b
	}
	if startedAt.Valid {
		it.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		it.CompletedAt = &t
	}
	return &it, nil
}
