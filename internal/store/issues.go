package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const issueColumns = `id, repo_id, issue_number, issue_title, status,
	current_iteration, current_review_iteration, branch_name, current_phase,
	cooldown_until, blocked_by_issues, last_feedback, created_at, updated_at`

// CreateIssue inserts a tracked issue. (repo, issueNumber) must be unique;
// the issue's ID is populated on return.
func (s *Store) CreateIssue(i *Issue) error {
	if i.Status == "" {
		i.Status = StatusPending
	}
	res, err := s.db.Exec(`
		INSERT INTO tracked_issues (repo_id, issue_number, issue_title, status, blocked_by_issues)
		VALUES (?, ?, ?, ?, ?)
	`, i.RepoID, i.IssueNumber, i.IssueTitle, i.Status, i.BlockedByIssues)
	if err != nil {
		return fmt.Errorf("failed to create issue #%d: %w", i.IssueNumber, err)
	}
	i.ID, err = res.LastInsertId()
	return err
}

// GetIssue retrieves a tracked issue by repo and issue number.
// Returns nil, nil if not found.
func (s *Store) GetIssue(repoID int64, issueNumber int) (*Issue, error) {
	row := s.db.QueryRow(`SELECT `+issueColumns+` FROM tracked_issues WHERE repo_id = ? AND issue_number = ?`, repoID, issueNumber)
	return scanIssue(row)
}

// GetIssueByID retrieves a tracked issue by its surrogate id.
// Returns nil, nil if not found.
func (s *Store) GetIssueByID(id int64) (*Issue, error) {
	row := s.db.QueryRow(`SELECT `+issueColumns+` FROM tracked_issues WHERE id = ?`, id)
	return scanIssue(row)
}

// ListIssuesByStatus returns all issues in the given status, oldest first.
func (s *Store) ListIssuesByStatus(status string) ([]*Issue, error) {
	rows, err := s.db.Query(`SELECT `+issueColumns+` FROM tracked_issues WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIssues(rows)
}

// ListIssuesByRepo returns all issues tracked for a repo, newest first.
func (s *Store) ListIssuesByRepo(repoID int64) ([]*Issue, error) {
	rows, err := s.db.Query(`SELECT `+issueColumns+` FROM tracked_issues WHERE repo_id = ? ORDER BY id DESC`, repoID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIssues(rows)
}

// ListIssues returns every tracked issue, newest first.
func (s *Store) ListIssues() ([]*Issue, error) {
	rows, err := s.db.Query(`SELECT ` + issueColumns + ` FROM tracked_issues ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectIssues(rows)
}

// SetStatus performs an optimistic status transition: when from statuses are
// given the update only applies while the row is still in one of them.
// Returns whether the transition happened.
func (s *Store) SetStatus(id int64, to string, from ...string) (bool, error) {
	query := `UPDATE tracked_issues SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	args := []any{to, id}
	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, f)
		}
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkQueued transitions a PENDING or BLOCKED issue to QUEUED and clears its
// blocker list.
func (s *Store) MarkQueued(id int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, blocked_by_issues = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)
	`, StatusQueued, id, StatusPending, StatusBlocked)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkBlocked stores the unresolved blocker list and parks the issue in
// BLOCKED. Re-marking an already BLOCKED issue refreshes the list.
func (s *Store) MarkBlocked(id int64, blockers string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, blocked_by_issues = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?, ?)
	`, StatusBlocked, blockers, id, StatusPending, StatusBlocked, StatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IncrementIteration bumps current_iteration for an IN_PROGRESS issue and
// stamps the implementation phase. Returns the new iteration number.
func (s *Store) IncrementIteration(id int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE tracked_issues
		SET current_iteration = current_iteration + 1, current_phase = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, PhaseImplementation, id, StatusInProgress)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, fmt.Errorf("issue %d is not IN_PROGRESS", id)
	}

	var num int
	if err := tx.QueryRow(`SELECT current_iteration FROM tracked_issues WHERE id = ?`, id).Scan(&num); err != nil {
		return 0, err
	}
	return num, tx.Commit()
}

// IncrementReviewIteration bumps current_review_iteration for an IN_PROGRESS
// issue. Returns the new counter value.
func (s *Store) IncrementReviewIteration(id int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE tracked_issues
		SET current_review_iteration = current_review_iteration + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, id, StatusInProgress)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, fmt.Errorf("issue %d is not IN_PROGRESS", id)
	}

	var num int
	if err := tx.QueryRow(`SELECT current_review_iteration FROM tracked_issues WHERE id = ?`, id).Scan(&num); err != nil {
		return 0, err
	}
	return num, tx.Commit()
}

// ResetForRetry returns a COOLDOWN or FAILED issue to PENDING with zeroed
// iteration counters. cooldown_until is deliberately left in place as an
// audit trail of the last escalation.
func (s *Store) ResetForRetry(id int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, current_iteration = 0, current_review_iteration = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)
	`, StatusPending, id, StatusCooldown, StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EnterCooldown parks the issue in COOLDOWN until the given time.
func (s *Store) EnterCooldown(id int64, until time.Time) error {
	_, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, cooldown_until = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, StatusCooldown, until, id)
	return err
}

// MarkFailed sets FAILED and clears the active phase.
func (s *Store) MarkFailed(id int64) error {
	_, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, current_phase = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, StatusFailed, id)
	return err
}

// MarkCompleted sets COMPLETED and clears the active phase.
func (s *Store) MarkCompleted(id int64) error {
	_, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, current_phase = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, StatusCompleted, id)
	return err
}

// MarkAwaitingApproval parks an IN_PROGRESS issue for human sign-off.
func (s *Store) MarkAwaitingApproval(id int64) (bool, error) {
	return s.SetStatus(id, StatusAwaitingApproval, StatusInProgress)
}

// MarkRejected records human feedback and returns the issue to IN_PROGRESS.
func (s *Store) MarkRejected(id int64, feedback string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tracked_issues
		SET status = ?, last_feedback = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, StatusInProgress, feedback, id, StatusAwaitingApproval)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetBranch records the working branch name.
func (s *Store) SetBranch(id int64, branch string) error {
	_, err := s.db.Exec(`UPDATE tracked_issues SET branch_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, branch, id)
	return err
}

// SetPhase records the active workflow phase; empty clears it.
func (s *Store) SetPhase(id int64, phase string) error {
	_, err := s.db.Exec(`UPDATE tracked_issues SET current_phase = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, nullString(phase), id)
	return err
}

// SetBlockers refreshes the stored blocker list without changing status.
func (s *Store) SetBlockers(id int64, blockers string) error {
	_, err := s.db.Exec(`UPDATE tracked_issues SET blocked_by_issues = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, blockers, id)
	return err
}

// SetTitle refreshes the cached issue title.
func (s *Store) SetTitle(id int64, title string) error {
	_, err := s.db.Exec(`UPDATE tracked_issues SET issue_title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, title, id)
	return err
}

// ClearFeedback erases stored human feedback once it has been consumed.
func (s *Store) ClearFeedback(id int64) error {
	_, err := s.db.Exec(`UPDATE tracked_issues SET last_feedback = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func collectIssues(rows *sql.Rows) ([]*Issue, error) {
	var issues []*Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func scanIssue(row scanner) (*Issue, error) {
	var i Issue
	var phase sql.NullString
	var cooldownUntil, createdAt, updatedAt sql.NullTime
	err := row.Scan(&i.ID, &i.RepoID, &i.IssueNumber, &i.IssueTitle, &i.Status,
		&i.CurrentIteration, &i.CurrentReviewIteration, &i.BranchName, &phase,
		&cooldownUntil, &i.BlockedByIssues, &i.LastFeedback, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if phase.Valid {
		i.CurrentPhase = phase.String
	}
	if cooldownUntil.Valid {
		t := cooldownUntil.Time
		i.CooldownUntil = &t
	}
	if createdAt.Valid {
		i.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		i.UpdatedAt = updatedAt.Time
	}
	return &i, nil
}
