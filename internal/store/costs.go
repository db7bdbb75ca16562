package store

import (
	"database/sql"
)

const costColumns = `id, issue_id, iteration_num, input_tokens, output_tokens,
	estimated_cost, model_used, phase, created_at`

// AddCost appends a cost row for a single tool invocation. Rows are never
// updated or deleted.
func (s *Store) AddCost(c *Cost) error {
	res, err := s.db.Exec(`
		INSERT INTO cost_tracking (issue_id, iteration_num, input_tokens, output_tokens, estimated_cost, model_used, phase)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.IssueID, c.IterationNum, c.InputTokens, c.OutputTokens, c.EstimatedCost, c.ModelUsed, c.Phase)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// ListCosts returns all cost rows for an issue, oldest first.
func (s *Store) ListCosts(issueID int64) ([]*Cost, error) {
	rows, err := s.db.Query(`SELECT `+costColumns+` FROM cost_tracking WHERE issue_id = ? ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var costs []*Cost
	for rows.Next() {
		c, err := scanCost(rows)
		if err != nil {
			return nil, err
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

// IssueCostSummary aggregates all cost rows for a single issue.
func (s *Store) IssueCostSummary(issueID int64) (*CostSummary, error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(estimated_cost), 0), COUNT(*)
		FROM cost_tracking WHERE issue_id = ?
	`, issueID)
	return scanCostSummary(row)
}

// TotalCostSummary aggregates every cost row ever recorded.
func (s *Store) TotalCostSummary() (*CostSummary, error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(estimated_cost), 0), COUNT(*)
		FROM cost_tracking
	`)
	return scanCostSummary(row)
}

// RepoCostSummary aggregates cost rows across every tracked issue of a repo.
func (s *Store) RepoCostSummary(repoID int64) (*CostSummary, error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(c.input_tokens), 0), COALESCE(SUM(c.output_tokens), 0),
			COALESCE(SUM(c.estimated_cost), 0), COUNT(*)
		FROM cost_tracking c
		JOIN tracked_issues i ON i.id = c.issue_id
		WHERE i.repo_id = ?
	`, repoID)
	return scanCostSummary(row)
}

func scanCost(row scanner) (*Cost, error) {
	var c Cost
	var createdAt sql.NullTime
	err := row.Scan(&c.ID, &c.IssueID, &c.IterationNum, &c.InputTokens,
		&c.OutputTokens, &c.EstimatedCost, &c.ModelUsed, &c.Phase, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	return &c, nil
}

func scanCostSummary(row scanner) (*CostSummary, error) {
	var sum CostSummary
	if err := row.Scan(&sum.InputTokens, &sum.OutputTokens, &sum.EstimatedCost, &sum.Invocations); err != nil {
		return nil, err
	}
	return &sum, nil
}
