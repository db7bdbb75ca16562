package store

import (
	"database/sql"
	"fmt"
)

const repoColumns = `id, owner, name, default_branch, mode, max_iterations,
	max_review_iterations, ci_enabled, ci_timeout_minutes, auto_merge,
	review_enabled, security_review_enabled, allowed_paths, created_at, updated_at`

// UpsertRepo inserts a watched repo or updates its options if (owner, name)
// already exists. The repo's ID is populated on return.
func (s *Store) UpsertRepo(r *Repo) error {
	_, err := s.db.Exec(`
		INSERT INTO watched_repos (
			owner, name, default_branch, mode, max_iterations,
			max_review_iterations, ci_enabled, ci_timeout_minutes, auto_merge,
			review_enabled, security_review_enabled, allowed_paths
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			default_branch = excluded.default_branch,
			mode = excluded.mode,
			max_iterations = excluded.max_iterations,
			max_review_iterations = excluded.max_review_iterations,
			ci_enabled = excluded.ci_enabled,
			ci_timeout_minutes = excluded.ci_timeout_minutes,
			auto_merge = excluded.auto_merge,
			review_enabled = excluded.review_enabled,
			security_review_enabled = excluded.security_review_enabled,
			allowed_paths = excluded.allowed_paths,
			updated_at = CURRENT_TIMESTAMP
	`, r.Owner, r.Name, r.DefaultBranch, r.Mode, r.MaxIterations,
		r.MaxReviewIterations, r.CIEnabled, r.CITimeoutMinutes, r.AutoMerge,
		r.ReviewEnabled, r.SecurityReviewEnabled, r.AllowedPaths)
	if err != nil {
		return fmt.Errorf("failed to upsert repo %s/%s: %w", r.Owner, r.Name, err)
	}

	row := s.db.QueryRow(`SELECT id FROM watched_repos WHERE owner = ? AND name = ?`, r.Owner, r.Name)
	if err := row.Scan(&r.ID); err != nil {
		return fmt.Errorf("failed to read repo id: %w", err)
	}
	return nil
}

// GetRepo retrieves a watched repo by owner and name.
// Returns nil, nil if not found.
func (s *Store) GetRepo(owner, name string) (*Repo, error) {
	row := s.db.QueryRow(`SELECT `+repoColumns+` FROM watched_repos WHERE owner = ? AND name = ?`, owner, name)
	return scanRepo(row)
}

// GetRepoByID retrieves a watched repo by its surrogate id.
// Returns nil, nil if not found.
func (s *Store) GetRepoByID(id int64) (*Repo, error) {
	row := s.db.QueryRow(`SELECT `+repoColumns+` FROM watched_repos WHERE id = ?`, id)
	return scanRepo(row)
}

// ListRepos returns all watched repos ordered by owner/name.
func (s *Store) ListRepos() ([]*Repo, error) {
	rows, err := s.db.Query(`SELECT ` + repoColumns + ` FROM watched_repos ORDER BY owner, name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var repos []*Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// RemoveRepo deletes a watched repo. It refuses while tracked issues still
// reference the repo.
func (s *Store) RemoveRepo(owner, name string) error {
	repo, err := s.GetRepo(owner, name)
	if err != nil {
		return err
	}
	if repo == nil {
		return fmt.Errorf("repo %s/%s is not watched", owner, name)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tracked_issues WHERE repo_id = ?`, repo.ID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("repo %s/%s has %d tracked issues; refusing to remove", owner, name, count)
	}

	_, err = s.db.Exec(`DELETE FROM watched_repos WHERE id = ?`, repo.ID)
	return err
}

// SetRepoDefaultBranch records the autodetected default branch.
func (s *Store) SetRepoDefaultBranch(id int64, branch string) error {
	_, err := s.db.Exec(`UPDATE watched_repos SET default_branch = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, branch, id)
	return err
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepo(row scanner) (*Repo, error) {
	var r Repo
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.DefaultBranch, &r.Mode,
		&r.MaxIterations, &r.MaxReviewIterations, &r.CIEnabled,
		&r.CITimeoutMinutes, &r.AutoMerge, &r.ReviewEnabled,
		&r.SecurityReviewEnabled, &r.AllowedPaths, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		r.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		r.UpdatedAt = updatedAt.Time
	}
	return &r, nil
}
