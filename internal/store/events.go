package store

import (
	"database/sql"
)

const eventColumns = `id, created_at, event_type, repo_id, issue_id, issue_number, message`

// AppendEvent adds a row to the audit log. The event's ID and CreatedAt are
// populated on return so callers can fan the same record out to live
// subscribers.
func (s *Store) AppendEvent(e *Event) error {
	res, err := s.db.Exec(`
		INSERT INTO events (event_type, repo_id, issue_id, issue_number, message)
		VALUES (?, ?, ?, ?, ?)
	`, e.EventType, nullInt64(e.RepoID), nullInt64(e.IssueID), nullInt64(int64(e.IssueNumber)), e.Message)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	row := s.db.QueryRow(`SELECT created_at FROM events WHERE id = ?`, e.ID)
	var createdAt sql.NullTime
	if err := row.Scan(&createdAt); err != nil {
		return err
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	return nil
}

// ListRecentEvents returns the newest events first, up to limit.
func (s *Store) ListRecentEvents(limit int) ([]*Event, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectEvents(rows)
}

// ListEventsByIssue returns all events for an issue, oldest first.
func (s *Store) ListEventsByIssue(issueID int64) ([]*Event, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events WHERE issue_id = ? ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var createdAt sql.NullTime
	var repoID, issueID, issueNumber sql.NullInt64
	err := row.Scan(&e.ID, &createdAt, &e.EventType, &repoID, &issueID, &issueNumber, &e.Message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	if repoID.Valid {
		e.RepoID = repoID.Int64
	}
	if issueID.Valid {
		e.IssueID = issueID.Int64
	}
	if issueNumber.Valid {
		e.IssueNumber = int(issueNumber.Int64)
	}
	return &e, nil
}
