package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database holding avatar blobs.
type DB struct {
	*sql.DB
}

// OpenDB creates a SQLite connection with WAL mode and recommended pragmas.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// AvatarRow is a stored profile photo lookup result. Data is nil when the
// service confirmed the user has no photo.
type AvatarRow struct {
	UserID    int64
	Data      []byte
	Absent    bool
	FetchedAt int64
}

// GetAvatar returns the stored avatar row for a user, or nil when the user
// was never fetched.
func (db *DB) GetAvatar(userID int64) (*AvatarRow, error) {
	var row AvatarRow
	err := db.QueryRow(`
		SELECT user_id, data, absent, fetched_at FROM avatars WHERE user_id = ?`, userID).
		Scan(&row.UserID, &row.Data, &row.Absent, &row.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PutAvatar stores a fetch result. A nil data slice records a confirmed
// "no photo" so the user is never re-fetched.
func (db *DB) PutAvatar(userID int64, data []byte, fetchedAt int64) error {
	_, err := db.Exec(`
		INSERT INTO avatars (user_id, data, absent, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			data = excluded.data,
			absent = excluded.absent,
			fetched_at = excluded.fetched_at`,
		userID, data, data == nil, fetchedAt)
	return err
}

// ListAvatars returns all stored avatar rows, without blob data.
func (db *DB) ListAvatars() ([]AvatarRow, error) {
	rows, err := db.Query(`SELECT user_id, absent, fetched_at FROM avatars ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AvatarRow
	for rows.Next() {
		var r AvatarRow
		if err := rows.Scan(&r.UserID, &r.Absent, &r.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
