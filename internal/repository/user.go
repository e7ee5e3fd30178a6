package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
)

// UserRepository provides persistence methods for the users table.
type UserRepository struct {
	db    *sql.DB
	clock core.Clock
}

const USER_COLUMNS = ` id, username, password, session_id, api_key, session_expiry, created, enabled `

func NewUserRepository(db *sql.DB, clock core.Clock) *UserRepository {
	return &UserRepository{db: db, clock: clock}
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.SessionID,
		&u.ApiKey,
		&u.SessionExpiry,
		&u.Created,
		&u.Enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Save inserts a new user and returns its generated id.
// Created defaults to now. Password must already be hashed.
func (r *UserRepository) Save(u *domain.User) (int64, error) {
	if !u.Created.Valid {
		u.Created = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}

	vals := []interface{}{u.Username, u.Password, u.SessionID, u.ApiKey, formatDateInDatabaseNull(u.SessionExpiry),
		formatDateInDatabaseNull(u.Created), u.Enabled}
	base := `
        INSERT INTO users (username, password, session_id, api_key, session_expiry, created, enabled)
        VALUES (` + placeholders(1, len(vals)) + `)
    `

	var id int64
	if supportsReturning() {
		if err := r.db.QueryRow(base+" RETURNING id", vals...).Scan(&id); err != nil {
			return 0, err
		}
	} else {
		res, err := r.db.Exec(base, vals...)
		if err != nil {
			return 0, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}
	u.ID = id
	return id, nil
}

// FindByUsername fetches a user by exact username. Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(username string) (*domain.User, error) {
	query := `SELECT ` + USER_COLUMNS + ` FROM users WHERE username = ` + placeholder(1) + ` LIMIT 1`
	return scanUser(r.db.QueryRow(query, username))
}

// FindById returns (nil, nil) if not found.
func (r *UserRepository) FindById(id int64) (*domain.User, error) {
	query := `SELECT ` + USER_COLUMNS + ` FROM users WHERE id = ` + placeholder(1)
	return scanUser(r.db.QueryRow(query, id))
}

// FindBySessionID fetches a user by session_id and ensures session_expiry is in the future.
func (r *UserRepository) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	query := `
        SELECT ` + USER_COLUMNS + `
        FROM users
        WHERE session_id = ` + placeholder(1) + ` AND session_expiry > ` + placeholder(2) + `
        LIMIT 1
    `
	return scanUser(r.db.QueryRow(query, sessionID, formatDateInDatabase(now)))
}

// FindByApiKey fetches a user by api_key (exact match). Returns (nil, nil) if not found.
func (r *UserRepository) FindByApiKey(apiKey string) (*domain.User, error) {
	query := `SELECT ` + USER_COLUMNS + ` FROM users WHERE api_key = ` + placeholder(1) + ` LIMIT 1`
	return scanUser(r.db.QueryRow(query, apiKey))
}

// UpdateSession sets session_id and session_expiry for a user by id.
func (r *UserRepository) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	query := `
        UPDATE users
        SET session_id = ` + placeholder(1) + `, session_expiry = ` + placeholder(2) + `
        WHERE id = ` + placeholder(3) + `
    `
	_, err := r.db.Exec(query, sessionID, formatDateInDatabase(expiry), userID)
	return err
}

// ClearSessionBySessionID logs the session out.
func (r *UserRepository) ClearSessionBySessionID(sessionID string) error {
	query := `UPDATE users SET session_id = NULL, session_expiry = NULL WHERE session_id = ` + placeholder(1)
	_, err := r.db.Exec(query, sessionID)
	return err
}

func (r *UserRepository) DeleteById(id int64) error {
	_, err := r.db.Exec(`DELETE FROM users WHERE id = `+placeholder(1), id)
	return err
}

// FindAll returns all users ordered by id ascending.
func (r *UserRepository) FindAll() ([]*domain.User, error) {
	rows, err := r.db.Query(`SELECT ` + USER_COLUMNS + ` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
