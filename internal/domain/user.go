package domain

import (
	"database/sql"
)

// User is an operator allowed to act on machines through the API.
// Password holds the bcrypt hash once stored.
type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"username"`
	Password      string         `json:"password,omitempty"`
	SessionID     sql.NullString `json:"-"`
	ApiKey        sql.NullString `json:"apiKey"`
	SessionExpiry sql.NullTime   `json:"-"`
	Created       sql.NullTime   `json:"created"`
	Enabled       sql.NullBool   `json:"enabled"`
}
