package models

import "time"

// User represents an account in the relay's user store.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      string    `json:"role" db:"role"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Identity is what the realtime core knows about the local user. It is
// supplied by the application; the core never validates credentials.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}
