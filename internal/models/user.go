package models

import "time"

// User is a directory entry. Identity lifecycle is owned by the platform's
// account service; this service only reads users.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DirectoryEntry is a User annotated with live presence for listing screens.
type DirectoryEntry struct {
	User
	IsOnline bool `json:"is_online"`
}
