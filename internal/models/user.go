package models

import "time"

// User is a chat participant with the presence fields owned by the presence registry.
type User struct {
	ID       string    `db:"id" json:"id"`
	Username string    `db:"username" json:"username"`
	IsOnline bool      `db:"is_online" json:"isOnline"`
	LastSeen time.Time `db:"last_seen" json:"lastSeen"`
}

// IdentityRef is the expanded identity used only when serializing responses.
type IdentityRef struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

// Ref returns the user's identity reference.
func (u User) Ref() IdentityRef {
	return IdentityRef{ID: u.ID, Username: u.Username}
}
