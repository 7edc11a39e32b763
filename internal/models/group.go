package models

import (
	"time"

	"github.com/samber/lo"
)

// Group represents a named chat group. The creator is always a member.
type Group struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatorID string    `db:"creator_id" json:"creator"`
	Members   []string  `db:"-" json:"members"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID string) bool {
	return lo.Contains(g.Members, userID)
}
