package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
)

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

type groupRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	CreatorID string         `db:"creator_id"`
	CreatedAt time.Time      `db:"created_at"`
	Members   pq.StringArray `db:"members"`
}

func (r groupRow) toModel() models.Group {
	return models.Group{
		ID:        r.ID,
		Name:      r.Name,
		CreatorID: r.CreatorID,
		CreatedAt: r.CreatedAt,
		Members:   append([]string{}, r.Members...),
	}
}

const groupSelect = `SELECT g.id, g.name, g.creator_id, g.created_at,
        ARRAY(SELECT gm.user_id FROM group_members gm WHERE gm.group_id = g.id ORDER BY gm.added_at, gm.user_id) AS members
        FROM groups g`

// CreateGroup creates a group and its members atomically. The creator is
// always added as a member.
func (r *GroupRepo) CreateGroup(ctx context.Context, creatorID string, name string, memberIDs []string) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	group := models.Group{ID: NewID(), Name: name, CreatorID: creatorID}
	if err = tx.QueryRowxContext(ctx, `INSERT INTO groups (id, name, creator_id) VALUES ($1, $2, $3) RETURNING created_at`, group.ID, name, creatorID).
		Scan(&group.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return models.Group{}, ErrGroupNameTaken
		}
		return models.Group{}, err
	}

	group.Members = lo.Uniq(append([]string{creatorID}, memberIDs...))
	for _, id := range group.Members {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, group.ID, id); err != nil {
			return models.Group{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// GetGroup fetches a single group with its members.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var row groupRow
	err := r.db.GetContext(ctx, &row, groupSelect+` WHERE g.id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}
	return row.toModel(), nil
}

// ListGroupsForUser returns groups that include the user.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	var rows []groupRow
	err := r.db.SelectContext(ctx, &rows, groupSelect+` INNER JOIN group_members me ON me.group_id = g.id WHERE me.user_id=$1 ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row groupRow, _ int) models.Group { return row.toModel() }), nil
}

// GetGroupMembers returns the member ids of a group.
func (r *GroupRepo) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	group, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return group.Members, nil
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID)
	return exists, err
}

// AddMembers adds users to a group, ignoring those already present.
func (r *GroupRepo) AddMembers(ctx context.Context, groupID string, userIDs []string) error {
	for _, id := range lo.Uniq(userIDs) {
		_, err := r.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, id)
		if isForeignKeyViolation(err) {
			return ErrGroupNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveMember removes a user from a group. Removing a non-member is a no-op.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	return err
}

// RenameGroup changes the group's name.
func (r *GroupRepo) RenameGroup(ctx context.Context, groupID string, name string) (models.Group, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE groups SET name=$2 WHERE id=$1`, groupID, name)
	if isUniqueViolation(err) {
		return models.Group{}, ErrGroupNameTaken
	}
	if err != nil {
		return models.Group{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Group{}, err
	}
	if count == 0 {
		return models.Group{}, ErrGroupNotFound
	}
	return r.GetGroup(ctx, groupID)
}

// DeleteGroup removes a group and its memberships. Messages keep their
// group reference.
func (r *GroupRepo) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}
