package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
)

// GroupRepository implements the repositories.GroupRepository interface
type GroupRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB, logger *zap.Logger) repositories.GroupRepository {
	return &GroupRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new group
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	query := `
		INSERT INTO groups (id, name, created_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query, group.ID, group.Name)
	if err != nil {
		return mapWriteError(err, "group", group.Name)
	}

	r.logger.Debug("group created", zap.String("name", group.Name))
	return nil
}

// GetByName retrieves a group by name
func (r *GroupRepository) GetByName(ctx context.Context, name string) (*models.Group, error) {
	query := `
		SELECT id, name, created_at
		FROM groups
		WHERE name = $1
	`

	executor := GetExecutor(ctx, r.db)
	group := &models.Group{}

	err := executor.QueryRowContext(ctx, query, name).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, notFoundErr("group", name)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	return group, nil
}

// List retrieves all groups
func (r *GroupRepository) List(ctx context.Context) ([]*models.Group, error) {
	query := `
		SELECT id, name, created_at
		FROM groups
		ORDER BY name
	`
	return r.queryGroups(ctx, query)
}

// AddUser adds a user to a group. The names are resolved to ids in the
// insert itself; zero affected rows means one of them does not exist.
func (r *GroupRepository) AddUser(ctx context.Context, groupName, username string) error {
	query := `
		INSERT INTO user_groups (user_id, group_id)
		SELECT u.id, g.id
		FROM users u, groups g
		WHERE u.username = $2 AND g.name = $1
		ON CONFLICT DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, groupName, username)
	if err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		// Either a missing user/group or an existing membership; the
		// lookups below distinguish them.
		if _, err := r.GetByName(ctx, groupName); err != nil {
			return err
		}
		var exists bool
		err := executor.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return notFoundErr("user", username)
		}
	}

	r.logger.Debug("user added to group",
		zap.String("group", groupName), zap.String("username", username))
	return nil
}

// RemoveUser removes a user from a group
func (r *GroupRepository) RemoveUser(ctx context.Context, groupName, username string) error {
	query := `
		DELETE FROM user_groups
		WHERE user_id = (SELECT id FROM users WHERE username = $2)
		  AND group_id = (SELECT id FROM groups WHERE name = $1)
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, groupName, username)
	if err != nil {
		return fmt.Errorf("failed to remove user from group: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return notFoundErr("group membership", fmt.Sprintf("%s/%s", groupName, username))
	}

	r.logger.Debug("user removed from group",
		zap.String("group", groupName), zap.String("username", username))
	return nil
}

// GroupsForUser retrieves the groups a user belongs to
func (r *GroupRepository) GroupsForUser(ctx context.Context, username string) ([]*models.Group, error) {
	query := `
		SELECT g.id, g.name, g.created_at
		FROM groups g
		JOIN user_groups ug ON ug.group_id = g.id
		JOIN users u ON u.id = ug.user_id
		WHERE u.username = $1
		ORDER BY g.name
	`
	return r.queryGroups(ctx, query, username)
}

// Delete deletes a group; memberships and attachments cascade
func (r *GroupRepository) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM groups WHERE name = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return notFoundErr("group", name)
	}

	r.logger.Debug("group deleted", zap.String("name", name))
	return nil
}

func (r *GroupRepository) queryGroups(ctx context.Context, query string, args ...interface{}) ([]*models.Group, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group := &models.Group{}
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	return groups, nil
}
