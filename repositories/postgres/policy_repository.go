package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
)

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (id, name, document, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.Name,
		[]byte(policy.Document),
	)

	if err != nil {
		return mapWriteError(err, "policy", policy.Name)
	}

	r.logger.Debug("policy created", zap.String("name", policy.Name))
	return nil
}

// GetByName retrieves a policy by name
func (r *PolicyRepository) GetByName(ctx context.Context, name string) (*models.Policy, error) {
	query := `
		SELECT id, name, document, created_at, updated_at
		FROM policies
		WHERE name = $1
	`

	executor := GetExecutor(ctx, r.db)
	policy := &models.Policy{}
	var document []byte

	err := executor.QueryRowContext(ctx, query, name).Scan(
		&policy.ID,
		&policy.Name,
		&document,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, notFoundErr("policy", name)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	policy.Document = document
	return policy, nil
}

// List retrieves all policies
func (r *PolicyRepository) List(ctx context.Context) ([]*models.Policy, error) {
	query := `
		SELECT id, name, document, created_at, updated_at
		FROM policies
		ORDER BY name
	`
	return r.queryPolicies(ctx, query)
}

// Update replaces a policy document
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE policies
		SET document = $2, updated_at = $3
		WHERE name = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, policy.Name, []byte(policy.Document), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return notFoundErr("policy", policy.Name)
	}

	r.logger.Debug("policy updated", zap.String("name", policy.Name))
	return nil
}

// Delete deletes a policy; attachments cascade
func (r *PolicyRepository) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM policies WHERE name = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return notFoundErr("policy", name)
	}

	r.logger.Debug("policy deleted", zap.String("name", name))
	return nil
}

// AttachToUser attaches a policy to a user
func (r *PolicyRepository) AttachToUser(ctx context.Context, policyName, username string) error {
	query := `
		INSERT INTO user_policies (user_id, policy_id)
		SELECT u.id, p.id
		FROM users u, policies p
		WHERE u.username = $2 AND p.name = $1
		ON CONFLICT DO NOTHING
	`
	return r.attach(ctx, query, policyName, username, "user attachment")
}

// DetachFromUser detaches a policy from a user
func (r *PolicyRepository) DetachFromUser(ctx context.Context, policyName, username string) error {
	query := `
		DELETE FROM user_policies
		WHERE user_id = (SELECT id FROM users WHERE username = $2)
		  AND policy_id = (SELECT id FROM policies WHERE name = $1)
	`
	return r.detach(ctx, query, policyName, username, "user attachment")
}

// AttachToGroup attaches a policy to a group
func (r *PolicyRepository) AttachToGroup(ctx context.Context, policyName, groupName string) error {
	query := `
		INSERT INTO group_policies (group_id, policy_id)
		SELECT g.id, p.id
		FROM groups g, policies p
		WHERE g.name = $2 AND p.name = $1
		ON CONFLICT DO NOTHING
	`
	return r.attach(ctx, query, policyName, groupName, "group attachment")
}

// DetachFromGroup detaches a policy from a group
func (r *PolicyRepository) DetachFromGroup(ctx context.Context, policyName, groupName string) error {
	query := `
		DELETE FROM group_policies
		WHERE group_id = (SELECT id FROM groups WHERE name = $2)
		  AND policy_id = (SELECT id FROM policies WHERE name = $1)
	`
	return r.detach(ctx, query, policyName, groupName, "group attachment")
}

// AttachToServiceAccount attaches a policy to a service account
func (r *PolicyRepository) AttachToServiceAccount(ctx context.Context, policyName, accountName string) error {
	query := `
		INSERT INTO service_account_policies (service_account, policy_id)
		SELECT s.name, p.id
		FROM service_accounts s, policies p
		WHERE s.name = $2 AND p.name = $1
		ON CONFLICT DO NOTHING
	`
	return r.attach(ctx, query, policyName, accountName, "service account attachment")
}

// DocumentsForUser retrieves the parsed policy documents attached to a
// user directly or through any of the user's groups. Documents that fail
// to parse are skipped and logged rather than silently denying the call
// with a malformed statement set.
func (r *PolicyRepository) DocumentsForUser(ctx context.Context, username string) ([]models.PolicyDocument, error) {
	query := `
		SELECT DISTINCT p.id, p.name, p.document
		FROM policies p
		LEFT JOIN user_policies up ON up.policy_id = p.id
		LEFT JOIN users u ON u.id = up.user_id
		LEFT JOIN group_policies gp ON gp.policy_id = p.id
		LEFT JOIN user_groups ug ON ug.group_id = gp.group_id
		LEFT JOIN users gu ON gu.id = ug.user_id
		WHERE u.username = $1 OR gu.username = $1
	`
	return r.queryDocuments(ctx, query, username)
}

// DocumentsForServiceAccount retrieves the parsed policy documents
// attached to a service account
func (r *PolicyRepository) DocumentsForServiceAccount(ctx context.Context, accountName string) ([]models.PolicyDocument, error) {
	query := `
		SELECT p.id, p.name, p.document
		FROM policies p
		JOIN service_account_policies sap ON sap.policy_id = p.id
		WHERE sap.service_account = $1
	`
	return r.queryDocuments(ctx, query, accountName)
}

// WithTx returns a new repository instance bound to the transaction
func (r *PolicyRepository) WithTx(tx repositories.Transaction) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     r.db,
		logger: r.logger,
	}
}

func (r *PolicyRepository) attach(ctx context.Context, query, policyName, target, what string) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, policyName, target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", what, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		// Existing attachments are idempotent; verify the policy exists to
		// distinguish them from a bad name.
		if _, err := r.GetByName(ctx, policyName); err != nil {
			return err
		}
	}

	r.logger.Debug("policy attached",
		zap.String("policy", policyName), zap.String("target", target))
	return nil
}

func (r *PolicyRepository) detach(ctx context.Context, query, policyName, target, what string) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, policyName, target)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", what, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return notFoundErr(what, fmt.Sprintf("%s/%s", policyName, target))
	}

	r.logger.Debug("policy detached",
		zap.String("policy", policyName), zap.String("target", target))
	return nil
}

func (r *PolicyRepository) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.Policy, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		policy := &models.Policy{}
		var document []byte
		if err := rows.Scan(&policy.ID, &policy.Name, &document, &policy.CreatedAt, &policy.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policy.Document = document
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policies: %w", err)
	}

	return policies, nil
}

func (r *PolicyRepository) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]models.PolicyDocument, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy documents: %w", err)
	}
	defer rows.Close()

	var docs []models.PolicyDocument
	for rows.Next() {
		policy := &models.Policy{}
		var document []byte
		if err := rows.Scan(&policy.ID, &policy.Name, &document); err != nil {
			return nil, fmt.Errorf("failed to scan policy document: %w", err)
		}
		policy.Document = document

		doc, err := policy.ParseDocument()
		if err != nil {
			r.logger.Warn("skipping malformed policy document",
				zap.String("policy", policy.Name), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policy documents: %w", err)
	}

	return docs, nil
}
