package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
)

// ServiceAccountRepository implements the repositories.ServiceAccountRepository interface
type ServiceAccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewServiceAccountRepository creates a new service account repository
func NewServiceAccountRepository(db *DB, logger *zap.Logger) repositories.ServiceAccountRepository {
	return &ServiceAccountRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new service account
func (r *ServiceAccountRepository) Create(ctx context.Context, account *models.ServiceAccount) error {
	query := `
		INSERT INTO service_accounts (access_key_id, name, secret_hash, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		account.AccessKeyID,
		account.Name,
		account.SecretHash,
	)

	if err != nil {
		return mapWriteError(err, "service account", account.Name)
	}

	r.logger.Debug("service account created", zap.String("name", account.Name))
	return nil
}

// GetByAccessKey retrieves a service account by its access key ID
func (r *ServiceAccountRepository) GetByAccessKey(ctx context.Context, accessKeyID string) (*models.ServiceAccount, error) {
	query := `
		SELECT access_key_id, name, secret_hash, created_at
		FROM service_accounts
		WHERE access_key_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	account := &models.ServiceAccount{}

	err := executor.QueryRowContext(ctx, query, accessKeyID).Scan(
		&account.AccessKeyID,
		&account.Name,
		&account.SecretHash,
		&account.CreatedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, notFoundErr("service account", accessKeyID)
		}
		return nil, fmt.Errorf("failed to get service account: %w", err)
	}

	return account, nil
}

// List retrieves all service accounts
func (r *ServiceAccountRepository) List(ctx context.Context) ([]*models.ServiceAccount, error) {
	query := `
		SELECT access_key_id, name, secret_hash, created_at
		FROM service_accounts
		ORDER BY name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list service accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.ServiceAccount
	for rows.Next() {
		account := &models.ServiceAccount{}
		if err := rows.Scan(&account.AccessKeyID, &account.Name, &account.SecretHash, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate service accounts: %w", err)
	}

	return accounts, nil
}

// Delete deletes a service account
func (r *ServiceAccountRepository) Delete(ctx context.Context, accessKeyID string) error {
	query := `DELETE FROM service_accounts WHERE access_key_id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, accessKeyID)
	if err != nil {
		return fmt.Errorf("failed to delete service account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return notFoundErr("service account", accessKeyID)
	}

	r.logger.Debug("service account deleted", zap.String("access_key_id", accessKeyID))
	return nil
}
