package repositories

import (
	"context"
	"errors"

	"github.com/tinyauth/tinyauth/models"
)

// ErrNotFound is returned when a requested row does not exist. Callers that
// need the distinction (session resolution, management handlers) test for it
// with errors.Is.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a unique constraint rejects a create.
var ErrAlreadyExists = errors.New("already exists")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// List retrieves all users
	List(ctx context.Context) ([]*models.User, error)

	// SetPassword stores a new credential hash for the user
	SetPassword(ctx context.Context, username, passwordHash string) error

	// Delete deletes a user and its attachments
	Delete(ctx context.Context, username string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) UserRepository
}

// ServiceAccountRepository handles machine-principal data operations
type ServiceAccountRepository interface {
	// Create creates a new service account
	Create(ctx context.Context, account *models.ServiceAccount) error

	// GetByAccessKey retrieves a service account by its access key ID
	GetByAccessKey(ctx context.Context, accessKeyID string) (*models.ServiceAccount, error)

	// List retrieves all service accounts
	List(ctx context.Context) ([]*models.ServiceAccount, error)

	// Delete deletes a service account
	Delete(ctx context.Context, accessKeyID string) error
}

// GroupRepository handles group membership operations
type GroupRepository interface {
	// Create creates a new group
	Create(ctx context.Context, group *models.Group) error

	// GetByName retrieves a group by name
	GetByName(ctx context.Context, name string) (*models.Group, error)

	// List retrieves all groups
	List(ctx context.Context) ([]*models.Group, error)

	// AddUser adds a user to a group
	AddUser(ctx context.Context, groupName, username string) error

	// RemoveUser removes a user from a group
	RemoveUser(ctx context.Context, groupName, username string) error

	// GroupsForUser retrieves the groups a user belongs to
	GroupsForUser(ctx context.Context, username string) ([]*models.Group, error)

	// Delete deletes a group and its memberships
	Delete(ctx context.Context, name string) error
}

// PolicyRepository handles policy storage and attachment operations
type PolicyRepository interface {
	// Create creates a new policy
	Create(ctx context.Context, policy *models.Policy) error

	// GetByName retrieves a policy by name
	GetByName(ctx context.Context, name string) (*models.Policy, error)

	// List retrieves all policies
	List(ctx context.Context) ([]*models.Policy, error)

	// Update replaces a policy document
	Update(ctx context.Context, policy *models.Policy) error

	// Delete deletes a policy and its attachments
	Delete(ctx context.Context, name string) error

	// AttachToUser attaches a policy to a user
	AttachToUser(ctx context.Context, policyName, username string) error

	// DetachFromUser detaches a policy from a user
	DetachFromUser(ctx context.Context, policyName, username string) error

	// AttachToGroup attaches a policy to a group
	AttachToGroup(ctx context.Context, policyName, groupName string) error

	// DetachFromGroup detaches a policy from a group
	DetachFromGroup(ctx context.Context, policyName, groupName string) error

	// AttachToServiceAccount attaches a policy to a service account
	AttachToServiceAccount(ctx context.Context, policyName, accountName string) error

	// DocumentsForUser retrieves the parsed policy documents attached to a
	// user directly or through any of the user's groups
	DocumentsForUser(ctx context.Context, username string) ([]models.PolicyDocument, error)

	// DocumentsForServiceAccount retrieves the parsed policy documents
	// attached to a service account
	DocumentsForServiceAccount(ctx context.Context, accountName string) ([]models.PolicyDocument, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) PolicyRepository
}

// Repositories bundles all repository instances
type Repositories struct {
	Users           UserRepository
	ServiceAccounts ServiceAccountRepository
	Groups          GroupRepository
	Policies        PolicyRepository
	AuditLogs       AuditLogRepository
}

// AuditLogRepository handles audit log persistence
type AuditLogRepository interface {
	// Create persists a single audit entry
	Create(ctx context.Context, log *models.AuditLog) error

	// List retrieves audit entries newest first
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}
