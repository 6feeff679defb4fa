package models

import (
	"fmt"
	"time"
)

// ARNPrefix is the partition prefix shared by every resource identifier
// handled by this service.
const ARNPrefix = "arn:tinyauth"

// FormatARN builds a colon-delimited resource identifier, e.g.
// FormatARN("services", "billing") -> "arn:tinyauth:services:billing".
func FormatARN(category, name string) string {
	return fmt.Sprintf("%s:%s:%s", ARNPrefix, category, name)
}

// Identity is the subject of a policy evaluation: either a human user
// resolved from a session token or a service account resolved from its
// access key. Resolved once per call and immutable thereafter.
type Identity interface {
	// ARN returns the identity's resource identifier.
	ARN() string

	// Subject returns the short name reported back to callers
	// (username for users, service name for service accounts).
	Subject() string
}

// User represents a human principal stored in the policy store.
// PasswordHash never leaves the credential-verification boundary.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// ARN returns the user's resource identifier.
func (u *User) ARN() string {
	return FormatARN("users", u.Username)
}

// Subject returns the username.
func (u *User) Subject() string {
	return u.Username
}

// HasCredential reports whether the user can authenticate with a password.
// Users provisioned without a secret (e.g. federated accounts) cannot log in.
func (u *User) HasCredential() bool {
	return u.PasswordHash != ""
}

// ServiceAccount represents a machine principal calling the service
// endpoints with access-key credentials.
type ServiceAccount struct {
	AccessKeyID string    `json:"access_key_id" db:"access_key_id"`
	Name        string    `json:"name" db:"name"`
	SecretHash  string    `json:"-" db:"secret_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ServiceAccount model
func (ServiceAccount) TableName() string {
	return "service_accounts"
}

// ARN returns the service's system identifier.
func (s *ServiceAccount) ARN() string {
	return FormatARN("services", s.Name)
}

// Subject returns the service name.
func (s *ServiceAccount) Subject() string {
	return s.Name
}

// Group represents a named collection of users sharing policy attachments.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Group model
func (Group) TableName() string {
	return "groups"
}
