// Package users coordinates user lifecycle changes across the identity
// provider and the platform service.
package users

import (
	"context"

	"github.com/wolfeidau/platform-gateway/internal/identity"
)

// IdentityProvider is the subset of the identity client the orchestrator
// needs.
type IdentityProvider interface {
	CreateUser(ctx context.Context, in identity.CreateUserInput) (*identity.User, error)
	GetUser(ctx context.Context, userID string) (*identity.User, error)
	UpdateUser(ctx context.Context, userID string, patch identity.UserPatch) (*identity.User, error)
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context) ([]identity.User, error)
	ResetPassword(ctx context.Context, email string) error
	ChangePassword(ctx context.Context, userID, password string) error
}

// PlatformUser is the platform service's user record. ExternalID is the
// identity provider's user_id.
type PlatformUser struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Username       string `json:"username,omitempty"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	RoleID         string `json:"roleId,omitempty"`
	OrganisationID string `json:"organisationId,omitempty"`
	Status         string `json:"status,omitempty"`
	ExternalID     string `json:"externalId,omitempty"`
}

// CreateUserRequest is the body of POST /api/users.
type CreateUserRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Username       string `json:"username,omitempty"`
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	Password       string `json:"password,omitempty" validate:"omitempty,min=8"`
	RoleID         string `json:"roleId" validate:"required"`
	OrganisationID string `json:"organisationId,omitempty"`
	Status         string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// UpdateUserRequest is the body of PATCH /api/users/{id}. Nil fields are left
// unchanged.
type UpdateUserRequest struct {
	FirstName      *string `json:"firstName,omitempty" validate:"omitempty,min=1"`
	LastName       *string `json:"lastName,omitempty" validate:"omitempty,min=1"`
	RoleID         *string `json:"roleId,omitempty" validate:"omitempty,min=1"`
	OrganisationID *string `json:"organisationId,omitempty"`
	Status         *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// ChangePasswordRequest is the body of POST /api/users/{id}/change-password.
type ChangePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

// CreateResult is returned by a successful create.
type CreateResult struct {
	User     *PlatformUser  `json:"user"`
	Identity *identity.User `json:"identity"`
}

type validationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// createPlatformUser is the create-platform-user payload. The password is
// never forwarded.
type createPlatformUser struct {
	Email          string `json:"email"`
	Username       string `json:"username"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	RoleID         string `json:"roleId"`
	OrganisationID string `json:"organisationId,omitempty"`
	Status         string `json:"status,omitempty"`
	ExternalID     string `json:"externalId,omitempty"`
}

type updatePlatformUser struct {
	ID string `json:"id"`
	UpdateUserRequest
}

type userRef struct {
	ID string `json:"id"`
}
