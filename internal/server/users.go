package server

import (
	"context"
	"net/http"

	"github.com/wolfeidau/platform-gateway/internal/identity"
	"github.com/wolfeidau/platform-gateway/internal/users"
)

// UserService runs user lifecycle operations.
type UserService interface {
	Create(ctx context.Context, req users.CreateUserRequest) (*users.CreateResult, error)
	Update(ctx context.Context, userID string, req users.UpdateUserRequest) (*users.PlatformUser, error)
	Delete(ctx context.Context, userID string) error
	ResetPassword(ctx context.Context, userID string) error
	ChangePassword(ctx context.Context, userID string, req users.ChangePasswordRequest) error
	ListIdentityUsers(ctx context.Context) ([]identity.User, error)
}

var _ UserService = (*users.Service)(nil)

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserRequest
	if err := decodeJSON(r, s.cfg.MaxBodyBytes, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := s.users.Create(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteData(w, http.StatusCreated, res)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req users.UpdateUserRequest
	if err := decodeJSON(r, s.cfg.MaxBodyBytes, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, err := s.users.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteData(w, http.StatusOK, user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteData(w, http.StatusOK, nil)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	if err := s.users.ResetPassword(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteData(w, http.StatusOK, nil)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req users.ChangePasswordRequest
	if err := decodeJSON(r, s.cfg.MaxBodyBytes, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := s.users.ChangePassword(r.Context(), r.PathValue("id"), req); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteData(w, http.StatusOK, nil)
}

func (s *Server) listIdentityUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.ListIdentityUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []identity.User{}
	}

	WriteData(w, http.StatusOK, list)
}
