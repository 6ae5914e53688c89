package users

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
	"github.com/wolfeidau/platform-gateway/internal/identity"
	"github.com/wolfeidau/platform-gateway/internal/rpc"
	"github.com/wolfeidau/platform-gateway/internal/validation"
)

// Service runs user lifecycle operations. Steps within an operation run in
// order; a failure on the platform side after the identity provider was
// changed triggers a best-effort undo of the identity change.
type Service struct {
	platform rpc.Caller
	identity IdentityProvider
}

func NewService(platform rpc.Caller, idp IdentityProvider) *Service {
	return &Service{platform: platform, identity: idp}
}

// Create validates the user with the platform, creates the identity user and
// then the platform user. If the platform create fails the identity user is
// deleted again.
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*CreateResult, error) {
	op := newOperation(ctx, "create", "")

	if err := validation.Struct(req); err != nil {
		return nil, op.finish(ctx, err)
	}

	username := req.Username
	if username == "" {
		username = req.Email
	}
	username = identity.NormalizeUsername(username)

	candidate := createPlatformUser{
		Email:          req.Email,
		Username:       username,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		RoleID:         req.RoleID,
		OrganisationID: req.OrganisationID,
		Status:         req.Status,
	}

	op.advance(PhaseValidating)
	var verdict validationResult
	if err := s.platform.Call(ctx, command.ValidatePlatformUser, candidate, &verdict); err != nil {
		return nil, op.finish(ctx, err)
	}
	if !verdict.Valid {
		msg := verdict.Message
		if msg == "" {
			msg = "user is not valid"
		}
		op.logger.Info().Str("reason", msg).Msg("User rejected by platform validation")
		return nil, op.finish(ctx, apperror.Validation(msg, nil))
	}

	idUser, err := s.identity.CreateUser(ctx, identity.CreateUserInput{
		Email:          req.Email,
		Username:       username,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Password:       req.Password,
		RoleID:         req.RoleID,
		OrganisationID: req.OrganisationID,
	})
	if err != nil {
		return nil, op.finish(ctx, err)
	}
	op.with("external_id", idUser.UserID)
	op.advance(PhaseIdentityDone)

	candidate.ExternalID = idUser.UserID

	var user *PlatformUser
	err = s.platform.Call(ctx, command.CreatePlatformUser, candidate, &user)
	if err == nil {
		op.advance(PhaseInternalDone)
		op.logger.Info().Msg("User created")
		return &CreateResult{User: user, Identity: idUser}, op.finish(ctx, nil)
	}

	op.advance(PhaseRollingBack)
	op.logger.Warn().Err(err).Msg("Platform user create failed, deleting identity user")

	// The rollback must complete even if the caller has gone away.
	compErr := s.identity.DeleteUser(context.WithoutCancel(ctx), idUser.UserID)
	op.compensated(ctx, compErr)
	if compErr != nil {
		op.logger.Error().
			Err(compErr).
			AnErr("original_error", err).
			Msg("Failed to delete identity user after platform create failed, manual reconciliation required")
		return nil, op.finish(ctx, apperror.Compensation("create-user", err, compErr))
	}

	return nil, op.finish(ctx, err)
}

// Update patches the identity user then the platform user. If the platform
// update fails the identity fields are restored from the snapshot taken
// before the patch; the platform error is returned either way.
func (s *Service) Update(ctx context.Context, userID string, req UpdateUserRequest) (*PlatformUser, error) {
	op := newOperation(ctx, "update", userID)

	op.advance(PhaseValidating)
	if err := validation.Struct(req); err != nil {
		return nil, op.finish(ctx, err)
	}

	current, err := s.lookup(ctx, userID)
	if err != nil {
		return nil, op.finish(ctx, err)
	}

	var snapshot *identity.User
	if current.ExternalID != "" {
		op.with("external_id", current.ExternalID)

		snapshot, err = s.identity.GetUser(ctx, current.ExternalID)
		if err != nil {
			if apperror.IsStatus(err, http.StatusNotFound) {
				err = apperror.NotFound(fmt.Sprintf("identity user %s not found", current.ExternalID))
			}
			return nil, op.finish(ctx, err)
		}

		if _, err := s.identity.UpdateUser(ctx, current.ExternalID, identityPatch(current, req)); err != nil {
			return nil, op.finish(ctx, err)
		}
		op.advance(PhaseIdentityDone)
	}

	var updated *PlatformUser
	err = s.platform.Call(ctx, command.UpdatePlatformUser, updatePlatformUser{ID: userID, UpdateUserRequest: req}, &updated)
	if err == nil {
		op.advance(PhaseInternalDone)
		op.logger.Info().Msg("User updated")
		return updated, op.finish(ctx, nil)
	}

	if snapshot == nil {
		return nil, op.finish(ctx, err)
	}

	op.advance(PhaseRollingBack)
	op.logger.Warn().Err(err).Msg("Platform user update failed, reverting identity user")

	_, compErr := s.identity.UpdateUser(context.WithoutCancel(ctx), current.ExternalID, revertPatch(snapshot))
	op.compensated(ctx, compErr)
	if compErr != nil {
		op.logger.Error().
			Err(compErr).
			AnErr("original_error", err).
			Msg("Failed to revert identity user after platform update failed, manual reconciliation required")
	}

	return nil, op.finish(ctx, err)
}

// Delete removes the identity user then the platform user. A platform failure
// after the identity delete is not compensated and leaves an orphaned
// platform record.
func (s *Service) Delete(ctx context.Context, userID string) error {
	op := newOperation(ctx, "delete", userID)

	current, err := s.lookup(ctx, userID)
	if err != nil {
		return op.finish(ctx, err)
	}

	if current.ExternalID != "" {
		op.with("external_id", current.ExternalID)

		err := s.identity.DeleteUser(ctx, current.ExternalID)
		switch {
		case apperror.IsStatus(err, http.StatusNotFound):
			op.logger.Warn().Msg("Identity user already absent")
		case err != nil:
			return op.finish(ctx, err)
		}
		op.advance(PhaseIdentityDone)
	}

	if err := s.platform.Call(ctx, command.DeletePlatformUser, userRef{ID: userID}, nil); err != nil {
		op.logger.Error().Err(err).Msg("Platform user delete failed after identity user was deleted, platform record is orphaned")
		return op.finish(ctx, err)
	}

	op.advance(PhaseInternalDone)
	op.logger.Info().Msg("User deleted")
	return op.finish(ctx, nil)
}

// ResetPassword starts the identity provider's reset e-mail flow for the
// user's address.
func (s *Service) ResetPassword(ctx context.Context, userID string) error {
	op := newOperation(ctx, "reset_password", userID)

	current, err := s.lookup(ctx, userID)
	if err != nil {
		return op.finish(ctx, err)
	}

	return op.finish(ctx, s.identity.ResetPassword(ctx, current.Email))
}

// ChangePassword sets the user's identity provider password.
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	op := newOperation(ctx, "change_password", userID)

	if err := validation.Struct(req); err != nil {
		return op.finish(ctx, err)
	}

	current, err := s.lookup(ctx, userID)
	if err != nil {
		return op.finish(ctx, err)
	}
	if current.ExternalID == "" {
		return op.finish(ctx, apperror.NotFound(fmt.Sprintf("user %s has no identity account", userID)))
	}

	return op.finish(ctx, s.identity.ChangePassword(ctx, current.ExternalID, req.Password))
}

// ListIdentityUsers returns every identity provider user.
func (s *Service) ListIdentityUsers(ctx context.Context) ([]identity.User, error) {
	return s.identity.ListUsers(ctx)
}

func (s *Service) lookup(ctx context.Context, userID string) (*PlatformUser, error) {
	user, err := rpc.Invoke[*PlatformUser](ctx, s.platform, command.GetPlatformUser, userRef{ID: userID})
	if err != nil {
		if apperror.IsStatus(err, http.StatusNotFound) {
			return nil, apperror.NotFound(fmt.Sprintf("user %s not found", userID))
		}
		return nil, err
	}
	if user == nil || user.ID == "" {
		return nil, apperror.NotFound(fmt.Sprintf("user %s not found", userID))
	}
	return user, nil
}

// identityPatch maps the changed fields onto the identity record.
func identityPatch(current *PlatformUser, req UpdateUserRequest) identity.UserPatch {
	var patch identity.UserPatch

	first, last := current.FirstName, current.LastName
	if req.FirstName != nil {
		first = *req.FirstName
		patch.GivenName = req.FirstName
	}
	if req.LastName != nil {
		last = *req.LastName
		patch.FamilyName = req.LastName
	}
	if req.FirstName != nil || req.LastName != nil {
		name := first + " " + last
		patch.Name = &name
	}

	md := map[string]any{}
	if req.RoleID != nil {
		md["roleId"] = *req.RoleID
	}
	if req.OrganisationID != nil {
		md["organisationId"] = *req.OrganisationID
	}
	if len(md) > 0 {
		patch.AppMetadata = md
	}

	return patch
}

// revertPatch restores the mutable fields captured in snapshot. Metadata keys
// absent from the snapshot are sent as null so the provider removes them.
func revertPatch(snapshot *identity.User) identity.UserPatch {
	given, family, name := snapshot.GivenName, snapshot.FamilyName, snapshot.Name

	md := map[string]any{"roleId": nil, "organisationId": nil}
	for key := range md {
		if v, ok := snapshot.AppMetadata[key]; ok {
			md[key] = v
		}
	}

	return identity.UserPatch{
		GivenName:   &given,
		FamilyName:  &family,
		Name:        &name,
		AppMetadata: md,
	}
}
