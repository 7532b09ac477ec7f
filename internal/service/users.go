package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"salesdesk/backend/internal/domain"
)

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, domain.Storage("list users", err)
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, lookupErr(err, "get user", "user", id)
	}
	return *user, nil
}

func (s *Service) Profile(ctx context.Context) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, actor.UserID)
}

func (s *Service) UpdateProfile(ctx context.Context, req domain.ProfileUpdateRequest) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.GetUser(ctx, actor.UserID)
	if err != nil {
		return domain.User{}, err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if req.ImageURL != nil {
		user.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	user.UpdatedAt = s.now()

	saved, err := s.repo.UpdateUser(ctx, user)
	if err != nil {
		return domain.User{}, lookupErr(err, "update profile", "user", user.ID)
	}
	return *saved, nil
}

// UpdateUser is the admin edit. Only a super user may grant the super role,
// and the last active administrator cannot be demoted or deactivated.
func (s *Service) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	existing, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	updated := existing
	details := make(map[string]string)
	if email := strings.TrimSpace(req.Email); email != "" {
		if !looksLikeEmail(email) {
			details["email"] = "invalid"
		}
		updated.Email = email
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		updated.Name = name
	}
	if role := strings.TrimSpace(req.Role); role != "" {
		switch {
		case !domain.IsKnownRole(role):
			details["role"] = "must be super, admin or user"
		case role == domain.RoleSuper && actor.Role != domain.RoleSuper:
			return domain.User{}, domain.Forbidden("only a super user may grant the super role")
		}
		updated.Role = role
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if req.Commission != nil {
		if req.Commission.IsNegative() {
			details["commission"] = "must not be negative"
		}
		updated.Commission = *req.Commission
	}
	if len(details) > 0 {
		return domain.User{}, domain.FieldErrors(details)
	}

	losesAdmin := existing.Active && domain.IsAdminRole(existing.Role) &&
		(!updated.Active || !domain.IsAdminRole(updated.Role))
	if losesAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return domain.User{}, err
		}
	}

	updated.UpdatedAt = s.now()
	saved, err := s.repo.UpdateUser(ctx, updated)
	if err != nil {
		return domain.User{}, lookupErr(err, "update user", "user", id)
	}

	s.logAudit(ctx, "user_update", "user", saved.ID,
		zap.String("old_role", existing.Role),
		zap.String("role", saved.Role),
		zap.Bool("active", saved.Active),
	)
	return *saved, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if actor.UserID == id {
		return domain.Conflict("users cannot delete themselves")
	}
	existing, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if existing.Active && domain.IsAdminRole(existing.Role) {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return lookupErr(err, "delete user", "user", id)
	}
	s.logAudit(ctx, "user_delete", "user", id, zap.String("role", existing.Role))
	return nil
}

func (s *Service) ensureAnotherAdmin(ctx context.Context) error {
	admins, err := s.repo.CountActiveAdmins(ctx)
	if err != nil {
		return domain.Storage("count admins", err)
	}
	if admins <= 1 {
		return domain.Conflict("at least one active admin must remain")
	}
	return nil
}

// RecoverPassword acknowledges a recovery request for a known address. No
// message is delivered.
func (s *Service) RecoverPassword(ctx context.Context, req domain.RecoverPasswordRequest) (string, error) {
	email := strings.TrimSpace(req.Email)
	if !looksLikeEmail(email) {
		return "", domain.FieldErrors(map[string]string{"email": "invalid"})
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", lookupErr(err, "get user", "user", email)
	}
	s.logger.Info("password recovery requested", zap.String("user_id", user.ID))
	return "password recovery requested for " + user.Email, nil
}

func looksLikeEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
