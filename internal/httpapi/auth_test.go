package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/service"
	"salesdesk/backend/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAuth(t *testing.T, users UserStore) *AuthManager {
	t.Helper()
	return NewAuthManager(testSecret, time.Hour, users, zaptest.NewLogger(t))
}

func asActor(userID, role string) context.Context {
	return service.WithActor(context.Background(), domain.Actor{UserID: userID, Role: role})
}

func TestLoginIssuesTokenCarryingActor(t *testing.T) {
	auth := newTestAuth(t, memory.NewSeeded(nil))

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Email: " ADMIN@salesdesk.local ", Password: "admin123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, memory.SeedAdminID, resp.User.ID)

	actor, err := auth.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: memory.SeedAdminID, Email: "admin@salesdesk.local", Role: domain.RoleAdmin}, actor)
}

func TestLoginRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	repo := memory.NewSeeded(nil)
	auth := newTestAuth(t, repo)
	ctx := context.Background()

	_, err := auth.Login(ctx, domain.LoginRequest{Email: "admin@salesdesk.local", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, domain.LoginRequest{Email: "ghost@salesdesk.local", Password: "admin123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	seller, err := repo.GetUser(ctx, memory.SeedSellerID)
	require.NoError(t, err)
	seller.Active = false
	_, err = repo.UpdateUser(ctx, *seller)
	require.NoError(t, err)

	_, err = auth.Login(ctx, domain.LoginRequest{Email: "seller@salesdesk.local", Password: "seller123"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	repo := memory.NewSeeded(nil)
	auth := newTestAuth(t, repo)
	other := NewAuthManager("ffffffffffffffffffffffffffffffff", time.Hour, repo, nil)

	user, err := repo.GetUser(context.Background(), memory.SeedSellerID)
	require.NoError(t, err)

	foreign, err := other.sign(*user, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign)
	assert.Error(t, err)

	expired, err := auth.sign(*user, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)

	_, err = auth.ParseToken("not-a-token")
	assert.Error(t, err)
}

func TestRegisterPromotesFirstAccount(t *testing.T) {
	auth := newTestAuth(t, memory.New())
	ctx := context.Background()

	first, err := auth.Register(ctx, domain.RegisterRequest{Email: "owner@shop.test", Password: "secret1", Name: "Owner"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, first.Role)
	assert.True(t, first.Active)
	assert.NotEmpty(t, first.ID)

	second, err := auth.Register(ctx, domain.RegisterRequest{Email: "clerk@shop.test", Password: "secret2", Name: "Clerk"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, second.Role)

	_, err = auth.Register(ctx, domain.RegisterRequest{Email: "OWNER@shop.test", Password: "secret3", Name: "Dup"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = auth.Register(ctx, domain.RegisterRequest{Email: "bad", Password: "123"})
	require.ErrorIs(t, err, domain.ErrValidation)
	details := domain.Details(err)
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")
	assert.Contains(t, details, "name")
}

func TestCreateUserRoles(t *testing.T) {
	repo := memory.NewSeeded(nil)
	auth := newTestAuth(t, repo)
	req := domain.UserCreateRequest{Email: "new@salesdesk.local", Password: "secret1", Name: "New"}

	_, err := auth.CreateUser(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = auth.CreateUser(asActor(memory.SeedSellerID, domain.RoleUser), req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	superReq := req
	superReq.Role = domain.RoleSuper
	_, err = auth.CreateUser(asActor(memory.SeedAdminID, domain.RoleAdmin), superReq)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	badRole := req
	badRole.Role = "owner"
	_, err = auth.CreateUser(asActor(memory.SeedAdminID, domain.RoleAdmin), badRole)
	assert.ErrorIs(t, err, domain.ErrValidation)

	rate := decimal.RequireFromString("2.5")
	req.Commission = &rate
	created, err := auth.CreateUser(asActor(memory.SeedAdminID, domain.RoleAdmin), req)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, created.Role)
	assert.True(t, created.Commission.Equal(rate))

	stored, err := repo.GetUser(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, isPasswordHash(stored.PasswordHash))
	assert.True(t, verifyPassword(stored.PasswordHash, "secret1"))
}

func TestChangePassword(t *testing.T) {
	repo := memory.NewSeeded(nil)
	auth := newTestAuth(t, repo)
	ctx := asActor(memory.SeedSellerID, domain.RoleUser)

	err := auth.ChangePassword(ctx, domain.ChangePasswordRequest{CurrentPassword: "nope", NewPassword: "brand-new"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = auth.ChangePassword(ctx, domain.ChangePasswordRequest{CurrentPassword: "seller123", NewPassword: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, auth.ChangePassword(ctx, domain.ChangePasswordRequest{CurrentPassword: "seller123", NewPassword: "brand-new"}))

	_, err = auth.Login(context.Background(), domain.LoginRequest{Email: "seller@salesdesk.local", Password: "seller123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(context.Background(), domain.LoginRequest{Email: "seller@salesdesk.local", Password: "brand-new"})
	assert.NoError(t, err)
}
