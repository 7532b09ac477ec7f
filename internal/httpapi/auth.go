package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/service"
	"salesdesk/backend/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 6

// AuthManager owns credentials: password hashing, login and token issuance.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	logger   *zap.Logger
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, id string, passwordHash string) error
	CountActiveAdmins(ctx context.Context) (int, error)
}

type salesClaims struct {
	jwtlib.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore, logger *zap.Logger) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		logger:   logger.Named("auth"),
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.TrimSpace(req.Email)
	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, domain.Storage("get user", err)
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, domain.Forbidden("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      *user,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &salesClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: sub, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := salesClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "salesdesk",
		},
		Role:  user.Role,
		Email: user.Email,
		Name:  user.Name,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Register creates a self-service account. The first account created while no
// active administrator exists becomes an admin.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	details := validateCredentials(req.Email, req.Password)
	if strings.TrimSpace(req.Name) == "" {
		details["name"] = "required"
	}
	if len(details) > 0 {
		return domain.User{}, domain.FieldErrors(details)
	}

	admins, err := a.users.CountActiveAdmins(ctx)
	if err != nil {
		return domain.User{}, domain.Storage("count admins", err)
	}
	role := domain.RoleUser
	if admins == 0 {
		role = domain.RoleAdmin
	}

	user, err := a.createUser(ctx, domain.UserCreateRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     role,
	})
	if err != nil {
		return domain.User{}, err
	}
	a.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return user, nil
}

// CreateUser is the admin path for adding accounts with an explicit role.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, ok := service.ActorFromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return domain.User{}, domain.Forbidden("admin role required")
	}
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		req.Role = domain.RoleUser
	}

	details := validateCredentials(req.Email, req.Password)
	if strings.TrimSpace(req.Name) == "" {
		details["name"] = "required"
	}
	if !domain.IsKnownRole(req.Role) {
		details["role"] = "must be super, admin or user"
	}
	if req.Commission != nil && req.Commission.IsNegative() {
		details["commission"] = "must not be negative"
	}
	if len(details) > 0 {
		return domain.User{}, domain.FieldErrors(details)
	}
	if req.Role == domain.RoleSuper && actor.Role != domain.RoleSuper {
		return domain.User{}, domain.Forbidden("only a super user may grant the super role")
	}

	user, err := a.createUser(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	a.logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("role", user.Role),
		zap.String("actor_id", actor.UserID),
	)
	return user, nil
}

func (a *AuthManager) createUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, errors.New("failed to hash password")
	}

	now := time.Now().UTC()
	user := domain.User{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(req.Name),
		Active:       true,
		Role:         req.Role,
		ImageURL:     strings.TrimSpace(req.ImageURL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Commission != nil {
		user.Commission = *req.Commission
	}

	created, err := a.users.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.User{}, domain.Conflict("email %s is already registered", user.Email)
	}
	if err != nil {
		return domain.User{}, domain.Storage("create user", err)
	}
	return *created, nil
}

func (a *AuthManager) ChangePassword(ctx context.Context, req domain.ChangePasswordRequest) error {
	actor, ok := service.ActorFromContext(ctx)
	if !ok {
		return domain.Forbidden("authenticated user required")
	}
	if len(req.NewPassword) < minPasswordLength {
		return domain.FieldErrors(map[string]string{"newPassword": "must be at least 6 characters"})
	}

	user, err := a.users.GetUser(ctx, actor.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("user", actor.UserID)
	}
	if err != nil {
		return domain.Storage("get user", err)
	}
	if !verifyPassword(user.PasswordHash, req.CurrentPassword) {
		return domain.FieldErrors(map[string]string{"currentPassword": "incorrect"})
	}

	passwordHash, err := hashPassword(req.NewPassword)
	if err != nil {
		return errors.New("failed to hash password")
	}
	if err := a.users.UpdateUserPassword(ctx, user.ID, passwordHash); err != nil {
		return domain.Storage("update password", err)
	}
	a.logger.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

func validateCredentials(email string, password string) map[string]string {
	details := make(map[string]string)
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		details["email"] = "invalid"
	}
	if len(password) < minPasswordLength {
		details["password"] = "must be at least 6 characters"
	}
	return details
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
