package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/store"
)

var (
	// ErrAccountExists is returned when registering a taken username.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidUsername is returned when a username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when a password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrNotOperator is returned when a valid token lacks the operator role.
	ErrNotOperator = errors.New("token is not an operator token")
)

// Service is the local identity provider: bots log in against locally stored
// accounts and receive a signed token for the real-time transport.
type Service struct {
	store     store.AccountStore
	jwtConfig *JWTConfig
}

var _ core.Authenticator = (*Service)(nil)

// NewService creates a new identity provider.
func NewService(accounts store.AccountStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     accounts,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new account with a hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*store.Account, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	if existing, err := s.store.GetAccountByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrAccountExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	acc, err := s.store.CreateAccount(ctx, username, hashedPassword)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acc, nil
}

// Authenticate implements core.Authenticator. The password is only used for
// the comparison and never kept.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*core.Account, error) {
	acc, err := s.store.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.ErrAuthFailed
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if errPwd := ComparePassword(acc.PasswordHash, password); errPwd != nil {
		return nil, core.ErrAuthFailed
	}

	token, err := GenerateToken(s.jwtConfig, acc.ID, acc.Username, RoleBot)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &core.Account{
		ID:       strconv.FormatInt(acc.ID, 10),
		Username: acc.Username,
		Token:    token,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// AccountIDFromToken returns the account id a bot token was issued to.
func (s *Service) AccountIDFromToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Role != RoleBot {
		return "", fmt.Errorf("token role %q cannot open a real-time connection", claims.Role)
	}
	return strconv.FormatInt(claims.AccountID, 10), nil
}

// IssueOperatorToken signs a token for the control API.
func (s *Service) IssueOperatorToken(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidUsername
	}
	return GenerateToken(s.jwtConfig, 0, name, RoleOperator)
}

// ValidateOperatorToken checks a control API token.
func (s *Service) ValidateOperatorToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleOperator {
		return nil, ErrNotOperator
	}
	return claims, nil
}
