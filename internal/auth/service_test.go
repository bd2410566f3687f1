package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ab", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}

	// Should be validated after trimming whitespace.
	if _, err := svc.Register(ctx, " ab ", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)
	if _, err := svc.Register(context.Background(), "Bot_Alpha", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Bot_Alpha", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "Bot_Alpha", "password123"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "Bot_Alpha", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "Bot_Alpha", "wrong-password"); !errors.Is(err, core.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "password123"); !errors.Is(err, core.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for unknown user, got %v", err)
	}

	account, err := svc.Authenticate(ctx, "Bot_Alpha", "password123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if account.Username != "Bot_Alpha" || account.Token == "" {
		t.Fatalf("unexpected account %+v", account)
	}

	id, err := svc.AccountIDFromToken(account.Token)
	if err != nil {
		t.Fatalf("token should validate: %v", err)
	}
	if id != account.ID || id == "0" {
		t.Fatalf("expected account id %s (store id %d), got %s", account.ID, acc.ID, id)
	}
}

func TestOperatorTokens(t *testing.T) {
	svc := newTestAuthService(t)

	token, err := svc.IssueOperatorToken("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.ValidateOperatorToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "ops" || claims.Role != RoleOperator {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := svc.AccountIDFromToken(token); err == nil {
		t.Fatalf("operator token must not open real-time connections")
	}

	botToken, err := GenerateToken(svc.jwtConfig, 7, "bot", RoleBot)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateOperatorToken(botToken); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
}

func TestValidateToken_RejectsWrongSecretAndAudience(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("a"), Issuer: "x", Audience: "y", TTL: time.Hour}
	token, err := GenerateToken(cfg, 1, "bot", RoleBot)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := ValidateToken(&JWTConfig{Secret: []byte("b")}, token); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := ValidateToken(&JWTConfig{Secret: []byte("a"), Audience: "other"}, token); err == nil {
		t.Fatalf("expected audience failure")
	}
	if _, err := ValidateToken(&JWTConfig{Secret: []byte("a"), Issuer: "other"}, token); err == nil {
		t.Fatalf("expected issuer failure")
	}

	expired := &JWTConfig{Secret: []byte("a"), TTL: -time.Minute}
	old, _ := GenerateToken(expired, 1, "bot", RoleBot)
	if _, err := ValidateToken(expired, old); err == nil {
		t.Fatalf("expected expiry failure")
	}
}
