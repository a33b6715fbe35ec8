package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ezsop/api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, exists := m.emailIndex[user.Email]; exists {
		return store.ErrEmailTaken
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByResetToken(ctx context.Context, token string) (store.User, error) {
	for _, user := range m.users {
		if user.ResetToken == token && user.ResetExpiresAt != nil && time.Now().Before(*user.ResetExpiresAt) {
			return user, nil
		}
	}
	return store.User{}, errors.New("invalid or expired token")
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			m.users[id] = user
			return nil
		}
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.ResetToken = token
	user.ResetExpiresAt = &expiresAt
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	user.ResetToken = ""
	user.ResetExpiresAt = nil
	m.users[userID] = user
	return nil
}

func TestSignUpCreatesAdminAccount(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	result, err := svc.SignUp(ctx, "Owner@Example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if result.User.Email != "owner@example.com" {
		t.Fatalf("expected lowercased email, got %q", result.User.Email)
	}
	if result.User.Role != DefaultRole {
		t.Fatalf("expected role %q, got %q", DefaultRole, result.User.Role)
	}
	if result.User.OrgID != nil {
		t.Fatalf("expected no org on signup, got %v", *result.User.OrgID)
	}
	if result.VerificationToken == "" {
		t.Fatal("expected a verification token")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(result.User.PasswordHash), []byte("password123")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(ctx, "owner@example.com", "password123"); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	_, err := svc.SignUp(ctx, "owner@example.com", "different-pass")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	_, err := svc.SignUp(context.Background(), "owner@example.com", "short")
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignInChecksPasswordBeforeVerifyState(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(ctx, "owner@example.com", "password123"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	_, err := svc.SignIn(ctx, "owner@example.com", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}

	result, err := svc.SignIn(ctx, "owner@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !result.RequiresVerify {
		t.Fatal("expected RequiresVerify before email verification")
	}
}

func TestVerifyEmailThenSignIn(t *testing.T) {
	ctx := context.Background()
	mock := newMockUserStore()
	svc := NewService(mock)

	signup, err := svc.SignUp(ctx, "owner@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, signup.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, signup.VerificationToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token to be single-use, got %v", err)
	}

	result, err := svc.SignIn(ctx, "owner@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if result.RequiresVerify {
		t.Fatal("expected verified account")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	mock := newMockUserStore()
	svc := NewService(mock)

	if _, err := svc.SignUp(ctx, "owner@example.com", "password123"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	// Unknown emails do not reveal themselves.
	token, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil || token != "" {
		t.Fatalf("expected silent no-op for unknown email, got token=%q err=%v", token, err)
	}

	token, err = svc.RequestPasswordReset(ctx, "owner@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(ctx, token, "new-password-1"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if err := svc.ResetPassword(ctx, token, "new-password-2"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reset token to be single-use, got %v", err)
	}

	if _, err := svc.SignIn(ctx, "owner@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "owner@example.com", "new-password-1"); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
}
