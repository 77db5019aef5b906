package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"planboard/api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	resets     map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(_ context.Context, token string) error {
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

func (m *mockUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func signUpVerified(t *testing.T, svc *Service, mockStore *mockUserStore, email, password string) string {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: email, Password: password, FullName: "Test User",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	return resp.UserID
}

func TestSignUpAndSignIn(t *testing.T) {
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	ctx := context.Background()

	signUpVerified(t, svc, mockStore, "test@example.com", "password123")

	resp, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if resp.RequiresVerify {
		t.Fatal("verified user should not require verification")
	}
	if resp.User.FullName != "Test User" {
		t.Errorf("fullName = %q", resp.User.FullName)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "dup@example.com", Password: "password123", FullName: "A"}); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "dup@example.com", Password: "password123", FullName: "B"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(context.Background(), SignUpRequest{Email: "x@example.com", Password: "short", FullName: "X"}); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	ctx := context.Background()

	signUpVerified(t, svc, mockStore, "who@example.com", "password123")

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "who@example.com", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSignInUnverifiedRequiresVerify(t *testing.T) {
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "new@example.com", Password: "password123", FullName: "New"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	resp, err := svc.SignIn(ctx, SignInRequest{Email: "new@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !resp.RequiresVerify {
		t.Fatal("expected RequiresVerify for unverified account")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	mockStore := newMockUserStore()
	svc := NewService(mockStore)
	ctx := context.Background()

	signUpVerified(t, svc, mockStore, "reset@example.com", "password123")

	token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword1"}); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "newpassword1"}); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}

	// Token is single-use.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "anotherpass1"}); err == nil {
		t.Fatal("expected error reusing reset token")
	}
}

func TestRequestResetUnknownEmailIsSilent(t *testing.T) {
	svc := NewService(newMockUserStore())

	token, err := svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if token != "" {
		t.Fatal("expected empty token for unknown email")
	}
}
