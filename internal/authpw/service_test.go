package authpw

import (
	"context"
	"errors"
	"testing"

	"brainvector/api/internal/store"
)

type fakeUserStore struct {
	byEmail map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: make(map[string]store.User)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, name, email, passwordHash string) (store.User, error) {
	if _, exists := f.byEmail[email]; exists {
		return store.User{}, store.ErrDuplicateEmail
	}
	user := store.User{ID: "usr_" + name, Name: name, Email: email, PasswordHash: passwordHash, Role: "User"}
	f.byEmail[email] = user
	return user, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.Register(ctx, "Avery", "Avery@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Email != "avery@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}

	logged, err := svc.Login(ctx, "avery@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if logged.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, logged.ID)
	}
	if logged.PasswordHash != "" {
		t.Fatal("password hash must not be returned from Login")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Avery", "avery@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := svc.Register(ctx, "Imposter", "avery@example.com", "hunter2hunter2")
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.Register(context.Background(), "Avery", "avery@example.com", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestLoginFailsUniformly(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Avery", "avery@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, wrongPassword := svc.Login(ctx, "avery@example.com", "wrong-password")
	_, unknownEmail := svc.Login(ctx, "nobody@example.com", "hunter2hunter2")
	if !errors.Is(wrongPassword, ErrInvalidCredentials) || !errors.Is(unknownEmail, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", wrongPassword, unknownEmail)
	}
}
