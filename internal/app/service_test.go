package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"brainvector/api/internal/cache"
	"brainvector/api/internal/config"
)

func newCachedService(t *testing.T, fs *fakeStore) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		SendBuffer: 16,
	}
	return New(cfg, fs, fs, redisCache), mr
}

func TestUserByIDReadsThroughCache(t *testing.T) {
	fs := newFakeStore()
	svc, mr := newCachedService(t, fs)
	ctx := context.Background()

	user, _, err := svc.Register(ctx, "Avery", "avery@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.UserByID(ctx, user.ID); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if !mr.Exists("user_by_id:" + user.ID) {
		t.Fatalf("expected user to be cached after read")
	}

	// Mutate the store behind the cache; the cached copy wins until the
	// entry is invalidated.
	fs.mu.Lock()
	stale := fs.users[user.ID]
	stale.Name = "Renamed"
	fs.users[user.ID] = stale
	fs.mu.Unlock()

	cached, err := svc.UserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if cached.Name != "Avery" {
		t.Fatalf("expected cached name Avery, got %s", cached.Name)
	}
}

func TestCachedUserNeverHoldsPasswordHash(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newCachedService(t, fs)
	ctx := context.Background()

	user, _, err := svc.Register(ctx, "Avery", "avery@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	fetched, err := svc.UserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if fetched.PasswordHash != "" {
		t.Fatalf("password hash leaked into cached user")
	}
}

func TestInviteInvalidatesWorkspaceListCache(t *testing.T) {
	fs := newFakeStore()
	svc, mr := newCachedService(t, fs)
	ctx := context.Background()

	owner, _, err := svc.Register(ctx, "Avery", "avery@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("register owner: %v", err)
	}
	invitee, _, err := svc.Register(ctx, "Blair", "blair@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("register invitee: %v", err)
	}

	workspace, err := svc.CreateWorkspace(ctx, owner.ID, "Research")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	// Warm the invitee's workspace-list cache with the empty result.
	before, err := svc.ListWorkspaces(ctx, invitee.ID)
	if err != nil {
		t.Fatalf("list before invite: %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("expected no workspaces before invite, got %d", len(before))
	}
	if !mr.Exists("user_workspaces:" + invitee.ID) {
		t.Fatalf("expected workspace list to be cached")
	}

	if _, err := svc.InviteUser(ctx, owner.ID, workspace.ID, invitee.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if mr.Exists("user_workspaces:" + invitee.ID) {
		t.Fatalf("expected invite to invalidate the invitee's workspace list")
	}

	after, err := svc.ListWorkspaces(ctx, invitee.ID)
	if err != nil {
		t.Fatalf("list after invite: %v", err)
	}
	if len(after) != 1 || after[0].ID != workspace.ID {
		t.Fatalf("expected workspace %s after invite, got %+v", workspace.ID, after)
	}
}

func TestServiceWorksWithoutCache(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "Avery", "avery@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatalf("expected session token")
	}
	if _, err := svc.UserByID(ctx, user.ID); err != nil {
		t.Fatalf("read without cache: %v", err)
	}
}
