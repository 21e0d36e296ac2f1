package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"bugtrail/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return redisStore, s
}

func testUser() store.User {
	return store.User{
		ID:    "usr-123",
		Email: "avery@example.com",
		Name:  store.Name{First: "Avery", Last: "Quinn"},
		Role:  "Developer",
	}
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer redisStore.Close()

	if err := redisStore.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	user := testUser()

	if err := redisStore.SaveRefreshSession(ctx, "token-hash", user, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	got, err := redisStore.LookupRefreshSession(ctx, "token-hash")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("expected user ID %s, got %s", user.ID, got.ID)
	}
	if got.DisplayName() != "Avery Quinn" {
		t.Errorf("expected display name to round-trip, got %q", got.DisplayName())
	}
	if got.Role != "Developer" {
		t.Errorf("expected role Developer, got %q", got.Role)
	}
}

func TestLookupMissingToken(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	if _, err := redisStore.LookupRefreshSession(context.Background(), "no-such-hash"); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	if err := redisStore.SaveRefreshSession(ctx, "token-hash", testUser(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := redisStore.RevokeRefreshSession(ctx, "token-hash"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := redisStore.LookupRefreshSession(ctx, "token-hash"); err == nil {
		t.Fatalf("expected revoked token to be gone")
	}
}

func TestRefreshSessionExpires(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	if err := redisStore.SaveRefreshSession(ctx, "token-hash", testUser(), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := redisStore.LookupRefreshSession(ctx, "token-hash"); err == nil {
		t.Fatalf("expected expired token to be gone")
	}
}
