package session

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/logger"
	"github.com/saiset-co/sai-web/types"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func TestMemoryStoreRoundTripIsolatesCopies(t *testing.T) {
	store, err := NewMemoryStore(context.Background(), testLogger(), &types.SessionConfig{CookieName: "sid"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	s := types.NewSession("abc", time.Hour)
	s.Set("user", "alice")

	if err := store.Save(ctx, s, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	s.Set("user", "mallory")

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := got.Get("user"); v != "alice" {
		t.Errorf("user = %v, want alice", v)
	}
	if got.IsNew() {
		t.Error("loaded session reported as new")
	}

	got.Set("user", "bob")
	again, _ := store.Get(ctx, "abc")
	if v, _ := again.Get("user"); v != "alice" {
		t.Errorf("store mutated through returned copy: %v", v)
	}

	if err := store.Destroy(ctx, "abc"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := store.Get(ctx, "abc"); !types.IsError(err, types.ErrSessionNotFound) {
		t.Errorf("get after destroy err = %v", err)
	}
}

func TestMemoryStoreExpiryAndSweep(t *testing.T) {
	store, err := NewMemoryStore(context.Background(), testLogger(), &types.SessionConfig{CookieName: "sid"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	_ = store.Save(ctx, types.NewSession("short", 0), time.Minute)
	_ = store.Save(ctx, types.NewSession("long", 0), time.Hour)
	_ = store.Save(ctx, types.NewSession("forever", 0), 0)

	now = now.Add(2 * time.Minute)

	if _, err := store.Get(ctx, "short"); !types.IsError(err, types.ErrSessionNotFound) {
		t.Errorf("expired session returned, err = %v", err)
	}

	_ = store.Save(ctx, types.NewSession("short2", 0), time.Second)
	now = now.Add(time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("swept %d, want 1", removed)
	}
	if store.Len() != 2 {
		t.Errorf("len = %d, want 2", store.Len())
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store, err := NewMemoryStore(context.Background(), testLogger(), &types.SessionConfig{
		CookieName:    "sid",
		SweepSchedule: "@every 1h",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !store.IsRunning() {
		t.Error("store not running after start")
	}
	if err := store.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if store.IsRunning() {
		t.Error("store running after stop")
	}
}

func TestMemoryStoreRejectsBadSchedule(t *testing.T) {
	_, err := NewMemoryStore(context.Background(), testLogger(), &types.SessionConfig{
		CookieName:    "sid",
		SweepSchedule: "not a schedule",
	})
	if err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())

	store, err := NewRedisStore(context.Background(), testLogger(), &types.SessionConfig{
		CookieName: "sid",
		Store:      "redis",
		Config: map[string]interface{}{
			"host":       mr.Host(),
			"port":       port,
			"key_prefix": "test",
		},
	})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.client.Close() })

	ctx := context.Background()
	s := types.NewSession("r1", time.Minute)
	s.Set("role", "admin")
	s.SetCSRFToken("tok")

	if err := store.Save(ctx, s, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("test:r1") {
		t.Fatal("key test:r1 not written")
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := got.Get("role"); v != "admin" {
		t.Errorf("role = %v", v)
	}
	if got.CSRFToken != "tok" {
		t.Errorf("csrf token = %q", got.CSRFToken)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "r1"); !types.IsError(err, types.ErrSessionNotFound) {
		t.Errorf("get after ttl err = %v", err)
	}
}

func TestRedisStoreDropsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())

	store, err := NewRedisStore(context.Background(), testLogger(), &types.SessionConfig{
		CookieName: "sid",
		Config:     map[string]interface{}{"host": mr.Host(), "port": port, "key_prefix": ""},
	})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.client.Close() })

	_ = mr.Set("broken", "{not json")

	if _, err := store.Get(context.Background(), "broken"); !types.IsError(err, types.ErrSessionNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if mr.Exists("broken") {
		t.Error("corrupt entry not removed")
	}
}

func TestNewStoreSelectsByType(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, &types.SessionConfig{CookieName: "sid", Store: "memory"}, testLogger())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("got %T, want *MemoryStore", s)
	}

	if _, err := NewStore(ctx, &types.SessionConfig{CookieName: "sid", Store: "etcd"}, testLogger()); !types.IsError(err, types.ErrSessionStoreUnknown) {
		t.Errorf("unknown store err = %v", err)
	}

	RegisterStore("custom", func(ctx context.Context, _ interface{}) (types.SessionStore, error) {
		return NewMemoryStore(ctx, testLogger(), &types.SessionConfig{CookieName: "sid"})
	})
	if _, err := NewStore(ctx, &types.SessionConfig{CookieName: "sid", Store: "custom"}, testLogger()); err != nil {
		t.Errorf("custom store: %v", err)
	}
}
