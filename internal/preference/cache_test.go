package preference

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tribeapp/notification-service/internal/domain"
)

type fakeResolver struct {
	ensureCalls int
	prefs       *domain.Preferences
	updated     *domain.Preferences
}

func (f *fakeResolver) EnsurePreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	f.ensureCalls++
	return f.prefs, nil
}

func (f *fakeResolver) ChannelsFor(ctx context.Context, userID string, t domain.NotificationType) ([]domain.Channel, error) {
	prefs, err := f.EnsurePreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return prefs.EnabledChannels(t), nil
}

func (f *fakeResolver) Update(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error) {
	f.updated = p
	f.prefs = p
	return p, nil
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}

func TestCacheServesSecondReadFromRedis(t *testing.T) {
	t.Parallel()

	inner := &fakeResolver{prefs: domain.DefaultPreferences("user-1")}
	cache, err := NewCache(inner, newTestRedisClient(t), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	first, err := cache.EnsurePreferences(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsurePreferences() error = %v", err)
	}
	second, err := cache.EnsurePreferences(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsurePreferences() error = %v", err)
	}

	if inner.ensureCalls != 1 {
		t.Fatalf("inner resolver called %d times, want 1", inner.ensureCalls)
	}
	if first.UserID != second.UserID || second.UserID != "user-1" {
		t.Fatalf("cached preferences user = %q, want user-1", second.UserID)
	}
	if !second.PushEnabled || second.SMSEnabled {
		t.Fatalf("cached preferences = %+v, want defaults preserved", second)
	}
}

func TestCacheUpdateInvalidatesEntry(t *testing.T) {
	t.Parallel()

	inner := &fakeResolver{prefs: domain.DefaultPreferences("user-1")}
	cache, err := NewCache(inner, newTestRedisClient(t), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if _, err := cache.EnsurePreferences(context.Background(), "user-1"); err != nil {
		t.Fatalf("EnsurePreferences() error = %v", err)
	}

	changed := domain.DefaultPreferences("user-1")
	changed.PushEnabled = false
	if _, err := cache.Update(context.Background(), changed); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	refreshed, err := cache.EnsurePreferences(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsurePreferences() error = %v", err)
	}
	if refreshed.PushEnabled {
		t.Fatal("cache should have been invalidated by the preference write")
	}
	if inner.ensureCalls != 2 {
		t.Fatalf("inner resolver called %d times, want 2 (one per cache miss)", inner.ensureCalls)
	}
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	mr.Close()

	inner := &fakeResolver{prefs: domain.DefaultPreferences("user-1")}
	cache, err := NewCache(inner, rdb, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	prefs, err := cache.EnsurePreferences(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsurePreferences() error = %v", err)
	}
	if prefs.UserID != "user-1" {
		t.Fatalf("EnsurePreferences() user = %q, want user-1", prefs.UserID)
	}
	if inner.ensureCalls != 1 {
		t.Fatalf("inner resolver called %d times, want 1", inner.ensureCalls)
	}
}
