package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t)
	got, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty value, got %q", got)
	}
}

func TestSetWithoutExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("k"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
}

func TestDeleteByPrefix(t *testing.T) {
	c, mr := newTestCache(t)
	c.scanCount = 2
	ctx := context.Background()
	for _, key := range []string{
		"project_1_submission_normal_results_1",
		"project_1_submission_normal_results_2",
		"project_1_submission_normal_results_3",
		"project_10_submission_normal_results_1",
		"other",
	} {
		if err := mr.Set(key, "x"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := c.DeleteByPrefix(ctx, "project_1_submission_normal_results_")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if !mr.Exists("project_10_submission_normal_results_1") || !mr.Exists("other") {
		t.Fatalf("expected unrelated keys to survive")
	}

	keys, err := c.Keys(ctx, "project_1_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys left, got %v", keys)
	}
}

func TestDeleteByPrefixRejectsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	if _, err := c.DeleteByPrefix(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Fatalf("unexpected escape: %q", got)
	}
}

func TestGetWithCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "computed", nil
	}
	identity := func(s string) string { return s }
	parse := func(s string) (string, error) { return s, nil }

	v, hit, err := GetWithCached(ctx, c, "k", 0, identity, parse, fetch)
	if err != nil || v != "computed" || hit {
		t.Fatalf("unexpected first result: %q %v %v", v, hit, err)
	}
	v, hit, err = GetWithCached(ctx, c, "k", 0, identity, parse, fetch)
	if err != nil || v != "computed" || !hit {
		t.Fatalf("unexpected second result: %q %v %v", v, hit, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}

	boom := errors.New("boom")
	_, _, err = GetWithCached(ctx, c, "other", 0, identity, parse, func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}
