package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client)
}

func TestKey(t *testing.T) {
	a := Key("digest", "20", "recency")
	b := Key("digest", "20", "recency")
	c := Key("digest", "20", "neutrality")

	if a != b {
		t.Error("same inputs should produce the same key")
	}
	if a == c {
		t.Error("different inputs should produce different keys")
	}
	if !strings.HasPrefix(a, "newsledger:v1:digest:") {
		t.Errorf("unexpected key format %q", a)
	}
	// Part boundaries matter
	if Key("k", "ab", "c") == Key("k", "a", "bc") {
		t.Error("keys should not collide across part boundaries")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	value := []byte("hello")
	if err := c.Set("k", value, 0); err != nil {
		t.Fatal(err)
	}
	value[0] = 'j'

	got, ok := c.Get("k")
	if !ok || string(got) != "hello" {
		t.Errorf("expected stored copy %q, got %q ok=%v", "hello", got, ok)
	}

	_ = c.Set("short", []byte("x"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expected expired entry to miss")
	}

	_ = c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}

	_ = c.Set("a", []byte("1"), 0)
	_ = c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d", c.Len())
	}
}

func TestRedisCache(t *testing.T) {
	mr, c := newRedis(t)

	if err := c.Set(Key("search", "q"), []byte("results"), time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get(Key("search", "q"))
	if !ok || string(got) != "results" {
		t.Errorf("unexpected get: %q ok=%v", got, ok)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(Key("search", "q")); ok {
		t.Error("expected TTL expiry")
	}

	_ = c.Set(Key("digest", "1"), []byte("a"), 0)
	_ = c.Set(Key("digest", "2"), []byte("b"), 0)
	mr.Set("unrelated", "keep")

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(Key("digest", "1")); ok {
		t.Error("expected namespaced keys cleared")
	}
	if v, err := mr.Get("unrelated"); err != nil || v != "keep" {
		t.Error("Clear must not touch keys outside the namespace")
	}

	_ = c.Set("k", []byte("v"), 0)
	if err := c.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("missing"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr, c := newRedis(t)
	mr.Close()

	if _, ok := c.Get("k"); ok {
		t.Error("unavailable redis should report a miss")
	}
	if err := c.Set("k", []byte("v"), 0); err == nil {
		t.Error("expected set error when redis is down")
	}
}

func TestLayeredCache(t *testing.T) {
	mr, remote := newRedis(t)
	c := NewLayeredCache(time.Minute, remote)

	if err := c.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("k") {
		t.Error("expected write-through to redis")
	}

	// A value only present remotely is promoted into memory
	mr.Set("remote-only", "r")
	if got, ok := c.Get("remote-only"); !ok || string(got) != "r" {
		t.Fatalf("expected remote hit, got %q ok=%v", got, ok)
	}
	mr.Del("remote-only")
	if got, ok := c.Get("remote-only"); !ok || string(got) != "r" {
		t.Error("expected promoted value served from memory")
	}

	_ = c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestLayeredCache_NoRemote(t *testing.T) {
	c := NewLayeredCache(time.Minute, nil)
	if _, ok := c.(*MemoryCache); !ok {
		t.Errorf("expected plain memory cache without a remote, got %T", c)
	}
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	type payload struct {
		Count int      `json:"count"`
		Names []string `json:"names"`
	}

	if err := SetJSON(c, "p", payload{Count: 2, Names: []string{"npr.org", "bbc.com"}}, 0); err != nil {
		t.Fatal(err)
	}
	got, ok := GetJSON[payload](c, "p")
	if !ok || got.Count != 2 || got.Names[1] != "bbc.com" {
		t.Errorf("unexpected decoded payload %+v ok=%v", got, ok)
	}

	_ = c.Set("bad", []byte("{not json"), 0)
	if _, ok := GetJSON[payload](c, "bad"); ok {
		t.Error("undecodable value should miss")
	}
	if _, ok := GetJSON[payload](nil, "p"); ok {
		t.Error("nil cache should miss")
	}
}
