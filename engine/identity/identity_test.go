package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/redis/go-redis/v9"
)

func intPtr(i int) *int { return &i }

func TestUniqueKey(t *testing.T) {
	r := domain.Record{Path: "/a/b.md", Content: "hello world", Size: 11, LastModified: 1000}
	if got, want := UniqueKey(r), "/a/b.md|11|1000||hello world"; got != want {
		t.Fatalf("UniqueKey = %q, want %q", got, want)
	}
	r.ChunkIndex = intPtr(3)
	if got, want := UniqueKey(r), "/a/b.md|11|1000|3|hello world"; got != want {
		t.Fatalf("UniqueKey = %q, want %q", got, want)
	}
}

func TestUniqueKeyTruncatesToHundredRunes(t *testing.T) {
	long := strings.Repeat("é", 150)
	key := UniqueKey(domain.Record{Path: "p", Content: long})
	tail := key[strings.LastIndex(key, "|")+1:]
	if n := len([]rune(tail)); n != 100 {
		t.Fatalf("expected 100 runes, got %d", n)
	}
	// Characters past 100 do not change the key.
	a := UniqueKey(domain.Record{Path: "p", Content: strings.Repeat("x", 100) + "AAA"})
	b := UniqueKey(domain.Record{Path: "p", Content: strings.Repeat("x", 100) + "BBB"})
	if a != b {
		t.Fatal("suffix beyond 100 chars must not affect the key")
	}
}

func TestRollingHashKnownValues(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"", 0},
		{"a", 97},
		{"ab", 97*31 + 98},
		{"hello", 99162322},
		// "polygenelubricants" wraps to math.MinInt32.
		{"polygenelubricants", 2147483648},
	}
	for _, tt := range tests {
		if got := RollingHash(tt.in); got != tt.want {
			t.Errorf("RollingHash(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestContentHash(t *testing.T) {
	if got := ContentHash(""); got != "0" {
		t.Fatalf("empty = %q", got)
	}
	// djb2("a") = 5381*33 + 97 = 177670 = 0x2b606
	if got := ContentHash("a"); got != "a_2b606" {
		t.Fatalf("ContentHash(a) = %q", got)
	}
	if got := ContentHash("He-y!"); !strings.HasPrefix(got, "hey_") {
		t.Fatalf("expected sanitized prefix, got %q", got)
	}
	if got := ContentHash("!!!!"); strings.Contains(got, "_") {
		t.Fatalf("no alnum prefix expected, got %q", got)
	}
	if ContentHash("same text") != ContentHash("same text") {
		t.Fatal("not deterministic")
	}
	if ContentHash("text one") == ContentHash("text two") {
		t.Fatal("distinct texts hashed equal")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	res := NewResolver(nil, nil)
	ctx := context.Background()
	r := domain.Record{Path: "/a/b.md", Content: "hello world", Size: 11, LastModified: 1000}
	first := res.Resolve(ctx, r)
	for i := 0; i < 5; i++ {
		again := res.Resolve(ctx, r)
		if again.ID != first.ID || again.Collision {
			t.Fatalf("resolve %d: %+v != %+v", i, again, first)
		}
	}
	if first.ID != RollingHash(UniqueKey(r)) {
		t.Fatal("first resolution must use the rolling hash")
	}
}

func TestResolveChangesWithAnyKeyPart(t *testing.T) {
	res := NewResolver(nil, nil)
	ctx := context.Background()
	base := domain.Record{Path: "/a", Content: "c", Size: 1, LastModified: 5}
	id := res.Resolve(ctx, base).ID
	variants := []domain.Record{
		{Path: "/b", Content: "c", Size: 1, LastModified: 5},
		{Path: "/a", Content: "d", Size: 1, LastModified: 5},
		{Path: "/a", Content: "c", Size: 2, LastModified: 5},
		{Path: "/a", Content: "c", Size: 1, LastModified: 6},
		{Path: "/a", Content: "c", Size: 1, LastModified: 5, ChunkIndex: intPtr(0)},
	}
	for _, v := range variants {
		if res.Resolve(ctx, v).ID == id {
			t.Errorf("expected a different id for %+v", v)
		}
	}
}

type fixedRegistry struct {
	owners map[uint64]string
}

func (f *fixedRegistry) Claim(_ context.Context, id uint64, key string) (bool, error) {
	owner, ok := f.owners[id]
	if !ok {
		f.owners[id] = key
		return true, nil
	}
	return owner == key, nil
}
func (f *fixedRegistry) Reset(context.Context) error { f.owners = map[uint64]string{}; return nil }

func TestResolveCollisionFallsBackToTimestamp(t *testing.T) {
	r := domain.Record{Path: "/a", Content: "x", LastModified: 4242}
	reg := &fixedRegistry{owners: map[uint64]string{RollingHash(UniqueKey(r)): "someone else"}}
	res := NewResolver(reg, nil)
	got := res.Resolve(context.Background(), r)
	if !got.Collision || got.ID != 4242 {
		t.Fatalf("expected timestamp fallback, got %+v", got)
	}
	// The fallback is sticky for the same key.
	if again := res.Resolve(context.Background(), r); again.ID != 4242 {
		t.Fatalf("fallback not stable: %+v", again)
	}
}

type failingRegistry struct{}

func (failingRegistry) Claim(context.Context, uint64, string) (bool, error) {
	return false, errors.New("down")
}
func (failingRegistry) Reset(context.Context) error { return errors.New("down") }

func TestResolveRegistryFailureIsFailOpen(t *testing.T) {
	res := NewResolver(failingRegistry{}, nil)
	r := domain.Record{Path: "/a", Content: "x"}
	got := res.Resolve(context.Background(), r)
	if got.Collision || got.ID != RollingHash(UniqueKey(r)) {
		t.Fatalf("unexpected %+v", got)
	}
	if err := res.Reset(context.Background()); err == nil {
		t.Fatal("expected reset error")
	}
}

func TestMemoryRegistryReset(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	if ok, _ := reg.Claim(ctx, 1, "a"); !ok {
		t.Fatal("first claim must succeed")
	}
	if ok, _ := reg.Claim(ctx, 1, "b"); ok {
		t.Fatal("second key must collide")
	}
	_ = reg.Reset(ctx)
	if reg.Len() != 0 {
		t.Fatal("reset did not clear")
	}
	if ok, _ := reg.Claim(ctx, 1, "b"); !ok {
		t.Fatal("claim after reset must succeed")
	}
}

// fakeRedis implements the three hash commands the registry uses.
type fakeRedis struct {
	redis.Cmdable
	h   map[string]string
	err error
}

func (f *fakeRedis) HSetNX(ctx context.Context, _ string, field string, value any) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.h[field]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.h[field] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HGet(ctx context.Context, _ string, field string) *redis.StringCmd {
	v, ok := f.h[field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(ctx context.Context, _ ...string) *redis.IntCmd {
	f.h = map[string]string{}
	return redis.NewIntResult(1, nil)
}

func TestRedisRegistry(t *testing.T) {
	fr := &fakeRedis{h: map[string]string{}}
	reg := NewRedisRegistry(fr, "knowledge")
	ctx := context.Background()
	if reg.hash != "consolidator:ids:knowledge" {
		t.Fatalf("hash = %q", reg.hash)
	}
	if ok, err := reg.Claim(ctx, 7, "k1"); !ok || err != nil {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if ok, _ := reg.Claim(ctx, 7, "k1"); !ok {
		t.Fatal("same key must keep ownership")
	}
	if ok, _ := reg.Claim(ctx, 7, "k2"); ok {
		t.Fatal("different key must collide")
	}
	if err := reg.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if len(fr.h) != 0 {
		t.Fatal("reset did not delete")
	}
	fr.err = errors.New("conn refused")
	if _, err := reg.Claim(ctx, 8, "k"); err == nil {
		t.Fatal("expected error")
	}
}
