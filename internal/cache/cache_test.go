package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// stores under test: every Store implementation must satisfy the same
// single-use and check-and-set semantics.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStoreWithClient(client, "test:"),
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, ok, err := s.Get(ctx, "k")
			if err != nil || !ok || v != "v" {
				t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
			}
			existed, err := s.Delete(ctx, "k")
			if err != nil || !existed {
				t.Fatalf("Delete: existed=%v err=%v", existed, err)
			}
			if _, ok, _ := s.Get(ctx, "k"); ok {
				t.Error("Get after Delete should miss")
			}
			if existed, _ := s.Delete(ctx, "k"); existed {
				t.Error("second Delete should report missing")
			}
		})
	}
}

func TestStore_SetNX(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stored, err := s.SetNX(ctx, "k", "first", time.Minute)
			if err != nil || !stored {
				t.Fatalf("first SetNX: stored=%v err=%v", stored, err)
			}
			stored, err = s.SetNX(ctx, "k", "second", time.Minute)
			if err != nil || stored {
				t.Fatalf("second SetNX: stored=%v err=%v", stored, err)
			}
			v, _, _ := s.Get(ctx, "k")
			if v != "first" {
				t.Errorf("value want first, got %q", v)
			}
		})
	}
}

func TestStore_SetNXSingleWinnerUnderRace(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 16
			var wg sync.WaitGroup
			wins := make(chan bool, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					stored, err := s.SetNX(ctx, "contended", "x", time.Minute)
					if err != nil {
						t.Errorf("SetNX: %v", err)
						return
					}
					wins <- stored
				}()
			}
			wg.Wait()
			close(wins)
			won := 0
			for stored := range wins {
				if stored {
					won++
				}
			}
			if won != 1 {
				t.Errorf("want exactly 1 SetNX winner, got %d", won)
			}
		})
	}
}

func TestStore_IncrCountsEveryCaller(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 16
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Incr(ctx, "counter", time.Minute); err != nil {
						t.Errorf("Incr: %v", err)
					}
				}()
			}
			wg.Wait()
			got, err := s.Incr(ctx, "counter", time.Minute)
			if err != nil {
				t.Fatalf("final Incr: %v", err)
			}
			if got != n+1 {
				t.Errorf("counter want %d, got %d", n+1, got)
			}
		})
	}
}

func TestMemoryStore_IncrExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	s.nowF = func() time.Time { return now }
	ctx := context.Background()

	if n, _ := s.Incr(ctx, "c", time.Minute); n != 1 {
		t.Fatalf("first Incr want 1, got %d", n)
	}
	if n, _ := s.Incr(ctx, "c", time.Minute); n != 2 {
		t.Fatalf("second Incr want 2, got %d", n)
	}
	now = now.Add(2 * time.Minute)
	if n, _ := s.Incr(ctx, "c", time.Minute); n != 1 {
		t.Errorf("Incr after expiry should restart at 1, got %d", n)
	}
}

func TestRedisStore_IncrExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreWithClient(client, "test:")
	ctx := context.Background()

	if n, _ := s.Incr(ctx, "c", time.Minute); n != 1 {
		t.Fatalf("first Incr want 1, got %d", n)
	}
	mr.FastForward(2 * time.Minute)
	if n, _ := s.Incr(ctx, "c", time.Minute); n != 1 {
		t.Errorf("Incr after expiry should restart at 1, got %d", n)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	s.nowF = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("Get after expiry should miss")
	}
	// An expired entry does not block SetNX.
	_ = s.Set(ctx, "k2", "v", time.Second)
	now = now.Add(2 * time.Second)
	stored, _ := s.SetNX(ctx, "k2", "v2", time.Minute)
	if !stored {
		t.Error("SetNX over expired entry should store")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreWithClient(client, "test:")
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Error("key should expire after TTL")
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "test:")
	mr.Close()
	_ = client.Close()

	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatal("Get against closed redis should fail")
	}
}
