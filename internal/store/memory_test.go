package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_IncrementWithTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementWithTTL(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("count = %d, want %d", got, want)
		}
	}
}

func TestMemoryStore_ExpiryResetsCounter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	current := time.Now()
	s.now = func() time.Time { return current }

	if _, err := s.IncrementWithTTL(ctx, "counter", 10*time.Second); err != nil {
		t.Fatalf("increment: %v", err)
	}

	current = current.Add(11 * time.Second)
	got, err := s.IncrementWithTTL(ctx, "counter", 10*time.Second)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 1 {
		t.Fatalf("count after expiry = %d, want 1", got)
	}
}

func TestMemoryStore_GetSetAndExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	current := time.Now()
	s.now = func() time.Time { return current }

	if v, err := s.Get(ctx, "k"); err != nil || v != nil {
		t.Fatalf("empty get = (%v, %v), want (nil, nil)", v, err)
	}

	if err := s.Set(ctx, "k", []byte("value"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "value" {
		t.Fatalf("got %q, want %q", v, "value")
	}

	current = current.Add(2 * time.Minute)
	if v, _ := s.Get(ctx, "k"); v != nil {
		t.Fatalf("got %q after expiry, want nil", v)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("abc"), time.Minute)
	v, _ := s.Get(ctx, "k")
	v[0] = 'x'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if _, err := s.IncrementWithTTL(ctx, "counter", time.Minute); err != nil {
					t.Errorf("increment: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.IncrementWithTTL(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("final increment: %v", err)
	}
	if got != goroutines*perGoroutine+1 {
		t.Fatalf("count = %d, want %d", got, goroutines*perGoroutine+1)
	}
}
