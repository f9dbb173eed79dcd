package cache

import (
	"context"
	"testing"
	"time"

	"github.com/echoscribe/echoscribe/internal/store"
)

type result struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint([]byte("same bytes"))
	b := Fingerprint([]byte("same bytes"))
	c := Fingerprint([]byte("different bytes"))

	if a != b {
		t.Fatal("identical payloads produced different fingerprints")
	}
	if a == c {
		t.Fatal("different payloads produced the same fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestCache_RoundTrip(t *testing.T) {
	c := New(store.NewMemoryStore(), Config{}, nil)
	ctx := context.Background()
	fp := Fingerprint([]byte("audio payload"))

	var miss []result
	if c.Get(ctx, 1, fp, &miss) {
		t.Fatal("unexpected hit on empty cache")
	}

	want := []result{{Speaker: "A", Text: "hello"}, {Speaker: "B", Text: "hi"}}
	c.Set(ctx, 1, fp, want)

	var got []result
	if !c.Get(ctx, 1, fp, &got) {
		t.Fatal("expected hit after Set")
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCache_OwnersIsolated(t *testing.T) {
	c := New(store.NewMemoryStore(), Config{}, nil)
	ctx := context.Background()
	fp := Fingerprint([]byte("shared payload"))

	c.Set(ctx, 1, fp, []result{{Speaker: "A", Text: "secret"}})

	var got []result
	if c.Get(ctx, 2, fp, &got) {
		t.Fatal("owner 2 read owner 1's cached result")
	}
}

func TestCache_CorruptedEntryIsAMiss(t *testing.T) {
	st := store.NewMemoryStore()
	c := New(st, Config{}, nil)
	ctx := context.Background()
	fp := Fingerprint([]byte("payload"))

	if err := st.Set(ctx, "transcription:1:"+fp, []byte("{not json"), time.Hour); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	var got []result
	if c.Get(ctx, 1, fp, &got) {
		t.Fatal("corrupted entry reported as a hit")
	}

	// A fresh Set self-heals the entry.
	c.Set(ctx, 1, fp, []result{{Speaker: "A", Text: "ok"}})
	if !c.Get(ctx, 1, fp, &got) {
		t.Fatal("expected hit after overwriting the corrupt entry")
	}
}
