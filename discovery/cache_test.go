package discovery

import (
	"testing"
	"time"
)

func TestCache_MissWhenEmpty(t *testing.T) {
	c := NewCache(time.Minute)
	if _, ok := c.Get(); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestCache_HitAfterSet(t *testing.T) {
	c := NewCache(time.Minute)
	want := []TargetInfo{{ID: "t1", Type: "page", URL: "http://example.com"}}
	c.Set(want)

	got, ok := c.Get()
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Set([]TargetInfo{{ID: "t1"}})

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set([]TargetInfo{{ID: "t1"}})

	c.Invalidate()

	if _, ok := c.Get(); ok {
		t.Fatal("expected miss after Invalidate")
	}
}
