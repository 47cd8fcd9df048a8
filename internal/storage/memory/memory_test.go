package memory

import (
	"context"
	"errors"
	"testing"
)

func TestSlotSetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected empty slot, ok=%v err=%v", ok, err)
	}
	rev0, _ := s.Revision(ctx, "k")

	if err := s.Set(ctx, "k", []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "[]" {
		t.Fatalf("unexpected get: v=%q ok=%v err=%v", v, ok, err)
	}
	rev1, _ := s.Revision(ctx, "k")
	if rev1 == rev0 {
		t.Fatal("revision should change after set")
	}

	// Returned bytes are a copy.
	v[0] = 'x'
	v2, _, _ := s.Get(ctx, "k")
	if string(v2) != "[]" {
		t.Fatalf("stored value was mutated: %q", v2)
	}

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected value removed")
	}
	rev2, _ := s.Revision(ctx, "k")
	if rev2 == rev1 {
		t.Fatal("revision should change after remove")
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestSlotRejectsEmptyKey(t *testing.T) {
	if err := New().Set(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestSlotFailWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	quota := errors.New("quota exceeded")
	s.FailWrites(quota)
	if err := s.Set(ctx, "k", []byte("1")); !errors.Is(err, quota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	s.FailWrites(nil)
	if err := s.Set(ctx, "k", []byte("1")); err != nil {
		t.Fatalf("expected writes restored, got %v", err)
	}
}
