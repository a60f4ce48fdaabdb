package genstore

import (
	"context"
	"testing"
	"time"
)

func TestLocalSnapshotIsZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "q:artwork:2"); err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]uint64{"q:artwork:1": 0, "q:artwork:2": 1} {
		got, err := s.Snapshot(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("%s: gen=%d want %d", key, got, want)
		}
	}
}

func TestLocalBumpIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var last uint64
	for i := 0; i < 5; i++ {
		g, err := s.Bump(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if g != last+1 {
			t.Fatalf("bump %d: got %d want %d", i, g, last+1)
		}
		last = g
	}
	if g, _ := s.Snapshot(ctx, "k"); g != last {
		t.Fatalf("snapshot %d != last bump %d", g, last)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	now := time.Date(2023, 2, 14, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Bump(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}

	s.Cleanup(time.Hour)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "fresh"); g != 1 {
		t.Fatalf("fresh key must survive cleanup, got %d", g)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}
}

func TestLocalCloseTwice(t *testing.T) {
	s := NewLocalGenStore(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
