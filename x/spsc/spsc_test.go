package spsc

import (
	"context"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("pop %d: got %v ok=%v", i, v, ok)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Fatal("expected empty ring")
	}
}

func TestFullRingDrops(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if r.TryPush(99) {
		t.Fatal("expected push on full ring to fail")
	}
	if r.Drops() != 1 {
		t.Fatalf("drops = %d, want 1", r.Drops())
	}
}

func TestPopWaits(t *testing.T) {
	r := New[string](4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.TryPush("hello")
	}()

	v, ok := r.Pop(ctx)
	if !ok || v != "hello" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
}

func TestPopCancelled(t *testing.T) {
	r := New[int](4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := r.Pop(ctx); ok {
		t.Fatal("expected cancelled pop to fail")
	}
}

func TestConcurrentHandoff(t *testing.T) {
	r := New[uint32](64)
	const n = 10000
	done := make(chan struct{})

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var want uint32
		for want < n {
			v, ok := r.Pop(ctx)
			if !ok {
				t.Errorf("pop timed out at %d", want)
				return
			}
			if v != want {
				t.Errorf("out of order: got %d want %d", v, want)
				return
			}
			want++
		}
	}()

	for i := uint32(0); i < n; {
		if r.TryPush(i) {
			i++
		}
	}
	<-done
}
