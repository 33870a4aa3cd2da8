// bus_test.go
package bus

import (
	"testing"
	"time"
)

func recvOne(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case got := <-sub.Channel():
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %v", got.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("system", "error"))

	conn.Publish(conn.NewMessage(T("system", "error"), "hello", false))

	if got := recvOne(t, sub); got.Payload.(string) != "hello" {
		t.Errorf("expected payload 'hello', got %v", got.Payload)
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("net", "link"), "up", true))

	sub := conn.Subscribe(T("net", "link"))

	if got := recvOne(t, sub); got.Payload.(string) != "up" {
		t.Errorf("expected retained payload 'up', got %v", got.Payload)
	}
}

func TestRetainedClear(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("net", "link"), "up", true))
	conn.Publish(conn.NewMessage(T("net", "link"), nil, true))

	sub := conn.Subscribe(T("net", "link"))
	expectNone(t, sub)
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("a", "+", "c"))
	s2 := c.Subscribe(T("a", "+", "+"))
	s3 := c.Subscribe(T("a", "b", "+"))
	sNo := c.Subscribe(T("a", "+", "d"))

	c.Publish(b.NewMessage(T("a", "b", "c"), "m1", false))

	for _, s := range []*Subscription{s1, s2, s3} {
		if got := recvOne(t, s); got.Payload.(string) != "m1" {
			t.Errorf("expected m1, got %v", got.Payload)
		}
	}
	expectNone(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	all := c.Subscribe(T("stream", WildAll))
	one := c.Subscribe(T("stream", "0", WildAll))

	c.Publish(b.NewMessage(T("stream", "0", "state"), "active", false))
	c.Publish(b.NewMessage(T("stream", "1", "state"), "error", false))

	if got := recvOne(t, all); got.Payload.(string) != "active" {
		t.Errorf("got %v", got.Payload)
	}
	if got := recvOne(t, all); got.Payload.(string) != "error" {
		t.Errorf("got %v", got.Payload)
	}
	if got := recvOne(t, one); got.Payload.(string) != "active" {
		t.Errorf("got %v", got.Payload)
	}
	expectNone(t, one)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("stream", "0", "state"), "active", true))
	c.Publish(b.NewMessage(T("stream", "1", "state"), "inactive", true))

	sub := c.Subscribe(T("stream", "+", "state"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[recvOne(t, sub).Payload.(string)] = true
	}
	if !seen["active"] || !seen["inactive"] {
		t.Errorf("missing retained deliveries: %v", seen)
	}
}

// -----------------------------------------------------------------------------
// Overflow
// -----------------------------------------------------------------------------

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(T("ev"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(b.NewMessage(T("ev"), i, false))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on full subscriber queue")
	}
	if b.Drops() == 0 {
		t.Error("expected drops on overflow")
	}
	// Newest messages survive, oldest were dropped.
	last := -1
	for {
		select {
		case m := <-sub.Channel():
			last = m.Payload.(int)
			continue
		default:
		}
		break
	}
	if last != 99 {
		t.Errorf("expected newest message 99 last, got %d", last)
	}
}

func TestDisconnectClosesSubscriptions(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	sub := c.Subscribe(T("x"))
	c.Disconnect()

	if _, ok := <-sub.Channel(); ok {
		t.Error("expected closed channel after disconnect")
	}
}
