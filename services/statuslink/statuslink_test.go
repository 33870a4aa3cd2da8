package statuslink

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"acqdevice-go/types"
)

// pipeDialer hands the registry one end of a pipe and the test the other.
func pipeDialer(r *Registry) <-chan net.Conn {
	conns := make(chan net.Conn, 4)
	r.dial = func(addr string) (net.Conn, error) {
		client, server := net.Pipe()
		conns <- server
		return client, nil
	}
	return conns
}

func readFrame(t *testing.T, conn net.Conn, payloadLen int) (types.StatusKind, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1+payloadLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return types.StatusKind(buf[0]), buf[1:]
}

func TestFrameFormat(t *testing.T) {
	r := NewRegistry(2, 4)
	conns := pipeDialer(r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := r.Create(ctx, "192.168.8.10", 6000)
	if err != nil {
		t.Fatal(err)
	}
	peer := <-conns

	if err := r.Send(id, types.StatusAction, []byte("uvoltage enabled\r\n")); err != nil {
		t.Fatal(err)
	}
	kind, payload := readFrame(t, peer, len("uvoltage enabled\r\n"))
	if kind != types.StatusAction {
		t.Fatalf("kind = %d, want ACTION", kind)
	}
	if string(payload) != "uvoltage enabled\r\n" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestEnqueueOrderPreserved(t *testing.T) {
	r := NewRegistry(1, 16)
	conns := pipeDialer(r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := r.Create(ctx, "10.0.0.1", 6000)
	peer := <-conns

	msgs := []string{"a", "bb", "ccc"}
	for _, m := range msgs {
		if err := r.Send(id, types.StatusInfo, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range msgs {
		_, payload := readFrame(t, peer, len(m))
		if string(payload) != m {
			t.Fatalf("payload = %q, want %q", payload, m)
		}
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	r := NewRegistry(1, 2)
	// Dialer that never completes a connection: queue only drains on ctx.
	r.dial = func(addr string) (net.Conn, error) {
		return nil, io.ErrClosedPipe
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := r.Create(ctx, "10.0.0.1", 6000)
	l, _ := r.Link(id)

	// The down-link writer drains the queue, so stuff it faster than the
	// drain loop and verify TrySend itself never blocks.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			r.TrySend(id, types.StatusInfo, []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TrySend blocked")
	}
	if l.State() != LinkDown {
		t.Fatal("expected link DOWN with failed dialer")
	}
}

func TestCreateBounded(t *testing.T) {
	r := NewRegistry(2, 2)
	r.dial = func(addr string) (net.Conn, error) { return nil, io.ErrClosedPipe }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := r.Create(ctx, "10.0.0.1", 6000+i); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Create(ctx, "10.0.0.1", 6999); err == nil {
		t.Fatal("expected create beyond max to fail")
	}
}

func TestPayloadBounded(t *testing.T) {
	r := NewRegistry(1, 2)
	r.dial = func(addr string) (net.Conn, error) { return nil, io.ErrClosedPipe }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := r.Create(ctx, "10.0.0.1", 6000)
	if err := r.Send(id, types.StatusInfo, make([]byte, MaxPayload+1)); err == nil {
		t.Fatal("oversized payload accepted")
	}
}
