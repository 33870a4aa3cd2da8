// Package statuslink delivers asynchronous events (charger, protection,
// energy breakpoints) to outbound TCP peers. Each frame on the wire is one
// kind byte followed by the payload, one message per write.
package statuslink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"acqdevice-go/errcode"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
)

// MaxPayload bounds one message body.
const MaxPayload = 1024

// Frame is one queued message.
type Frame struct {
	Kind    types.StatusKind
	Payload []byte
}

// LinkState mirrors the TCP session.
type LinkState uint8

const (
	LinkDown LinkState = iota
	LinkUp
)

// Link is one outbound peer with its bounded queue. Links are created on
// request and never destroyed.
type Link struct {
	id   int
	addr string
	q    chan Frame

	up    atomic.Bool
	drops atomic.Uint32
}

// State reports the session state.
func (l *Link) State() LinkState {
	if l.up.Load() {
		return LinkUp
	}
	return LinkDown
}

// Drops reports messages discarded on a full queue.
func (l *Link) Drops() uint32 { return l.drops.Load() }

// Registry owns all status links.
type Registry struct {
	log   *logx.Logger
	max   int
	depth int

	mu    sync.Mutex
	links []*Link

	dial func(addr string) (net.Conn, error)
}

// NewRegistry bounds the fan-out at max links with the given queue depth.
func NewRegistry(max, depth int) *Registry {
	d := net.Dialer{Timeout: 3 * time.Second}
	return &Registry{
		log:   logx.New("slink"),
		max:   max,
		depth: depth,
		dial:  func(addr string) (net.Conn, error) { return d.Dial("tcp", addr) },
	}
}

// Create registers a new link and spawns its writer. Returns the link id.
func (r *Registry) Create(ctx context.Context, ip string, port int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) >= r.max {
		return 0, errcode.Exhausted
	}
	l := &Link{
		id:   len(r.links),
		addr: fmt.Sprintf("%s:%d", ip, port),
		q:    make(chan Frame, r.depth),
	}
	r.links = append(r.links, l)
	go r.serve(ctx, l)
	return l.id, nil
}

// Count reports the number of registered links.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

// Link returns a registered link by id.
func (r *Registry) Link(id int) (*Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.links) {
		return nil, errcode.NotFound
	}
	return r.links[id], nil
}

// Send enqueues one message for link id, waiting briefly for queue space.
func (r *Registry) Send(id int, kind types.StatusKind, payload []byte) error {
	l, err := r.Link(id)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayload {
		return errcode.Range
	}
	select {
	case l.q <- Frame{Kind: kind, Payload: payload}:
		return nil
	case <-time.After(100 * time.Millisecond):
		l.drops.Add(1)
		return errcode.Timeout
	}
}

// TrySend is the interrupt-safe variant: it never blocks and drops on a
// full queue.
func (r *Registry) TrySend(id int, kind types.StatusKind, payload []byte) bool {
	l, err := r.Link(id)
	if err != nil || len(payload) > MaxPayload {
		return false
	}
	select {
	case l.q <- Frame{Kind: kind, Payload: payload}:
		return true
	default:
		l.drops.Add(1)
		return false
	}
}

// Broadcast enqueues one message on every link, non-blocking.
func (r *Registry) Broadcast(kind types.StatusKind, payload []byte) {
	r.mu.Lock()
	n := len(r.links)
	r.mu.Unlock()
	for id := 0; id < n; id++ {
		r.TrySend(id, kind, payload)
	}
}

// serve connects and drains the link queue. A dead peer leaves the link
// DOWN; queued messages keep draining so producers never back up.
func (r *Registry) serve(ctx context.Context, l *Link) {
	conn, err := r.dial(l.addr)
	if err != nil {
		r.log.Warnf("link %d: connect %s: %v", l.id, l.addr, err)
	} else {
		l.up.Store(true)
		r.log.Infof("link %d up (%s)", l.id, l.addr)
	}

	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	buf := make([]byte, 0, 1+MaxPayload)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.q:
			if conn == nil {
				l.drops.Add(1)
				continue
			}
			buf = append(buf[:0], byte(f.Kind))
			buf = append(buf, f.Payload...)
			if _, err := conn.Write(buf); err != nil {
				r.log.Warnf("link %d: write: %v", l.id, err)
				conn.Close()
				conn = nil
				l.up.Store(false)
			}
		}
	}
}
