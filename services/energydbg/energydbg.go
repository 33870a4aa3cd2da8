// Package energydbg pairs breakpoint button presses with host-supplied tag
// names read from a serial line, and fans the resulting records out to TCP
// debugger peers. One record on the wire: 4-byte little-endian id, then the
// name bytes up to and including the terminating CR.
package energydbg

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"acqdevice-go/errcode"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
	"acqdevice-go/x/spsc"
)

// Marker is the hook into the running acquisition: it flags the next buffer
// and returns the sequence number the flag will ride on.
type Marker interface {
	SetCaptureMarker() (uint32, error)
}

// peer is one outbound debugger link with its bounded record queue.
type peer struct {
	id   int
	addr string
	q    chan []byte
}

// Service owns the button, the tag line and the peer fan-out.
type Service struct {
	log    *logx.Logger
	marker Marker

	maxPeers int
	depth    int

	mu    sync.Mutex
	peers []*peer

	dial func(addr string) (net.Conn, error)

	presses *spsc.Ring[struct{}]
	ids     *spsc.Ring[uint32]
	names   chan string
}

// New builds the service. tags is the serial line carrying CR-terminated
// names; the button is wired separately via Button().
func New(marker Marker, maxPeers, depth int) *Service {
	d := net.Dialer{Timeout: 3 * time.Second}
	return &Service{
		log:      logx.New("edbg"),
		marker:   marker,
		maxPeers: maxPeers,
		depth:    depth,
		dial:     func(addr string) (net.Conn, error) { return d.Dial("tcp", addr) },
		presses:  spsc.New[struct{}](8),
		ids:      spsc.New[uint32](16),
		names:    make(chan string, 16),
	}
}

// Button arms the breakpoint button. The edge callback only hands off; the
// marker call happens on the press worker.
func (s *Service) Button(pin types.IRQPin) error {
	return pin.SetInterrupt(types.EdgeRising, func(level bool) {
		if level {
			s.presses.TryPush(struct{}{})
		}
	})
}

// Start spawns the press worker, the tag reader and the pairing loop.
func (s *Service) Start(ctx context.Context, tags io.Reader) {
	go s.pressLoop(ctx)
	if tags != nil {
		go s.readTags(ctx, tags)
	}
	go s.pairLoop(ctx)
}

// CreatePeer registers one debugger link and spawns its writer.
func (s *Service) CreatePeer(ctx context.Context, ip string, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) >= s.maxPeers {
		return 0, errcode.Exhausted
	}
	p := &peer{
		id:   len(s.peers),
		addr: fmt.Sprintf("%s:%d", ip, port),
		q:    make(chan []byte, s.depth),
	}
	s.peers = append(s.peers, p)
	go s.serve(ctx, p)
	return p.id, nil
}

// PeerCount reports the number of registered links.
func (s *Service) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// pressLoop turns button presses into flagged buffers and queued ids.
func (s *Service) pressLoop(ctx context.Context) {
	for {
		if _, ok := s.presses.Pop(ctx); !ok {
			return
		}
		seq, err := s.marker.SetCaptureMarker()
		if err != nil {
			s.log.Warnf("breakpoint ignored, no active acquisition: %v", err)
			continue
		}
		if !s.ids.TryPush(seq) {
			s.log.Warnf("breakpoint id queue full, dropping seq %d", seq)
		}
	}
}

// readTags accumulates serial bytes into CR-terminated names.
func (s *Service) readTags(ctx context.Context, r io.Reader) {
	var (
		line []byte
		buf  [64]byte
	)
	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			for _, b := range buf[:n] {
				line = append(line, b)
				if b != '\r' {
					continue
				}
				select {
				case s.names <- string(line):
				case <-ctx.Done():
					return
				}
				line = line[:0]
			}
		}
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				s.log.Warnf("tag line read: %v", err)
			}
			return
		}
	}
}

// pairLoop matches one queued id with one tag name and multicasts the
// record. A name with no pending id has no breakpoint to describe.
func (s *Service) pairLoop(ctx context.Context) {
	for {
		var name string
		select {
		case <-ctx.Done():
			return
		case name = <-s.names:
		}
		id, ok := s.ids.TryPop()
		if !ok {
			s.log.Warnf("tag %q with no pending breakpoint, dropped", name)
			continue
		}
		s.multicast(record(types.BreakpointHit{ID: id, Name: name}))
	}
}

// record encodes one breakpoint hit for the wire.
func record(hit types.BreakpointHit) []byte {
	out := make([]byte, 4+len(hit.Name))
	binary.LittleEndian.PutUint32(out[:4], hit.ID)
	copy(out[4:], hit.Name)
	return out
}

func (s *Service) multicast(rec []byte) {
	s.mu.Lock()
	peers := append([]*peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		select {
		case p.q <- rec:
		default:
			s.log.Warnf("peer %d queue full, record dropped", p.id)
		}
	}
}

// serve connects once and writes queued records. A link that never comes up
// keeps draining its queue so producers never back up.
func (s *Service) serve(ctx context.Context, p *peer) {
	conn, err := s.dial(p.addr)
	if err != nil {
		s.log.Warnf("peer %d (%s): %v", p.id, p.addr, err)
	} else {
		defer conn.Close()
		s.log.Infof("peer %d connected (%s)", p.id, p.addr)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.q:
			if conn == nil {
				continue
			}
			if _, err := conn.Write(rec); err != nil {
				s.log.Warnf("peer %d write: %v", p.id, err)
				conn.Close()
				conn = nil
			}
		}
	}
}
