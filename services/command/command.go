// Package command is the line-oriented TCP control service. One session at
// a time: accept, loop on 1 s read deadlines, dispatch each line through the
// longest-prefix table and answer OK <payload> or ERROR <code>.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/shlex"

	"acqdevice-go/bus"
	"acqdevice-go/errcode"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
)

const readTimeout = time.Second

// Handler serves one dispatched command. The returned payload goes out
// after "OK "; an error goes out as its numeric code.
type Handler func(a Args) (string, error)

// Service is the control listener plus its dispatch table.
type Service struct {
	log  *logx.Logger
	addr string

	handlers map[string]Handler

	// linkLost flips when the network service reports DOWN, so a session
	// blocked on a dead peer is abandoned within one read timeout.
	linkLost atomic.Bool
}

// NewService builds an empty service listening on addr ("ip:port").
func NewService(addr string) *Service {
	return &Service{
		log:      logx.New("cmd"),
		addr:     addr,
		handlers: make(map[string]Handler),
	}
}

// Handle registers a handler for a space-joined command path, e.g.
// "device stream create".
func (s *Service) Handle(path string, h Handler) {
	s.handlers[path] = h
}

// Start binds the listener and spawns the accept loop and the link watcher.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if conn != nil {
		go s.watchLink(ctx, conn)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go s.acceptLoop(ctx, ln)
	s.log.Infof("listening on %s", s.addr)
	return nil
}

func (s *Service) watchLink(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(bus.T("net", "link"))
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Channel():
			if ev, ok := msg.Payload.(types.LinkEvent); ok && !ev.Up {
				s.linkLost.Store(true)
			}
		}
	}
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnf("accept: %v", err)
			continue
		}
		s.log.Infof("session from %s", c.RemoteAddr())
		s.linkLost.Store(false)
		s.session(ctx, c)
		c.Close()
		s.log.Infof("session closed")
	}
}

// session serves one client until EOF, link loss or shutdown. The read
// deadline bounds how long a dead peer can hold the listener.
func (s *Service) session(ctx context.Context, c net.Conn) {
	var (
		line []byte
		buf  [256]byte
	)
	for {
		if ctx.Err() != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := c.Read(buf[:])
		for _, b := range buf[:n] {
			if b == '\n' {
				s.serve(c, strings.TrimRight(string(line), "\r"))
				line = line[:0]
				continue
			}
			line = append(line, b)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if s.linkLost.Load() {
				s.log.Warnf("link down, abandoning session")
				return
			}
			continue
		}
		if err != io.EOF {
			s.log.Warnf("read: %v", err)
		}
		return
	}
}

// serve dispatches one request line and writes the response.
func (s *Service) serve(w io.Writer, line string) {
	if line == "" {
		return
	}
	payload, err := s.Dispatch(line)
	if err != nil {
		fmt.Fprintf(w, "ERROR %d\r\n", errcode.Of(err))
		return
	}
	// A payload-less success still carries the space: "OK \r\n".
	fmt.Fprintf(w, "OK %s\r\n", payload)
}

// Dispatch tokenizes a line and resolves the longest registered prefix;
// the remaining tokens become the handler's arguments.
func (s *Service) Dispatch(line string) (string, error) {
	tokens, err := shlex.Split(line)
	if err != nil || len(tokens) == 0 {
		return "", errcode.Unknown
	}
	for n := len(tokens); n > 0; n-- {
		h, ok := s.handlers[strings.Join(tokens[:n], " ")]
		if !ok {
			continue
		}
		return h(parseArgs(tokens[n:]))
	}
	return "", errcode.Unknown
}
