// Package stream is the sample-stream engine: per-connection control actor
// plus egress loop, moving owned buffer handles from the ADC front-ends to
// UDP peers.
package stream

import (
	"context"
	"fmt"
	"net"

	"acqdevice-go/adc"
	"acqdevice-go/bus"
	"acqdevice-go/errcode"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
)

// Engine owns all stream connections and the two shared front-ends.
// Connections are created on request and never destroyed.
type Engine struct {
	log      *logx.Logger
	ctx      context.Context
	conn     *bus.Connection
	defaults adc.Config
	maxConns int
	depth    int

	fes [2]*adc.Frontend

	conns []*Conn // append-only; index == id
}

// NewEngine wires the engine to both front-ends. busConn may be nil in
// tests; it carries error escalation to the supervisor.
func NewEngine(ctx context.Context, internal, external *adc.Frontend, defaults adc.Config, maxConns, queueDepth int, busConn *bus.Connection) (*Engine, error) {
	e := &Engine{
		log:      logx.New("stream"),
		ctx:      ctx,
		conn:     busConn,
		defaults: defaults,
		maxConns: maxConns,
		depth:    queueDepth,
		fes:      [2]*adc.Frontend{internal, external},
	}
	// Power both back-ends up into config state.
	for _, fe := range e.fes {
		if err := fe.Init(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Create registers a new connection for peer ip:port and returns its id.
func (e *Engine) Create(ip string, port int) (int, error) {
	addr := net.ParseIP(ip)
	if addr == nil || addr.To4() == nil || port <= 0 || port > 65535 {
		return 0, errcode.InvalidArgs
	}
	if len(e.conns) >= e.maxConns {
		return 0, errcode.Exhausted
	}
	id := len(e.conns)
	c := newConn(e.ctx, id, &net.UDPAddr{IP: addr.To4(), Port: port}, e.defaults, e.escalate)
	e.conns = append(e.conns, c)
	e.log.Infof("connection %d -> %s:%d", id, ip, port)
	return id, nil
}

// Conn looks a connection up by id.
func (e *Engine) Conn(id int) (*Conn, error) {
	if id < 0 || id >= len(e.conns) {
		return nil, errcode.NotFound
	}
	return e.conns[id], nil
}

// Count reports how many connections exist.
func (e *Engine) Count() int { return len(e.conns) }

// Start begins acquisition on connection id with the chosen back-end.
func (e *Engine) Start(id int, backend adc.BackendID) error {
	c, err := e.Conn(id)
	if err != nil {
		return err
	}
	if backend != adc.Internal && backend != adc.External {
		return errcode.InvalidArgs
	}
	fe := e.fes[backend]
	return doErr(c, func() error { return c.start(fe, e.depth) })
}

// Stop halts acquisition on connection id (or re-inits a failed one).
func (e *Engine) Stop(id int) error {
	c, err := e.Conn(id)
	if err != nil {
		return err
	}
	return doErr(c, func() error { return c.stop() })
}

// Value performs a one-shot averaged read on the connection's back-end.
func (e *Engine) Value(id int, ch int) (uint16, error) {
	c, err := e.Conn(id)
	if err != nil {
		return 0, err
	}
	return do(c, func() (uint16, error) {
		c.mu.Lock()
		cfg := c.cfg
		backend := c.backend
		c.mu.Unlock()
		return e.fes[backend].Value(cfg, ch)
	})
}

// SetCaptureMarker arms the energy-breakpoint flag on the first active
// acquisition and returns the sequence number it will carry. Safe to call
// from producer contexts: the front-end marker is a mutex-guarded one-shot.
func (e *Engine) SetCaptureMarker() (uint32, error) {
	for _, fe := range e.fes {
		if fe.Active() {
			return fe.SetCaptureMarker()
		}
	}
	return 0, errcode.Conflict
}

func (e *Engine) escalate(c *Conn, cause error) {
	if e.conn == nil {
		return
	}
	e.conn.Publish(e.conn.NewMessage(bus.T("system", "error"), types.SysError{
		Service:  fmt.Sprintf("stream%d", c.ID()),
		Severity: types.SeverityLow,
		Detail:   cause.Error(),
	}, false))
}
