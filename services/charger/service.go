// Package charger is the service task that owns the charger's two-wire bus.
// Every register access goes through its loop; callers hand over a request
// and wait for the acknowledgement.
package charger

import (
	"context"
	"fmt"
	"time"

	"acqdevice-go/bus"
	chgdrv "acqdevice-go/drivers/charger"
	"acqdevice-go/errcode"
	"acqdevice-go/services/statuslink"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
)

const reqTimeout = time.Second

type request struct {
	fn   func()
	done chan struct{}
}

// Service owns one charger device. Construct with New, then Start.
type Service struct {
	log    *logx.Logger
	dev    *chgdrv.Device
	status *statuslink.Registry

	pollEvery time.Duration
	reqs      chan request
}

// New wires the service to its device. status may be nil.
func New(dev *chgdrv.Device, status *statuslink.Registry, pollEvery time.Duration) *Service {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	return &Service{
		log:       logx.New("charger"),
		dev:       dev,
		status:    status,
		pollEvery: pollEvery,
		reqs:      make(chan request, 4),
	}
}

// Start pings the device and spawns the bus-owner loop. A silent device is
// a startup failure; the supervisor decides what that means.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if err := s.dev.Ping(); err != nil {
		return errcode.Wrap(errcode.Hardware, "charger: ping", err)
	}
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	tick := time.NewTicker(s.pollEvery)
	defer tick.Stop()

	phase, err := s.dev.Status()
	if err != nil {
		s.fail(conn, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Infof("stopping")
			return
		case req := <-s.reqs:
			req.fn()
			close(req.done)
		case <-tick.C:
			p, err := s.dev.Status()
			if err != nil {
				s.fail(conn, err)
				return
			}
			if p != phase {
				phase = p
				s.log.Infof("phase: %s", p)
				if s.status != nil {
					s.status.Broadcast(types.StatusInfo, []byte("charger "+p.String()+"\r\n"))
				}
			}
		}
	}
}

// fail reports a dead bus and stops servicing requests. Callers time out
// from then on; there is no automatic recovery.
func (s *Service) fail(conn *bus.Connection, err error) {
	s.log.Errorf("bus unresponsive: %v", err)
	if conn != nil {
		conn.Publish(conn.NewMessage(bus.T("system", "error"), types.SysError{
			Service:  "charger",
			Severity: types.SeverityLow,
			Detail:   fmt.Sprintf("bus unresponsive: %v", err),
		}, false))
	}
}

// do runs fn on the bus-owner loop and waits for the acknowledgement.
func (s *Service) do(fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.reqs <- req:
	case <-time.After(reqTimeout):
		return errcode.Timeout
	}
	select {
	case <-req.done:
		return nil
	case <-time.After(reqTimeout):
		return errcode.Timeout
	}
}

// ------------------------
// request surface
// ------------------------

func (s *Service) SetChargingEnabled(on bool) error {
	var err error
	if derr := s.do(func() { err = s.dev.SetChargingEnabled(on) }); derr != nil {
		return derr
	}
	return err
}

func (s *Service) ChargingEnabled() (bool, error) {
	var (
		on  bool
		err error
	)
	if derr := s.do(func() { on, err = s.dev.ChargingEnabled() }); derr != nil {
		return false, derr
	}
	return on, err
}

func (s *Service) SetChargeCurrent(mA uint32) error {
	var err error
	if derr := s.do(func() { err = s.dev.SetChargeCurrent(mA) }); derr != nil {
		return derr
	}
	return err
}

func (s *Service) ChargeCurrent() (uint32, error) {
	var (
		mA  uint32
		err error
	)
	if derr := s.do(func() { mA, err = s.dev.ChargeCurrent() }); derr != nil {
		return 0, derr
	}
	return mA, err
}

func (s *Service) SetTermCurrent(mA uint32) error {
	var err error
	if derr := s.do(func() { err = s.dev.SetTermCurrent(mA) }); derr != nil {
		return derr
	}
	return err
}

func (s *Service) TermCurrent() (uint32, error) {
	var (
		mA  uint32
		err error
	)
	if derr := s.do(func() { mA, err = s.dev.TermCurrent() }); derr != nil {
		return 0, derr
	}
	return mA, err
}

func (s *Service) SetTermVoltage(mV uint32) error {
	var err error
	if derr := s.do(func() { err = s.dev.SetTermVoltage(mV) }); derr != nil {
		return derr
	}
	return err
}

func (s *Service) TermVoltage() (uint32, error) {
	var (
		mV  uint32
		err error
	)
	if derr := s.do(func() { mV, err = s.dev.TermVoltage() }); derr != nil {
		return 0, derr
	}
	return mV, err
}

func (s *Service) ReadRegister(reg byte) (uint16, error) {
	var (
		val uint16
		err error
	)
	if derr := s.do(func() { val, err = s.dev.ReadRegister(reg) }); derr != nil {
		return 0, derr
	}
	return val, err
}
