// Package netmon watches the PHY link and republishes its state on the
// message bus. The event is retained so late subscribers see the current
// state immediately.
package netmon

import (
	"context"

	"acqdevice-go/bus"
	"acqdevice-go/types"
	"acqdevice-go/x/logx"
)

// Service bridges a hardware link monitor onto the bus.
type Service struct {
	log *logx.Logger
	mon types.LinkMonitor
}

func New(mon types.LinkMonitor) *Service {
	return &Service{log: logx.New("net"), mon: mon}
}

// Start spawns the watcher. The monitor yields the current state first, so
// the retained {"net","link"} event exists as soon as the loop runs once.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	states := s.mon.States()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-states:
			if !ok {
				return
			}
			if up {
				s.log.Infof("Network interface up")
			} else {
				s.log.Warnf("Network interface down")
			}
			conn.Publish(conn.NewMessage(bus.T("net", "link"), types.LinkEvent{Up: up}, true))
		}
	}
}
