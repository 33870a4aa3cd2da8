package command

import (
	"context"
	"fmt"
	"strconv"

	"acqdevice-go/adc"
	"acqdevice-go/bus"
	"acqdevice-go/errcode"
	chgsvc "acqdevice-go/services/charger"
	"acqdevice-go/services/discharge"
	"acqdevice-go/services/energydbg"
	"acqdevice-go/services/statuslink"
	"acqdevice-go/services/stream"
	"acqdevice-go/types"
	"acqdevice-go/x/mathx"
)

// Deps are the subsystems the command surface drives. Nil members leave
// their commands unregistered, which keeps tests small.
type Deps struct {
	Name    func() string
	SetName func(string) error
	Version string

	Engine    *stream.Engine
	Discharge *discharge.Controller
	Charger   *chgsvc.Service
	Status    *statuslink.Registry
	Debugger  *energydbg.Service

	Conn *bus.Connection
}

func onOff(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseEnable(a Args) (bool, error) {
	v, err := a.Int("value")
	if err != nil {
		return false, err
	}
	if !mathx.Between(v, 0, 1) {
		return false, errcode.InvalidArgs
	}
	return v == 1, nil
}

// RegisterAll installs the whole control surface.
func (s *Service) RegisterAll(ctx context.Context, d Deps) {
	s.registerDevice(d)
	if d.Engine != nil {
		s.registerStream(d.Engine)
		s.registerADC(d.Engine)
	}
	if d.Discharge != nil {
		s.registerDischarge(d.Discharge)
	}
	if d.Charger != nil {
		s.registerCharger(d.Charger)
	}
	if d.Status != nil {
		s.registerStatusLinks(ctx, d.Status)
	}
	if d.Debugger != nil {
		s.Handle("device eplink create", func(a Args) (string, error) {
			ip, err := a.Str("ip")
			if err != nil {
				return "", err
			}
			port, err := a.Int("port")
			if err != nil {
				return "", err
			}
			id, err := d.Debugger.CreatePeer(ctx, ip, int(port))
			if err != nil {
				return "", err
			}
			return strconv.Itoa(id), nil
		})
	}
}

func (s *Service) registerDevice(d Deps) {
	if d.Name != nil {
		s.Handle("device hello", func(Args) (string, error) {
			return d.Name(), nil
		})
		s.Handle("device name get", func(Args) (string, error) {
			return d.Name(), nil
		})
	}
	if d.SetName != nil {
		s.Handle("device setname", func(a Args) (string, error) {
			name, err := a.Str("value")
			if err != nil {
				return "", err
			}
			return "", d.SetName(name)
		})
	}
	if d.Version != "" {
		s.Handle("device version get", func(Args) (string, error) {
			return d.Version, nil
		})
	}
	if d.Conn != nil {
		s.Handle("device rgb setcolor", func(a Args) (string, error) {
			r, err := a.Int("r")
			if err != nil {
				return "", err
			}
			g, err := a.Int("g")
			if err != nil {
				return "", err
			}
			b, err := a.Int("b")
			if err != nil {
				return "", err
			}
			if !mathx.Between(r, 0, 255) || !mathx.Between(g, 0, 255) || !mathx.Between(b, 0, 255) {
				return "", errcode.InvalidArgs
			}
			d.Conn.Publish(d.Conn.NewMessage(bus.T("rgb", "set"),
				types.RGBSet{R: uint8(r), G: uint8(g), B: uint8(b)}, false))
			return "", nil
		})
	}
}

func (s *Service) registerStream(e *stream.Engine) {
	s.Handle("device stream create", func(a Args) (string, error) {
		ip, err := a.Str("ip")
		if err != nil {
			return "", err
		}
		port, err := a.Int("port")
		if err != nil {
			return "", err
		}
		id, err := e.Create(ip, int(port))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(id), nil
	})
	s.Handle("device stream start", func(a Args) (string, error) {
		sid, err := a.Int("sid")
		if err != nil {
			return "", err
		}
		which, err := a.Int("adc")
		if err != nil {
			return "", err
		}
		var backend adc.BackendID
		switch which {
		case int64(adc.Internal):
			backend = adc.Internal
		case int64(adc.External):
			backend = adc.External
		default:
			return "", errcode.InvalidArgs
		}
		if err := e.Start(int(sid), backend); err != nil {
			return "", err
		}
		return "OK", nil
	})
	s.Handle("device stream stop", func(a Args) (string, error) {
		sid, err := a.Int("sid")
		if err != nil {
			return "", err
		}
		if err := e.Stop(int(sid)); err != nil {
			return "", err
		}
		return "OK", nil
	})
}

// streamConn resolves the stream connection an adc command targets; sid
// defaults to the first connection.
func streamConn(e *stream.Engine, a Args) (*stream.Conn, error) {
	sid, err := a.IntOr("sid", 0)
	if err != nil {
		return nil, err
	}
	return e.Conn(int(sid))
}

func (s *Service) registerADC(e *stream.Engine) {
	s.Handle("device adc chresolution set", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		v, err := a.Int("value")
		if err != nil {
			return "", err
		}
		return "", c.SetResolution(uint8(v))
	})
	s.Handle("device adc chresolution get", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		v, err := c.Resolution()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	})

	s.Handle("device adc chclkdiv set", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		v, err := a.Int("value")
		if err != nil {
			return "", err
		}
		return "", c.SetClockDiv(uint16(v))
	})
	s.Handle("device adc chclkdiv get", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		v, err := c.ClockDiv()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	})

	s.Handle("device adc chstime set", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		ch, err := a.Channel()
		if err != nil {
			return "", err
		}
		v, err := a.Float("value")
		if err != nil {
			return "", err
		}
		return "", c.SetSampleTime(ch, v)
	})
	s.Handle("device adc chstime get", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		ch, err := a.Channel()
		if err != nil {
			return "", err
		}
		v, err := c.SampleTime(ch)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'f', 1, 64), nil
	})

	s.Handle("device adc chavrratio set", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		ch, err := a.Channel()
		if err != nil {
			return "", err
		}
		v, err := a.Int("value")
		if err != nil {
			return "", err
		}
		return "", c.SetAveraging(ch, uint16(v))
	})
	s.Handle("device adc chavrratio get", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		ch, err := a.Channel()
		if err != nil {
			return "", err
		}
		v, err := c.Averaging(ch)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	})

	// voffset drives the voltage channel, coffset the current channel.
	offset := func(ch int) (Handler, Handler) {
		set := func(a Args) (string, error) {
			c, err := streamConn(e, a)
			if err != nil {
				return "", err
			}
			v, err := a.Int("value")
			if err != nil {
				return "", err
			}
			return "", c.SetOffset(ch, int32(v))
		}
		get := func(a Args) (string, error) {
			c, err := streamConn(e, a)
			if err != nil {
				return "", err
			}
			v, err := c.Offset(ch)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(v)), nil
		}
		return set, get
	}
	vset, vget := offset(0)
	cset, cget := offset(1)
	s.Handle("device adc voffset set", vset)
	s.Handle("device adc voffset get", vget)
	s.Handle("device adc coffset set", cset)
	s.Handle("device adc coffset get", cget)

	s.Handle("device adc speriod set", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		prescaler, err := a.Int("prescaler")
		if err != nil {
			return "", err
		}
		period, err := a.Int("period")
		if err != nil {
			return "", err
		}
		return "", c.SetSamplingPeriod(uint16(prescaler), uint32(period))
	})
	s.Handle("device adc speriod get", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		p, err := c.SamplingPeriod()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", p.Microseconds()), nil
	})

	s.Handle("device adc clk get", func(Args) (string, error) {
		return strconv.Itoa(adc.TimerClockHz), nil
	})

	s.Handle("device adc samplesno set", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		v, err := a.Int("value")
		if err != nil {
			return "", err
		}
		return "", c.SetSamplesPerBuffer(uint32(v))
	})
	s.Handle("device adc samplesno get", func(a Args) (string, error) {
		c, err := streamConn(e, a)
		if err != nil {
			return "", err
		}
		v, err := c.SamplesPerBuffer()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	})

	s.Handle("device adc value get", func(a Args) (string, error) {
		sid, err := a.IntOr("sid", 0)
		if err != nil {
			return "", err
		}
		ch, err := a.Channel()
		if err != nil {
			return "", err
		}
		v, err := e.Value(int(sid), ch)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	})
}

func (s *Service) registerDischarge(c *discharge.Controller) {
	s.Handle("device dac enable set", func(a Args) (string, error) {
		on, err := parseEnable(a)
		if err != nil {
			return "", err
		}
		c.EnableDAC(on)
		return "", nil
	})
	s.Handle("device dac enable get", func(Args) (string, error) {
		return onOff(c.DACEnabled()), nil
	})
	s.Handle("device dac value set", func(a Args) (string, error) {
		v, err := a.Int("value")
		if err != nil || !mathx.Between(v, 0, 0xFFFF) {
			return "", errcode.InvalidArgs
		}
		c.SetDACValue(uint16(v))
		return "", nil
	})
	s.Handle("device dac value get", func(Args) (string, error) {
		return strconv.Itoa(int(c.DACValue())), nil
	})

	sw := func(name string, set func(bool), get func() bool) {
		s.Handle("device "+name+" enable", func(Args) (string, error) {
			set(true)
			return "", nil
		})
		s.Handle("device "+name+" disable", func(Args) (string, error) {
			set(false)
			return "", nil
		})
		s.Handle("device "+name+" get", func(Args) (string, error) {
			return onOff(get()), nil
		})
	}
	sw("load", c.SetLoad, c.LoadEnabled)
	sw("bat", c.SetBat, c.BatEnabled)
	sw("ppath", c.SetPPath, c.PPathEnabled)

	s.Handle("device uvoltage get", func(Args) (string, error) {
		return onOff(c.UnderVoltage()), nil
	})
	s.Handle("device ovoltage get", func(Args) (string, error) {
		return onOff(c.OverVoltage()), nil
	})
	s.Handle("device ocurrent get", func(Args) (string, error) {
		return onOff(c.OverCurrent()), nil
	})
	s.Handle("device latch trigger", func(Args) (string, error) {
		c.LatchTrigger()
		return "", nil
	})

	s.Handle("device wave add", func(a Args) (string, error) {
		spec, err := a.Str("value")
		if err != nil {
			return "", err
		}
		return "", c.AddChunk(spec)
	})
	s.Handle("device wave start", func(Args) (string, error) {
		return "", c.StartWave()
	})
	s.Handle("device wave stop", func(Args) (string, error) {
		return "", c.StopWave()
	})
	s.Handle("device wave clear", func(Args) (string, error) {
		return "", c.ClearWave()
	})
}

func (s *Service) registerCharger(c *chgsvc.Service) {
	s.Handle("charger charging enable", func(Args) (string, error) {
		return "", c.SetChargingEnabled(true)
	})
	s.Handle("charger charging disable", func(Args) (string, error) {
		return "", c.SetChargingEnabled(false)
	})
	s.Handle("charger charging get", func(Args) (string, error) {
		on, err := c.ChargingEnabled()
		if err != nil {
			return "", err
		}
		return onOff(on), nil
	})

	setting := func(name string, set func(uint32) error, get func() (uint32, error)) {
		s.Handle("charger charging "+name+" set", func(a Args) (string, error) {
			v, err := a.Uint("value")
			if err != nil {
				return "", err
			}
			return "", set(uint32(v))
		})
		s.Handle("charger charging "+name+" get", func(Args) (string, error) {
			v, err := get()
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(v)), nil
		})
	}
	setting("current", c.SetChargeCurrent, c.ChargeCurrent)
	setting("termcurrent", c.SetTermCurrent, c.TermCurrent)
	setting("termvoltage", c.SetTermVoltage, c.TermVoltage)

	s.Handle("charger reg read", func(a Args) (string, error) {
		reg, err := a.Uint("reg")
		if err != nil || reg > 0xFF {
			return "", errcode.InvalidArgs
		}
		v, err := c.ReadRegister(byte(reg))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("0x%04X", v), nil
	})
}

func (s *Service) registerStatusLinks(ctx context.Context, r *statuslink.Registry) {
	s.Handle("device slink create", func(a Args) (string, error) {
		ip, err := a.Str("ip")
		if err != nil {
			return "", err
		}
		port, err := a.Int("port")
		if err != nil {
			return "", err
		}
		id, err := r.Create(ctx, ip, int(port))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(id), nil
	})
	s.Handle("device slink send", func(a Args) (string, error) {
		text, err := a.Str("value")
		if err != nil {
			return "", err
		}
		r.Broadcast(types.StatusInfo, []byte(text+"\r\n"))
		return "", nil
	})
}
