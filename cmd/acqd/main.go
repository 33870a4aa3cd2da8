// acqd is the instrument daemon: it assembles the simulated hardware, runs
// the startup sequence and serves the control, stream and status surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"

	"acqdevice-go/adc"
	"acqdevice-go/bus"
	"acqdevice-go/config"
	chgdrv "acqdevice-go/drivers/charger"
	"acqdevice-go/platform"
	chgsvc "acqdevice-go/services/charger"
	"acqdevice-go/services/command"
	"acqdevice-go/services/discharge"
	"acqdevice-go/services/energydbg"
	"acqdevice-go/services/netmon"
	"acqdevice-go/services/statuslink"
	"acqdevice-go/services/stream"
	"acqdevice-go/services/supervisor"
	"acqdevice-go/x/logx"
)

const version = "1.0.0"

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "acqd:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.Log.File != "" {
		logx.UseRotatingFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(16)

	// Simulated hardware. An on-target build would construct pin-backed
	// ports here instead.
	twoWire := platform.NewTwoWire(cfg.Charger.Address, map[byte]uint16{
		chgdrv.RegDeviceID: chgdrv.DeviceID,
	})
	link := platform.NewLink(true)
	button := platform.NewIRQPin(false)

	defaults, err := adcDefaults(cfg)
	if err != nil {
		return err
	}

	internal := adc.NewInternal(platform.NewSine(1000, 12000))
	external := adc.NewExternal(platform.NewSine(250, 20000), adc.ExternalPorts{
		Ready:      platform.NewPin(false),
		ChipSelect: platform.NewPin(true),
		PowerDown:  platform.NewPin(false),
	})
	engine, err := stream.NewEngine(ctx, internal, external, defaults,
		cfg.Stream.MaxConnections, cfg.Stream.QueueDepth, b.NewConnection("stream"))
	if err != nil {
		return err
	}

	status := statuslink.NewRegistry(cfg.StatusLink.MaxLinks, cfg.StatusLink.QueueDepth)

	ctl, err := discharge.New(ctx, discharge.Ports{
		DAC:        platform.NewDAC(),
		Load:       platform.NewPin(true),
		Bat:        platform.NewPin(false),
		PPath:      platform.NewPin(false),
		LatchReset: platform.NewPin(false),
		UV:         platform.NewIRQPin(false),
		OV:         platform.NewIRQPin(false),
		OC:         platform.NewIRQPin(false),
	}, status)
	if err != nil {
		return err
	}

	chg := chgsvc.New(chgdrv.New(twoWire, cfg.Charger.Address), status,
		time.Duration(cfg.Charger.PollPeriodMS)*time.Millisecond)

	edbg := energydbg.New(engine, cfg.EnergyDebug.MaxPeers, cfg.StatusLink.QueueDepth)
	var tags io.Reader
	if cfg.EnergyDebug.TagPort != "" {
		port, err := serial.Open(cfg.EnergyDebug.TagPort, &serial.Mode{
			BaudRate: cfg.EnergyDebug.TagBaud,
		})
		if err != nil {
			return fmt.Errorf("tag port %s: %w", cfg.EnergyDebug.TagPort, err)
		}
		defer port.Close()
		tags = port
	}

	name := cfg.Device.Name
	cmd := command.NewService(fmt.Sprintf(":%d", cfg.Control.Port))
	cmd.RegisterAll(ctx, command.Deps{
		Name:      func() string { return name },
		SetName:   func(n string) error { name = n; return nil },
		Version:   version,
		Engine:    engine,
		Discharge: ctl,
		Charger:   chg,
		Status:    status,
		Debugger:  edbg,
		Conn:      b.NewConnection("cmd-rgb"),
	})

	sup := supervisor.New(b, supervisor.LEDs{
		Error: platform.NewPin(false),
		Link:  platform.NewPin(false),
		R:     platform.NewPWM(),
		G:     platform.NewPWM(),
		B:     platform.NewPWM(),
	})

	stages := []supervisor.Stage{
		{Name: "charger", Start: chg.Start},
		{Name: "edbg", Start: func(ctx context.Context, _ *bus.Connection) error {
			if err := edbg.Button(button); err != nil {
				return err
			}
			edbg.Start(ctx, tags)
			return nil
		}},
		{Name: "net", Start: netmon.New(link).Start},
		{Name: "cmd", Start: cmd.Start},
	}
	if err := sup.Run(ctx, stages); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// adcDefaults maps the config file onto a validated acquisition config.
func adcDefaults(cfg *config.Config) (adc.Config, error) {
	c := adc.DefaultConfig()
	if err := c.SetResolution(cfg.ADC.Resolution); err != nil {
		return c, err
	}
	if err := c.SetClockDiv(cfg.ADC.ClockDiv); err != nil {
		return c, err
	}
	for ch := 0; ch < 2; ch++ {
		if err := c.SetSampleTime(ch, cfg.ADC.SampleTime); err != nil {
			return c, err
		}
		if err := c.SetAveraging(ch, cfg.ADC.Averaging); err != nil {
			return c, err
		}
	}
	if err := c.SetSamplingPeriod(cfg.ADC.Prescaler, cfg.ADC.Period); err != nil {
		return c, err
	}
	if err := c.SetSamplesPerBuffer(cfg.ADC.SamplesPerBuffer); err != nil {
		return c, err
	}
	return c, nil
}
