// Package charger drives the battery charger controller over its two-wire
// bus. All registers are 16-bit words transferred low byte first.
package charger

import (
	"tinygo.org/x/drivers"

	"acqdevice-go/errcode"
	"acqdevice-go/x/mathx"
)

const (
	// 7-bit bus address.
	AddressDefault = 0x6B

	// Expected content of the identity register.
	DeviceID = 0x41B5
)

// Register sub-addresses.
const (
	RegDeviceID      = 0x00 // R
	RegChargeControl = 0x01 // R/W, bit0 = charge enable
	RegChargeCurrent = 0x02 // R/W, 64 mA/LSB
	RegTermCurrent   = 0x03 // R/W, 8 mA/LSB
	RegTermVoltage   = 0x04 // R/W, 16 mV/LSB
	RegChargerStatus = 0x05 // R, bits 1:0 = charge phase
)

const ctlChargeEnable = 1 << 0

// Charge phases reported by RegChargerStatus.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhasePrecharge
	PhaseFast
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrecharge:
		return "precharge"
	case PhaseFast:
		return "charging"
	default:
		return "done"
	}
}

// Scaling of the setting registers.
const (
	chargeCurrentLSB_mA = 64
	termCurrentLSB_mA   = 8
	termVoltageLSB_mV   = 16
)

// Device is one charger controller instance on an I²C bus.
type Device struct {
	i2c  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

// New constructs a Device at addr (AddressDefault if zero).
func New(i2c drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = AddressDefault
	}
	return &Device{i2c: i2c, addr: addr}
}

// I2C 16-bit word operations (little-endian: LOW then HIGH).

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val)      // low
	d.w[2] = byte(val >> 8) // high
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}

// Ping verifies the device answers with its identity word.
func (d *Device) Ping() error {
	id, err := d.readWord(RegDeviceID)
	if err != nil {
		return err
	}
	if id != DeviceID {
		return errcode.Hardware
	}
	return nil
}

// ReadRegister exposes a raw word read for the diagnostic surface.
func (d *Device) ReadRegister(reg byte) (uint16, error) {
	return d.readWord(reg)
}

// SetChargingEnabled sets or clears the charge-enable control bit.
func (d *Device) SetChargingEnabled(on bool) error {
	ctl, err := d.readWord(RegChargeControl)
	if err != nil {
		return err
	}
	if on {
		ctl |= ctlChargeEnable
	} else {
		ctl &^= ctlChargeEnable
	}
	return d.writeWord(RegChargeControl, ctl)
}

// ChargingEnabled reads back the charge-enable control bit.
func (d *Device) ChargingEnabled() (bool, error) {
	ctl, err := d.readWord(RegChargeControl)
	if err != nil {
		return false, err
	}
	return ctl&ctlChargeEnable != 0, nil
}

// Status reports the current charge phase.
func (d *Device) Status() (Phase, error) {
	s, err := d.readWord(RegChargerStatus)
	if err != nil {
		return PhaseIdle, err
	}
	return Phase(s & 0x3), nil
}

// toCode rounds a physical value onto a register code, clamped to 16 bits.
func toCode(value, lsb uint32) uint16 {
	code := (value + lsb/2) / lsb
	return uint16(mathx.Min(code, 0xFFFF))
}

// SetChargeCurrent programs the fast-charge current in mA.
func (d *Device) SetChargeCurrent(mA uint32) error {
	return d.writeWord(RegChargeCurrent, toCode(mA, chargeCurrentLSB_mA))
}

// ChargeCurrent reads the fast-charge current back in mA.
func (d *Device) ChargeCurrent() (uint32, error) {
	code, err := d.readWord(RegChargeCurrent)
	return uint32(code) * chargeCurrentLSB_mA, err
}

// SetTermCurrent programs the termination current in mA.
func (d *Device) SetTermCurrent(mA uint32) error {
	return d.writeWord(RegTermCurrent, toCode(mA, termCurrentLSB_mA))
}

// TermCurrent reads the termination current back in mA.
func (d *Device) TermCurrent() (uint32, error) {
	code, err := d.readWord(RegTermCurrent)
	return uint32(code) * termCurrentLSB_mA, err
}

// SetTermVoltage programs the termination voltage in mV.
func (d *Device) SetTermVoltage(mV uint32) error {
	return d.writeWord(RegTermVoltage, toCode(mV, termVoltageLSB_mV))
}

// TermVoltage reads the termination voltage back in mV.
func (d *Device) TermVoltage() (uint32, error) {
	code, err := d.readWord(RegTermVoltage)
	return uint32(code) * termVoltageLSB_mV, err
}
