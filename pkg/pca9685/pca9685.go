package pca9685

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.

	PWMPeriod = 20 * time.Millisecond
	PWMMax    = 4095

	NumPorts = 16
)

type Interface interface {
	Configure() error
	// SetPulse drives port with a pulse of the given width every PWMPeriod.
	// A zero width turns the output fully off.
	SetPulse(port int, width time.Duration) error
	Close() error
}

type register interface {
	Write(b []byte) (int, error)
}

type PCA9685 struct {
	dev register
	bus i2c.BusCloser
}

// New opens the board on the named I2C bus ("" picks the first one).
func New(busName string, addr uint16) (Interface, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, err
	}
	if addr == 0 {
		addr = DefaultAddr
	}
	return &PCA9685{
		dev: &i2c.Dev{Addr: addr, Bus: bus},
		bus: bus,
	}, nil
}

func (p *PCA9685) writeReg(reg byte, data ...byte) error {
	_, err := p.dev.Write(append([]byte{reg}, data...))
	return err
}

func (p *PCA9685) Configure() (err error) {
	// Put device to sleep.
	err = p.writeReg(RegMode1, 0x11)
	if err != nil {
		return
	}
	// Update pre-scaler for 50Hz.
	err = p.writeReg(RegPreScale, 0x79)
	if err != nil {
		return
	}
	// Trigger a reset
	err = p.writeReg(RegMode1, 0x01)
	if err != nil {
		return
	}
	// Required delay after reset.
	time.Sleep(1 * time.Millisecond)
	// Enable.
	err = p.writeReg(RegMode1, 0x81)
	return
}

// PulseCounts converts a pulse width into the 12-bit off-count register value.
func PulseCounts(width time.Duration) uint16 {
	if width <= 0 {
		return 0
	}
	if width >= PWMPeriod {
		return PWMMax
	}
	return uint16(int64(PWMMax) * int64(width) / int64(PWMPeriod))
}

func (p *PCA9685) SetPulse(port int, width time.Duration) error {
	if port < 0 || port >= NumPorts {
		return fmt.Errorf("servo port out of range: %d", port)
	}
	return p.setCounts(port, PulseCounts(width))
}

func (p *PCA9685) setCounts(port int, off uint16) error {
	addr := RegLEDBase + port*4
	return p.writeReg(byte(addr), 0, 0, byte(off&0xff), byte(off>>8))
}

func (p *PCA9685) Close() error {
	if p.bus == nil {
		return nil
	}
	return p.bus.Close()
}

func Dummy() Interface {
	return &dummyServo{}
}

type dummyServo struct {
}

func (*dummyServo) Configure() error {
	return nil
}

func (*dummyServo) SetPulse(port int, width time.Duration) error {
	return nil
}

func (*dummyServo) Close() error {
	return nil
}
