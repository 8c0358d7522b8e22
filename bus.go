package fpgaload

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

// Mode tells which device owns the shared SPI bus.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModeFlash              // FPGA held in reset, flash awake, CS driven by us
	ModeFPGA               // flash asleep, CS released, FPGA configured from flash
)

func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeFlash:
		return "flash"
	case ModeFPGA:
		return "fpga"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Bus arbitrates the SPI bus and chip-select shared by the configuration
// flash and the FPGA. The FPGA boots from the flash as SPI master, so the two
// sides must never drive the bus at the same time.
//
// [iCEBreaker] / [Lattice-EB82]: iCE_SS_B is wired to the flash /CS, CRESET_B
// low holds the FPGA off the bus and CDONE goes high once it has configured.
type Bus struct {
	flash *Flash
	cs    gpio.PinIO
	reset gpio.PinOut
	done  gpio.PinIn // optional

	mode   Mode
	timing ResetTiming
	sleep  func(time.Duration)
	log    logrus.FieldLogger
}

// NewBus returns a bus in ModeUninitialized. done may be nil when CDONE is not
// wired.
func NewBus(flash *Flash, cs gpio.PinIO, reset gpio.PinOut, done gpio.PinIn, opts ...Option) *Bus {
	c := newConfig(opts)
	return &Bus{
		flash:  flash,
		cs:     cs,
		reset:  reset,
		done:   done,
		timing: c.Timing,
		sleep:  c.Sleep,
		log:    c.Logger,
	}
}

func (b *Bus) Mode() Mode { return b.mode }

// Flash returns the flash if the bus is in ModeFlash.
func (b *Bus) Flash() (*Flash, error) {
	if b.mode != ModeFlash {
		return nil, errors.Wrapf(ErrInvalidState, "flash access in %s mode", b.mode)
	}
	return b.flash, nil
}

// EnterFlashMode holds the FPGA in reset, takes the chip-select and wakes
// the flash. It may be called in any mode.
func (b *Bus) EnterFlashMode() (err error) {
	b.log.Debugf("bus: %s -> flash", b.mode)
	defer b.settle(ModeFlash, &err)

	// Hold the FPGA reset low while the flash is being programmed, otherwise
	// the iCE chip tries to control the flash.
	if err := b.reset.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "assert FPGA reset")
	}
	b.sleep(b.timing.Hold)

	if err := b.cs.Out(gpio.High); err != nil {
		return errors.Wrap(err, "drive flash chip-select")
	}
	return errors.Wrap(b.flash.PowerUp(), "wake flash")
}

// EnterFPGAMode puts the flash to sleep, releases the chip-select and pulses
// the FPGA reset so it loads its configuration from flash. In ModeFPGA only
// the reset pulse is repeated.
func (b *Bus) EnterFPGAMode() (err error) {
	b.log.Debugf("bus: %s -> fpga", b.mode)
	defer b.settle(ModeFPGA, &err)

	if b.mode != ModeFPGA {
		if err := b.release(); err != nil {
			return err
		}
	}

	t := b.timing
	for _, step := range []struct {
		l gpio.Level
		d time.Duration
	}{
		{gpio.High, t.High},
		{gpio.Low, t.Pulse},
		{gpio.High, t.Settle},
	} {
		if err := b.reset.Out(step.l); err != nil {
			return errors.Wrap(err, "pulse FPGA reset")
		}
		b.sleep(step.d)
	}

	if b.done != nil && b.done.Read() == gpio.Low {
		return ErrNotConfigured
	}
	return nil
}

func (b *Bus) release() error {
	if err := b.reset.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "assert FPGA reset")
	}
	if err := b.cs.Out(gpio.High); err != nil {
		return errors.Wrap(err, "drive flash chip-select")
	}
	if err := b.flash.PowerDown(); err != nil {
		return errors.Wrap(err, "put flash to sleep")
	}
	if err := b.cs.In(gpio.Float, gpio.NoEdge); err != nil {
		return errors.Wrap(err, "release flash chip-select")
	}
	b.sleep(b.timing.Release)
	return nil
}

// settle commits the target mode, or drops to ModeUninitialized when the
// transition failed part way. A missing CDONE still leaves the bus released.
func (b *Bus) settle(target Mode, err *error) {
	if *err == nil || errors.Is(*err, ErrNotConfigured) {
		b.mode = target
		return
	}
	b.mode = ModeUninitialized
}
