package fpgaload

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// Device is the SPI connection and control pins of a board.
type Device struct {
	FTDI *ftdi.FT232H // nil for native backends

	cs    gpio.PinIO // shared flash /CS and iCE_SS_B
	reset gpio.PinIO // CRESET_B
	cdone gpio.PinIO // CDONE, may be nil

	clock physic.Frequency
	port  spi.PortCloser
	conn  spi.Conn
}

var hostInitialized atomic.Bool

func initHost() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			hostInitialized.Store(false)
			return errors.Wrap(err, "host initialization failed")
		}
	}
	return nil
}

// NewDevice finds FT2232H device and opens MPSSE/SPI connection.
func NewDevice() (*Device, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	d := &Device{
		clock: 30 * physic.MegaHertz, // [AN_135 3.2.1 Divisors]
	}
	if err := d.findFT2232H(); err != nil {
		return nil, err
	}

	// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [icebreaker-sch.pdf]
	// ADBUS0 | iCE_SCK
	// ADBUS1 | iCE_MOSI / FLASH_MOSI
	// ADBUS2 | iCE_MISO / FLASH_MISO
	// ADBUS4 | iCE_SS_B
	// ADBUS6 | iCE_CDONE
	// ADBUS7 | iCE_CRESET / iCE_RESET
	d.cs = d.FTDI.D4
	d.reset = d.FTDI.D7
	d.cdone = d.FTDI.D6

	port, err := d.FTDI.SPI()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get SPI port")
	}
	// [FTDI AN_114|1.2]> FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	// [n25q_32mb_3v_65nm.pdf|Table 7: SPI Modes] mode 0 and mode 3 are supported
	if err := d.connect(port, spi.Mode0); err != nil {
		return nil, err
	}
	return d, nil
}

// NativeConfig names the host SPI port and GPIO pins for boards wired
// directly to a single-board computer.
type NativeConfig struct {
	SPI   string // spireg name, "" for the first port
	CS    string // gpioreg names
	Reset string
	Done  string // optional
	Clock physic.Frequency
}

// OpenNative opens a host SPI port and drives chip-select and reset as
// plain GPIOs, so the chip-select can be released to the FPGA.
func OpenNative(c NativeConfig) (*Device, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	d := &Device{clock: c.Clock}
	if d.clock == 0 {
		d.clock = 2 * physic.MegaHertz
	}
	var err error
	if d.cs, err = pinByName("chip-select", c.CS); err != nil {
		return nil, err
	}
	if d.reset, err = pinByName("reset", c.Reset); err != nil {
		return nil, err
	}
	if c.Done != "" {
		if d.cdone, err = pinByName("done", c.Done); err != nil {
			return nil, err
		}
	}

	port, err := spireg.Open(c.SPI)
	if err != nil {
		return nil, errors.Wrapf(err, "open SPI port %q", c.SPI)
	}
	// The chip-select is toggled as a GPIO by Flash so that it can be
	// tri-stated for the FPGA; keep the controller's own CS out of the way.
	if err := d.connect(port, spi.Mode0|spi.NoCS); err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

func pinByName(role, name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, errors.Errorf("%s pin not set", role)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("%s pin %q not found", role, name)
	}
	return p, nil
}

// Loader returns a Loader driving this device.
func (d *Device) Loader(opts ...Option) *Loader {
	var done gpio.PinIn
	if d.cdone != nil {
		done = d.cdone
	}
	return NewLoader(d.conn, d.cs, d.reset, done, opts...)
}

func (d *Device) Close() error {
	if d.port == nil {
		return nil
	}
	return d.port.Close()
}

func (d *Device) findFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			return nil
		}
	}

	return errors.New("FT2232H not found")
}

func (d *Device) connect(port spi.PortCloser, mode spi.Mode) (err error) {
	d.conn, err = port.Connect(d.clock, mode, 8)
	if err != nil {
		return errors.Wrap(err, "SPI connect")
	}
	d.port = port
	return nil
}
