package fpgaload

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Flash drives a SPI NOR flash through a connection whose chip-select is a
// plain GPIO, so the pin can be handed over to the FPGA between sessions.
type Flash struct {
	conn spi.Conn
	cs   gpio.PinOut
	id   [3]byte // JEDEC ID of the flash chip
	pr   *flashParams

	sleep         func(time.Duration)
	pollInterval  time.Duration
	eraseInterval time.Duration
	log           logrus.FieldLogger
}

func NewFlash(conn spi.Conn, cs gpio.PinOut, opts ...Option) *Flash {
	c := newConfig(opts)
	return &Flash{
		conn:          conn,
		cs:            cs,
		sleep:         c.Sleep,
		pollInterval:  c.PollInterval,
		eraseInterval: c.EraseInterval,
		log:           c.Logger,
	}
}

// Flash commands:
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	flashCmdPowerUp            = 0xAB // Release Power Down
	flashCmdPowerDown          = 0xB9
	flashCmdReadID             = 0x9F
	flashCmdRead               = 0x03
	flashCmdWriteEnable        = 0x06
	flashCmdPageProgram        = 0x02
	flashCmdErase64KB          = 0xD8 // Sector Erase / Block Erase (64KB)
	flashCmdEraseChip          = 0xC7 // Bulk Erase / Chip Erase
	flashCmdReadStatusRegister = 0x05
)

const (
	SectorSize = 64 << 10
	PageSize   = 256

	maxAddress = 1<<24 - 1 // 0xFFFFFF
)

// tx wraps SPI transaction with CS assertion.
func (f *Flash) tx(buf []byte) (err error) {
	cmd := buf[0]
	if err = f.cs.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "assert flash chip-select")
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = errors.Wrap(csErr, "release flash chip-select")
		}
	}()
	if err = f.conn.Tx(buf, buf); err != nil {
		return errors.Wrapf(err, "spi tx %#02x", cmd)
	}
	return nil
}

// cmdAddr builds an addressed command followed by n payload bytes.
func cmdAddr(cmd byte, addr, n int) []byte {
	buf := make([]byte, 4+n)
	buf[0] = cmd
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	return buf
}

func (f *Flash) PowerUp() error {
	if err := f.tx([]byte{flashCmdPowerUp}); err != nil {
		return err
	}
	f.sleep(f.tRES1())
	return nil
}

func (f *Flash) PowerDown() error {
	if err := f.tx([]byte{flashCmdPowerDown}); err != nil {
		return err
	}
	f.sleep(f.tDP())
	return nil
}

// ReadID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 4)
	buf[0] = flashCmdReadID

	if err = f.tx(buf); err != nil {
		return
	}

	f.id = [3]byte(buf[1:])
	f.pr = nil
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, nil
}

// Read performs a read operation, splitting it into multiple transactions if needed
// to stay within the maximum transaction size.
func (f *Flash) Read(addr, n int) ([]byte, error) {
	const (
		maxTx    = 65536 // [FTDI-AN_108]
		cmdBytes = 4     // opRead + 24-bit address
		maxData  = maxTx - cmdBytes
	)

	if addr < 0 || n < 0 || addr+n-1 > maxAddress {
		return nil, errors.Wrapf(ErrAddressRange, "read 0x%X+%d", addr, n)
	}

	out := make([]byte, n)
	off := 0
	for remaining := n; remaining > 0; {
		chunk := min(remaining, maxData)
		buf := cmdAddr(flashCmdRead, addr, chunk)
		// buf[4:] dummy bytes

		if err := f.tx(buf); err != nil {
			return nil, err
		}

		copy(out[off:], buf[cmdBytes:])

		addr += chunk
		off += chunk
		remaining -= chunk
	}
	return out, nil
}

func (f *Flash) writeEnable() error {
	return f.tx([]byte{flashCmdWriteEnable})
}

// Program writes data at addr and waits for the chip to finish. data must
// not run past the end of the 256-byte page containing addr; the chip would
// wrap around to the start of the page.
func (f *Flash) Program(addr int, data []byte) error {
	if addr < 0 || addr+len(data)-1 > maxAddress {
		return errors.Wrapf(ErrAddressRange, "program 0x%X+%d", addr, len(data))
	}
	if len(data) == 0 || addr%PageSize+len(data) > PageSize {
		return errors.Errorf("program 0x%X: %d bytes cross a page boundary", addr, len(data))
	}
	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := cmdAddr(flashCmdPageProgram, addr, len(data))
	copy(buf[4:], data)

	if err := f.tx(buf); err != nil {
		return err
	}
	return f.BusyWait(f.pollInterval, f.tPP())
}

// Erase64KB erases the 64KB sector containing addr.
func (f *Flash) Erase64KB(addr int) error {
	if addr < 0 || addr > maxAddress {
		return errors.Wrapf(ErrAddressRange, "erase 0x%X", addr)
	}
	f.log.Debugf("erasing sector at 0x%06X", addr&^(SectorSize-1))
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.tx(cmdAddr(flashCmdErase64KB, addr, 0)); err != nil {
		return err
	}
	return f.BusyWait(f.eraseInterval, f.tErase64KB())
}

// EraseChip bulk erase the entire chip.
func (f *Flash) EraseChip() error {
	f.log.Debug("erasing chip")
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.tx([]byte{flashCmdEraseChip}); err != nil {
		return err
	}
	return f.BusyWait(time.Second, f.tEraseChip())
}
