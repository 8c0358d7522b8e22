package fpgaload

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// fakeFlash simulates a SPI NOR flash behind a GPIO chip-select.
type fakeFlash struct {
	t  *testing.T
	cs *recPin

	mem []byte
	id  [3]byte

	asleep    bool
	wel       bool
	busy      int // status reads left that report busy
	busyPerOp int
	stuck     bool

	ops     []fakeOp
	ignored []fakeOp // commands a real chip would have dropped
	trace   *[]string
}

type fakeOp struct {
	cmd  byte
	addr int
	n    int // payload length
}

func newFakeFlash(t *testing.T, cs *recPin, trace *[]string) *fakeFlash {
	f := &fakeFlash{
		t:      t,
		cs:     cs,
		mem:    make([]byte, 4<<20),
		id:     flashIDMicronN25Q32,
		asleep: true,
		trace:  trace,
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

var _ spi.Conn = &fakeFlash{}

func (f *fakeFlash) String() string      { return "fakeflash" }
func (f *fakeFlash) Duplex() conn.Duplex { return conn.Full }

func (f *fakeFlash) TxPackets([]spi.Packet) error {
	return errors.New("fakeflash: packets not supported")
}

func (f *fakeFlash) Tx(w, r []byte) error {
	if f.cs.input || f.cs.Read() != gpio.Low {
		f.t.Errorf("command %#02x sent without chip-select asserted", w[0])
	}
	in := append([]byte(nil), w...)
	out := make([]byte, len(in))
	op := fakeOp{cmd: in[0]}
	if len(in) >= 4 {
		op.addr = int(in[1])<<16 | int(in[2])<<8 | int(in[3])
		op.n = len(in) - 4
	}

	switch {
	case f.asleep && op.cmd != flashCmdPowerUp:
		f.ignored = append(f.ignored, op)
		copy(r, out)
		return nil
	case (f.busy > 0 || f.stuck) && op.cmd != flashCmdReadStatusRegister:
		f.ignored = append(f.ignored, op)
		copy(r, out)
		return nil
	}
	f.ops = append(f.ops, op)

	switch op.cmd {
	case flashCmdPowerUp:
		f.asleep = false
		*f.trace = append(*f.trace, "flash wake")
	case flashCmdPowerDown:
		f.asleep = true
		*f.trace = append(*f.trace, "flash sleep")
	case flashCmdReadID:
		copy(out[1:], f.id[:])
	case flashCmdReadStatusRegister:
		var sr byte
		if f.busy > 0 || f.stuck {
			sr |= 1
			if f.busy > 0 {
				f.busy--
			}
		}
		if f.wel {
			sr |= 2
		}
		for i := 1; i < len(out); i++ {
			out[i] = sr
		}
	case flashCmdWriteEnable:
		f.wel = true
	case flashCmdErase64KB:
		if !f.wel {
			f.ignored = append(f.ignored, op)
			break
		}
		base := op.addr &^ (SectorSize - 1)
		for i := base; i < base+SectorSize; i++ {
			f.mem[i] = 0xFF
		}
		f.wel = false
		f.busy = f.busyPerOp
	case flashCmdPageProgram:
		if !f.wel {
			f.ignored = append(f.ignored, op)
			break
		}
		for i, b := range in[4:] {
			a := op.addr&^(PageSize-1) | (op.addr+i)&(PageSize-1)
			f.mem[a] &= b
		}
		f.wel = false
		f.busy = f.busyPerOp
	case flashCmdRead:
		copy(out[4:], f.mem[op.addr:])
	case flashCmdEraseChip:
		for i := range f.mem {
			f.mem[i] = 0xFF
		}
		f.wel = false
		f.busy = f.busyPerOp
	default:
		f.t.Errorf("unexpected command %#02x", op.cmd)
	}
	copy(r, out)
	return nil
}

// count returns how many accepted commands had opcode cmd.
func (f *fakeFlash) count(cmd byte) int {
	n := 0
	for _, op := range f.ops {
		if op.cmd == cmd {
			n++
		}
	}
	return n
}

// erases returns the addresses of accepted sector erases, in order.
func (f *fakeFlash) erases() []int {
	var a []int
	for _, op := range f.ops {
		if op.cmd == flashCmdErase64KB {
			a = append(a, op.addr)
		}
	}
	return a
}

// index returns the position in the op log of the first command cmd at addr.
func (f *fakeFlash) index(cmd byte, addr int) int {
	for i, op := range f.ops {
		if op.cmd == cmd && op.addr == addr {
			return i
		}
	}
	return -1
}

// recPin is a gpiotest.Pin that remembers its direction and logs to a
// shared trace: level changes when traceOut is set, and releases.
type recPin struct {
	gpiotest.Pin
	input    bool
	trace    *[]string
	traceOut bool
	failOut  error
}

func (p *recPin) Out(l gpio.Level) error {
	if p.failOut != nil {
		return p.failOut
	}
	p.input = false
	if p.traceOut {
		*p.trace = append(*p.trace, fmt.Sprintf("%s=%s", p.N, l))
	}
	return p.Pin.Out(l)
}

func (p *recPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.input = true
	*p.trace = append(*p.trace, p.N+"=in")
	return p.Pin.In(pull, edge)
}

// rig is a Loader wired to a fake flash and recording pins.
type rig struct {
	flash *fakeFlash
	cs    *recPin
	reset *recPin
	done  *gpiotest.Pin

	trace  []string // reset levels, CS release, wake/sleep, timed delays
	sleeps []time.Duration

	loader *Loader
}

func newRig(t *testing.T, opts ...Option) *rig {
	r := &rig{}
	r.cs = &recPin{Pin: gpiotest.Pin{N: "cs", L: gpio.High}, trace: &r.trace}
	r.reset = &recPin{Pin: gpiotest.Pin{N: "reset", L: gpio.High}, trace: &r.trace, traceOut: true}
	r.done = &gpiotest.Pin{N: "cdone", L: gpio.High}
	r.flash = newFakeFlash(t, r.cs, &r.trace)

	sleep := func(d time.Duration) {
		r.sleeps = append(r.sleeps, d)
		if d >= time.Millisecond {
			r.trace = append(r.trace, "sleep "+d.String())
		}
	}
	opts = append([]Option{WithSleep(sleep)}, opts...)
	r.loader = NewLoader(r.flash, r.cs, r.reset, r.done, opts...)
	return r
}

func (r *rig) bus() *Bus { return r.loader.bus }

func (r *rig) writer() *SectorWriter { return r.loader.writer }
