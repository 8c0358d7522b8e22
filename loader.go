package fpgaload

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// PayloadKind is the encoding of an uploaded image.
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadHex                 // ASCII hex digits, whitespace ignored
	PayloadBinary              // raw bitstream
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadHex:
		return "hex"
	case PayloadBinary:
		return "bin"
	}
	return "unknown"
}

// PayloadKindFromName picks the payload kind from a file extension.
func PayloadKindFromName(name string) PayloadKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".hex":
		return PayloadHex
	case ".bin":
		return PayloadBinary
	}
	return PayloadUnknown
}

// UploadStats summarizes one session.
type UploadStats struct {
	Kind            PayloadKind
	BytesReceived   int // raw chunk bytes handed to AcceptChunk
	BytesWritten    int // bytes programmed into the flash
	SectorsErased   int
	MalformedDigits int
	DanglingNibble  bool // the stream ended after half a byte
	Elapsed         time.Duration
}

// Loader is the interface offered to whatever transport delivers the
// image: a session of chunks followed by a boot of the FPGA.
type Loader struct {
	bus    *Bus
	writer *SectorWriter
	dec    HexDecoder

	active bool
	err    error // sticky failure of the current session
	start  time.Time
	stats  UploadStats

	bootOnEnd bool
	log       logrus.FieldLogger
}

// NewLoader wires a flash, bus and writer over conn. cs is the chip-select
// shared with the FPGA, reset its CRESET line and done its CDONE line (may be
// nil).
func NewLoader(conn spi.Conn, cs gpio.PinIO, reset gpio.PinOut, done gpio.PinIn, opts ...Option) *Loader {
	c := newConfig(opts)
	flash := NewFlash(conn, cs, opts...)
	bus := NewBus(flash, cs, reset, done, opts...)
	return &Loader{
		bus:       bus,
		writer:    NewSectorWriter(bus, opts...),
		bootOnEnd: c.BootOnEnd,
		log:       c.Logger,
	}
}

func (l *Loader) Bus() *Bus { return l.bus }

// BeginSession starts a new upload, discarding any session in progress, and
// takes the bus for the flash.
func (l *Loader) BeginSession(kind PayloadKind) error {
	if l.active {
		l.log.Warnf("upload restarted after %d bytes", l.writer.Written())
	}
	l.dec.Reset()
	l.writer.Reset()
	l.stats = UploadStats{Kind: kind}
	l.start = time.Now()
	l.err = nil
	l.active = true

	l.log.WithField("kind", kind).Info("upload started")
	if kind == PayloadUnknown {
		l.log.Warn("unrecognized payload type, nothing will be written")
	}

	if err := l.bus.EnterFlashMode(); err != nil {
		l.err = err
		return err
	}

	// Identify the chip so erase timeouts and the capacity check use its
	// datasheet values.
	id, name, err := l.bus.flash.ReadID()
	if err != nil {
		l.err = errors.Wrap(err, "read flash ID")
		return l.err
	}
	if name == "" {
		l.log.Warnf("unknown flash ID %X", id)
	} else {
		l.log.Debugf("flash %X %s", id, name)
	}
	return nil
}

// AcceptChunk decodes and writes one chunk. After a failure every later
// call returns the same error until the next BeginSession.
func (l *Loader) AcceptChunk(p []byte) error {
	if !l.active {
		return ErrNoSession
	}
	if l.err != nil {
		return l.err
	}
	l.stats.BytesReceived += len(p)
	l.log.Debugf("writing chunk of %d", len(p))

	var data []byte
	switch l.stats.Kind {
	case PayloadHex:
		var bad []int
		data, bad = l.dec.Decode(p)
		for _, off := range bad {
			l.log.Warnf("illegal hex char %q", p[off])
		}
		l.stats.MalformedDigits += len(bad)
	case PayloadBinary:
		data = p
	default:
		return nil
	}

	if _, err := l.writer.Write(data); err != nil {
		l.err = errors.Wrapf(err, "write at 0x%06X", l.writer.Address())
	}
	l.stats.BytesWritten = l.writer.Written()
	l.stats.SectorsErased = l.writer.SectorsErased()
	return l.err
}

// EndSession closes the upload and, unless disabled with WithBootOnEnd,
// boots the FPGA from the new image. Stats are valid even when an error is
// returned.
func (l *Loader) EndSession() (UploadStats, error) {
	if !l.active {
		return UploadStats{}, ErrNoSession
	}
	l.active = false

	_, l.stats.DanglingNibble = l.dec.Pending()
	if l.stats.DanglingNibble {
		l.log.Warn("upload ended in the middle of a byte, last digit dropped")
	}
	l.stats.BytesWritten = l.writer.Written()
	l.stats.SectorsErased = l.writer.SectorsErased()
	l.stats.Elapsed = time.Since(l.start)

	if l.err != nil {
		l.log.WithError(l.err).Errorf("upload failed after %d bytes", l.stats.BytesWritten)
		return l.stats, l.err
	}
	l.log.WithFields(logrus.Fields{
		"received": l.stats.BytesReceived,
		"sectors":  l.stats.SectorsErased,
	}).Infof("flash write done, %d bytes written", l.stats.BytesWritten)

	if !l.bootOnEnd {
		return l.stats, nil
	}
	return l.stats, l.RunLoadedImage()
}

// AbortSession closes the upload with cause as its failure. The FPGA is not
// booted. A session that already failed keeps its first error.
func (l *Loader) AbortSession(cause error) (UploadStats, error) {
	if !l.active {
		return UploadStats{}, ErrNoSession
	}
	if l.err == nil {
		if cause == nil {
			cause = ErrAborted
		}
		l.err = cause
	}
	return l.EndSession()
}

// RunLoadedImage hands the bus to the FPGA and resets it.
func (l *Loader) RunLoadedImage() error {
	l.log.Info("switching to fpga")
	return errors.Wrap(l.bus.EnterFPGAMode(), "run loaded image")
}

// flash takes the bus for the flash if it is not already held.
func (l *Loader) flash() (*Flash, error) {
	if l.bus.Mode() != ModeFlash {
		if err := l.bus.EnterFlashMode(); err != nil {
			return nil, err
		}
	}
	return l.bus.Flash()
}

// ReadPreview reads the first n bytes of the flash. The FPGA is held in
// reset afterwards; RunLoadedImage starts it again.
func (l *Loader) ReadPreview(n int) ([]byte, error) {
	f, err := l.flash()
	if err != nil {
		return nil, err
	}
	return f.Read(0, n)
}

// ReadID reads the JEDEC ID, see Flash.ReadID.
func (l *Loader) ReadID() (id [3]byte, name string, err error) {
	f, err := l.flash()
	if err != nil {
		return id, "", err
	}
	return f.ReadID()
}

func (l *Loader) ReadStatus() (StatusRegister, error) {
	f, err := l.flash()
	if err != nil {
		return 0, err
	}
	return f.ReadStatusRegister()
}

// EraseChip bulk erases the flash.
func (l *Loader) EraseChip() error {
	f, err := l.flash()
	if err != nil {
		return err
	}
	return f.EraseChip()
}
