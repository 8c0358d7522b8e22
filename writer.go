package fpgaload

import (
	"github.com/pkg/errors"
)

// SectorWriter appends data to the flash from address 0, erasing each 64KB
// sector when the write position reaches its first byte.
//
// Only the most recently erased sector is remembered, which is enough for
// the strictly increasing addresses of an upload. An interrupted session
// leaves the current sector partly erased and partly programmed.
type SectorWriter struct {
	bus *Bus

	addr       int
	written    int
	lastSector int // -1: nothing erased this session
	erased     int
	pageMode   bool
}

func NewSectorWriter(bus *Bus, opts ...Option) *SectorWriter {
	c := newConfig(opts)
	return &SectorWriter{
		bus:        bus,
		lastSector: -1,
		pageMode:   c.PageProgram,
	}
}

// Reset rewinds the writer to address 0 for a new session.
func (w *SectorWriter) Reset() {
	w.addr = 0
	w.written = 0
	w.lastSector = -1
	w.erased = 0
}

// Address returns the next address to be written.
func (w *SectorWriter) Address() int { return w.addr }

// Written returns the number of bytes programmed since Reset.
func (w *SectorWriter) Written() int { return w.written }

// SectorsErased returns the number of erase commands issued since Reset.
func (w *SectorWriter) SectorsErased() int { return w.erased }

// Write programs p at the current address. It implements io.Writer; on error
// n is the number of bytes that reached the flash.
func (w *SectorWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	f, err := w.bus.Flash()
	if err != nil {
		return 0, err
	}

	limit := maxAddress
	if size := f.Size(); size > 0 {
		limit = size - 1
	}
	if last := w.addr + len(p) - 1; last > limit {
		return 0, errors.Wrapf(ErrAddressRange, "write 0x%X..0x%X, flash ends at 0x%X", w.addr, last, limit)
	}

	for n < len(p) {
		if err := w.eraseIfNeeded(f); err != nil {
			return n, err
		}

		run := 1
		if w.pageMode {
			run = min(len(p)-n, PageSize-w.addr%PageSize)
		}
		if err := f.Program(w.addr, p[n:n+run]); err != nil {
			return n, errors.Wrapf(err, "program 0x%06X", w.addr)
		}

		w.addr += run
		w.written += run
		n += run
	}
	return n, nil
}

func (w *SectorWriter) eraseIfNeeded(f *Flash) error {
	sector := w.addr / SectorSize
	if w.addr%SectorSize != 0 || sector == w.lastSector {
		return nil
	}
	if err := f.Erase64KB(w.addr); err != nil {
		return errors.Wrapf(err, "erase sector %d", sector)
	}
	w.lastSector = sector
	w.erased++
	return nil
}
