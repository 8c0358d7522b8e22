package fpgaload

import "github.com/pkg/errors"

var (
	// ErrInvalidState is returned when a flash operation is requested while the
	// shared bus is not owned by the flash.
	ErrInvalidState = errors.New("invalid bus state")

	// ErrDeviceTimeout is returned when the flash keeps its busy bit set past
	// the poll budget.
	ErrDeviceTimeout = errors.New("flash device busy timeout")

	// ErrAddressRange is returned when a write would run past the end of the
	// flash address space.
	ErrAddressRange = errors.New("flash address out of range")

	// ErrNoSession is returned by session calls made outside BeginSession/EndSession.
	ErrNoSession = errors.New("no upload session")

	// ErrAborted is the failure recorded by AbortSession when no cause is given.
	ErrAborted = errors.New("upload aborted")

	// ErrNotConfigured is returned when CDONE stays low after the reset pulse.
	ErrNotConfigured = errors.New("FPGA did not signal configuration done")
)
