package fpgaload

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

func TestBusEnterFlashMode(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, ModeUninitialized, r.bus().Mode())

	_, err := r.bus().Flash()
	assert.True(t, errors.Is(err, ErrInvalidState))

	require.NoError(t, r.bus().EnterFlashMode())
	assert.Equal(t, ModeFlash, r.bus().Mode())
	assert.Equal(t, []string{"reset=Low", "sleep 10ms", "flash wake"}, r.trace)
	assert.False(t, r.cs.input)
	assert.Equal(t, gpio.High, r.cs.Read())
	assert.Equal(t, gpio.Low, r.reset.Read())

	f, err := r.bus().Flash()
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestBusEnterFPGAMode(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.bus().EnterFlashMode())
	r.trace = nil

	require.NoError(t, r.bus().EnterFPGAMode())
	assert.Equal(t, ModeFPGA, r.bus().Mode())
	assert.Equal(t, []string{
		"reset=Low",
		"flash sleep",
		"cs=in",
		"sleep 1ms",
		"reset=High",
		"sleep 5ms",
		"reset=Low",
		"sleep 10ms",
		"reset=High",
		"sleep 500ms",
	}, r.trace)
	assert.True(t, r.cs.input, "chip-select must be released to the FPGA")
	assert.True(t, r.flash.asleep)

	_, err := r.bus().Flash()
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestBusRerunFPGAOnlyPulsesReset(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.bus().EnterFlashMode())
	require.NoError(t, r.bus().EnterFPGAMode())
	ops := len(r.flash.ops)
	r.trace = nil

	require.NoError(t, r.bus().EnterFPGAMode())
	assert.Equal(t, ModeFPGA, r.bus().Mode())
	assert.Len(t, r.flash.ops, ops, "flash must not be touched")
	assert.Empty(t, r.flash.ignored)
	assert.Equal(t, []string{
		"reset=High", "sleep 5ms",
		"reset=Low", "sleep 10ms",
		"reset=High", "sleep 500ms",
	}, r.trace)
	assert.True(t, r.cs.input)
}

func TestBusFlashModeReenterable(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.bus().EnterFlashMode())
	require.NoError(t, r.bus().EnterFPGAMode())
	require.NoError(t, r.bus().EnterFlashMode())
	require.NoError(t, r.bus().EnterFlashMode())

	assert.Equal(t, ModeFlash, r.bus().Mode())
	assert.False(t, r.cs.input)
	assert.False(t, r.flash.asleep)
	assert.Equal(t, 3, r.flash.count(flashCmdPowerUp))
}

func TestBusFPGAFromUninitialized(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.bus().EnterFPGAMode())
	assert.Equal(t, ModeFPGA, r.bus().Mode())
	assert.True(t, r.cs.input)
	assert.Equal(t, gpio.High, r.reset.Read())
}

func TestBusConfigDoneLow(t *testing.T) {
	r := newRig(t)
	r.done.L = gpio.Low
	require.NoError(t, r.bus().EnterFlashMode())

	err := r.bus().EnterFPGAMode()
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Equal(t, ModeFPGA, r.bus().Mode(), "bus stays released")
	assert.True(t, r.cs.input)
}

func TestBusFailedTransition(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.bus().EnterFlashMode())

	pinErr := errors.New("pin stuck")
	r.reset.failOut = pinErr
	err := r.bus().EnterFPGAMode()
	require.Error(t, err)
	assert.True(t, errors.Is(err, pinErr))
	assert.Equal(t, ModeUninitialized, r.bus().Mode())

	_, err = r.writer().Write([]byte{1})
	assert.True(t, errors.Is(err, ErrInvalidState))

	r.reset.failOut = nil
	require.NoError(t, r.bus().EnterFlashMode())
	assert.Equal(t, ModeFlash, r.bus().Mode())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "uninitialized", ModeUninitialized.String())
	assert.Equal(t, "flash", ModeFlash.String())
	assert.Equal(t, "fpga", ModeFPGA.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
