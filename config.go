package fpgaload

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the tunables shared by Flash, Bus, SectorWriter and Loader.
type Config struct {
	// Logger receives progress and diagnostics. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger

	// Sleep is called for every datasheet delay and between status polls.
	// Tests replace it to run without wall-clock waits.
	Sleep func(time.Duration)

	// PollInterval is the pause between status register reads after a
	// program command. Erases poll at EraseInterval.
	PollInterval  time.Duration
	EraseInterval time.Duration

	// PageProgram sends up to a page per program command instead of one byte.
	PageProgram bool

	// BootOnEnd makes EndSession run the loaded image.
	BootOnEnd bool

	Timing ResetTiming
}

// ResetTiming is the CRESET sequence used to hand the bus to the FPGA.
type ResetTiming struct {
	Hold    time.Duration // reset held low before the flash is woken
	Release time.Duration // after the chip-select is tri-stated
	High    time.Duration // reset deasserted before the pulse
	Pulse   time.Duration // reset asserted
	Settle  time.Duration // configuration load
}

// DefaultResetTiming matches what an iCE40 needs to load its image from SPI
// flash.
var DefaultResetTiming = ResetTiming{
	Hold:    10 * time.Millisecond,
	Release: 1 * time.Millisecond,
	High:    5 * time.Millisecond,
	Pulse:   10 * time.Millisecond,
	Settle:  500 * time.Millisecond,
}

func defaultConfig() Config {
	return Config{
		Logger:        logrus.StandardLogger(),
		Sleep:         time.Sleep,
		PollInterval:  100 * time.Microsecond,
		EraseInterval: 10 * time.Millisecond,
		BootOnEnd:     true,
		Timing:        DefaultResetTiming,
	}
}

func newConfig(opts []Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option configures a Config.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithSleep replaces time.Sleep for delays and busy-wait yields.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) {
		if sleep != nil {
			c.Sleep = sleep
		}
	}
}

// WithPollInterval sets the status poll intervals for program and erase.
func WithPollInterval(program, erase time.Duration) Option {
	return func(c *Config) {
		if program > 0 {
			c.PollInterval = program
		}
		if erase > 0 {
			c.EraseInterval = erase
		}
	}
}

// WithPageProgram enables page-sized program commands.
func WithPageProgram(enable bool) Option {
	return func(c *Config) {
		c.PageProgram = enable
	}
}

// WithBootOnEnd controls whether EndSession boots the FPGA. Default is true.
func WithBootOnEnd(boot bool) Option {
	return func(c *Config) {
		c.BootOnEnd = boot
	}
}

// WithResetTiming overrides DefaultResetTiming.
func WithResetTiming(t ResetTiming) Option {
	return func(c *Config) {
		c.Timing = t
	}
}
