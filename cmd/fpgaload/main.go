// Command fpgaload programs the configuration flash of an iCE40 board and
// boots the FPGA from it.
package main

import (
	"fmt"
	"os"

	"github.com/gentam/fpgaload"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
)

var (
	verbose     bool
	backend     string
	native      fpgaload.NativeConfig
	clockHz     int64
	pageProgram bool
)

var rootCmd = &cobra.Command{
	Use:           "fpgaload",
	Short:         "Program iCE40 configuration flash and boot the FPGA",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&backend, "backend", "ftdi", "hardware backend: ftdi (FT2232H MPSSE) or native (host SPI + GPIO)")
	pf.StringVar(&native.SPI, "spi", "", "native: SPI port name (default: first port)")
	pf.StringVar(&native.CS, "cs", "", "native: flash chip-select GPIO")
	pf.StringVar(&native.Reset, "reset", "", "native: FPGA CRESET GPIO")
	pf.StringVar(&native.Done, "done", "", "native: FPGA CDONE GPIO (optional)")
	pf.Int64Var(&clockHz, "clock-hz", 2_000_000, "native: SPI clock")
	pf.BoolVar(&pageProgram, "page", false, "program a page per command instead of a byte")

	rootCmd.AddCommand(writeCmd(), readCmd(), runCmd(), eraseCmd(), infoCmd(), monitorCmd())
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDevice() (*fpgaload.Device, error) {
	switch backend {
	case "ftdi":
		return fpgaload.NewDevice()
	case "native":
		native.Clock = physic.Frequency(clockHz) * physic.Hertz
		return fpgaload.OpenNative(native)
	}
	return nil, errors.Errorf("unknown backend %q", backend)
}

func loaderOptions(opts ...fpgaload.Option) []fpgaload.Option {
	return append([]fpgaload.Option{
		fpgaload.WithLogger(logrus.StandardLogger()),
		fpgaload.WithPageProgram(pageProgram),
	}, opts...)
}
