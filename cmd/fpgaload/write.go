package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gentam/fpgaload"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

func writeCmd() *cobra.Command {
	var (
		filename string
		port     string
		baud     int
		idle     time.Duration
		kind     string
		chunk    int
		noRun    bool
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a .hex or .bin image to flash and boot it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (filename == "") == (port == "") {
				return errors.New("exactly one of -f or --serial is required")
			}
			if chunk <= 0 {
				return errors.Errorf("invalid chunk size %d", chunk)
			}

			var (
				src  io.Reader
				name = filename
			)
			if filename != "" {
				f, err := os.Open(filename)
				if err != nil {
					return errors.Wrap(err, "open input")
				}
				defer f.Close()
				src = f
			} else {
				p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
				if err != nil {
					return errors.Wrapf(err, "open %s", port)
				}
				defer p.Close()
				if err := p.SetReadTimeout(idle); err != nil {
					return errors.Wrap(err, "set read timeout")
				}
				src = &idleReader{r: p}
				name = port
			}

			k := payloadKind(filename, kind)

			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()

			l := d.Loader(loaderOptions(fpgaload.WithBootOnEnd(!noRun))...)
			logrus.Infof("uploading %s", name)
			stats, err := upload(l, src, k, chunk)
			if err != nil {
				return err
			}
			fmt.Printf("%d bytes written, %d sectors erased in %v\n",
				stats.BytesWritten, stats.SectorsErased, stats.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&filename, "file", "f", "", "input file (.hex or .bin)")
	fs.StringVar(&port, "serial", "", "read the image from this serial port instead of a file")
	fs.IntVar(&baud, "baud", 115200, "serial baud rate")
	fs.DurationVar(&idle, "idle", 2*time.Second, "end of a serial upload after this long without data")
	fs.StringVar(&kind, "kind", "", "payload kind hex or bin (default: from file extension, hex for --serial)")
	fs.IntVar(&chunk, "chunk", 4096, "bytes handed to the loader per chunk")
	fs.BoolVar(&noRun, "no-run", false, "leave the FPGA in reset after writing")
	return cmd
}

// payloadKind resolves --kind, falling back to the file extension. Serial
// uploads without a kind are hex, the format terminals send.
func payloadKind(filename, kind string) fpgaload.PayloadKind {
	switch {
	case kind != "":
		return fpgaload.PayloadKindFromName("." + kind)
	case filename == "":
		return fpgaload.PayloadHex
	}
	return fpgaload.PayloadKindFromName(filename)
}

// upload streams r through one loader session.
func upload(l *fpgaload.Loader, r io.Reader, kind fpgaload.PayloadKind, chunk int) (fpgaload.UploadStats, error) {
	if err := l.BeginSession(kind); err != nil {
		return fpgaload.UploadStats{}, err
	}
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if err := l.AcceptChunk(buf[:n]); err != nil {
				return l.EndSession()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return l.AbortSession(errors.Wrap(err, "read input"))
		}
	}
	return l.EndSession()
}

// idleReader turns a serial port with a read timeout into a stream that ends
// once data has started and then stopped arriving.
type idleReader struct {
	r       io.Reader
	started bool
}

func (ir *idleReader) Read(p []byte) (int, error) {
	for {
		n, err := ir.r.Read(p)
		if err != nil || n > 0 {
			ir.started = ir.started || n > 0
			return n, err
		}
		if ir.started {
			return 0, io.EOF
		}
	}
}
