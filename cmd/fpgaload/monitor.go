package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

func monitorCmd() *cobra.Command {
	var baud int
	cmd := &cobra.Command{
		Use:   "monitor PORT",
		Short: "Attach to the board UART (e.g. after run)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := serial.Open(args[0], &serial.Mode{BaudRate: baud})
			if err != nil {
				return errors.Wrapf(err, "open %s", args[0])
			}
			defer p.Close()

			go func() {
				if _, err := io.Copy(p, os.Stdin); err != nil {
					logrus.WithError(err).Warn("stdin")
				}
			}()
			_, err = io.Copy(os.Stdout, p)
			return err
		},
	}
	cmd.Flags().IntVar(&baud, "baud", 9600, "baud rate")
	return cmd
}
