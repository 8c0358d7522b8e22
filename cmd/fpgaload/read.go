package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func readCmd() *cobra.Command {
	var (
		nread      int
		idOnly     bool
		statusOnly bool
		outFile    string
		hold       bool
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read flash ID, status register or contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()

			l := d.Loader(loaderOptions()...)
			if !hold {
				defer func() {
					if err := l.RunLoadedImage(); err != nil {
						logrus.WithError(err).Warn("restart FPGA")
					}
				}()
			}

			if statusOnly {
				sr, err := l.ReadStatus()
				if err != nil {
					return errors.Wrap(err, "read flash status register failed")
				}
				fmt.Println(sr)
				return nil
			}

			flashID, name, err := l.ReadID()
			if err != nil {
				return errors.Wrap(err, "read flash ID failed")
			}
			if idOnly {
				fmt.Printf("%X\t%s\n", flashID, name)
				return nil
			}
			if name == "" {
				logrus.Warnf("unknown flash ID (%X)", flashID)
			}

			data, err := l.ReadPreview(nread)
			if err != nil {
				return errors.Wrap(err, "read flash failed")
			}
			if outFile == "" {
				fmt.Println(hex.Dump(data))
				return nil
			}
			return os.WriteFile(outFile, data, 0644)
		},
	}
	fs := cmd.Flags()
	fs.IntVarP(&nread, "count", "n", 256, "number of bytes to read from address 0")
	fs.BoolVar(&idOnly, "id", false, "just print flash ID")
	fs.BoolVarP(&statusOnly, "status", "s", false, "just print flash status register")
	fs.StringVarP(&outFile, "out", "o", "", "output file (default: hexdump)")
	fs.BoolVar(&hold, "hold", false, "keep the FPGA in reset afterwards")
	return cmd
}
