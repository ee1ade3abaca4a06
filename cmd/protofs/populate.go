package main

import (
	"github.com/spf13/cobra"

	"github.com/kotazzz/protoext4"
	fssync "github.com/kotazzz/protoext4/sync"
)

var populateCmd = &cobra.Command{
	Use:   "populate IMAGE HOSTDIR [DESTDIR]",
	Short: "Copy a host directory tree into the image",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(_ *cobra.Command, args []string) error {
		dstDir := "/"
		if len(args) == 3 {
			dstDir = args[2]
		}
		fs, err := protoext4.Open(args[0])
		if err != nil {
			return err
		}
		defer fs.Close()

		if err := fssync.CopyTree(args[1], fs, dstDir); err != nil {
			return err
		}
		log.Infof("populated %s from %s", args[0], args[1])
		return nil
	},
}
