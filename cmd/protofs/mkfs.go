package main

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kotazzz/protoext4"
	"github.com/kotazzz/protoext4/filesystem/protofs"
)

var (
	flagSize           string
	flagBlockSize      uint32
	flagBlocksPerGroup uint32
	flagInodesPerGroup uint32
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs IMAGE",
	Short: "Create a new filesystem image",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		size, err := bytefmt.ToBytes(flagSize)
		if err != nil {
			return fmt.Errorf("invalid --size %q: %w", flagSize, err)
		}
		fs, err := protoext4.Create(args[0], int64(size), &protofs.Params{
			BlockSize:      flagBlockSize,
			BlocksPerGroup: flagBlocksPerGroup,
			InodesPerGroup: flagInodesPerGroup,
		})
		if err != nil {
			return err
		}
		defer fs.Close()

		du := fs.Df()
		log.Infof("created %s: %d blocks of %s, %d inodes", args[0], du.TotalBlocks, bytefmt.ByteSize(uint64(du.BlockSize)), du.TotalInodes)
		return nil
	},
}

func addGeometryFlags(flags *pflag.FlagSet) {
	flags.StringVar(&flagSize, "size", "8M", "image size, e.g. 8M or 1G")
	flags.Uint32Var(&flagBlockSize, "block-size", 0, "block size in bytes (default 4096)")
	flags.Uint32Var(&flagBlocksPerGroup, "blocks-per-group", 0, "blocks per block group (default 8*block-size)")
	flags.Uint32Var(&flagInodesPerGroup, "inodes-per-group", 0, "inodes per block group (default sized for one inode per 8KiB)")
}

func init() {
	addGeometryFlags(mkfsCmd.Flags())
}
