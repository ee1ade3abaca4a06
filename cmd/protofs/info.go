package main

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kotazzz/protoext4"
)

var infoCmd = &cobra.Command{
	Use:   "info IMAGE",
	Short: "Print filesystem geometry and usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		fs, err := protoext4.OpenReadOnly(args[0])
		if err != nil {
			return err
		}
		defer fs.Close()

		du := fs.Df()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Field", "Value"})
		table.Append([]string{"Block size", bytefmt.ByteSize(uint64(du.BlockSize))})
		table.Append([]string{"Total blocks", fmt.Sprintf("%d", du.TotalBlocks)})
		table.Append([]string{"Free blocks", fmt.Sprintf("%d", du.FreeBlocks)})
		table.Append([]string{"Total inodes", fmt.Sprintf("%d", du.TotalInodes)})
		table.Append([]string{"Free inodes", fmt.Sprintf("%d", du.FreeInodes)})
		table.Append([]string{"Capacity", bytefmt.ByteSize(du.TotalBlocks * uint64(du.BlockSize))})
		table.Append([]string{"Available", bytefmt.ByteSize(du.FreeBlocks * uint64(du.BlockSize))})
		table.Render()
		return nil
	},
}

var dfCmd = &cobra.Command{
	Use:   "df IMAGE",
	Short: "Report free and used space",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		fs, err := protoext4.OpenReadOnly(args[0])
		if err != nil {
			return err
		}
		defer fs.Close()

		printDf(fs.Df())
		return nil
	},
}
