package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/epctools/pkg/teid"
)

var (
	teidRangeBits  uint
	teidRangeValue uint32
	teidCount      int
)

var teidCmd = &cobra.Command{
	Use:   "teid",
	Short: "TEID allocation commands",
}

var teidAllocCmd = &cobra.Command{
	Use:   "alloc",
	Short: "Allocate one or more TEIDs from a partition and print them",
	RunE:  runTEIDAlloc,
}

func init() {
	teidAllocCmd.Flags().UintVar(&teidRangeBits, "range-bits", 0, "number of bits partitioning the TEID space (0-7)")
	teidAllocCmd.Flags().Uint32Var(&teidRangeValue, "range-value", 0, "this partition's value within the range")
	teidAllocCmd.Flags().IntVar(&teidCount, "count", 1, "number of TEIDs to allocate")
	teidCmd.AddCommand(teidAllocCmd)
}

func runTEIDAlloc(cmd *cobra.Command, args []string) error {
	m, err := teid.New(teidRangeBits, teidRangeValue)
	if err != nil {
		return fmt.Errorf("failed to create TEID manager: %w", err)
	}

	min, max := m.Range()
	fmt.Printf("partition %s: range [0x%08X, 0x%08X]\n", m.Label(), min, max)
	for i := 0; i < teidCount; i++ {
		fmt.Printf("0x%08X\n", m.Alloc())
	}
	return nil
}
