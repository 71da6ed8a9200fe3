package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notargets/kernelheap/memory"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device and heap layout",
	Long: `Open the configured device, allocate the region and print the
call stack and heap geometry together with the layout constants.`,
	RunE: runInfo,
}

var frameArgs int

func init() {
	infoCmd.Flags().IntVar(&frameArgs, "frame-args", 8, "arguments of the sample call frame")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	dev, err := cfg.OpenDevice(cmd.Context())
	if err != nil {
		return err
	}
	defer dev.Free()

	a, err := memory.NewAllocator(dev, cfg.Memory())
	if err != nil {
		return err
	}
	if err := a.AllocateRegion(cfg.Heap.RegionBytes); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mem := a.Config()
	fmt.Fprintf(out, "Device:        %s\n", dev.Name())
	fmt.Fprintf(out, "Base pointer:  0x%x\n", a.BasePointer())
	fmt.Fprintf(out, "Region:        %s\n", memory.HumanBytes(a.HeapLimit()))
	fmt.Fprintf(out, "Call stack:    [0, 0x%x)\n", a.CallStackLimit())
	fmt.Fprintf(out, "Heap:          [0x%x, 0x%x)\n", a.CallStackLimit(), a.HeapLimit())
	fmt.Fprintf(out, "Alignment:     heap %d, frames %d\n", mem.Alignment, mem.FrameAlignment)
	fmt.Fprintf(out, "Array header:  %d bytes, length at %d\n", mem.ArrayHeaderSize, mem.ArrayLengthOffset)
	fmt.Fprintf(out, "Object header: %d bytes, hub at %d\n", mem.ObjectHeaderSize, mem.HubOffset)
	fmt.Fprintf(out, "Addresses:     %s\n", addressing(mem))

	frame, err := a.CreateCallFrame(frameArgs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sample frame:  %s\n", frame)
	fmt.Fprintf(out, "Usage:         %s\n", a.Stats())
	return nil
}

func addressing(mem memory.Config) string {
	if mem.RelativeAddresses {
		return "relative"
	}
	return "absolute"
}
