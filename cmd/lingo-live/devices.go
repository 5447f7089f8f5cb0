package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vango-go/lingo-live/pkg/core/capture"
)

func newDevicesCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List microphones usable with --mic-device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := capture.ListCaptureDevices()
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
}

func printDevices(w io.Writer, devices []capture.DeviceInfo) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "no capture devices found")
		return
	}
	for i, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %d: %s\n", marker, i, d.Name)
	}
}
