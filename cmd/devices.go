package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/devices"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var asJSON bool
	var formats bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long:  `Lists the V4L2 video capture devices present now with their stable IDs, drivers and signal state.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			detector := devices.NewDetector(nil)
			found, err := detector.FindDevices()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeDevicesJSON(out, detector, found, formats)
			}
			return writeDevicesTable(out, detector, found, formats)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	cmd.Flags().BoolVarP(&formats, "formats", "f", false, "Include supported pixel formats")
	return cmd
}

type deviceListing struct {
	models.DeviceInfo
	Formats []models.FormatInfo `json:"formats,omitempty"`
}

func writeDevicesJSON(w io.Writer, d *devices.Detector, found []models.DeviceInfo, withFormats bool) error {
	listing := make([]deviceListing, 0, len(found))
	for _, dev := range found {
		entry := deviceListing{DeviceInfo: dev}
		if withFormats {
			_, entry.Formats, _ = d.Formats(dev.DevicePath)
		}
		listing = append(listing, entry)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(listing)
}

func writeDevicesTable(w io.Writer, d *devices.Detector, found []models.DeviceInfo, withFormats bool) error {
	if len(found) == 0 {
		_, err := fmt.Fprintln(w, "No capture devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "PATH\tNAME\tID\tDRIVER\tREADY"
	if withFormats {
		header += "\tFORMATS"
	}
	fmt.Fprintln(tw, header)

	for _, dev := range found {
		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%t", dev.DevicePath, dev.DeviceName, dev.DeviceID, dev.Driver, dev.Ready)
		if withFormats {
			_, fmts, err := d.Formats(dev.DevicePath)
			codes := make([]string, 0, len(fmts))
			for _, f := range fmts {
				codes = append(codes, f.FourCC)
			}
			if err != nil {
				codes = []string{"?"}
			}
			row += "\t" + strings.Join(codes, ",")
		}
		fmt.Fprintln(tw, row)
	}
	return tw.Flush()
}
