package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-ps2hdd"
)

func newFormatCmd(c *cli) *cobra.Command {
	var (
		size       string
		volumeName string
		zoneSize   string
		yes        bool
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Erase the device and create one empty PFS partition",
		Long: `Erase the device and create one empty PFS partition.

Everything on the device is lost. Without --yes the device name must be typed
to confirm. Running format again on a formatted device formats it again.
With --dry-run the layout is printed and nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &ps2hdd.FormatOptions{
				VolumeName: c.cfg.VolumeName,
				ZoneSize:   c.cfg.ZoneSize,
				Logger:     c.logger,
			}
			if cmd.Flags().Changed("volume-name") {
				opts.VolumeName = volumeName
			}
			if zoneSize != "" {
				n, err := units.RAMInBytes(zoneSize)
				if err != nil {
					return fmt.Errorf("invalid zone size %q: %w", zoneSize, err)
				}
				opts.ZoneSize = uint32(n)
			}
			if size != "" {
				n, err := units.RAMInBytes(size)
				if err != nil {
					return fmt.Errorf("invalid size %q: %w", size, err)
				}
				if n%512 != 0 {
					return fmt.Errorf("size %q is not a whole number of 512 byte sectors", size)
				}
				opts.PartitionSizeSectors = n / 512
			}
			dev, err := c.openDevice(dryRun)
			if err != nil {
				return err
			}
			defer dev.Close()
			if dryRun {
				plan, err := ps2hdd.PlanFormat(dev, opts)
				if err != nil {
					return err
				}
				p, g := plan.Layout.Partitions[0], plan.Geometry
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "would format %s: anchor of %d sectors, partition %s at sector %d of %s\n",
					dev.Name(), plan.Layout.MBRSectors, p.Name, p.Start, units.BytesSize(float64(p.GetSize())))
				fmt.Fprintf(out, "filesystem: %d zones of %s, %d inodes, data from zone %d, %d zones free\n",
					g.Zones, units.BytesSize(float64(g.ZoneSize)), g.Inodes, g.DataStart, g.FreeZones)
				return nil
			}
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "all data on %s (%s) will be lost, type the device name to continue: ",
					dev.Name(), units.BytesSize(float64(dev.Capacity())))
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(answer) != dev.Name() {
					return fmt.Errorf("format of %s not confirmed", dev.Name())
				}
			}
			table, fs, err := ps2hdd.Format(dev, opts)
			if err != nil {
				return err
			}
			p := table.Partitions[0]
			fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: partition %s of %s, %d zones of %s\n",
				dev.Name(), p.Name, units.BytesSize(float64(p.GetSize())), fs.Zones(), units.BytesSize(float64(fs.ZoneSize())))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&size, "size", "", "partition size, e.g. 8GiB (default the whole device)")
	flags.StringVar(&volumeName, "volume-name", ps2hdd.DefaultPartitionName, "partition and volume name")
	flags.StringVar(&zoneSize, "zone-size", "", "filesystem zone size, e.g. 4KiB")
	flags.BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	flags.BoolVar(&dryRun, "dry-run", false, "print the layout without writing anything")
	return cmd
}
