package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-ps2hdd"
	"github.com/diskfs/go-ps2hdd/source"
)

func newPartitionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List the partitions of the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := c.openDevice(true)
			if err != nil {
				return err
			}
			defer dev.Close()
			parts, err := ps2hdd.ListPartitions(dev)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tTYPE\tSTART\tSIZE")
			for _, p := range parts {
				name := p.Name
				switch {
				case p.IsSub():
					name += " (sub)"
				case p.IsSystem():
					name += " (system)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", p.Index, name, p.Type, p.Start, units.BytesSize(float64(p.GetSize())))
			}
			return w.Flush()
		},
	}
}

func newLsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List the files of a directory in the partition",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}
			dev, err := c.openDevice(true)
			if err != nil {
				return err
			}
			defer dev.Close()
			files, err := ps2hdd.ListFiles(dev, c.cfg.Partition, p)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, fi := range files {
				name := fi.Name()
				if fi.IsDir() {
					name += "/"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", fi.Mode(), fi.Size(), fi.ModTime().Format("2006-01-02 15:04"), name)
			}
			return w.Flush()
		},
	}
}

func newExtractCmd(c *cli) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "extract <path> <destination>",
		Short: "Copy a file or directory from the partition to the host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") && c.cfg.Workers > 0 {
				workers = c.cfg.Workers
			}
			dev, err := c.openDevice(true)
			if err != nil {
				return err
			}
			defer dev.Close()
			sink, err := ps2hdd.NewDirSink(args[1])
			if err != nil {
				return err
			}
			sink.Logger = c.logger
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			report, err := ps2hdd.Extract(ctx, dev, c.cfg.Partition, args[0], sink, &ps2hdd.ExtractOptions{Workers: workers, Logger: c.logger})
			if report != nil {
				out := cmd.OutOrStdout()
				for _, f := range report.Truncated() {
					fmt.Fprintf(out, "truncated: %s (%d of %d bytes): %v\n", f.Name, f.Written, f.Size, f.Reason)
				}
				for _, f := range report.Failed() {
					fmt.Fprintf(out, "failed: %s: %v\n", f.Name, f.Err)
				}
				fmt.Fprintf(out, "extracted %d files in %d directories, %s\n", len(report.Files), report.Directories, units.BytesSize(float64(report.Written())))
				if err == nil && len(report.Failed()) > 0 {
					err = fmt.Errorf("%d files could not be extracted", len(report.Failed()))
				}
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", ps2hdd.DefaultWorkers, "files to extract concurrently")
	return cmd
}

func newPutCmd(c *cli) *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "put <source> [destination]",
		Short: "Write a host file into the partition",
		Long: `Write a host file into the partition.

Archives and compressed images (.zip, .gz, .zst, .xz, .lzma, .lz4) are unpacked
first; from a zip the first .iso or .bin entry is taken. The destination
defaults to the unpacked name in the root directory; a destination ending in /
is a directory to place it in.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := source.OpenWithLogger(args[0], c.logger)
			if err != nil {
				return err
			}
			defer src.Close()
			dest := "/" + src.Name
			if len(args) > 1 {
				dest = args[1]
				if dest[len(dest)-1] == '/' {
					dest = path.Join(dest, src.Name)
				}
			}
			dev, err := c.openDevice(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			in, err := ps2hdd.WriteFile(dev, c.cfg.Partition, src, src.Size, dest, &ps2hdd.WriteOptions{
				Created:  src.Created,
				Modified: src.Modified,
				Parents:  parents,
				Logger:   c.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d zones)\n", dest, units.BytesSize(float64(src.Size)), in.Zones())
			return nil
		},
	}
	cmd.Flags().BoolVar(&parents, "parents", false, "create missing directories")
	return cmd
}

func newMkdirCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory and any missing parents in the partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dev, err := c.openDevice(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			return ps2hdd.Mkdir(dev, c.cfg.Partition, args[0])
		},
	}
}

func newDiagnoseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check the partition table and filesystems without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := c.openDevice(true)
			if err != nil {
				return err
			}
			defer dev.Close()
			r, err := ps2hdd.Diagnose(dev)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device %s: %s\n", r.Device, units.BytesSize(float64(r.Capacity)))
			if !r.Table {
				fmt.Fprintf(out, "partition table: invalid: %s\n", r.TableError)
				return nil
			}
			fmt.Fprintf(out, "partition table: ok, %d partitions, %s unallocated\n", len(r.Partitions), units.BytesSize(float64(r.FreeSectors*512)))
			for _, pr := range r.Partitions {
				p := pr.Partition
				switch {
				case pr.Filesystem:
					fmt.Fprintf(out, "  %s: pfs %q (%s), zone %s, %d of %d zones free, %d inodes free\n",
						p.Name, pr.Label, pr.VolumeID, units.BytesSize(float64(pr.ZoneSize)), pr.FreeZones, pr.Zones, pr.FreeInodes)
					if pr.Error != "" {
						fmt.Fprintf(out, "    %s\n", pr.Error)
					} else if !pr.SuperblocksMatch {
						fmt.Fprintf(out, "    backup superblock does not match\n")
					}
				case pr.Error != "":
					fmt.Fprintf(out, "  %s: %s: %s\n", p.Name, p.Type, pr.Error)
				default:
					fmt.Fprintf(out, "  %s: %s\n", p.Name, p.Type)
				}
			}
			return nil
		},
	}
}
