package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/diskfs/go-ps2hdd"
	"github.com/diskfs/go-ps2hdd/backend"
)

// cli state shared by the commands
type cli struct {
	configPath string
	cfg        *config
	logger     *log.Entry
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: &config{}}
	root := &cobra.Command{
		Use:   "ps2hdd",
		Short: "Inspect and modify PlayStation 2 hard drives",
		Long: `ps2hdd reads and writes the APA partition table and PFS filesystems of
PlayStation 2 hard drives, either raw block devices or image files.

Settings may be kept in $HOME/.ps2hdd.yaml (device, partition, volume_name,
zone_size, workers, verbose); flags override them.

Examples:
  ps2hdd partitions -d /dev/sdb
  ps2hdd ls -d ps2.img -p __common /
  ps2hdd put -d ps2.img -p +OPL GAME.ISO.zip /DVD/
  ps2hdd extract -d ps2.img -p +OPL /DVD ./out
  ps2hdd format -d ps2.img --yes`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Flags())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default $HOME/"+defaultConfigName+")")
	flags.StringP("device", "d", "", "block device or image file")
	flags.StringP("partition", "p", "", "partition name or index (default "+ps2hdd.DefaultPartitionName+")")
	flags.BoolP("verbose", "v", false, "log every step")

	root.AddCommand(
		newPartitionsCmd(c),
		newLsCmd(c),
		newExtractCmd(c),
		newPutCmd(c),
		newMkdirCmd(c),
		newFormatCmd(c),
		newDiagnoseCmd(c),
	)
	return root
}

// load reads the config file and applies the flags set on the command line over it
func (c *cli) load(flags *pflag.FlagSet) error {
	p, explicit := c.configPath, c.configPath != ""
	if !explicit {
		p = defaultConfigPath()
	}
	cfg, err := loadConfig(p, explicit)
	if err != nil {
		return err
	}
	if f := flags.Lookup("device"); f != nil && f.Changed {
		cfg.Device = f.Value.String()
	}
	if f := flags.Lookup("partition"); f != nil && f.Changed {
		cfg.Partition = f.Value.String()
	}
	if f := flags.Lookup("verbose"); f != nil && f.Changed {
		cfg.Verbose = f.Value.String() == "true"
	}
	if cfg.Partition == "" {
		cfg.Partition = ps2hdd.DefaultPartitionName
	}
	c.cfg = cfg

	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	c.logger = log.NewEntry(logger)
	// library packages that log without an explicit entry use the standard logger
	log.SetLevel(logger.GetLevel())
	return nil
}

func (c *cli) openDevice(readOnly bool) (*backend.Device, error) {
	if c.cfg.Device == "" {
		return nil, fmt.Errorf("no device given, use --device or set device in the config file")
	}
	return backend.OpenFile(c.cfg.Device, readOnly)
}
