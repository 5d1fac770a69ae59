package backend

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// OpenFile opens an image file or raw block device. Block devices are sized with the kernel's view
// of the device; regular files use their length, which must be a whole number of sectors.
func OpenFile(device string, readOnly bool) (*Device, error) {
	if device == "" {
		return nil, errors.New("must pass device name")
	}
	flag := os.O_RDWR | os.O_EXCL
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(device, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s: %w", device, err)
	}
	size, err := deviceSize(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	d, err := New(f, size, readOnly)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device %s: %w", device, err)
	}
	d.name = device
	log.WithFields(log.Fields{"device": device, "size": size, "readOnly": readOnly}).Debug("opened device")
	return d, nil
}

func deviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("could not stat device %s: %w", f.Name(), err)
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return info.Size(), nil
	case mode&os.ModeDevice != 0:
		logical, _, err := getSectorSizes(f)
		if err != nil {
			return 0, err
		}
		if logical != SectorSize {
			return 0, fmt.Errorf("device %s has logical sector size %d, only %d is supported", f.Name(), logical, SectorSize)
		}
		return getBlockDeviceSize(f)
	default:
		return 0, fmt.Errorf("device %s is neither a regular file nor a block device", f.Name())
	}
}
