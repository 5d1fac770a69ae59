//go:build !linux

package backend

import (
	"errors"
	"os"
)

func getBlockDeviceSize(_ *os.File) (int64, error) {
	return 0, errors.New("block devices are only supported on linux, use an image file")
}

func getSectorSizes(_ *os.File) (logicalSectorSize, physicalSectorSize int64, err error) {
	return 0, 0, errors.New("block devices are only supported on linux, use an image file")
}
