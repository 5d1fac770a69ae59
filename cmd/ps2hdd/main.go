// ps2hdd inspects and modifies PlayStation 2 hard drives and drive images.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
