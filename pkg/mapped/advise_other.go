//go:build !linux
// +build !linux

package mapped

import "os"

func adviseRandom(_ *os.File, _ []byte) {}
