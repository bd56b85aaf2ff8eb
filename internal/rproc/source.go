package rproc

import (
	"fmt"
	"os"
	"path/filepath"
)

// FirmwareSource loads firmware images by name. Load blocks until the
// image is fully read.
type FirmwareSource interface {
	Load(name string) ([]byte, error)
}

// DirSource loads firmware images from a directory on the host
// filesystem.
type DirSource struct {
	Dir string
}

func (s DirSource) Load(name string) ([]byte, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("rproc: invalid firmware name %q", name)
	}
	return os.ReadFile(filepath.Join(s.Dir, name))
}
