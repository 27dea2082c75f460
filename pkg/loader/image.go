// Package loader reads program images and recorded traces from disk.
package loader

import (
	"fmt"
	"os"

	"github.com/akhildatla/minivm/pkg/vm"
)

// Image is a program image as read from disk. Data holds the exact file
// bytes, which is what gets fingerprinted.
type Image struct {
	Path    string
	Data    []byte
	Program *vm.Program
}

// LoadImage reads and decodes the image at path. An empty or truncated
// image is an error.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	program, err := vm.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	return &Image{Path: path, Data: data, Program: program}, nil
}

// WriteImage encodes program and writes it to path.
func WriteImage(path string, program *vm.Program) error {
	if err := os.WriteFile(path, vm.EncodeImage(program), 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
