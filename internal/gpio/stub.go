//go:build !linux

package gpio

import "errors"

// OpenBoard is not available on non-Linux platforms.
func OpenBoard(cfg BoardConfig) (*Board, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// ReadLevels is not available on non-Linux platforms.
func ReadLevels(chipName string, offsets []int) ([]bool, error) {
	return nil, errors.New("gpio: not supported")
}
