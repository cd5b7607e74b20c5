package udev

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrInitialization is returned when no registry connection could be
	// acquired. A Context that failed with it must not be used.
	ErrInitialization = errors.New("udev: registry initialization failed")

	ErrInvalidArgument = errors.New("udev: invalid argument")

	// ErrDecode is returned when the registry produced a string that is not
	// valid UTF-8.
	ErrDecode = errors.New("udev: cannot decode native string")

	ErrScan       = errors.New("udev: scan failed")
	ErrResolution = errors.New("udev: device resolution failed")
)

func decode(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: %q", ErrDecode, s)
	}
	return s, nil
}
