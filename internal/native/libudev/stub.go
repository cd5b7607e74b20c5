//go:build !linux || !cgo

// Package libudev exposes libudev as a native registry. This build has no
// cgo, so the backend is unavailable.
package libudev

import (
	"github.com/ydb-platform/udev-query/internal/native"
)

func Available() bool {
	return false
}

func Open() (native.Registry, error) {
	return nil, native.ErrUnavailable
}
