// Package native defines the call interface to the device registry.
//
// A Registry is a reference-counted connection. Every Enumeration created
// from it holds one additional registry reference, which it gives back on
// Unref. Implementations live in the libudev (cgo) and sysfs (pure Go)
// subpackages.
package native

import "errors"

var (
	// ErrUnavailable is returned by a backend that cannot be used in this build
	// or on this host.
	ErrUnavailable = errors.New("native: registry backend unavailable")

	// ErrNoDevice is returned when a sys path does not name a device.
	ErrNoDevice = errors.New("native: no such device")

	// ErrReleased is returned by operations on a released handle.
	ErrReleased = errors.New("native: handle already released")
)

// Backend acquires a new registry reference.
type Backend func() (Registry, error)

type Registry interface {
	SysPath() string
	DevPath() string
	RunPath() string

	LogPriority() int
	SetLogPriority(int)

	// NewEnumeration acquires an enumeration bound to this registry.
	NewEnumeration() (Enumeration, error)

	// DeviceFromSysPath resolves a fully populated device record.
	DeviceFromSysPath(syspath string) (Device, error)

	// Unref releases one reference.
	Unref()
}

type Enumeration interface {
	AddMatchSubsystem(subsystem string) error
	AddMatchSysName(sysname string) error
	AddMatchProperty(key, value string) error
	AddMatchAttribute(key, value string) error
	AddMatchTag(tag string) error
	AddMatchIsInitialized() error
	AddMatchParent(parent Device) error

	// Scan recomputes the result list. Entries obtained before the call must
	// not be used afterwards.
	Scan() error

	// ListEntry returns the head of the result list, nil when it is empty.
	ListEntry() ListEntry

	Unref()
}

// ListEntry is one node of a singly-linked result list. Next returns nil at
// the end of the list.
type ListEntry interface {
	Name() string
	Value() string
	Next() ListEntry
}

type Device interface {
	SysPath() string
	DevPath() string
	SysName() string
	SysNum() string
	Subsystem() string
	DevType() string
	Driver() string
	DevNode() string
	DevLinks() []string
	Tags() []string
	Properties() map[string]string
	Property(key string) string
	AttributeKeys() []string
	Attribute(key string) (string, bool)
	IsInitialized() bool

	// Parent returns nil when the device has no parent device.
	Parent() Device
}
