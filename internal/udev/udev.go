// Package udev lists devices known to the udev device registry.
//
// A Context holds a registry reference. Enumerators created from it collect
// filters and scan the registry each time they are iterated:
//
//	ctx, err := udev.NewContext()
//	...
//	defer ctx.Close()
//	e, err := ctx.ListDevices(udev.Match{Subsystem: udev.BlockSubsystem})
//	...
//	defer e.Close()
//	for dev, err := range e.MatchProperty(udev.DeviceTypeKey, "disk").Devices() {
//		...
//	}
package udev

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ydb-platform/udev-query/internal/native"
)

const (
	BlockSubsystem = "block"
	NetSubsystem   = "net"

	DeviceTypeKey  = "DEVTYPE"
	DeviceTypeDisk = "disk"
	DeviceTypePart = "partition"

	PropertyModel       = "ID_MODEL"
	PropertyShortSerial = "ID_SERIAL_SHORT"
	PropertyInterface   = "INTERFACE"

	SysAttrNumaNode = "numa_node"
)

// Device is a resolved registry device. It is a snapshot taken at resolution
// time, except for attributes which are read on access.
type Device struct {
	ctx *Context
	dev native.Device

	parent       *Device
	parentLoaded bool
}

func newDevice(c *Context, dev native.Device) *Device {
	return &Device{ctx: c, dev: dev}
}

func (d *Device) SysPath() string {
	return d.dev.SysPath()
}

func (d *Device) DevPath() string {
	return d.dev.DevPath()
}

func (d *Device) SysName() string {
	return d.dev.SysName()
}

func (d *Device) SysNum() string {
	return d.dev.SysNum()
}

// Parent returns nil for a device at the top of the hierarchy.
func (d *Device) Parent() *Device {
	if !d.parentLoaded {
		if p := d.dev.Parent(); p != nil {
			d.parent = newDevice(d.ctx, p)
		}
		d.parentLoaded = true
	}
	return d.parent
}

func (d *Device) Subsystem() string {
	return d.dev.Subsystem()
}

func (d *Device) DevType() string {
	return d.dev.DevType()
}

func (d *Device) Driver() string {
	return d.dev.Driver()
}

func (d *Device) DevNode() string {
	return d.dev.DevNode()
}

func (d *Device) DevLinks() []string {
	return d.dev.DevLinks()
}

func (d *Device) Tags() []string {
	return d.dev.Tags()
}

func (d *Device) IsInitialized() bool {
	return d.dev.IsInitialized()
}

func (d *Device) Properties() map[string]string {
	return d.dev.Properties()
}

func (d *Device) Property(key string) string {
	return strings.TrimSpace(d.dev.Property(key))
}

// PropertyLookup returns the first non-empty value of key on the device or
// one of its ancestors.
func (d *Device) PropertyLookup(key string) string {
	for dev := d; dev != nil; dev = dev.Parent() {
		if value := dev.Property(key); value != "" {
			return value
		}
	}
	return ""
}

func (d *Device) AttributeKeys() []string {
	return d.dev.AttributeKeys()
}

func (d *Device) Attribute(key string) (string, bool) {
	value, found := d.dev.Attribute(key)
	return strings.TrimSpace(value), found
}

func (d *Device) Attributes() map[string]string {
	res := make(map[string]string)
	for _, key := range d.AttributeKeys() {
		if value, found := d.Attribute(key); found {
			res[key] = value
		}
	}
	return res
}

func (d *Device) AttributeLookup(key string) string {
	for dev := d; dev != nil; dev = dev.Parent() {
		if value, _ := dev.Attribute(key); value != "" {
			return value
		}
	}
	return ""
}

// NumaNode is the closest numa_node attribute up the hierarchy, or -1.
func (d *Device) NumaNode() int {
	if numaNode, err := strconv.Atoi(d.AttributeLookup(SysAttrNumaNode)); err == nil {
		return numaNode
	}
	return -1
}

func (d *Device) Debug() string {
	return fmt.Sprintf("Device[SysPath=%s, Subsystem=%s, DevType=%s, DevNode=%s, NumaNode=%d, Links=%v, Tags=%v, Properties=%v, SysAttrs=%v]",
		d.SysPath(),
		d.Subsystem(),
		d.DevType(),
		d.DevNode(),
		d.NumaNode(),
		d.DevLinks(),
		d.Tags(),
		d.Properties(),
		d.Attributes(),
	)
}
