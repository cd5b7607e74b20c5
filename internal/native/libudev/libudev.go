//go:build linux && cgo

// Package libudev exposes libudev, through github.com/jochenvg/go-udev, as a
// native registry.
package libudev

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/jkeiser/iter"
	goudev "github.com/jochenvg/go-udev"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
)

const (
	defaultSysPath = "/sys"
	defaultDevPath = "/dev"
	defaultRunPath = "/run/udev"

	// syslog LOG_ERR
	defaultLogPriority = 3
)

// Registry is a reference-counted libudev context. go-udev frees the
// underlying udev handle from a finalizer; Unref drops our last use of it.
type Registry struct {
	udev    *goudev.Udev
	sysPath string

	priority atomic.Int32
	refs     atomic.Int32
}

func Available() bool {
	return true
}

// Open acquires a libudev context. It fails when sysfs is not mounted.
func Open() (native.Registry, error) {
	sysPath := os.Getenv("SYSFS_PATH")
	if sysPath == "" {
		sysPath = defaultSysPath
	}
	if _, err := os.Stat(sysPath); err != nil {
		klog.Errorf("sysfs is not available at %q: %v", sysPath, err)
		return nil, fmt.Errorf("libudev: %s: %w: %w", sysPath, native.ErrUnavailable, err)
	}

	r := &Registry{
		udev:    &goudev.Udev{},
		sysPath: sysPath,
	}
	r.priority.Store(defaultLogPriority)
	r.refs.Store(1)
	return r, nil
}

func (r *Registry) SysPath() string {
	return r.sysPath
}

func (r *Registry) DevPath() string {
	return defaultDevPath
}

func (r *Registry) RunPath() string {
	return defaultRunPath
}

func (r *Registry) LogPriority() int {
	return int(r.priority.Load())
}

func (r *Registry) SetLogPriority(priority int) {
	r.priority.Store(int32(priority))
}

func (r *Registry) Refs() int {
	return int(r.refs.Load())
}

func (r *Registry) Unref() {
	switch n := r.refs.Add(-1); {
	case n == 0:
		r.udev = nil
	case n < 0:
		klog.Errorf("libudev context released %d times too often", -n)
	}
}

func (r *Registry) live() (*goudev.Udev, error) {
	if r.refs.Load() <= 0 || r.udev == nil {
		return nil, native.ErrReleased
	}
	return r.udev, nil
}

func (r *Registry) NewEnumeration() (native.Enumeration, error) {
	u, err := r.live()
	if err != nil {
		return nil, err
	}
	r.refs.Add(1)
	return &enumeration{reg: r, enum: u.NewEnumerate()}, nil
}

func (r *Registry) DeviceFromSysPath(syspath string) (native.Device, error) {
	u, err := r.live()
	if err != nil {
		return nil, err
	}
	dev := u.NewDeviceFromSyspath(syspath)
	if dev == nil {
		return nil, fmt.Errorf("libudev: %s: %w", syspath, native.ErrNoDevice)
	}
	return &device{dev: dev}, nil
}

// entry pulls its successor from the native list on the first Next call and
// keeps it, so each step costs one udev_list_entry_get_next.
type entry struct {
	enum   *enumeration
	gen    uint64
	name   string
	next   *entry
	pulled bool
}

func (e *entry) Name() string {
	return e.name
}

func (e *entry) Value() string {
	return ""
}

func (e *entry) Next() native.ListEntry {
	if !e.pulled {
		e.pulled = true
		e.next = e.enum.pull(e.gen)
	}
	if e.next == nil {
		return nil
	}
	return e.next
}

type enumeration struct {
	reg  *Registry
	enum *goudev.Enumerate

	// gen invalidates entries of earlier scans.
	gen    uint64
	it     *iter.Iterator
	head   *entry
	pulled bool
}

func (e *enumeration) live() (*goudev.Enumerate, error) {
	if e.enum == nil {
		return nil, native.ErrReleased
	}
	return e.enum, nil
}

func (e *enumeration) pull(gen uint64) *entry {
	if e.enum == nil || e.it == nil || gen != e.gen {
		return nil
	}
	item, err := e.it.Next()
	if err != nil {
		if err != iter.FINISHED {
			klog.Errorf("libudev list walk failed: %v", err)
		}
		e.it.Close()
		e.it = nil
		return nil
	}
	name, ok := item.(string)
	if !ok {
		klog.Errorf("libudev list entry has unexpected type %T", item)
		return nil
	}
	return &entry{enum: e, gen: gen, name: name}
}

func (e *enumeration) reset() {
	e.gen++
	if e.it != nil {
		e.it.Close()
	}
	e.it = nil
	e.head = nil
	e.pulled = false
}

func (e *enumeration) AddMatchSubsystem(subsystem string) error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	return enum.AddMatchSubsystem(subsystem)
}

func (e *enumeration) AddMatchSysName(sysname string) error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	return enum.AddMatchSysname(sysname)
}

func (e *enumeration) AddMatchProperty(key, value string) error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	return enum.AddMatchProperty(key, value)
}

func (e *enumeration) AddMatchAttribute(key, value string) error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	return enum.AddMatchSysattr(key, value)
}

func (e *enumeration) AddMatchTag(tag string) error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	return enum.AddMatchTag(tag)
}

func (e *enumeration) AddMatchIsInitialized() error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	return enum.AddMatchIsInitialized()
}

func (e *enumeration) AddMatchParent(parent native.Device) error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	d, ok := parent.(*device)
	if !ok || d == nil {
		return fmt.Errorf("libudev: parent %T was not resolved by libudev: %w", parent, native.ErrNoDevice)
	}
	return enum.AddMatchParent(d.dev)
}

// Scan runs udev_enumerate_scan_devices. The result list is walked lazily
// in libudev order.
func (e *enumeration) Scan() error {
	enum, err := e.live()
	if err != nil {
		return err
	}
	e.reset()
	it, err := enum.DeviceSyspathIterator()
	if err != nil {
		klog.Errorf("libudev scan failed: %v", err)
		return fmt.Errorf("libudev: scan: %w", err)
	}
	e.it = &it
	return nil
}

func (e *enumeration) ListEntry() native.ListEntry {
	if !e.pulled {
		e.pulled = true
		e.head = e.pull(e.gen)
	}
	if e.head == nil {
		return nil
	}
	return e.head
}

func (e *enumeration) Unref() {
	if e.enum == nil {
		klog.Errorf("libudev enumeration released twice")
		return
	}
	e.reset()
	e.enum = nil
	e.reg.Unref()
}

type device struct {
	dev *goudev.Device
}

func keys[V any](m map[string]V) []string {
	res := make([]string, 0, len(m))
	for key := range m {
		res = append(res, key)
	}
	sort.Strings(res)
	return res
}

func (d *device) SysPath() string {
	return d.dev.Syspath()
}

func (d *device) DevPath() string {
	return d.dev.Devpath()
}

func (d *device) SysName() string {
	return d.dev.Sysname()
}

func (d *device) SysNum() string {
	return d.dev.Sysnum()
}

func (d *device) Subsystem() string {
	return d.dev.Subsystem()
}

func (d *device) DevType() string {
	return d.dev.Devtype()
}

func (d *device) Driver() string {
	return d.dev.Driver()
}

func (d *device) DevNode() string {
	return d.dev.Devnode()
}

func (d *device) DevLinks() []string {
	return keys(d.dev.Devlinks())
}

func (d *device) Tags() []string {
	return keys(d.dev.Tags())
}

func (d *device) Properties() map[string]string {
	return d.dev.Properties()
}

func (d *device) Property(key string) string {
	return d.dev.PropertyValue(key)
}

func (d *device) AttributeKeys() []string {
	return keys(d.dev.Sysattrs())
}

func (d *device) Attribute(key string) (string, bool) {
	if _, found := d.dev.Sysattrs()[key]; !found {
		return "", false
	}
	return d.dev.SysattrValue(key), true
}

func (d *device) IsInitialized() bool {
	return d.dev.IsInitialized()
}

func (d *device) Parent() native.Device {
	parent := d.dev.Parent()
	if parent == nil {
		return nil
	}
	return &device{dev: parent}
}
