package sysfs

import (
	"fmt"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
)

// attributes exposed through their link target name instead of file content
var linkAttributes = map[string]bool{
	"driver":    true,
	"subsystem": true,
	"module":    true,
}

// database holds what udevd recorded for a device under <run>/data.
type database struct {
	links      []string
	properties map[string]string
	tags       []string
	usec       string
}

type device struct {
	reg *Registry

	syspath   string
	sysname   string
	subsystem string
	driver    string
	devtype   string
	devnode   string
	major     int
	minor     int
	ifindex   int

	uevent     map[string]string
	db         *database
	properties map[string]string

	parent       *device
	parentLoaded bool
}

func loadDevice(r *Registry, syspath string) (*device, error) {
	uevent, err := readKeyValues(r.fs, path.Join(syspath, "uevent"))
	if err != nil {
		return nil, fmt.Errorf("sysfs: %s: %w: %w", syspath, native.ErrNoDevice, err)
	}

	d := &device{
		reg:     r,
		syspath: syspath,
		sysname: strings.ReplaceAll(path.Base(syspath), "!", "/"),
		uevent:  uevent,
		devtype: uevent["DEVTYPE"],
	}

	d.subsystem = linkBase(r.fs, path.Join(syspath, "subsystem"))
	if d.subsystem == "" && strings.HasPrefix(syspath, r.sysPath+"/module/") {
		d.subsystem = "module"
	}
	d.driver = linkBase(r.fs, path.Join(syspath, "driver"))
	if d.driver == "" {
		d.driver = uevent["DRIVER"]
	}
	if name := uevent["DEVNAME"]; name != "" {
		if path.IsAbs(name) {
			d.devnode = name
		} else {
			d.devnode = path.Join(r.devPath, name)
		}
	}
	d.major, _ = strconv.Atoi(uevent["MAJOR"])
	d.minor, _ = strconv.Atoi(uevent["MINOR"])
	d.ifindex, _ = strconv.Atoi(uevent["IFINDEX"])

	d.db, err = readDatabase(r.fs, path.Join(r.runPath, "data", d.id()))
	if err != nil {
		klog.V(5).Infof("no udev database entry for %s: %v", syspath, err)
	}
	d.properties = d.buildProperties()

	return d, nil
}

// id is the name udevd uses for the device in its database: b|c<maj>:<min>
// for device nodes, n<ifindex> for network interfaces and
// +<subsystem>:<sysname> for everything else.
func (d *device) id() string {
	switch {
	case d.major > 0:
		kind := "c"
		if d.subsystem == "block" {
			kind = "b"
		}
		return fmt.Sprintf("%s%d:%d", kind, d.major, d.minor)
	case d.ifindex > 0:
		return fmt.Sprintf("n%d", d.ifindex)
	default:
		return fmt.Sprintf("+%s:%s", d.subsystem, path.Base(d.syspath))
	}
}

func readDatabase(fs afero.Fs, name string) (*database, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, err
	}
	db := &database{properties: make(map[string]string)}
	for _, line := range strings.Split(string(data), "\n") {
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		value := line[2:]
		switch line[0] {
		case 'S':
			db.links = append(db.links, value)
		case 'E':
			if key, v, found := strings.Cut(value, "="); found {
				db.properties[key] = v
			}
		case 'G', 'Q':
			if !slices.Contains(db.tags, value) {
				db.tags = append(db.tags, value)
			}
		case 'I':
			db.usec = value
		}
	}
	slices.Sort(db.tags)
	return db, nil
}

func (d *device) buildProperties() map[string]string {
	props := make(map[string]string, len(d.uevent)+8)
	for key, value := range d.uevent {
		props[key] = value
	}
	props["DEVPATH"] = d.DevPath()
	if d.subsystem != "" {
		props["SUBSYSTEM"] = d.subsystem
	}
	if d.driver != "" {
		props["DRIVER"] = d.driver
	}
	if d.devnode != "" {
		props["DEVNAME"] = d.devnode
	}
	if d.db == nil {
		return props
	}
	for key, value := range d.db.properties {
		props[key] = value
	}
	if links := d.DevLinks(); len(links) > 0 {
		props["DEVLINKS"] = strings.Join(links, " ")
	}
	if len(d.db.tags) > 0 {
		props["TAGS"] = ":" + strings.Join(d.db.tags, ":") + ":"
	}
	if d.db.usec != "" {
		props["USEC_INITIALIZED"] = d.db.usec
	}
	return props
}

func (d *device) SysPath() string {
	return d.syspath
}

func (d *device) DevPath() string {
	return strings.TrimPrefix(d.syspath, d.reg.sysPath)
}

func (d *device) SysName() string {
	return d.sysname
}

// SysNum returns the trailing digits of the sys name.
func (d *device) SysNum() string {
	i := len(d.sysname)
	for i > 0 && d.sysname[i-1] >= '0' && d.sysname[i-1] <= '9' {
		i--
	}
	return d.sysname[i:]
}

func (d *device) Subsystem() string {
	return d.subsystem
}

func (d *device) DevType() string {
	return d.devtype
}

func (d *device) Driver() string {
	return d.driver
}

func (d *device) DevNode() string {
	return d.devnode
}

func (d *device) DevLinks() []string {
	if d.db == nil {
		return nil
	}
	res := make([]string, 0, len(d.db.links))
	for _, link := range d.db.links {
		res = append(res, path.Join(d.reg.devPath, link))
	}
	return res
}

func (d *device) Tags() []string {
	if d.db == nil {
		return nil
	}
	return slices.Clone(d.db.tags)
}

func (d *device) hasTag(tag string) bool {
	return d.db != nil && slices.Contains(d.db.tags, tag)
}

func (d *device) Properties() map[string]string {
	res := make(map[string]string, len(d.properties))
	for key, value := range d.properties {
		res[key] = value
	}
	return res
}

func (d *device) Property(key string) string {
	return d.properties[key]
}

func (d *device) AttributeKeys() []string {
	entries, err := afero.ReadDir(d.reg.fs, d.syspath)
	if err != nil {
		klog.V(4).Infof("failed to list attributes of %s: %v", d.syspath, err)
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case name == "uevent":
		case entry.Mode()&os.ModeSymlink != 0:
			if linkAttributes[name] {
				keys = append(keys, name)
			}
		case entry.Mode().IsRegular():
			keys = append(keys, name)
		}
	}
	return keys
}

// Attribute reads a sysfs attribute with trailing whitespace removed.
// Directories, unreadable files and unknown links are reported as absent.
func (d *device) Attribute(key string) (string, bool) {
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	name := path.Join(d.syspath, key)
	info, err := lstat(d.reg.fs, name)
	if err != nil {
		return "", false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if !linkAttributes[path.Base(key)] {
			return "", false
		}
		base := linkBase(d.reg.fs, name)
		return base, base != ""
	}
	if !info.Mode().IsRegular() {
		return "", false
	}
	value, err := readTrimmed(d.reg.fs, name)
	if err != nil {
		klog.V(5).Infof("failed to read attribute %s: %v", name, err)
		return "", false
	}
	return value, true
}

// IsInitialized reports whether udevd has written a database entry.
func (d *device) IsInitialized() bool {
	return d.db != nil
}

// hasIdentity reports whether the device has a device number or an
// interface index, the devices for which initialization is tracked.
func (d *device) hasIdentity() bool {
	return d.major > 0 || d.ifindex > 0
}

func (d *device) Parent() native.Device {
	if p := d.parentDevice(); p != nil {
		return p
	}
	return nil
}

func (d *device) parentDevice() *device {
	if d.parentLoaded {
		return d.parent
	}
	d.parentLoaded = true

	root := d.reg.sysPath + "/devices"
	for dir := path.Dir(d.syspath); strings.HasPrefix(dir, root+"/"); dir = path.Dir(dir) {
		if !d.reg.isDevice(dir) {
			continue
		}
		parent, err := loadDevice(d.reg, dir)
		if err != nil {
			klog.V(4).Infof("failed to load parent %s of %s: %v", dir, d.syspath, err)
			return nil
		}
		d.parent = parent
		break
	}
	return d.parent
}
