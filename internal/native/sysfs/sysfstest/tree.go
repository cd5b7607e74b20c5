// Package sysfstest builds fake sysfs and udev database trees on disk.
package sysfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/ydb-platform/udev-query/internal/native"
	"github.com/ydb-platform/udev-query/internal/native/sysfs"
)

// Device describes one device directory below <sys>/devices.
type Device struct {
	// DevPath is relative to the sysfs mount, e.g. "/devices/virtual/net/lo".
	DevPath   string
	Subsystem string
	// Bus links the device under bus/<subsystem>/devices instead of
	// class/<subsystem>.
	Bus        bool
	Driver     string
	Uevent     map[string]string
	Attributes map[string]string
	// DB is the udev database entry; nil leaves the device uninitialized.
	DB *DB
}

type DB struct {
	Links      []string
	Properties map[string]string
	Tags       []string
	Usec       string
}

// Tree is a fake host root with sys, run/udev and dev below Root.
type Tree struct {
	Root string
}

func New(root string) (*Tree, error) {
	t := &Tree{Root: root}
	for _, dir := range []string{"sys/devices", "sys/bus", "sys/class", "run/udev/data", "dev"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Fs is the tree seen as a host root.
func (t *Tree) Fs() afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), t.Root)
}

func (t *Tree) Options() []sysfs.Option {
	return []sysfs.Option{sysfs.WithFs(t.Fs()), sysfs.WithSysPath(sysfs.DefaultSysPath)}
}

func (t *Tree) Backend() native.Backend {
	return sysfs.Backend(t.Options()...)
}

// SysPath is the sys path of devpath as seen through Fs.
func SysPath(devpath string) string {
	return sysfs.DefaultSysPath + devpath
}

func (t *Tree) sys(elem ...string) string {
	return filepath.Join(append([]string{t.Root, "sys"}, elem...)...)
}

func link(target, name string) error {
	rel, err := filepath.Rel(filepath.Dir(name), target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.Symlink(rel, name)
}

// Add creates the device directory, its subsystem and driver links, the
// class or bus entry and the database entry. It returns the sys path.
func (t *Tree) Add(d Device) (string, error) {
	dir := t.sys(d.DevPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var uevent strings.Builder
	for key, value := range d.Uevent {
		fmt.Fprintf(&uevent, "%s=%s\n", key, value)
	}
	if err := os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent.String()), 0o644); err != nil {
		return "", err
	}
	for key, value := range d.Attributes {
		if err := os.WriteFile(filepath.Join(dir, key), []byte(value+"\n"), 0o644); err != nil {
			return "", err
		}
	}

	name := filepath.Base(d.DevPath)
	if d.Subsystem != "" {
		subsystemDir := t.sys("class", d.Subsystem)
		entry := filepath.Join(subsystemDir, name)
		if d.Bus {
			subsystemDir = t.sys("bus", d.Subsystem)
			entry = filepath.Join(subsystemDir, "devices", name)
		}
		if err := os.MkdirAll(subsystemDir, 0o755); err != nil {
			return "", err
		}
		if err := link(subsystemDir, filepath.Join(dir, "subsystem")); err != nil {
			return "", err
		}
		if err := link(dir, entry); err != nil {
			return "", err
		}
		if d.Driver != "" {
			driverDir := t.sys("bus", d.Subsystem, "drivers", d.Driver)
			if err := os.MkdirAll(driverDir, 0o755); err != nil {
				return "", err
			}
			if err := link(driverDir, filepath.Join(dir, "driver")); err != nil {
				return "", err
			}
		}
	}

	if d.DB != nil {
		if err := t.WriteDB(d, *d.DB); err != nil {
			return "", err
		}
	}
	return SysPath(d.DevPath), nil
}

// WriteDB (re)writes the database entry of d, marking it initialized.
func (t *Tree) WriteDB(d Device, db DB) error {
	var b strings.Builder
	for _, l := range db.Links {
		fmt.Fprintf(&b, "S:%s\n", l)
	}
	if db.Usec != "" {
		fmt.Fprintf(&b, "I:%s\n", db.Usec)
	}
	for key, value := range db.Properties {
		fmt.Fprintf(&b, "E:%s=%s\n", key, value)
	}
	for _, tag := range db.Tags {
		fmt.Fprintf(&b, "G:%s\n", tag)
	}
	return os.WriteFile(filepath.Join(t.Root, "run/udev/data", ID(d)), []byte(b.String()), 0o644)
}

// Remove deletes the device directory (and everything below it) together
// with its class or bus link.
func (t *Tree) Remove(d Device) error {
	name := filepath.Base(d.DevPath)
	entry := t.sys("class", d.Subsystem, name)
	if d.Bus {
		entry = t.sys("bus", d.Subsystem, "devices", name)
	}
	if err := os.Remove(entry); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(t.Root, "run/udev/data", ID(d))); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.RemoveAll(t.sys(d.DevPath))
}

// ID is the database name udevd uses for d.
func ID(d Device) string {
	major, _ := strconv.Atoi(d.Uevent["MAJOR"])
	ifindex, _ := strconv.Atoi(d.Uevent["IFINDEX"])
	switch {
	case major > 0:
		kind := "c"
		if d.Subsystem == "block" {
			kind = "b"
		}
		return fmt.Sprintf("%s%d:%s", kind, major, d.Uevent["MINOR"])
	case ifindex > 0:
		return fmt.Sprintf("n%d", ifindex)
	default:
		return fmt.Sprintf("+%s:%s", d.Subsystem, filepath.Base(d.DevPath))
	}
}

// Build creates a tree holding devices.
func Build(root string, devices ...Device) (*Tree, error) {
	t, err := New(root)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if _, err := t.Add(d); err != nil {
			return nil, fmt.Errorf("add %s: %w", d.DevPath, err)
		}
	}
	return t, nil
}
