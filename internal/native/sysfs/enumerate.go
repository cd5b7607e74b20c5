package sysfs

import (
	"cmp"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
)

type entry struct {
	name string
	next *entry
}

func (e *entry) Name() string {
	return e.name
}

// Value is always empty: enumeration results carry no auxiliary value.
func (e *entry) Value() string {
	return ""
}

func (e *entry) Next() native.ListEntry {
	if e.next == nil {
		return nil
	}
	return e.next
}

type enumeration struct {
	reg *Registry

	subsystems  []pattern
	sysnames    []pattern
	properties  []keyValue
	attributes  []keyValue
	tags        []string
	parents     []string
	initialized bool

	head     *entry
	released bool
}

func (e *enumeration) check() error {
	if e.released {
		return native.ErrReleased
	}
	return nil
}

func (e *enumeration) compile(p string) (pattern, error) {
	if err := e.check(); err != nil {
		return pattern{}, err
	}
	res, err := compile(p)
	if err != nil {
		return pattern{}, fmt.Errorf("sysfs: pattern %q: %w", p, err)
	}
	return res, nil
}

func (e *enumeration) AddMatchSubsystem(subsystem string) error {
	p, err := e.compile(subsystem)
	if err != nil {
		return err
	}
	e.subsystems = append(e.subsystems, p)
	return nil
}

func (e *enumeration) AddMatchSysName(sysname string) error {
	p, err := e.compile(sysname)
	if err != nil {
		return err
	}
	e.sysnames = append(e.sysnames, p)
	return nil
}

func (e *enumeration) AddMatchProperty(key, value string) error {
	k, err := e.compile(key)
	if err != nil {
		return err
	}
	v, err := e.compile(value)
	if err != nil {
		return err
	}
	e.properties = append(e.properties, keyValue{k, v})
	return nil
}

// AddMatchAttribute takes the attribute name literally, only the value is a
// pattern.
func (e *enumeration) AddMatchAttribute(key, value string) error {
	v, err := e.compile(value)
	if err != nil {
		return err
	}
	e.attributes = append(e.attributes, keyValue{pattern{text: key, literal: true}, v})
	return nil
}

func (e *enumeration) AddMatchTag(tag string) error {
	if err := e.check(); err != nil {
		return err
	}
	e.tags = append(e.tags, tag)
	return nil
}

func (e *enumeration) AddMatchIsInitialized() error {
	if err := e.check(); err != nil {
		return err
	}
	e.initialized = true
	return nil
}

func (e *enumeration) AddMatchParent(parent native.Device) error {
	if err := e.check(); err != nil {
		return err
	}
	if parent == nil || parent.SysPath() == "" {
		return fmt.Errorf("sysfs: parent: %w", native.ErrNoDevice)
	}
	e.parents = append(e.parents, parent.SysPath())
	return nil
}

func (e *enumeration) ListEntry() native.ListEntry {
	if e.released || e.head == nil {
		return nil
	}
	return e.head
}

func (e *enumeration) Unref() {
	if e.released {
		klog.Errorf("sysfs enumeration released twice")
		return
	}
	e.released = true
	e.head = nil
	e.reg.Unref()
}

// Scan rebuilds the result list from the current state of sysfs.
func (e *enumeration) Scan() error {
	if e.released {
		return native.ErrReleased
	}
	e.head = nil

	if _, err := e.reg.fs.Stat(e.reg.sysPath); err != nil {
		klog.Errorf("failed to scan %s: %v", e.reg.sysPath, err)
		return fmt.Errorf("sysfs: scan %s: %w", e.reg.sysPath, err)
	}

	var candidates []string
	var err error
	if len(e.parents) > 0 {
		candidates, err = e.scanSubtrees()
	} else {
		candidates, err = e.scanAll()
	}
	if err != nil {
		return err
	}

	filter := e.filter()
	matched := make([]string, 0, len(candidates))
	for _, syspath := range candidates {
		d, err := loadDevice(e.reg, syspath)
		if err != nil {
			// gone between listing and reading
			klog.V(5).Infof("skipping %s: %v", syspath, err)
			continue
		}
		if filter(d) {
			matched = append(matched, syspath)
		}
	}

	sortSysPaths(matched)
	for i := len(matched) - 1; i >= 0; i-- {
		e.head = &entry{name: matched[i], next: e.head}
	}
	klog.V(4).Infof("sysfs scan matched %d of %d devices", len(matched), len(candidates))
	return nil
}

// scanAll lists <sys>/bus/*/devices/* and <sys>/class/*/*.
func (e *enumeration) scanAll() ([]string, error) {
	seen := make(map[string]bool)
	var res []string
	add := func(dir string) error {
		entries, err := afero.ReadDir(e.reg.fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, de := range entries {
			syspath, err := resolveLink(e.reg.fs, path.Join(dir, de.Name()))
			if err != nil {
				klog.V(5).Infof("failed to resolve %s/%s: %v", dir, de.Name(), err)
				continue
			}
			if seen[syspath] || !e.reg.isDevice(syspath) {
				continue
			}
			seen[syspath] = true
			res = append(res, syspath)
		}
		return nil
	}

	for _, top := range []struct{ dir, sub string }{
		{"bus", "devices"},
		{"class", ""},
	} {
		root := path.Join(e.reg.sysPath, top.dir)
		groups, err := afero.ReadDir(e.reg.fs, root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			klog.Errorf("failed to read %s: %v", root, err)
			return nil, fmt.Errorf("sysfs: scan %s: %w", root, err)
		}
		for _, group := range groups {
			if err := add(path.Join(root, group.Name(), top.sub)); err != nil {
				klog.Errorf("failed to read %s/%s: %v", root, group.Name(), err)
				return nil, fmt.Errorf("sysfs: scan %s: %w", root, err)
			}
		}
	}
	return res, nil
}

// scanSubtrees walks the device directories below every parent without
// following symlinks, the parents themselves included.
func (e *enumeration) scanSubtrees() ([]string, error) {
	seen := make(map[string]bool)
	var res []string
	var walk func(dir string) error
	walk = func(dir string) error {
		if seen[dir] {
			return nil
		}
		seen[dir] = true
		if e.reg.isDevice(dir) {
			res = append(res, dir)
		}
		entries, err := afero.ReadDir(e.reg.fs, dir)
		if err != nil {
			return err
		}
		for _, de := range entries {
			if de.IsDir() {
				if err := walk(path.Join(dir, de.Name())); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, parent := range e.parents {
		if err := walk(parent); err != nil {
			klog.Errorf("failed to walk %s: %v", parent, err)
			return nil, fmt.Errorf("sysfs: scan %s: %w", parent, err)
		}
	}
	return res, nil
}

// sortSysPaths orders by sys path, with sound control devices after the
// PCM devices of their card and md and device-mapper block devices last.
func sortSysPaths(paths []string) {
	rank := func(p string) int {
		switch {
		case strings.Contains(p, "/block/md") || strings.Contains(p, "/block/dm-"):
			return 2
		case strings.Contains(p, "/sound/card") && strings.HasPrefix(path.Base(p), "controlC"):
			return 1
		}
		return 0
	}
	slices.SortFunc(paths, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}
