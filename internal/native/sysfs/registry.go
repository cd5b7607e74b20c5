// Package sysfs reads the device registry directly from sysfs and the udev
// runtime database, without linking libudev.
//
// All paths are resolved against an afero.Fs, so a fake tree rooted in a
// temporary directory behaves like a real /sys when wrapped in
// afero.NewBasePathFs.
package sysfs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
)

const (
	DefaultSysPath    = "/sys"
	DefaultDevPath    = "/dev"
	DefaultRunPath    = "/run/udev"
	DefaultConfigFile = "/etc/udev/udev.conf"

	// syslog LOG_ERR
	DefaultLogPriority = 3

	EnvSysPath     = "SYSFS_PATH"
	EnvDevPath     = "UDEV_ROOT"
	EnvRunPath     = "UDEV_RUN"
	EnvLogPriority = "UDEV_LOG"
	EnvConfigFile  = "UDEV_CONFIG_FILE"
)

var syslogPriorities = map[string]int{
	"emerg":   0,
	"alert":   1,
	"crit":    2,
	"err":     3,
	"warning": 4,
	"notice":  5,
	"info":    6,
	"debug":   7,
}

type options struct {
	fs         afero.Fs
	sysPath    string
	devPath    string
	runPath    string
	configFile string
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// WithFs resolves every registry path against fs instead of the host root.
func WithFs(fs afero.Fs) Option {
	return optionFunc(func(o *options) {
		o.fs = fs
	})
}

// WithSysPath overrides the sysfs mount point, including SYSFS_PATH.
func WithSysPath(p string) Option {
	return optionFunc(func(o *options) {
		o.sysPath = p
	})
}

func WithDevPath(p string) Option {
	return optionFunc(func(o *options) {
		o.devPath = p
	})
}

func WithRunPath(p string) Option {
	return optionFunc(func(o *options) {
		o.runPath = p
	})
}

func WithConfigFile(p string) Option {
	return optionFunc(func(o *options) {
		o.configFile = p
	})
}

// Registry is a reference-counted view of sysfs and the udev database.
type Registry struct {
	fs      afero.Fs
	sysPath string
	devPath string
	runPath string

	priority atomic.Int32
	refs     atomic.Int32
}

// Backend returns a native.Backend opening a Registry with opts.
func Backend(opts ...Option) native.Backend {
	return func() (native.Registry, error) {
		r, err := Open(opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Open acquires a new registry holding one reference. Explicit options win
// over the environment, which wins over udev.conf.
func Open(opts ...Option) (*Registry, error) {
	o := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}

	r := &Registry{
		fs:      o.fs,
		sysPath: DefaultSysPath,
		devPath: DefaultDevPath,
		runPath: DefaultRunPath,
	}
	r.priority.Store(DefaultLogPriority)

	configFile := firstNonEmpty(o.configFile, os.Getenv(EnvConfigFile), DefaultConfigFile)
	if err := r.readConfig(configFile); err != nil {
		klog.Errorf("failed to read udev config %q: %v", configFile, err)
		return nil, fmt.Errorf("sysfs: read config %s: %w", configFile, err)
	}

	if v := os.Getenv(EnvLogPriority); v != "" {
		r.setPriorityString(v)
	}
	r.sysPath = cleanRoot(firstNonEmpty(o.sysPath, os.Getenv(EnvSysPath), r.sysPath))
	r.devPath = cleanRoot(firstNonEmpty(o.devPath, os.Getenv(EnvDevPath), r.devPath))
	r.runPath = cleanRoot(firstNonEmpty(o.runPath, os.Getenv(EnvRunPath), r.runPath))

	info, err := r.fs.Stat(r.sysPath)
	if err != nil {
		klog.Errorf("sysfs is not available at %q: %v", r.sysPath, err)
		return nil, fmt.Errorf("sysfs: %s: %w: %w", r.sysPath, native.ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sysfs: %s is not a directory: %w", r.sysPath, native.ErrUnavailable)
	}

	r.refs.Store(1)
	klog.V(4).Infof("opened sysfs registry sys=%s dev=%s run=%s", r.sysPath, r.devPath, r.runPath)
	return r, nil
}

// readConfig applies udev_root, udev_run and udev_log from a udev.conf
// style file. A missing file is not an error.
func (r *Registry) readConfig(name string) error {
	f, err := r.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			klog.V(2).Infof("%s: ignoring malformed line %q", name, line)
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "udev_root":
			r.devPath = value
		case "udev_run":
			r.runPath = value
		case "udev_log":
			r.setPriorityString(value)
		}
	}
	return scanner.Err()
}

func (r *Registry) setPriorityString(v string) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		r.priority.Store(int32(n))
		return
	}
	if n, ok := syslogPriorities[strings.ToLower(v)]; ok {
		r.priority.Store(int32(n))
		return
	}
	klog.V(2).Infof("ignoring unknown udev log priority %q", v)
}

func (r *Registry) SysPath() string {
	return r.sysPath
}

func (r *Registry) DevPath() string {
	return r.devPath
}

func (r *Registry) RunPath() string {
	return r.runPath
}

func (r *Registry) LogPriority() int {
	return int(r.priority.Load())
}

func (r *Registry) SetLogPriority(priority int) {
	r.priority.Store(int32(priority))
}

// Refs returns the number of live references, including the ones held by
// enumerations.
func (r *Registry) Refs() int {
	return int(r.refs.Load())
}

func (r *Registry) ref() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return native.ErrReleased
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

func (r *Registry) Unref() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		klog.V(4).Infof("released sysfs registry %s", r.sysPath)
	case n < 0:
		klog.Errorf("sysfs registry %s released %d times too often", r.sysPath, -n)
	}
}

func (r *Registry) NewEnumeration() (native.Enumeration, error) {
	if err := r.ref(); err != nil {
		return nil, err
	}
	return &enumeration{reg: r}, nil
}

// DeviceFromSysPath resolves syspath, following the class and bus symlinks,
// to a device directory carrying a uevent file.
func (r *Registry) DeviceFromSysPath(syspath string) (native.Device, error) {
	if r.refs.Load() <= 0 {
		return nil, native.ErrReleased
	}
	d, err := r.device(syspath)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Registry) device(syspath string) (*device, error) {
	p := path.Clean(syspath)
	if !strings.HasPrefix(p, r.sysPath+"/") {
		return nil, fmt.Errorf("sysfs: %s is outside of %s: %w", syspath, r.sysPath, native.ErrNoDevice)
	}
	p, err := resolveLink(r.fs, p)
	if err != nil {
		return nil, fmt.Errorf("sysfs: %s: %w", syspath, native.ErrNoDevice)
	}
	if !r.isDevice(p) {
		return nil, fmt.Errorf("sysfs: %s: %w", syspath, native.ErrNoDevice)
	}
	return loadDevice(r, p)
}

func (r *Registry) isDevice(p string) bool {
	info, err := r.fs.Stat(path.Join(p, "uevent"))
	return err == nil && info.Mode().IsRegular()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func cleanRoot(p string) string {
	p = path.Clean(p)
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
