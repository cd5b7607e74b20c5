package udev

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
	"github.com/ydb-platform/udev-query/internal/native/libudev"
	"github.com/ydb-platform/udev-query/internal/native/sysfs"
)

type options struct {
	backend native.Backend
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// WithBackend makes the Context acquire its registry from b.
func WithBackend(b native.Backend) Option {
	return optionFunc(func(o *options) {
		o.backend = b
	})
}

// DefaultBackend opens libudev when this build supports it and falls back to
// reading sysfs directly.
func DefaultBackend() (native.Registry, error) {
	reg, err := libudev.Open()
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, native.ErrUnavailable) {
		return nil, err
	}
	klog.V(4).Infof("libudev backend unavailable, reading sysfs: %v", err)
	return sysfs.Backend()()
}

// Context holds one reference to the native device registry.
type Context struct {
	reg    native.Registry
	closed atomic.Bool
	once   sync.Once
}

func NewContext(opts ...Option) (*Context, error) {
	o := &options{backend: DefaultBackend}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	if o.backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInitialization)
	}

	reg, err := o.backend()
	if err != nil {
		klog.Errorf("failed to acquire device registry: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: backend returned no registry", ErrInitialization)
	}
	return &Context{reg: reg}, nil
}

// SysPath is the sysfs mount point used by the registry.
func (c *Context) SysPath() (string, error) {
	return decode(c.reg.SysPath())
}

// DevicePath is the directory holding device nodes.
func (c *Context) DevicePath() (string, error) {
	return decode(c.reg.DevPath())
}

// RunPath is the udev runtime directory.
func (c *Context) RunPath() (string, error) {
	return decode(c.reg.RunPath())
}

func (c *Context) LogPriority() int {
	return c.reg.LogPriority()
}

// SetLogPriority hands level to the registry as is.
func (c *Context) SetLogPriority(level int) {
	c.reg.SetLogPriority(level)
}

// ListDevices returns a new Enumerator with m applied. The caller closes it.
func (c *Context) ListDevices(m Match) (*Enumerator, error) {
	e, err := NewEnumerator(c)
	if err != nil {
		return nil, err
	}
	if err := e.Match(m).Err(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// DeviceFromSysPath resolves the device at syspath.
func (c *Context) DeviceFromSysPath(syspath string) (*Device, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %s: context closed", ErrResolution, syspath)
	}
	return c.resolve(syspath)
}

func (c *Context) resolve(syspath string) (*Device, error) {
	dev, err := c.reg.DeviceFromSysPath(syspath)
	if err != nil {
		klog.V(4).Infof("failed to resolve %s: %v", syspath, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrResolution, syspath, err)
	}
	return newDevice(c, dev), nil
}

func (c *Context) Closed() bool {
	return c.closed.Load()
}

// Close releases the registry reference. Enumerators keep their own
// references and stay usable.
func (c *Context) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.reg.Unref()
	})
}
