package udev

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
)

type Kind int

const (
	KindSubsystem Kind = iota
	KindSysName
	KindProperty
	KindAttribute
	KindTag
	KindIsInitialized
	KindParent
)

func (k Kind) String() string {
	switch k {
	case KindSubsystem:
		return "subsystem"
	case KindSysName:
		return "sys_name"
	case KindProperty:
		return "property"
	case KindAttribute:
		return "attribute"
	case KindTag:
		return "tag"
	case KindIsInitialized:
		return "is_initialized"
	case KindParent:
		return "parent"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Predicate is one accepted filter. Key is set for properties and
// attributes, Value for every kind except is_initialized; a parent
// predicate carries the parent's sys path as Value.
type Predicate struct {
	Kind  Kind
	Key   string
	Value string
}

func (p Predicate) String() string {
	switch p.Kind {
	case KindIsInitialized:
		return p.Kind.String()
	case KindProperty, KindAttribute:
		return fmt.Sprintf("%s(%s=%s)", p.Kind, p.Key, p.Value)
	}
	return fmt.Sprintf("%s(%s)", p.Kind, p.Value)
}

// Match is the bulk form of the Match* methods. Zero fields are not applied,
// so the zero Match changes nothing.
type Match struct {
	Subsystem  string
	SysName    string
	Tag        string
	Parent     *Device
	Properties map[string]any
}

// Enumerator accumulates filters on a native enumeration and lists the
// devices matching them. Filters of the same kind are ORed, filters of
// different kinds are ANDed. An Enumerator must not be used from several
// goroutines at once.
type Enumerator struct {
	ctx  *Context
	enum native.Enumeration

	filters []Predicate
	err     error
	once    sync.Once
}

// NewEnumerator binds a new enumeration to c. Most callers want
// Context.ListDevices instead.
func NewEnumerator(c *Context) (*Enumerator, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	if c.Closed() {
		return nil, fmt.Errorf("%w: context closed", ErrInvalidArgument)
	}
	enum, err := c.reg.NewEnumeration()
	if err != nil {
		klog.Errorf("failed to create enumeration: %v", err)
		return nil, fmt.Errorf("%w: new enumeration: %w", ErrInitialization, err)
	}
	return &Enumerator{ctx: c, enum: enum}, nil
}

func (e *Enumerator) add(p Predicate, apply func(native.Enumeration) error) *Enumerator {
	if e.err != nil {
		return e
	}
	if e.enum == nil {
		e.err = fmt.Errorf("%w: %s: enumerator closed", ErrInvalidArgument, p)
		return e
	}
	if err := apply(e.enum); err != nil {
		klog.Errorf("failed to add %s filter: %v", p, err)
		e.err = fmt.Errorf("%w: %s: %w", ErrInvalidArgument, p, err)
		return e
	}
	e.filters = append(e.filters, p)
	return e
}

func (e *Enumerator) MatchSubsystem(subsystem string) *Enumerator {
	return e.add(Predicate{Kind: KindSubsystem, Value: subsystem}, func(n native.Enumeration) error {
		return n.AddMatchSubsystem(subsystem)
	})
}

func (e *Enumerator) MatchSysName(sysname string) *Enumerator {
	return e.add(Predicate{Kind: KindSysName, Value: sysname}, func(n native.Enumeration) error {
		return n.AddMatchSysName(sysname)
	})
}

// MatchProperty keeps devices whose property key equals value, rendered
// with Value.
func (e *Enumerator) MatchProperty(key string, value any) *Enumerator {
	if e.err != nil {
		return e
	}
	v, err := Value(value)
	if err != nil {
		e.err = fmt.Errorf("property %s: %w", key, err)
		return e
	}
	return e.add(Predicate{Kind: KindProperty, Key: key, Value: v}, func(n native.Enumeration) error {
		return n.AddMatchProperty(key, v)
	})
}

// MatchAttribute keeps devices whose sysfs attribute key equals value,
// rendered with Value.
func (e *Enumerator) MatchAttribute(key string, value any) *Enumerator {
	if e.err != nil {
		return e
	}
	v, err := Value(value)
	if err != nil {
		e.err = fmt.Errorf("attribute %s: %w", key, err)
		return e
	}
	return e.add(Predicate{Kind: KindAttribute, Key: key, Value: v}, func(n native.Enumeration) error {
		return n.AddMatchAttribute(key, v)
	})
}

func (e *Enumerator) MatchTag(tag string) *Enumerator {
	return e.add(Predicate{Kind: KindTag, Value: tag}, func(n native.Enumeration) error {
		return n.AddMatchTag(tag)
	})
}

// MatchIsInitialized drops devices udev has not finished processing. Devices
// without a device node that are not network interfaces are never dropped.
func (e *Enumerator) MatchIsInitialized() *Enumerator {
	return e.add(Predicate{Kind: KindIsInitialized}, func(n native.Enumeration) error {
		return n.AddMatchIsInitialized()
	})
}

// MatchParent keeps parent and the devices below it.
func (e *Enumerator) MatchParent(parent *Device) *Enumerator {
	if e.err != nil {
		return e
	}
	if parent == nil || parent.dev == nil {
		e.err = fmt.Errorf("%w: nil parent device", ErrInvalidArgument)
		return e
	}
	return e.add(Predicate{Kind: KindParent, Value: parent.SysPath()}, func(n native.Enumeration) error {
		return n.AddMatchParent(parent.dev)
	})
}

// Match applies the set fields of m in the order subsystem, sys name, tag,
// parent, then properties sorted by key.
func (e *Enumerator) Match(m Match) *Enumerator {
	if m.Subsystem != "" {
		e.MatchSubsystem(m.Subsystem)
	}
	if m.SysName != "" {
		e.MatchSysName(m.SysName)
	}
	if m.Tag != "" {
		e.MatchTag(m.Tag)
	}
	if m.Parent != nil {
		e.MatchParent(m.Parent)
	}
	for _, key := range slices.Sorted(maps.Keys(m.Properties)) {
		e.MatchProperty(key, m.Properties[key])
	}
	return e
}

// Filters returns the accepted predicates in the order they were added.
func (e *Enumerator) Filters() []Predicate {
	return slices.Clone(e.filters)
}

// Err returns the first rejected filter. Once set, further Match* calls are
// ignored and iteration yields only this error.
func (e *Enumerator) Err() error {
	return e.err
}

// SysPaths scans the registry and yields the sys path of every match in
// registry order. Each range over the sequence scans again.
func (e *Enumerator) SysPaths() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if e.err != nil {
			yield("", e.err)
			return
		}
		if e.enum == nil {
			yield("", fmt.Errorf("%w: enumerator closed", ErrScan))
			return
		}
		if err := e.enum.Scan(); err != nil {
			klog.Errorf("failed to scan devices: %v", err)
			yield("", fmt.Errorf("%w: %w", ErrScan, err))
			return
		}
		for entry, err := range listEntries(e.enum.ListEntry()) {
			if err != nil {
				yield("", fmt.Errorf("%w: %w", ErrScan, err))
				return
			}
			if !yield(entry.Name, nil) {
				return
			}
		}
	}
}

// Devices is SysPaths with every sys path resolved. A device that vanished
// between the scan and its resolution ends the sequence with ErrResolution.
func (e *Enumerator) Devices() iter.Seq2[*Device, error] {
	return func(yield func(*Device, error) bool) {
		for syspath, err := range e.SysPaths() {
			if err != nil {
				yield(nil, err)
				return
			}
			dev, err := e.ctx.resolve(syspath)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(dev, nil) {
				return
			}
		}
	}
}

// Close releases the native enumeration and its registry reference.
func (e *Enumerator) Close() {
	e.once.Do(func() {
		if e.enum != nil {
			e.enum.Unref()
			e.enum = nil
		}
	})
}
