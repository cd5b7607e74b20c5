package sysfs

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/ydb-platform/udev-query/internal/mux"
)

// pattern is an fnmatch(3) pattern compiled without separators, so '*' and
// '?' also match '/'.
type pattern struct {
	text    string
	literal bool
	glob    glob.Glob
}

func compile(p string) (pattern, error) {
	if !strings.ContainsAny(p, `*?[\`) {
		return pattern{text: p, literal: true}, nil
	}
	g, err := glob.Compile(braceLiteral(p))
	if err != nil {
		return pattern{}, err
	}
	return pattern{text: p, glob: g}, nil
}

// ValidPattern reports whether p is a well-formed fnmatch(3) pattern.
func ValidPattern(p string) error {
	_, err := compile(p)
	return err
}

// braceLiteral escapes braces outside bracket expressions: fnmatch has no
// alternation.
func braceLiteral(p string) string {
	if !strings.ContainsAny(p, "{}") {
		return p
	}
	var b strings.Builder
	inClass := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '\\' && i+1 < len(p):
			b.WriteByte(c)
			i++
			b.WriteByte(p[i])
			continue
		case c == '[' && !inClass:
			inClass = true
		case c == ']' && inClass:
			inClass = false
		case (c == '{' || c == '}') && !inClass:
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (p pattern) match(s string) bool {
	if p.literal {
		return p.text == s
	}
	return p.glob.Match(s)
}

type keyValue struct {
	key   pattern
	value pattern
}

func subsystemIs(p pattern) mux.FilterFunc[*device] {
	return func(d *device) bool {
		return p.match(d.subsystem)
	}
}

func sysNameIs(p pattern) mux.FilterFunc[*device] {
	return func(d *device) bool {
		return p.match(d.sysname)
	}
}

func propertyIs(kv keyValue) mux.FilterFunc[*device] {
	if kv.key.literal {
		return func(d *device) bool {
			value, found := d.properties[kv.key.text]
			return found && kv.value.match(value)
		}
	}
	return func(d *device) bool {
		for key, value := range d.properties {
			if kv.key.match(key) && kv.value.match(value) {
				return true
			}
		}
		return false
	}
}

func attributeIs(kv keyValue) mux.FilterFunc[*device] {
	return func(d *device) bool {
		value, found := d.Attribute(kv.key.text)
		return found && kv.value.match(value)
	}
}

func tagIs(tag string) mux.FilterFunc[*device] {
	return func(d *device) bool {
		return d.hasTag(tag)
	}
}

// initialized only rejects devices udevd is expected to process: those with
// a device number or an interface index but no database entry yet.
func initialized(d *device) bool {
	return d.IsInitialized() || !d.hasIdentity()
}

func below(parent string) mux.FilterFunc[*device] {
	return func(d *device) bool {
		return d.syspath == parent || strings.HasPrefix(d.syspath, parent+"/")
	}
}

func each[T any](values []T, f func(T) mux.FilterFunc[*device]) []mux.FilterFunc[*device] {
	res := make([]mux.FilterFunc[*device], 0, len(values))
	for _, v := range values {
		res = append(res, f(v))
	}
	return res
}

// filter combines predicates of the same kind with OR and the kinds with
// AND. Cheap in-memory checks come first, sysfs reads last.
func (e *enumeration) filter() mux.FilterFunc[*device] {
	var ready []mux.FilterFunc[*device]
	if e.initialized {
		ready = append(ready, initialized)
	}
	return mux.Groups(
		each(e.parents, below),
		each(e.subsystems, subsystemIs),
		each(e.sysnames, sysNameIs),
		each(e.tags, tagIs),
		ready,
		each(e.properties, propertyIs),
		each(e.attributes, attributeIs),
	)
}
