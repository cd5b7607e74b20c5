package udev

import (
	"iter"

	"github.com/ydb-platform/udev-query/internal/native"
)

// ListEntry is a decoded native list entry.
type ListEntry struct {
	Name  string
	Value string
}

// listEntries walks a native list one Next call per step. Entries are not
// retained, so the sequence must be consumed before the owning enumeration
// is scanned again or released.
func listEntries(head native.ListEntry) iter.Seq2[ListEntry, error] {
	return func(yield func(ListEntry, error) bool) {
		for entry := head; entry != nil; entry = entry.Next() {
			name, err := decode(entry.Name())
			if err != nil {
				yield(ListEntry{}, err)
				return
			}
			value, err := decode(entry.Value())
			if err != nil {
				yield(ListEntry{}, err)
				return
			}
			if !yield(ListEntry{Name: name, Value: value}, nil) {
				return
			}
		}
	}
}
