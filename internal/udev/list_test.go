package udev_test

import (
	"github.com/ydb-platform/udev-query/internal/native"
	"github.com/ydb-platform/udev-query/internal/udev"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type entry struct {
	name, value string
	next        *entry
	visited     *int
}

func (e *entry) Name() string {
	*e.visited++
	return e.name
}

func (e *entry) Value() string {
	return e.value
}

func (e *entry) Next() native.ListEntry {
	if e.next == nil {
		return nil
	}
	return e.next
}

func chain(visited *int, pairs ...[2]string) native.ListEntry {
	var head *entry
	for i := len(pairs) - 1; i >= 0; i-- {
		head = &entry{name: pairs[i][0], value: pairs[i][1], next: head, visited: visited}
	}
	if head == nil {
		return nil
	}
	return head
}

var _ = Describe("list entries", func() {
	It("should walk the list in order", func() {
		visited := 0
		var res []udev.ListEntry
		for e, err := range udev.ListEntries(chain(&visited, [2]string{"a", "1"}, [2]string{"b", ""}, [2]string{"c", "3"})) {
			Expect(err).NotTo(HaveOccurred())
			res = append(res, e)
		}
		Expect(res).To(Equal([]udev.ListEntry{{Name: "a", Value: "1"}, {Name: "b"}, {Name: "c", Value: "3"}}))
	})

	It("should yield nothing for an empty list", func() {
		for range udev.ListEntries(nil) {
			Fail("unexpected entry")
		}
	})

	It("should advance lazily", func() {
		visited := 0
		for range udev.ListEntries(chain(&visited, [2]string{"a", ""}, [2]string{"b", ""}, [2]string{"c", ""})) {
			break
		}
		Expect(visited).To(Equal(1))
	})

	It("should stop at an undecodable name", func() {
		visited := 0
		var (
			names []string
			last  error
		)
		for e, err := range udev.ListEntries(chain(&visited, [2]string{"a", ""}, [2]string{"b\xfe", ""}, [2]string{"c", ""})) {
			if err != nil {
				last = err
				continue
			}
			names = append(names, e.Name)
		}
		Expect(names).To(Equal([]string{"a"}))
		Expect(last).To(MatchError(udev.ErrDecode))
	})
})
