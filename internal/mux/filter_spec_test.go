package mux_test

import (
	"strings"

	"github.com/ydb-platform/udev-query/internal/mux"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Any", func() {
	It("should accept everything", func() {
		Expect(mux.Any[int]()(0)).To(BeTrue())
		Expect(mux.Any[string]()("")).To(BeTrue())
	})
})

var _ = Describe("Or", func() {
	It("should return true if any filter returns true", func() {
		isEven := func(n int) bool { return n%2 == 0 }
		isDivisibleBy3 := func(n int) bool { return n%3 == 0 }

		combined := mux.Or(isEven, isDivisibleBy3)

		Expect(combined(1)).To(BeFalse())
		Expect(combined(2)).To(BeTrue())
		Expect(combined(3)).To(BeTrue())
		Expect(combined(5)).To(BeFalse())
		Expect(combined(6)).To(BeTrue())
	})

	It("should return false when no filters provided", func() {
		combined := mux.Or[int]()
		Expect(combined(42)).To(BeFalse())
	})
})

var _ = Describe("And", func() {
	It("should return true only if all filters return true", func() {
		isEven := func(n int) bool { return n%2 == 0 }
		isDivisibleBy3 := func(n int) bool { return n%3 == 0 }

		combined := mux.And(isEven, isDivisibleBy3)

		Expect(combined(2)).To(BeFalse())
		Expect(combined(3)).To(BeFalse())
		Expect(combined(6)).To(BeTrue())
	})

	It("should return true when no filters provided", func() {
		combined := mux.And[int]()
		Expect(combined(42)).To(BeTrue())
	})
})

var _ = Describe("Groups", func() {
	hasPrefix := func(p string) mux.FilterFunc[string] {
		return func(s string) bool { return strings.HasPrefix(s, p) }
	}
	hasSuffix := func(p string) mux.FilterFunc[string] {
		return func(s string) bool { return strings.HasSuffix(s, p) }
	}

	It("should OR inside a group and AND across groups", func() {
		f := mux.Groups(
			[]mux.FilterFunc[string]{hasPrefix("sd"), hasPrefix("nvme")},
			[]mux.FilterFunc[string]{hasSuffix("1")},
		)

		Expect(f("sda1")).To(BeTrue())
		Expect(f("nvme0n1")).To(BeTrue())
		Expect(f("sda")).To(BeFalse())
		Expect(f("loop1")).To(BeFalse())
	})

	It("should ignore empty groups", func() {
		f := mux.Groups(nil, []mux.FilterFunc[string]{hasPrefix("sd")}, []mux.FilterFunc[string]{})
		Expect(f("sda")).To(BeTrue())
		Expect(f("vda")).To(BeFalse())
	})

	It("should accept everything without groups", func() {
		Expect(mux.Groups[string]()("anything")).To(BeTrue())
	})
})

var _ = Describe("Select", func() {
	It("should keep accepted values in order", func() {
		isEven := func(n int) bool { return n%2 == 0 }
		Expect(mux.Select([]int{5, 4, 3, 2, 1, 0}, isEven)).To(Equal([]int{4, 2, 0}))
	})
})
