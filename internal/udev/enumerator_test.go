package udev_test

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ydb-platform/udev-query/internal/native"
	"github.com/ydb-platform/udev-query/internal/native/sysfs/sysfstest"
	"github.com/ydb-platform/udev-query/internal/udev"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func sysPaths(devices ...sysfstest.Device) []string {
	res := make([]string, 0, len(devices))
	for _, d := range devices {
		res = append(res, sysfstest.SysPath(d.DevPath))
	}
	return res
}

func collect(e *udev.Enumerator) ([]string, error) {
	var res []string
	for dev, err := range e.Devices() {
		if err != nil {
			return res, err
		}
		res = append(res, dev.SysPath())
	}
	return res, nil
}

func list(e *udev.Enumerator) []string {
	res, err := collect(e)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return res
}

var _ = Describe("Enumerator", func() {
	var (
		tree *sysfstest.Tree
		ctx  *udev.Context
		e    *udev.Enumerator
	)

	BeforeEach(func() {
		var err error
		tree, err = sysfstest.BuildStandard(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		ctx, err = udev.NewContext(udev.WithBackend(tree.Backend()))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ctx.Close)
		e, err = udev.NewEnumerator(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(e.Close)
	})

	It("should list every device in registry order", func() {
		Expect(list(e)).To(Equal(sysPaths(
			sysfstest.Eth0,
			sysfstest.AHCI,
			sysfstest.SCSIDisk,
			sysfstest.SDA,
			sysfstest.SDA1,
			sysfstest.SR0,
			sysfstest.CPU0,
			sysfstest.Loop0,
			sysfstest.Eth1,
			sysfstest.Lo,
			sysfstest.TTY0,
		)))
	})

	It("should chain filters and record them in order", func() {
		Expect(e.MatchSubsystem("block").
			MatchProperty("ID_TYPE", "disk").
			MatchProperty("DEVTYPE", "disk")).To(BeIdenticalTo(e))
		Expect(e.Filters()).To(Equal([]udev.Predicate{
			{Kind: udev.KindSubsystem, Value: "block"},
			{Kind: udev.KindProperty, Key: "ID_TYPE", Value: "disk"},
			{Kind: udev.KindProperty, Key: "DEVTYPE", Value: "disk"},
		}))
	})

	It("should OR filters of one kind and AND different kinds", func() {
		e.MatchSubsystem("block").
			MatchProperty("ID_TYPE", "disk").
			MatchProperty("DEVTYPE", "disk")
		Expect(list(e)).To(ConsistOf(sysPaths(sysfstest.SDA, sysfstest.SR0, sysfstest.Loop0)))
	})

	It("should OR subsystems", func() {
		e.MatchSubsystem("tty").MatchSubsystem("cpu")
		Expect(list(e)).To(ConsistOf(sysPaths(sysfstest.TTY0, sysfstest.CPU0)))
	})

	It("should normalize attribute values", func() {
		e.MatchAttribute("removable", true)
		Expect(list(e)).To(ConsistOf(sysPaths(sysfstest.SR0)))
		Expect(e.Filters()).To(Equal([]udev.Predicate{{Kind: udev.KindAttribute, Key: "removable", Value: "1"}}))
	})

	It("should match integer and byte values", func() {
		e.MatchAttribute("mtu", 65536).MatchProperty("INTERFACE", []byte("lo"))
		Expect(list(e)).To(Equal(sysPaths(sysfstest.Lo)))
	})

	It("should match sys names and tags", func() {
		e.MatchSysName("sr*")
		Expect(list(e)).To(Equal(sysPaths(sysfstest.SR0)))

		tagged, err := udev.NewEnumerator(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer tagged.Close()
		tagged.MatchTag("systemd").MatchSubsystem("net")
		Expect(list(tagged)).To(Equal(sysPaths(sysfstest.Eth0)))
	})

	It("should only drop uninitialized devices that udev handles", func() {
		e.MatchIsInitialized()
		res := list(e)
		Expect(res).NotTo(ContainElement(sysfstest.SysPath(sysfstest.Eth1.DevPath)))
		Expect(res).NotTo(ContainElement(sysfstest.SysPath(sysfstest.Loop0.DevPath)))
		Expect(res).To(ContainElements(sysPaths(sysfstest.CPU0, sysfstest.AHCI, sysfstest.Lo)))
	})

	It("should include the parent and everything below it", func() {
		parent, err := ctx.DeviceFromSysPath(sysfstest.SysPath(sysfstest.SDA.DevPath))
		Expect(err).NotTo(HaveOccurred())
		e.MatchParent(parent)
		Expect(list(e)).To(Equal(sysPaths(sysfstest.SDA, sysfstest.SDA1)))
		Expect(e.Filters()).To(Equal([]udev.Predicate{{Kind: udev.KindParent, Value: parent.SysPath()}}))
	})

	Context("Match", func() {
		It("should be a no-op when empty", func() {
			all := list(e)
			matched, err := ctx.ListDevices(udev.Match{})
			Expect(err).NotTo(HaveOccurred())
			defer matched.Close()
			Expect(matched.Filters()).To(BeEmpty())
			Expect(list(matched)).To(Equal(all))
		})

		It("should apply fields in a fixed order", func() {
			parent, err := ctx.DeviceFromSysPath(sysfstest.SysPath(sysfstest.AHCI.DevPath))
			Expect(err).NotTo(HaveOccurred())
			e.Match(udev.Match{
				Subsystem: "block",
				SysName:   "sd*",
				Tag:       "systemd",
				Parent:    parent,
				Properties: map[string]any{
					"ID_FS_TYPE": "ext4",
					"DEVTYPE":    "partition",
				},
			})
			Expect(e.Err()).NotTo(HaveOccurred())
			Expect(e.Filters()).To(Equal([]udev.Predicate{
				{Kind: udev.KindSubsystem, Value: "block"},
				{Kind: udev.KindSysName, Value: "sd*"},
				{Kind: udev.KindTag, Value: "systemd"},
				{Kind: udev.KindParent, Value: parent.SysPath()},
				{Kind: udev.KindProperty, Key: "DEVTYPE", Value: "partition"},
				{Kind: udev.KindProperty, Key: "ID_FS_TYPE", Value: "ext4"},
			}))
			Expect(list(e)).To(Equal(sysPaths(sysfstest.SDA1)))
		})
	})

	Context("rejected filters", func() {
		It("should keep the first error and ignore later filters", func() {
			e.MatchSubsystem("net").MatchProperty("ID_TYPE", nil).MatchSubsystem("block").MatchSysName("[")
			Expect(e.Err()).To(MatchError(udev.ErrInvalidArgument))
			Expect(e.Err().Error()).To(ContainSubstring("ID_TYPE"))
			Expect(e.Filters()).To(Equal([]udev.Predicate{{Kind: udev.KindSubsystem, Value: "net"}}))

			res, err := collect(e)
			Expect(err).To(MatchError(udev.ErrInvalidArgument))
			Expect(res).To(BeEmpty())
		})

		It("should reject patterns the registry refuses", func() {
			e.MatchSubsystem("[")
			Expect(e.Err()).To(MatchError(udev.ErrInvalidArgument))
			Expect(e.Filters()).To(BeEmpty())
		})

		It("should reject a nil parent", func() {
			e.MatchParent(nil)
			Expect(e.Err()).To(MatchError(udev.ErrInvalidArgument))
		})

		It("should reject filters after close", func() {
			e.Close()
			e.MatchTag("systemd")
			Expect(e.Err()).To(MatchError(udev.ErrInvalidArgument))
		})
	})

	Context("iteration", func() {
		It("should scan again on every iteration", func() {
			e.MatchSubsystem("net")
			first := list(e)
			Expect(list(e)).To(Equal(first))

			Expect(tree.Remove(sysfstest.Eth1)).To(Succeed())
			Expect(list(e)).To(Equal(sysPaths(sysfstest.Eth0, sysfstest.Lo)))
		})

		It("should stop when the caller stops", func() {
			n := 0
			for _, err := range e.Devices() {
				Expect(err).NotTo(HaveOccurred())
				n++
				if n == 2 {
					break
				}
			}
			Expect(n).To(Equal(2))
		})

		It("should surface devices vanishing between scan and resolution", func() {
			var (
				seen    []string
				lastErr error
			)
			for dev, err := range e.Devices() {
				if err != nil {
					lastErr = err
					continue
				}
				seen = append(seen, dev.SysPath())
				if len(seen) == 1 {
					Expect(tree.Remove(sysfstest.TTY0)).To(Succeed())
				}
			}
			Expect(lastErr).To(MatchError(udev.ErrResolution))
			Expect(errors.Is(lastErr, native.ErrNoDevice)).To(BeTrue())
			Expect(seen).To(HaveLen(len(sysfstest.Standard) - 1))
		})

		It("should fail the scan and recover on the next iteration", func() {
			Expect(os.RemoveAll(filepath.Join(tree.Root, "sys"))).To(Succeed())
			res, err := collect(e)
			Expect(err).To(MatchError(udev.ErrScan))
			Expect(res).To(BeEmpty())

			_, err = sysfstest.BuildStandard(tree.Root)
			Expect(err).NotTo(HaveOccurred())
			Expect(list(e)).To(HaveLen(len(sysfstest.Standard)))
		})

		It("should list sys paths without resolving them", func() {
			e.MatchSubsystem("tty")
			var res []string
			for syspath, err := range e.SysPaths() {
				Expect(err).NotTo(HaveOccurred())
				res = append(res, syspath)
			}
			Expect(res).To(Equal(sysPaths(sysfstest.TTY0)))
		})

		It("should fail after close", func() {
			e.Close()
			_, err := collect(e)
			Expect(err).To(MatchError(udev.ErrScan))
		})
	})
})
