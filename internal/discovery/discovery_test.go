package discovery_test

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ydb-platform/udev-query/internal/discovery"
	"github.com/ydb-platform/udev-query/internal/mux"
	"github.com/ydb-platform/udev-query/internal/native/sysfs/sysfstest"
	"github.com/ydb-platform/udev-query/internal/udev"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var eth2 = sysfstest.Device{
	DevPath:    "/devices/virtual/net/eth2",
	Subsystem:  "net",
	Uevent:     map[string]string{"INTERFACE": "eth2", "IFINDEX": "4"},
	Attributes: map[string]string{"operstate": "up"},
	DB:         &sysfstest.DB{Usec: "2000"},
}

func sysPathsOf(devices []*udev.Device) []string {
	res := make([]string, 0, len(devices))
	for _, dev := range devices {
		res = append(res, dev.SysPath())
	}
	return res
}

func sysPaths(devices ...sysfstest.Device) []string {
	res := make([]string, 0, len(devices))
	for _, d := range devices {
		res = append(res, sysfstest.SysPath(d.DevPath))
	}
	return res
}

func initialized(dev *udev.Device) bool {
	return dev.IsInitialized()
}

var _ = Describe("Discovery", func() {
	var (
		tree *sysfstest.Tree
		ctx  *udev.Context
		wg   *sync.WaitGroup
		d    *discovery.Discovery
	)

	BeforeEach(func() {
		var err error
		tree, err = sysfstest.BuildStandard(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		ctx, err = udev.NewContext(udev.WithBackend(tree.Backend()))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ctx.Close)

		enum, err := ctx.ListDevices(udev.Match{Subsystem: udev.NetSubsystem})
		Expect(err).NotTo(HaveOccurred())

		wg = &sync.WaitGroup{}
		d, err = discovery.New(ctx, enum, wg,
			discovery.WatchDir(filepath.Join(tree.Root, "run/udev/data")),
			discovery.Debounce(20*time.Millisecond),
			discovery.Resync(0),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		d.Close()
		wg.Wait()
	})

	It("should start subscriptions with the current state", func() {
		events := make(chan discovery.Event, 16)
		cancel := d.Subscribe(mux.SinkFromChan(events))
		defer cancel()

		var ev discovery.Event
		Eventually(events).Should(Receive(&ev))
		Expect(ev).To(BeAssignableToTypeOf(discovery.Init{}))
		Expect(sysPathsOf(ev.(discovery.Init).Devices)).To(Equal(sysPaths(sysfstest.Eth0, sysfstest.Eth1, sysfstest.Lo)))
	})

	It("should publish devices appearing in the database", func() {
		events := make(chan discovery.Event, 16)
		cancel := d.Subscribe(mux.SinkFromChan(events))
		defer cancel()
		Eventually(events).Should(Receive(BeAssignableToTypeOf(discovery.Init{})))

		_, err := tree.Add(eth2)
		Expect(err).NotTo(HaveOccurred())

		var ev discovery.Event
		Eventually(events).Should(Receive(&ev))
		Expect(ev).To(BeAssignableToTypeOf(discovery.Added{}))
		Expect(ev.(discovery.Added).SysName()).To(Equal("eth2"))
	})

	It("should publish removed devices on rescan", func() {
		events := make(chan discovery.Event, 16)
		cancel := d.Subscribe(mux.SinkFromChan(events))
		defer cancel()
		Eventually(events).Should(Receive(BeAssignableToTypeOf(discovery.Init{})))

		Expect(tree.Remove(sysfstest.Eth1)).To(Succeed())
		Expect(d.Rescan()).To(Succeed())

		var ev discovery.Event
		Eventually(events).Should(Receive(&ev))
		Expect(ev).To(BeAssignableToTypeOf(discovery.Removed{}))
		Expect(ev.(discovery.Removed).SysPath()).To(Equal(sysfstest.SysPath(sysfstest.Eth1.DevPath)))
		Consistently(events, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("should filter the state", func() {
		state := d.State(initialized)
		Expect(state).To(HaveLen(2))
		Expect(state).To(HaveKey(sysfstest.SysPath(sysfstest.Eth0.DevPath)))
		Expect(state).To(HaveKey(sysfstest.SysPath(sysfstest.Lo.DevPath)))

		Expect(d.State(mux.Any[*udev.Device]())).To(HaveLen(3))
		Expect(d.State(nil)).To(HaveLen(3))
	})

	It("should keep the previous state when a rescan fails", func() {
		Expect(os.RemoveAll(filepath.Join(tree.Root, "sys"))).To(Succeed())
		Expect(d.Rescan()).To(MatchError(udev.ErrScan))
		Expect(d.State(mux.Any[*udev.Device]())).To(HaveLen(3))
	})

	It("should follow a filtered slice", func() {
		slice := d.Slice(initialized)
		defer slice.Close()

		snapshots := make(chan []*udev.Device, 16)
		cancel := slice.Subscribe(mux.SinkFromChan(snapshots))
		defer cancel()

		var snapshot []*udev.Device
		Eventually(snapshots).Should(Receive(&snapshot))
		Expect(sysPathsOf(snapshot)).To(Equal(sysPaths(sysfstest.Eth0, sysfstest.Lo)))

		_, err := tree.Add(eth2)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Rescan()).To(Succeed())

		Eventually(snapshots).Should(Receive(&snapshot))
		Expect(sysPathsOf(snapshot)).To(Equal(sysPaths(sysfstest.Eth0, eth2, sysfstest.Lo)))

		eth3 := eth2
		eth3.DevPath = "/devices/virtual/net/eth3"
		eth3.Uevent = map[string]string{"INTERFACE": "eth3", "IFINDEX": "5"}
		eth3.DB = nil
		_, err = tree.Add(eth3)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Rescan()).To(Succeed())
		Expect(d.State(nil)).To(HaveKey(sysfstest.SysPath(eth3.DevPath)))
		Consistently(snapshots, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("should close subscribed sinks on close", func() {
		events := make(chan discovery.Event, 16)
		d.Subscribe(mux.SinkFromChan(events))

		d.Close()
		wg.Wait()
		Eventually(func() bool {
			select {
			case _, ok := <-events:
				return !ok
			default:
				return false
			}
		}).Should(BeTrue())

		// AfterEach closes again
		d = reopen(ctx, tree, wg)
	})
})

func reopen(ctx *udev.Context, tree *sysfstest.Tree, wg *sync.WaitGroup) *discovery.Discovery {
	enum, err := udev.NewEnumerator(ctx)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	d, err := discovery.New(ctx, enum, wg,
		discovery.WatchDir(filepath.Join(tree.Root, "run/udev/data")),
		discovery.Resync(0),
	)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return d
}
