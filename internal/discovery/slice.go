package discovery

import (
	"maps"
	"slices"
	"sync"

	"github.com/ydb-platform/udev-query/internal/mux"
	"github.com/ydb-platform/udev-query/internal/udev"
)

// Slice follows the subset of a Discovery accepted by a filter and publishes
// the whole subset, sorted by sys path, whenever it changes.
type Slice struct {
	state  map[string]*udev.Device
	filter mux.FilterFunc[*udev.Device]
	mux    *mux.Mux[[]*udev.Device]
	stop   mux.CancelFunc

	mu   sync.Mutex
	last []*udev.Device
}

// Close stops following the Discovery. It must be called before the
// Discovery itself is closed.
func (s *Slice) Close() {
	s.stop()
}

// Subscribe delivers the latest subset, if any, before later changes.
func (s *Slice) Subscribe(sink mux.Sink[[]*udev.Device]) mux.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		_ = sink.Submit(s.last)
	}
	return s.mux.Subscribe(sink)
}

func (s *Slice) publish() {
	snapshot := make([]*udev.Device, 0, len(s.state))
	for _, syspath := range slices.Sorted(maps.Keys(s.state)) {
		snapshot = append(snapshot, s.state[syspath])
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = snapshot
	_ = s.mux.Submit(snapshot)
}

func (d *Discovery) Slice(filter mux.FilterFunc[*udev.Device]) *Slice {
	slice := &Slice{
		state:  make(map[string]*udev.Device),
		filter: filter,
		mux:    mux.Make[[]*udev.Device](),
	}

	evCh := make(chan Event)

	go func() {
		defer slice.mux.Close()
		for ev := range evCh { // exits on close
			switch e := ev.(type) {
			case Init:
				for _, dev := range mux.Select(e.Devices, filter) {
					slice.state[dev.SysPath()] = dev
				}
				slice.publish()
			case Added:
				slice.state[e.SysPath()] = e.Device
				slice.publish()
			case Removed:
				if _, found := slice.state[e.SysPath()]; found {
					delete(slice.state, e.SysPath())
					slice.publish()
				}
			}
		}
	}()

	// additions the filter rejects never reach the slice
	slice.stop = d.Subscribe(mux.FilterSink(mux.SinkFromChan(evCh), func(ev Event) bool {
		added, ok := ev.(Added)
		return !ok || filter(added.Device)
	}))

	return slice
}
