// Package discovery keeps a live view of the devices matched by an
// Enumerator. It rescans when the udev database changes and publishes the
// difference to subscribers.
package discovery

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/mux"
	"github.com/ydb-platform/udev-query/internal/udev"
)

const (
	DefaultDebounce = 200 * time.Millisecond
	DefaultResync   = time.Minute

	// how long a rescan waits on a slow subscriber per event
	submitTimeout = 5 * time.Second
)

var (
	_ mux.Source[Event]          = (*Discovery)(nil)
	_ mux.Source[[]*udev.Device] = (*Slice)(nil)
)

type Event interface {
	eventSealed()
}

// Init is the first event of every subscription and carries the current
// state sorted by sys path.
type Init struct {
	Devices []*udev.Device
}

func (Init) eventSealed() {}

type Added struct {
	*udev.Device
}

func (Added) eventSealed() {}

type Removed struct {
	*udev.Device
}

func (Removed) eventSealed() {}

type monitorRequest interface {
	requestSealed()
}

type stateRequest struct {
	filter mux.FilterFunc[*udev.Device]
}

func (r stateRequest) requestSealed() {}

type rescanRequest struct{}

func (r rescanRequest) requestSealed() {}

type stopRequest struct{}

func (r stopRequest) requestSealed() {}

type newSub struct {
	sink mux.Sink[Event]
}

func (n newSub) requestSealed() {}

type options struct {
	watchDir string
	debounce time.Duration
	resync   time.Duration
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// WatchDir overrides the directory watched for changes, by default the
// data directory below the registry run path.
func WatchDir(dir string) Option {
	return optionFunc(func(o *options) {
		o.watchDir = dir
	})
}

func Debounce(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.debounce = d
	})
}

// Resync sets the interval of unconditional rescans. Zero disables them.
func Resync(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.resync = d
	})
}

// Discovery owns its Enumerator; only the monitor goroutine touches it.
type Discovery struct {
	enum     *udev.Enumerator
	state    map[string]*udev.Device // should be accessed only by monitor goroutine
	requests chan mux.AwaitReply[monitorRequest, any]
	mux      *mux.Mux[Event]
	watcher  *fsnotify.Watcher

	debounce time.Duration
	resync   time.Duration
}

// New scans enum once and starts watching. On success the Discovery owns
// enum and closes it on Close; wg is done once the monitor goroutine exits.
func New(ctx *udev.Context, enum *udev.Enumerator, wg *sync.WaitGroup, opts ...Option) (*Discovery, error) {
	o := &options{
		debounce: DefaultDebounce,
		resync:   DefaultResync,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	if o.watchDir == "" {
		runPath, err := ctx.RunPath()
		if err != nil {
			return nil, err
		}
		o.watchDir = filepath.Join(runPath, "data")
	}

	d := &Discovery{
		enum:     enum,
		requests: make(chan mux.AwaitReply[monitorRequest, any]),
		mux:      mux.Make(mux.SubmitTimeout[Event](submitTimeout)),
		debounce: o.debounce,
		resync:   o.resync,
	}

	state, err := d.scan()
	if err != nil {
		klog.Errorf("Failed to enumerate devices: %v", err)
		d.mux.Close()
		return nil, err
	}
	d.state = state

	d.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		klog.Errorf("Failed to create watcher: %v", err)
		d.mux.Close()
		return nil, err
	}
	if err := d.watcher.Add(o.watchDir); err != nil {
		klog.Errorf("Failed to watch %s: %v", o.watchDir, err)
		d.watcher.Close()
		d.mux.Close()
		return nil, fmt.Errorf("discovery: watch %s: %w", o.watchDir, err)
	}

	wg.Add(1)
	go d.monitor(wg)

	return d, nil
}

func (d *Discovery) scan() (map[string]*udev.Device, error) {
	state := make(map[string]*udev.Device)
	for dev, err := range d.enum.Devices() {
		if err != nil {
			return nil, err
		}
		state[dev.SysPath()] = dev
	}
	return state, nil
}

func sorted(state map[string]*udev.Device) []*udev.Device {
	res := make([]*udev.Device, 0, len(state))
	for _, syspath := range slices.Sorted(maps.Keys(state)) {
		res = append(res, state[syspath])
	}
	return res
}

// Close stops the monitor, closes every subscribed sink and releases the
// Enumerator.
func (d *Discovery) Close() {
	await := mux.NewAwaitReply[monitorRequest, any](stopRequest{})
	defer await.Await()
	d.requests <- await
}

// State returns the devices accepted by filter as seen by the monitor. A nil
// filter accepts every device.
func (d *Discovery) State(filter mux.FilterFunc[*udev.Device]) map[string]*udev.Device {
	if filter == nil {
		filter = mux.Any[*udev.Device]()
	}
	await := mux.NewAwaitReply[monitorRequest, any](stateRequest{filter: filter})
	d.requests <- await
	return await.Await().(map[string]*udev.Device)
}

// Rescan scans immediately and returns once the resulting events are
// published.
func (d *Discovery) Rescan() error {
	await := mux.NewAwaitReply[monitorRequest, any](rescanRequest{})
	d.requests <- await
	err, _ := await.Await().(error)
	return err
}

func (d *Discovery) Subscribe(sink mux.Sink[Event]) mux.CancelFunc {
	// initialization happens in the monitor goroutine so the sink sees a
	// consistent Init event before any change
	await := mux.NewAwaitReply[monitorRequest, any](newSub{sink})
	d.requests <- await
	return await.Await().(mux.CancelFunc)
}

func (d *Discovery) rescan() error {
	state, err := d.scan()
	if err != nil {
		klog.Errorf("Failed to rescan devices, keeping previous state: %v", err)
		return err
	}

	for _, dev := range sorted(d.state) {
		if _, found := state[dev.SysPath()]; !found {
			klog.V(4).Infof("Device removed: %s", dev.SysPath())
			if err := d.mux.Submit(Removed{dev}); err != nil {
				klog.Errorf("Failed to submit removed event: %v", err)
			}
		}
	}
	for _, dev := range sorted(state) {
		if _, found := d.state[dev.SysPath()]; !found {
			klog.V(4).Infof("Device added: %s", dev.SysPath())
			if err := d.mux.Submit(Added{dev}); err != nil {
				klog.Errorf("Failed to submit added event: %v", err)
			}
		}
	}
	d.state = state
	return nil
}

func (d *Discovery) monitor(wg *sync.WaitGroup) {
	defer wg.Done()
	defer d.enum.Close()
	defer d.mux.Close()
	defer d.watcher.Close()

	var resync <-chan time.Time
	if d.resync > 0 {
		ticker := time.NewTicker(d.resync)
		defer ticker.Stop()
		resync = ticker.C
	}

	var pending <-chan time.Time
	events, errs := d.watcher.Events, d.watcher.Errors
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			klog.V(5).Infof("Received database event %s", ev)
			if pending == nil {
				pending = time.After(d.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			klog.Errorf("Error from database watcher: %v", err)
		case <-pending:
			pending = nil
			_ = d.rescan()
		case <-resync:
			_ = d.rescan()
		case req := <-d.requests:
			switch r := req.Value().(type) {
			case stateRequest:
				state := make(map[string]*udev.Device)
				for _, dev := range mux.Select(sorted(d.state), r.filter) {
					state[dev.SysPath()] = dev
				}
				req.Reply(state)
			case rescanRequest:
				req.Reply(d.rescan())
			case newSub:
				err := r.sink.Submit(Init{sorted(d.state)})
				if err != nil {
					klog.Errorf("Failed to submit init event: %v", err)
				}
				cancel := d.mux.Subscribe(r.sink)
				req.Reply(cancel)
			case stopRequest:
				req.Reply(nil)
				return
			}
		}
	}
}
