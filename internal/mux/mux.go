// Package mux fans values out to subscribed sinks and provides the filter
// combinators used to evaluate device predicates.
package mux

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

type logger interface {
	Info(format string, args ...interface{})
}

type klogLogger struct{}

func (klogLogger) Info(format string, args ...interface{}) {
	klog.Warningf(format, args...)
}

type AwaitReply[T, U any] struct {
	value T
	reply chan U
}

func (ar AwaitReply[T, U]) Value() T {
	return ar.value
}

func (ar AwaitReply[T, U]) Reply(value U) {
	ar.reply <- value
	close(ar.reply)
}

func (ar AwaitReply[T, U]) Await() U {
	return <-ar.reply
}

func NewAwaitReply[T, U any](value T) AwaitReply[T, U] {
	return AwaitReply[T, U]{
		value: value,
		reply: make(chan U),
	}
}

type Sink[T any] interface {
	Submit(T) error
	Close()
}

type filterSink[T any] struct {
	sink Sink[T]
	f    FilterFunc[T]
}

func (c *filterSink[T]) Submit(v T) error {
	if c.f(v) {
		return c.sink.Submit(v)
	}
	return nil
}

func (c *filterSink[T]) Close() {
	c.sink.Close()
}

// FilterSink forwards only the values accepted by f.
func FilterSink[T any](sink Sink[T], f FilterFunc[T]) Sink[T] {
	return &filterSink[T]{sink, f}
}

type chanSink[T any] struct {
	ch chan<- T
}

func (c *chanSink[T]) Submit(v T) error {
	c.ch <- v
	return nil
}

func (c *chanSink[T]) Close() {
	close(c.ch)
}

// SinkFromChan wraps ch; closing the sink closes ch.
func SinkFromChan[T any](ch chan<- T) Sink[T] {
	return &chanSink[T]{ch}
}

// Source is implemented by everything sinks can subscribe to.
type Source[T any] interface {
	Subscribe(Sink[T]) CancelFunc
}

// Mux delivers every submitted value to all subscribed sinks from a single
// goroutine. Closing the mux closes every sink still subscribed.
type Mux[T any] struct {
	input      chan T
	register   chan AwaitReply[Sink[T], struct{}]
	unregister chan AwaitReply[Sink[T], struct{}]
	outputs    map[Sink[T]]bool

	submitTimeout time.Duration
	logger        logger
}

type Option[T any] interface {
	apply(*Mux[T])
}

type optionFunc[T any] func(*Mux[T])

func (f optionFunc[T]) apply(m *Mux[T]) {
	f(m)
}

// SubmitTimeout bounds how long Submit waits for the mux to take a value.
func SubmitTimeout[T any](timeout time.Duration) Option[T] {
	return optionFunc[T](func(m *Mux[T]) {
		m.submitTimeout = timeout
	})
}

func Make[T any](opts ...Option[T]) *Mux[T] {
	mux := &Mux[T]{
		submitTimeout: 1 * time.Second,
		logger:        klogLogger{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(mux)
	}

	mux.input = make(chan T)
	mux.register = make(chan AwaitReply[Sink[T], struct{}])
	mux.unregister = make(chan AwaitReply[Sink[T], struct{}])
	mux.outputs = make(map[Sink[T]]bool)

	go mux.run()

	return mux
}

func (m *Mux[T]) run() {
	defer func() {
		for sub := range m.outputs {
			delete(m.outputs, sub)
			sub.Close()
		}
	}()

	for {
		select {
		case v := <-m.input:
			for out := range m.outputs {
				if err := out.Submit(v); err != nil {
					m.error("error submitting value %v: %v", v, err)
				}
			}
		case ar, ok := <-m.register:
			if !ok {
				return
			}
			m.outputs[ar.value] = true
			ar.Reply(struct{}{})
		case ar := <-m.unregister:
			sub := ar.value
			if m.outputs[sub] {
				delete(m.outputs, sub)
				sub.Close()
			}
			ar.Reply(struct{}{})
		}
	}
}

func (m *Mux[T]) error(format string, args ...any) error {
	if m.logger != nil {
		m.logger.Info(format, args...)
	}
	return fmt.Errorf(format, args...)
}

func (m *Mux[T]) Close() {
	close(m.register)
}

func (m *Mux[T]) Submit(v T) error {
	select {
	case m.input <- v:
		return nil
	case <-time.After(m.submitTimeout):
		return m.error("timed out submitting value %v after %s", v, m.submitTimeout)
	}
}

type CancelFunc func()

func (m *Mux[T]) Subscribe(sink Sink[T]) CancelFunc {
	ar := NewAwaitReply[Sink[T], struct{}](sink)
	m.register <- ar
	ar.Await()

	return func() {
		ar := NewAwaitReply[Sink[T], struct{}](sink)
		m.unregister <- ar
		ar.Await()
	}
}

// ChainCancelFunc calls every non-nil function in order.
func ChainCancelFunc(cfs ...func()) CancelFunc {
	return func() {
		for _, cf := range cfs {
			if cf != nil {
				cf()
			}
		}
	}
}
