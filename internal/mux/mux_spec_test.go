package mux_test

import (
	"time"

	"github.com/ydb-platform/udev-query/internal/mux"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Mux", func() {
	Context("registration", func() {
		var m *mux.Mux[string]

		BeforeEach(func() {
			m = mux.Make[string]()
		})

		AfterEach(func() {
			m.Close()
		})

		It("should support multiple registrations", func() {
			in1 := make(chan string)
			in2 := make(chan string)
			cancel1 := m.Subscribe(mux.SinkFromChan(in1))
			cancel2 := m.Subscribe(mux.SinkFromChan(in2))

			Expect(cancel1).NotTo(BeNil())
			Expect(cancel2).NotTo(BeNil())

			cancel1()
			cancel2()
		})

		It("should close the sink on cancel", func() {
			in := make(chan string)
			cancel := m.Subscribe(mux.SinkFromChan(in))

			cancel()

			Eventually(in).Should(BeClosed())
		})
	})

	Context("submission", func() {
		var m *mux.Mux[string]

		BeforeEach(func() {
			m = mux.Make[string]()
		})

		AfterEach(func() {
			m.Close()
		})

		It("should distribute values to all registered outputs", func() {
			in1 := make(chan string)
			in2 := make(chan string)
			cancel1 := m.Subscribe(mux.SinkFromChan(in1))
			cancel2 := m.Subscribe(mux.SinkFromChan(in2))
			defer cancel1()
			defer cancel2()

			go func() {
				m.Submit("hello")
			}()

			Eventually(in1).Should(Receive(Equal("hello")))
			Eventually(in2).Should(Receive(Equal("hello")))
		})

		It("should preserve submission order", func() {
			in := make(chan string)
			cancel := m.Subscribe(mux.SinkFromChan(in))
			defer cancel()

			go func() {
				m.Submit("one")
				m.Submit("two")
				m.Submit("three")
			}()

			Eventually(in).Should(Receive(Equal("one")))
			Eventually(in).Should(Receive(Equal("two")))
			Eventually(in).Should(Receive(Equal("three")))
		})

		It("should forward only accepted values through a filter sink", func() {
			in := make(chan string, 4)
			cancel := m.Subscribe(mux.FilterSink(mux.SinkFromChan(in), func(s string) bool {
				return s != "skip"
			}))
			defer cancel()

			Expect(m.Submit("skip")).To(Succeed())
			Expect(m.Submit("keep")).To(Succeed())

			Eventually(in).Should(Receive(Equal("keep")))
			Consistently(in, 100*time.Millisecond).ShouldNot(Receive())
		})
	})

	Context("timeouts", func() {
		It("should time out when nobody drains the sink", func() {
			m := mux.Make(mux.SubmitTimeout[int](50 * time.Millisecond))
			defer m.Close()

			in := make(chan int)
			cancel := m.Subscribe(mux.SinkFromChan(in))
			defer func() {
				go func() {
					for range in {
					}
				}()
				cancel()
			}()

			Expect(m.Submit(1)).To(Succeed())
			Expect(m.Submit(2)).To(MatchError(ContainSubstring("timed out")))
		})
	})

	Context("closing", func() {
		It("should close all sinks", func() {
			m := mux.Make[string]()
			in1 := make(chan string)
			in2 := make(chan string)
			m.Subscribe(mux.SinkFromChan(in1))
			m.Subscribe(mux.SinkFromChan(in2))

			m.Close()

			Eventually(in1).Should(BeClosed())
			Eventually(in2).Should(BeClosed())
		})
	})

	It("should chain cancel functions in order", func() {
		var calls []int
		cancel := mux.ChainCancelFunc(
			func() { calls = append(calls, 1) },
			nil,
			func() { calls = append(calls, 2) },
		)
		cancel()
		Expect(calls).To(Equal([]int{1, 2}))
	})
})
