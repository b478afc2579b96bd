package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/JohnPlummer/jp-go-aigen/internal/ratelimit"
)

var _ = Describe("Limiter", func() {
	var (
		ctx     context.Context
		limiter *ratelimit.Limiter
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		limiter, err = ratelimit.New(3, time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	allow := func(key string) ratelimit.Decision {
		d, err := limiter.Allow(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	DescribeTable("rejects invalid settings",
		func(limit int, window time.Duration) {
			_, err := ratelimit.New(limit, window)
			Expect(err).To(HaveOccurred())
		},
		Entry("zero limit", 0, time.Minute),
		Entry("zero window", 1, time.Duration(0)),
		Entry("negative window", 1, -time.Second),
	)

	It("rejects the (limit+1)-th request in a window", func() {
		for i := 0; i < 3; i++ {
			d := allow("alice")
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Limit).To(Equal(3))
			Expect(d.Remaining).To(Equal(2 - i))
		}

		d := allow("alice")
		Expect(d.Allowed).To(BeFalse())
		Expect(d.Remaining).To(Equal(0))
		Expect(d.RetryAfter).To(BeNumerically(">", 58*time.Second))
		Expect(d.RetryAfter).To(BeNumerically("<=", time.Minute))
	})

	It("keeps keys independent", func() {
		for i := 0; i < 3; i++ {
			allow("alice")
		}
		Expect(allow("alice").Allowed).To(BeFalse())
		Expect(allow("bob").Allowed).To(BeTrue())
	})

	It("opens a new window once the old one ends", func() {
		short, err := ratelimit.New(1, 100*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())

		d, err := short.Allow(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())
		d, err = short.Allow(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeFalse())

		time.Sleep(150 * time.Millisecond)
		d, err = short.Allow(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())
		Expect(d.Remaining).To(Equal(0))
	})

	It("admits exactly limit requests under concurrency", func() {
		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				if allow("shared").Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(allowed.Load()).To(Equal(int32(3)))
	})

	It("shares a budget between limiters on the same store", func() {
		store := memory.NewStore()
		first, err := ratelimit.New(2, time.Minute, ratelimit.WithStore(store))
		Expect(err).NotTo(HaveOccurred())
		second, err := ratelimit.New(2, time.Minute, ratelimit.WithStore(store))
		Expect(err).NotTo(HaveOccurred())

		d, err := first.Allow(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())
		d, err = second.Allow(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())
		d, err = first.Allow(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeFalse())
	})
})
