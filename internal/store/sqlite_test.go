package store_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-aigen/internal/store"
)

var _ = Describe("SQLite", func() {
	var (
		ctx  context.Context
		db   *store.SQLite
		base time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		var err error
		db, err = store.Open(ctx, filepath.Join(GinkgoT().TempDir(), "data", "generations.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
	})

	insert := func(caller string, status store.Status, offset time.Duration) *store.GenerationRecord {
		rec := &store.GenerationRecord{
			Caller:    caller,
			Model:     "gpt-4o-mini",
			Status:    status,
			Attempts:  1,
			CreatedAt: base.Add(offset),
		}
		if status == store.StatusFailed {
			rec.Code = "ai/retry-exhausted"
			rec.Attempts = 3
		}
		Expect(db.Insert(ctx, rec)).To(Succeed())
		return rec
	}

	It("assigns an id and keeps every field", func() {
		rec := &store.GenerationRecord{
			CorrelationID: "req-12345678",
			Caller:        "alice",
			Model:         "gpt-4o-mini",
			Status:        store.StatusSucceeded,
			Attempts:      2,
			DurationMs:    840,
			CardCount:     5,
			CreatedAt:     base,
		}
		Expect(db.Insert(ctx, rec)).To(Succeed())
		_, err := uuid.Parse(rec.ID)
		Expect(err).NotTo(HaveOccurred())

		records, err := db.List(ctx, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0]).To(Equal(*rec))
	})

	It("stamps a missing creation time", func() {
		rec := &store.GenerationRecord{Model: "m", Status: store.StatusSucceeded}
		Expect(db.Insert(ctx, rec)).To(Succeed())
		Expect(rec.CreatedAt).To(BeTemporally("~", time.Now(), time.Minute))
	})

	It("rejects an unknown status", func() {
		err := db.Insert(ctx, &store.GenerationRecord{Model: "m", Status: "pending"})
		Expect(err).To(MatchError(ContainSubstring("invalid status")))
	})

	It("rejects a duplicate id", func() {
		rec := insert("alice", store.StatusSucceeded, 0)
		dup := *rec
		Expect(db.Insert(ctx, &dup)).NotTo(Succeed())
	})

	Context("listing", func() {
		var first, second, third, fourth *store.GenerationRecord

		BeforeEach(func() {
			first = insert("alice", store.StatusSucceeded, 0)
			second = insert("bob", store.StatusFailed, time.Second)
			third = insert("alice", store.StatusFailed, 2*time.Second)
			fourth = insert("alice", store.StatusSucceeded, 3*time.Second)
		})

		ids := func(records []store.GenerationRecord) []string {
			out := make([]string, len(records))
			for i, r := range records {
				out[i] = r.ID
			}
			return out
		}

		It("returns the newest first by default", func() {
			records, err := db.List(ctx, store.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{fourth.ID, third.ID, second.ID, first.ID}))
		})

		It("sorts ascending on request", func() {
			records, err := db.List(ctx, store.Filter{Order: store.OrderAsc})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{first.ID, second.ID, third.ID, fourth.ID}))
		})

		It("filters by status", func() {
			records, err := db.List(ctx, store.Filter{Status: store.StatusFailed, Order: store.OrderAsc})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{second.ID, third.ID}))
			Expect(records[0].Code).To(Equal("ai/retry-exhausted"))
		})

		It("filters by caller and status together", func() {
			records, err := db.List(ctx, store.Filter{Caller: "alice", Status: store.StatusSucceeded})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(records)).To(Equal([]string{fourth.ID, first.ID}))
		})

		It("paginates", func() {
			page1, err := db.List(ctx, store.Filter{Limit: 2, Order: store.OrderAsc})
			Expect(err).NotTo(HaveOccurred())
			page2, err := db.List(ctx, store.Filter{Limit: 2, Offset: 2, Order: store.OrderAsc})
			Expect(err).NotTo(HaveOccurred())
			page3, err := db.List(ctx, store.Filter{Limit: 2, Offset: 4, Order: store.OrderAsc})
			Expect(err).NotTo(HaveOccurred())

			Expect(ids(page1)).To(Equal([]string{first.ID, second.ID}))
			Expect(ids(page2)).To(Equal([]string{third.ID, fourth.ID}))
			Expect(page3).To(BeEmpty())
			Expect(page3).NotTo(BeNil())
		})

		It("rejects an unknown order", func() {
			_, err := db.List(ctx, store.Filter{Order: "sideways"})
			Expect(err).To(MatchError(ContainSubstring("invalid order")))
		})
	})

	It("works with an in-memory database", func() {
		mem, err := store.Open(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
		defer mem.Close()

		Expect(mem.Insert(ctx, &store.GenerationRecord{Model: "m", Status: store.StatusSucceeded})).To(Succeed())
		records, err := mem.List(ctx, store.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
	})
})
