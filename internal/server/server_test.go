package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/internal/flashcards"
	"github.com/JohnPlummer/jp-go-aigen/internal/ratelimit"
	"github.com/JohnPlummer/jp-go-aigen/internal/server"
	"github.com/JohnPlummer/jp-go-aigen/internal/store"
	"github.com/JohnPlummer/jp-go-aigen/problem"
	"github.com/JohnPlummer/jp-go-aigen/problem/ginproblem"
)

type fakeProvider struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeProvider) Execute(_ context.Context, req *aigen.ProviderRequest) (*aigen.ProviderResponse, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, aigen.NewStatusCodeError(http.StatusServiceUnavailable, errors.New("overloaded"))
	}
	return &aigen.ProviderResponse{
		Payload: []byte(`{"cards":[{"front":"What do cells make?","back":"ATP."}]}`),
		Model:   req.Model,
	}, nil
}

var _ = Describe("Server", func() {
	var (
		provider *fakeProvider
		db       *store.SQLite
		handler  http.Handler
	)

	BeforeEach(func() {
		ctx := context.Background()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		provider = &fakeProvider{}

		client, err := aigen.New(aigen.UseProvider(provider),
			aigen.WithLogger(logger),
			aigen.WithRetryPolicy(aigen.RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}),
		)
		Expect(err).NotTo(HaveOccurred())

		db, err = store.Open(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		limiter, err := ratelimit.New(5, time.Minute)
		Expect(err).NotTo(HaveOccurred())

		srv, err := server.New(server.Deps{
			Client:     client,
			Flashcards: flashcards.NewService(client, flashcards.WithRecorder(db), flashcards.WithLogger(logger)),
			Records:    db,
			Limiter:    limiter,
			Logger:     logger,
		})
		Expect(err).NotTo(HaveOccurred())
		handler = srv.Handler()
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(ratelimit.HeaderCallerID, "alice")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	It("requires its collaborators", func() {
		_, err := server.New(server.Deps{})
		Expect(err).To(HaveOccurred())
	})

	It("generates flashcards and lists the record", func() {
		rec := do(http.MethodPost, "/api/flashcards/generate", `{"source_text":"Mitochondria make ATP.","count":1}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		body := decode(rec)
		Expect(body["cards"]).To(ConsistOf(map[string]any{"front": "What do cells make?", "back": "ATP."}))
		Expect(body).To(HaveKeyWithValue("model", "gpt-4o-mini"))

		correlationID := rec.Header().Get(ginproblem.HeaderCorrelationID)
		Expect(correlationID).NotTo(BeEmpty())

		list := do(http.MethodGet, "/api/generations?status=succeeded", "")
		Expect(list.Code).To(Equal(http.StatusOK))
		items := decode(list)["items"].([]any)
		Expect(items).To(HaveLen(1))
		Expect(items[0]).To(HaveKeyWithValue("caller", "alice"))
		Expect(items[0]).To(HaveKeyWithValue("correlation_id", correlationID))
		Expect(items[0]).To(HaveKeyWithValue("card_count", BeNumerically("==", 1)))
	})

	It("rejects an invalid body with flattened issues", func() {
		rec := do(http.MethodPost, "/api/flashcards/generate", `{"count":50}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Header().Get("Content-Type")).To(HavePrefix(problem.ContentType))

		body := decode(rec)
		Expect(body).To(HaveKeyWithValue("code", "request/invalid-body"))
		Expect(body["meta"]).To(HaveKeyWithValue("issues", ContainElement(
			map[string]any{"path": "source_text", "rule": "required"},
		)))
		Expect(provider.calls.Load()).To(BeZero())
	})

	It("rejects malformed JSON", func() {
		rec := do(http.MethodPost, "/api/flashcards/generate", `{"source_text":`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(decode(rec)).To(HaveKeyWithValue("code", "request/invalid-body"))
	})

	It("renders provider exhaustion as ai/retry-exhausted and records it", func() {
		provider.fail.Store(true)

		rec := do(http.MethodPost, "/api/flashcards/generate", `{"source_text":"text"}`)
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		body := decode(rec)
		Expect(body).To(HaveKeyWithValue("code", "ai/retry-exhausted"))
		Expect(body).To(HaveKeyWithValue("instance", "/api/flashcards/generate"))
		Expect(body).NotTo(HaveKey("cause"))

		list := decode(do(http.MethodGet, "/api/generations?status=failed", ""))
		Expect(list["items"]).To(HaveLen(1))
	})

	It("rejects an invalid listing query", func() {
		rec := do(http.MethodGet, "/api/generations?order=sideways", "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(decode(rec)["meta"]).To(HaveKeyWithValue("issues", ContainElement(
			map[string]any{"path": "order", "rule": "oneof", "param": "asc desc"},
		)))
	})

	It("answers unknown routes with request/not-found", func() {
		rec := do(http.MethodGet, "/nope", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(decode(rec)).To(HaveKeyWithValue("code", "request/not-found"))
		Expect(rec.Header().Get(ginproblem.HeaderCorrelationID)).NotTo(BeEmpty())
	})

	It("rate limits the API per caller", func() {
		for i := 0; i < 5; i++ {
			Expect(do(http.MethodGet, "/api/generations", "").Code).To(Equal(http.StatusOK))
		}
		rec := do(http.MethodGet, "/api/generations", "")
		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
		Expect(decode(rec)).To(HaveKeyWithValue("code", "request/rate-limited"))
	})

	It("reports health outside the rate limit", func() {
		for i := 0; i < 7; i++ {
			rec := do(http.MethodGet, "/healthz", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
		}
		body := decode(do(http.MethodGet, "/healthz", ""))
		Expect(body).To(HaveKeyWithValue("status", "ok"))
		Expect(body).To(HaveKeyWithValue("model", "gpt-4o-mini"))
	})
})
