package aigen_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/problem"
)

var _ = Describe("HTTPStatusClassifier", func() {
	var classifier *aigen.HTTPStatusClassifier

	BeforeEach(func() {
		classifier = aigen.NewHTTPStatusClassifier()
	})

	DescribeTable("Classify",
		func(input error, kind *problem.Kind, retryable bool) {
			classified := classifier.Classify(input)
			Expect(errors.Is(classified, kind)).To(BeTrue(), "got %v", classified)
			Expect(aigen.IsRetryable(classified)).To(Equal(retryable))
		},
		Entry("429", aigen.NewStatusCodeError(429, errors.New("slow down")), aigen.ErrRateLimited, true),
		Entry("rate limit code on a 400", aigen.NewProviderError(400, "rate_limit_exceeded", errors.New("quota")), aigen.ErrRateLimited, true),
		Entry("rate limit sentinel", jperrors.ErrRateLimited, aigen.ErrRateLimited, true),
		Entry("wrapped rate limit sentinel", fmt.Errorf("call: %w", jperrors.ErrRateLimited), aigen.ErrRateLimited, true),
		Entry("503", aigen.NewStatusCodeError(503, errors.New("down")), aigen.ErrServiceUnavailable, true),
		Entry("500", aigen.NewStatusCodeError(500, errors.New("oops")), aigen.ErrProviderError, true),
		Entry("502", aigen.NewStatusCodeError(502, errors.New("bad gateway")), aigen.ErrProviderError, true),
		Entry("deadline exceeded", context.DeadlineExceeded, aigen.ErrTimeout, true),
		Entry("canceled", context.Canceled, aigen.ErrTimeout, true),
		Entry("jp-go-errors timeout", jperrors.NewTimeoutError("slow", "op", time.Second), aigen.ErrTimeout, true),
		Entry("401", aigen.NewStatusCodeError(401, errors.New("who")), aigen.ErrUnauthorized, false),
		Entry("403", aigen.NewStatusCodeError(403, errors.New("no")), aigen.ErrForbidden, false),
		Entry("400", aigen.NewStatusCodeError(400, errors.New("bad")), aigen.ErrBadRequest, false),
		Entry("404", aigen.NewStatusCodeError(404, errors.New("missing")), aigen.ErrBadRequest, false),
	)

	It("returns nil for nil", func() {
		Expect(classifier.Classify(nil)).To(BeNil())
	})

	It("leaves domain errors untouched", func() {
		original := aigen.ErrValidationFailed.New(problem.WithDetail("front too long"))
		Expect(classifier.Classify(original)).To(BeIdenticalTo(error(original)))
	})

	It("leaves unrecognised errors untouched", func() {
		boom := errors.New("boom")
		Expect(classifier.Classify(boom)).To(BeIdenticalTo(boom))
		Expect(aigen.IsRetryable(boom)).To(BeFalse())
	})

	It("records status and provider code in meta", func() {
		classified := classifier.Classify(aigen.NewProviderError(429, "rate_limit_exceeded", errors.New("quota")))
		e, ok := problem.As(classified)
		Expect(ok).To(BeTrue())
		Expect(e.Meta()).To(HaveKeyWithValue("status", 429))
		Expect(e.Meta()).To(HaveKeyWithValue("providerCode", "rate_limit_exceeded"))
	})

	It("keeps the raw error as cause", func() {
		raw := aigen.NewStatusCodeError(500, errors.New("oops"))
		e, _ := problem.As(classifier.Classify(raw))
		Expect(e.Cause()).To(Equal(raw))
	})

	It("honours custom rate limit codes", func() {
		classifier.RateLimitCodes = []string{"quota_exhausted"}
		classified := classifier.Classify(aigen.NewProviderError(400, "quota_exhausted", errors.New("quota")))
		Expect(errors.Is(classified, aigen.ErrRateLimited)).To(BeTrue())
	})

	DescribeTable("ShouldTripCircuit",
		func(input error, trip bool) {
			Expect(classifier.ShouldTripCircuit(input)).To(Equal(trip))
		},
		Entry("nil", nil, false),
		Entry("500", aigen.NewStatusCodeError(500, errors.New("oops")), true),
		Entry("503", aigen.NewStatusCodeError(503, errors.New("down")), true),
		Entry("401", aigen.NewStatusCodeError(401, errors.New("who")), true),
		Entry("403", aigen.NewStatusCodeError(403, errors.New("no")), true),
		Entry("429", aigen.NewStatusCodeError(429, errors.New("slow")), false),
		Entry("400", aigen.NewStatusCodeError(400, errors.New("bad")), false),
		Entry("timeout", context.DeadlineExceeded, false),
		Entry("validation", aigen.ErrValidationFailed.New(), false),
		Entry("unknown", errors.New("boom"), true),
	)
})

var _ = Describe("ai domain", func() {
	DescribeTable("kinds",
		func(kind *problem.Kind, code string, status int) {
			Expect(kind.Code()).To(Equal(code))
			Expect(kind.Status()).To(Equal(status))
			Expect(kind.Domain()).To(Equal("ai"))
		},
		Entry("ai/invalid-input", aigen.ErrInvalidInput, "ai/invalid-input", 400),
		Entry("ai/invalid-config", aigen.ErrInvalidConfig, "ai/invalid-config", 500),
		Entry("ai/unauthorized", aigen.ErrUnauthorized, "ai/unauthorized", 401),
		Entry("ai/forbidden", aigen.ErrForbidden, "ai/forbidden", 403),
		Entry("ai/bad-request", aigen.ErrBadRequest, "ai/bad-request", 400),
		Entry("ai/rate-limited", aigen.ErrRateLimited, "ai/rate-limited", 429),
		Entry("ai/timeout", aigen.ErrTimeout, "ai/timeout", 504),
		Entry("ai/provider-error", aigen.ErrProviderError, "ai/provider-error", 502),
		Entry("ai/service-unavailable", aigen.ErrServiceUnavailable, "ai/service-unavailable", 503),
		Entry("ai/schema-error", aigen.ErrSchemaError, "ai/schema-error", 500),
		Entry("ai/validation-failed", aigen.ErrValidationFailed, "ai/validation-failed", 422),
		Entry("ai/parse-error", aigen.ErrParseError, "ai/parse-error", 502),
		Entry("ai/retry-exhausted", aigen.ErrRetryExhausted, "ai/retry-exhausted", 503),
	)

	It("is registered in the default registry", func() {
		kind, ok := problem.Default().Lookup("ai/retry-exhausted")
		Expect(ok).To(BeTrue())
		Expect(kind).To(BeIdenticalTo(aigen.ErrRetryExhausted))
		Expect(aigen.Domain().Kinds()).To(HaveLen(13))
	})
})
