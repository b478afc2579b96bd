package aigen_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"

	aigen "github.com/JohnPlummer/jp-go-aigen"
	"github.com/JohnPlummer/jp-go-aigen/problem"
)

var _ = Describe("CircuitBreakerWrapper", func() {
	var (
		client  *mockClient
		wrapper *aigen.CircuitBreakerWrapper[string, string]
		ctx     context.Context
	)

	failing := func(status int) func(context.Context, string) (string, error) {
		return func(ctx context.Context, req string) (string, error) {
			return "", aigen.NewStatusCodeError(status, errors.New("failure"))
		}
	}

	BeforeEach(func() {
		client = &mockClient{
			executeFunc: func(ctx context.Context, req string) (string, error) {
				return "success", nil
			},
		}
		ctx = context.Background()
	})

	Describe("Default Configuration", func() {
		It("creates a closed breaker", func() {
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client)
			Expect(wrapper.State()).To(Equal(aigen.StateClosed))
		})

		It("falls back to the default trip rule when given a nil one", func() {
			client.executeFunc = failing(503)
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client, aigen.WithReadyToTrip(nil))

			for i := 0; i < 3; i++ {
				Expect(func() { _, _ = wrapper.Execute(ctx, "test") }).NotTo(Panic())
			}
			Expect(wrapper.State()).To(Equal(aigen.StateOpen))
		})

		It("trips at a 60% failure rate over at least 3 requests", func() {
			config := aigen.DefaultCircuitBreakerConfig()
			Expect(config.ReadyToTrip(aigen.CircuitBreakerCounts{Requests: 3, TotalFailures: 2})).To(BeTrue())
			Expect(config.ReadyToTrip(aigen.CircuitBreakerCounts{Requests: 3, TotalFailures: 1})).To(BeFalse())
			Expect(config.ReadyToTrip(aigen.CircuitBreakerCounts{Requests: 2, TotalFailures: 2})).To(BeFalse())
		})

		It("has the documented defaults", func() {
			config := aigen.DefaultCircuitBreakerConfig()
			Expect(config.Name).To(Equal("provider"))
			Expect(config.MaxRequests).To(Equal(uint32(3)))
			Expect(config.Interval).To(Equal(10 * time.Second))
			Expect(config.Timeout).To(Equal(30 * time.Second))
		})
	})

	Describe("State Transitions", func() {
		It("opens after repeated server errors", func() {
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client,
				aigen.WithCircuitBreakerLogger(quietLogger()))
			client.executeFunc = failing(500)

			for i := 0; i < 3; i++ {
				_, _ = wrapper.Execute(ctx, "test")
			}
			Expect(wrapper.State()).To(Equal(aigen.StateOpen))
		})

		It("does not count rate limits or client errors", func() {
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client,
				aigen.WithCircuitBreakerLogger(quietLogger()))

			client.executeFunc = failing(429)
			for i := 0; i < 5; i++ {
				_, _ = wrapper.Execute(ctx, "test")
			}
			client.executeFunc = failing(400)
			for i := 0; i < 5; i++ {
				_, _ = wrapper.Execute(ctx, "test")
			}

			Expect(wrapper.State()).To(Equal(aigen.StateClosed))
			Expect(wrapper.Counts().TotalFailures).To(Equal(uint32(0)))
		})

		It("rejects requests with ai/service-unavailable while open", func() {
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client,
				aigen.WithCircuitBreakerLogger(quietLogger()))
			client.executeFunc = failing(503)
			for i := 0; i < 3; i++ {
				_, _ = wrapper.Execute(ctx, "test")
			}
			calls := client.getCallCount()

			_, err := wrapper.Execute(ctx, "test")
			Expect(client.getCallCount()).To(Equal(calls))
			Expect(errors.Is(err, aigen.ErrServiceUnavailable)).To(BeTrue())
			Expect(errors.Is(err, gobreaker.ErrOpenState)).To(BeTrue())

			e, _ := problem.As(err)
			Expect(e.Meta()).To(HaveKeyWithValue("circuit", "open"))
		})

		It("passes underlying errors through while closed", func() {
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client,
				aigen.WithCircuitBreakerLogger(quietLogger()))
			client.executeFunc = failing(500)

			_, err := wrapper.Execute(ctx, "test")
			var statusErr *aigen.StatusCodeError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode()).To(Equal(500))
		})

		It("recovers through half-open after the open timeout", func() {
			var (
				mu          sync.Mutex
				transitions []string
			)
			wrapper = aigen.NewCircuitBreakerWrapper[string, string](client,
				aigen.WithCircuitBreakerLogger(quietLogger()),
				aigen.WithBreakerTimeout(100*time.Millisecond),
				aigen.WithMaxRequests(1),
				aigen.WithStateChangeHandler(func(name string, from, to aigen.CircuitBreakerState) {
					mu.Lock()
					defer mu.Unlock()
					transitions = append(transitions, from.String()+"->"+to.String())
				}),
			)

			client.executeFunc = failing(500)
			for i := 0; i < 3; i++ {
				_, _ = wrapper.Execute(ctx, "test")
			}
			Expect(wrapper.State()).To(Equal(aigen.StateOpen))

			time.Sleep(150 * time.Millisecond)
			Expect(wrapper.State()).To(Equal(aigen.StateHalfOpen))

			client.executeFunc = func(ctx context.Context, req string) (string, error) {
				return "success", nil
			}
			resp, err := wrapper.Execute(ctx, "test")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(Equal("success"))
			Expect(wrapper.State()).To(Equal(aigen.StateClosed))

			mu.Lock()
			defer mu.Unlock()
			Expect(transitions).To(Equal([]string{"closed->open", "open->half-open", "half-open->closed"}))
		})
	})
})

var _ = Describe("Client with a circuit breaker", func() {
	It("fails fast with ai/service-unavailable once the circuit opens", func() {
		provider := &mockProvider{
			executeFunc: func(ctx context.Context, req *aigen.ProviderRequest) (*aigen.ProviderResponse, error) {
				return nil, aigen.NewStatusCodeError(500, errors.New("boom"))
			},
		}
		client, err := aigen.New(aigen.UseProvider(provider),
			aigen.WithLogger(quietLogger()),
			aigen.WithRetryPolicy(fastPolicy(0)),
			aigen.WithCircuitBreaker(aigen.WithBreakerTimeout(time.Minute)),
		)
		Expect(err).NotTo(HaveOccurred())

		spec, err := aigen.NewRequest[deck]().SetUserPrompt("Cells").SetSchema(deckSchema).Build()
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 3; i++ {
			_, err = aigen.Generate(context.Background(), client, spec)
			Expect(errors.Is(err, aigen.ErrProviderError)).To(BeTrue())
		}

		state, enabled := client.CircuitState()
		Expect(enabled).To(BeTrue())
		Expect(state).To(Equal(aigen.StateOpen))

		_, err = aigen.Generate(context.Background(), client, spec)
		Expect(errors.Is(err, aigen.ErrServiceUnavailable)).To(BeTrue())
		Expect(provider.getCallCount()).To(Equal(3))

		health := client.Health()
		Expect(health.Healthy).To(BeFalse())
		Expect(health.Status).To(Equal("unavailable"))
		Expect(health.CircuitBreaker.State).To(Equal("open"))
	})
})
