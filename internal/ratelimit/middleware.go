package ratelimit

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"

	"github.com/JohnPlummer/jp-go-aigen/internal/reqerr"
	"github.com/JohnPlummer/jp-go-aigen/problem"
	"github.com/JohnPlummer/jp-go-aigen/problem/ginproblem"
)

// HeaderCallerID identifies the caller for rate limiting. Requests without
// it are keyed by client IP.
const HeaderCallerID = "X-Caller-ID"

// headerReset is set by the limiter middleware to the window end in Unix
// seconds.
const headerReset = "X-RateLimit-Reset"

// CallerKey returns the rate-limit key of a request.
func CallerKey(c *gin.Context) string {
	if id := c.GetHeader(HeaderCallerID); id != "" {
		return "caller:" + id
	}
	return "ip:" + c.ClientIP()
}

// Middleware rejects requests over the limiter's budget with
// request/rate-limited (429), meta {limit, windowMs} and a Retry-After
// header in whole seconds. Store failures render as system/unexpected.
func Middleware(l *Limiter) gin.HandlerFunc {
	return mgin.NewMiddleware(l.rate,
		mgin.WithKeyGetter(CallerKey),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.Header("Retry-After", strconv.FormatInt(retryAfterSeconds(c, time.Now()), 10))
			ginproblem.Write(c, reqerr.ErrRateLimited.New(
				problem.WithDetailf("more than %d requests in %v", l.Limit(), l.Window()),
				problem.WithMeta(map[string]any{
					"limit":    l.Limit(),
					"windowMs": l.Window().Milliseconds(),
				}),
			))
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			ginproblem.Write(c, err)
		}),
	)
}

// retryAfterSeconds reads the window end written by the limiter and returns
// the whole seconds until then, at least 1.
func retryAfterSeconds(c *gin.Context, now time.Time) int64 {
	reset, err := strconv.ParseInt(c.Writer.Header().Get(headerReset), 10, 64)
	if err != nil {
		return 1
	}
	if secs := reset - now.Unix(); secs > 1 {
		return secs
	}
	return 1
}
