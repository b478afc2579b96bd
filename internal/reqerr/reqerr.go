// Package reqerr declares the "request" error domain used by the HTTP
// server for failures that happen before a generation starts.
package reqerr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

var requestDomain = problem.MustDefineDomain("request",
	problem.KindSpec{Name: "InvalidBody", Status: http.StatusBadRequest},
	problem.KindSpec{Name: "RateLimited", Status: http.StatusTooManyRequests},
	problem.KindSpec{Name: "NotFound", Status: http.StatusNotFound},
)

var (
	ErrInvalidBody = requestDomain.Kind("InvalidBody")
	ErrRateLimited = requestDomain.Kind("RateLimited")
	ErrNotFound    = requestDomain.Kind("NotFound")
)

// Domain returns the "request" error domain.
func Domain() *problem.Domain {
	return requestDomain
}

// maxIssues bounds the issues copied into a problem document.
const maxIssues = 20

// InvalidBody converts a binding failure into request/invalid-body.
// Validator failures are flattened into meta.issues as {path, rule, param};
// other decoding errors only carry a generic detail.
func InvalidBody(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrInvalidBody.New(
			problem.WithDetail("request could not be decoded"),
			problem.WithCause(err),
		)
	}

	issues := make([]map[string]any, 0, len(verrs))
	for _, fe := range verrs {
		if len(issues) == maxIssues {
			break
		}
		issue := map[string]any{
			"path": fieldPath(fe.Namespace()),
			"rule": fe.Tag(),
		}
		if fe.Param() != "" {
			issue["param"] = fe.Param()
		}
		issues = append(issues, issue)
	}

	return ErrInvalidBody.New(
		problem.WithDetailf("request has %d invalid field(s)", len(verrs)),
		problem.WithField("issues", issues),
		problem.WithCause(err),
	)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
