package problem

import "net/http"

// ContentType is the media type of serialised problem documents.
const ContentType = "application/problem+json"

var systemDomain = MustDefineDomain("system",
	KindSpec{Name: "Unexpected", Status: http.StatusInternalServerError},
)

// ErrUnexpected is used for any failure that is not a registered domain error.
var ErrUnexpected = systemDomain.Kind("Unexpected")

// Document is the external problem document. It has no cause field, so the
// internal cause of an Error cannot reach the wire through it.
type Document struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Code     string         `json:"code"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// ToProblem maps a domain error to its external document. instance is
// usually the request path and may be empty. A nil err yields a
// system/unexpected document.
func ToProblem(err *Error, instance string) Document {
	if err == nil {
		err = ErrUnexpected.New()
	}
	return Document{
		Type:     err.kind.TypeURI(),
		Title:    err.kind.title,
		Status:   err.kind.status,
		Detail:   err.detail,
		Instance: instance,
		Code:     err.kind.code,
		Meta:     copyMeta(err.meta),
	}
}
