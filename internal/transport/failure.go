// Package transport carries the transport-neutral failure type adapters map
// onto their own protocols.
package transport

import "fmt"

// Failure captures adapter-level error details. Business rejections never use
// Failure; they travel as normal results with IsAccepted=false.
type Failure struct {
	Code       string
	Detail     string
	HTTPStatus int // optional hint for HTTP adapters
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}
