package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Route      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Route, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Route, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the board server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// ErrUnknownEvent is returned by DecodeEvent for event names the client does not handle.
var ErrUnknownEvent = errors.New("unknown push event")
