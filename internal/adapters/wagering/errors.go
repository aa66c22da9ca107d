package wagering

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the API rejects the credentials.
var ErrUnauthorized = errors.New("wagering api unauthorized")

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wagering api %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
