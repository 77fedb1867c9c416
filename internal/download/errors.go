package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s from %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.Code >= 500
}

// Transient reports whether err is worth another attempt: transport
// failures, temporary statuses and integrity mismatches are; permanent
// statuses, local filesystem failures and cancellation are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}

	switch syncerr.KindOf(err) {
	case syncerr.KindNetwork, syncerr.KindIntegrity:
		return true
	}
	return false
}
