package switchboard

import "fmt"

// ErrBackend reports a failure talking to an external backend (reasoning
// service, data source). The router converts these into fallback or
// error-response paths; they never escape Handle.
type ErrBackend struct {
	Backend string
	Message string
}

func (e *ErrBackend) Error() string {
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

// ErrHTTP reports a non-2xx response from an HTTP-backed collaborator.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
