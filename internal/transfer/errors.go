package transfer

import "fmt"

// FetchError represents remote fetch failures: connection errors, DNS
// failures, non-success status codes and exceeded redirect limits.
type FetchError struct {
	URL        string // Source URL of the failed request
	Operation  string // The phase that failed (e.g. "probe", "fetch")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch failed during %s for %s (HTTP %d)", e.Operation, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch failed during %s for %s", e.Operation, e.URL)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WriteError represents destination stream failures: disk full, permission
// denied, or a writer closed mid-stream.
type WriteError struct {
	Path string // Destination path that could not be written
	Err  error  // Underlying error, if any
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed for %s", e.Path)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// PublishError represents a publish backend failure. The engine downgrades
// it to a local completion with a warning, it never fails the transfer.
type PublishError struct {
	Backend  string // Tag of the backend that failed
	Filename string // Stored name being published
	Err      error  // Underlying error, if any
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed for %s", e.Backend, e.Filename)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
