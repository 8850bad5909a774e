// Package publish decides where a completed mirror becomes reachable.
// Exactly one backend is active per deployment; the local backend also
// serves as the fallback when a remote backend cannot publish.
package publish

import "context"

// Result is the immutable outcome of publishing one file.
type Result struct {
	// URL is the direct download link clients should follow.
	URL string
	// BrowseURL optionally points at a human-facing page for the file.
	BrowseURL string
	// Source tags the backend that produced the result.
	Source string
	// CleanupLocal reports that the local copy became redundant and the
	// caller should remove it.
	CleanupLocal bool
}

// Backend makes a completed local file reachable by URL.
type Backend interface {
	// Name tags results, logs and metrics produced by this backend.
	Name() string
	// Publish makes the stored file reachable and reports where.
	Publish(ctx context.Context, localPath, storedName string) (*Result, error)
}
