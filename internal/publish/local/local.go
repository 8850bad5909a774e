// Package local serves completed mirrors straight from the downloads
// directory through the range-serving endpoint.
package local

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/italolelis/mirrord/internal/publish"
	"github.com/italolelis/mirrord/internal/transfer"
)

const name = "local"

// Backend publishes by pointing clients at this process's own
// /downloads/ endpoint. It never touches the source file.
type Backend struct {
	baseURL string
}

// NewBackend builds a local backend rooted at the public base URL of this
// service, e.g. "http://localhost:3000".
func NewBackend(baseURL string) *Backend {
	return &Backend{baseURL: strings.TrimRight(baseURL, "/")}
}

func (b *Backend) Name() string { return name }

func (b *Backend) Publish(ctx context.Context, localPath, storedName string) (*publish.Result, error) {
	if _, err := os.Stat(localPath); err != nil {
		return nil, &transfer.PublishError{
			Backend:  name,
			Filename: storedName,
			Err:      fmt.Errorf("stored file is not readable: %w", err),
		}
	}

	return &publish.Result{
		URL:    b.baseURL + "/downloads/" + url.PathEscape(storedName),
		Source: name,
	}, nil
}
