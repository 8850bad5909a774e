package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/mirrord/internal/publish/local"
	"github.com/italolelis/mirrord/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a1b2c3d4_report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	b := local.NewBackend("http://localhost:3000/")

	res, err := b.Publish(context.Background(), path, "a1b2c3d4_report.pdf")

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/downloads/a1b2c3d4_report.pdf", res.URL)
	assert.Equal(t, "local", res.Source)
	assert.Empty(t, res.BrowseURL)
	assert.False(t, res.CleanupLocal, "local backend must never delete the source file")
}

func TestPublish_EscapesStoredName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a1b2c3d4_my report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	b := local.NewBackend("http://localhost:3000")

	res, err := b.Publish(context.Background(), path, "a1b2c3d4_my report.pdf")

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/downloads/a1b2c3d4_my%20report.pdf", res.URL)
}

func TestPublish_MissingFile(t *testing.T) {
	b := local.NewBackend("http://localhost:3000")

	_, err := b.Publish(context.Background(), filepath.Join(t.TempDir(), "absent.bin"), "absent.bin")

	require.Error(t, err)

	var pubErr *transfer.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, "local", pubErr.Backend)
}

func TestName(t *testing.T) {
	assert.Equal(t, "local", local.NewBackend("http://localhost:3000").Name())
}
