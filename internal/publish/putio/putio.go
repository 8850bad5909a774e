// Package putio publishes completed mirrors to put.io, trading local disk
// for the provider's faster public links.
package putio

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/publish"
	"github.com/italolelis/mirrord/internal/transfer"
	putio "github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

const name = "putio"

// Backend uploads stored files into a well-known put.io folder and hands
// back the provider's direct link. Folder resolution runs once per process;
// if it fails, the backend stays disabled and every Publish call returns
// the cached error immediately so the engine can fall back to local serving.
type Backend struct {
	putioClient *putio.Client
	folder      string

	initOnce sync.Once
	folderID int64
	initErr  error
}

// NewBackend builds a put.io backend from an OAuth token and the name of
// the folder that receives mirrored files.
func NewBackend(token, folder string) *Backend {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Backend{
		putioClient: putio.NewClient(oauthClient),
		folder:      folder,
	}
}

func (b *Backend) Name() string { return name }

// Verify checks the credential material against the account endpoint. Main
// calls it once at startup; failure downgrades the deployment to the local
// backend without stopping the process.
func (b *Backend) Verify(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := b.putioClient.Account.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account info: %w", err)
	}

	logger.InfoContext(ctx, "authenticated with put.io", "user", user.Username)

	return nil
}

func (b *Backend) Publish(ctx context.Context, localPath, storedName string) (*publish.Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("filename", storedName)

	folderID, err := b.ensureFolder(ctx)
	if err != nil {
		return nil, &transfer.PublishError{Backend: name, Filename: storedName, Err: err}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, &transfer.PublishError{
			Backend:  name,
			Filename: storedName,
			Err:      fmt.Errorf("failed to open stored file: %w", err),
		}
	}
	defer f.Close()

	logger.InfoContext(ctx, "uploading file to put.io", "folder_id", folderID)

	upload, err := b.putioClient.Files.Upload(ctx, f, storedName, folderID)
	if err != nil {
		return nil, &transfer.PublishError{
			Backend:  name,
			Filename: storedName,
			Err:      fmt.Errorf("failed to upload file: %w", err),
		}
	}

	if upload.File == nil {
		return nil, &transfer.PublishError{
			Backend:  name,
			Filename: storedName,
			Err:      fmt.Errorf("upload response carried no file"),
		}
	}

	directURL, err := b.putioClient.Files.URL(ctx, upload.File.ID, false)
	if err != nil {
		return nil, &transfer.PublishError{
			Backend:  name,
			Filename: storedName,
			Err:      fmt.Errorf("failed to get file download url: %w", err),
		}
	}

	logger.InfoContext(ctx, "file published to put.io", "file_id", upload.File.ID)

	return &publish.Result{
		URL:          directURL,
		BrowseURL:    fmt.Sprintf("https://app.put.io/files/%d", upload.File.ID),
		Source:       name,
		CleanupLocal: true,
	}, nil
}

// ensureFolder resolves or creates the destination folder exactly once for
// the process lifetime.
func (b *Backend) ensureFolder(ctx context.Context) (int64, error) {
	b.initOnce.Do(func() {
		b.folderID, b.initErr = b.resolveFolder(ctx)
	})

	return b.folderID, b.initErr
}

func (b *Backend) resolveFolder(ctx context.Context) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("folder", b.folder)

	files, _, err := b.putioClient.Files.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list root folder: %w", err)
	}

	for _, f := range files {
		if f.IsDir() && f.Name == b.folder {
			logger.DebugContext(ctx, "found existing put.io folder", "folder_id", f.ID)

			return f.ID, nil
		}
	}

	created, err := b.putioClient.Files.CreateFolder(ctx, b.folder, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to create folder: %w", err)
	}

	logger.InfoContext(ctx, "created put.io folder", "folder_id", created.ID)

	return created.ID, nil
}
