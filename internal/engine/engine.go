// Package engine orchestrates mirror transfers: it probes the source,
// streams the body to local storage while emitting progress events, and
// hands the finished file to the active publish backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/mirrord/internal/engine/progress"
	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/publish"
	"github.com/italolelis/mirrord/internal/resolve"
	"github.com/italolelis/mirrord/internal/telemetry"
	"github.com/italolelis/mirrord/internal/transfer"
	"golang.org/x/sync/semaphore"
)

const (
	dirPerm     = 0755
	eventBuffer = 16

	defaultMaxParallel  = 5
	defaultProbeTimeout = 10 * time.Second
	defaultMaxRedirects = 5
	defaultCopyBuffer   = 4 << 20
)

// EventSink receives the lifecycle events of transfers started through it.
// Implementations must be safe for concurrent use and must not block.
type EventSink interface {
	Send(event any)
}

// Config carries the engine tuning knobs. Zero values fall back to
// defaults suitable for most deployments.
type Config struct {
	DownloadDir    string
	MaxParallel    int
	ProbeTimeout   time.Duration
	MaxRedirects   int
	CopyBufferSize int
}

// Engine runs mirror transfers. Many transfers proceed in parallel, each
// on its own goroutine, bounded by a weighted semaphore.
type Engine struct {
	downloadDir string
	bufSize     int
	registry    *transfer.Registry
	local       publish.Backend
	remote      publish.Backend
	telemetry   *telemetry.Telemetry
	slots       *semaphore.Weighted

	probeClient  *http.Client
	streamClient *http.Client

	// OnTransferCompleted and OnTransferFailed receive terminal transfer
	// records for notification fan-out. Sends never block; without a
	// consumer the records are dropped.
	OnTransferCompleted chan transfer.Transfer
	OnTransferFailed    chan transfer.Transfer
}

// New builds an engine that stores files under cfg.DownloadDir. The local
// backend must be non-nil; remote may be nil when no remote store is
// configured.
func New(cfg Config, registry *transfer.Registry, local, remote publish.Backend, tel *telemetry.Telemetry) (*Engine, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}

	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}

	if cfg.CopyBufferSize <= 0 {
		cfg.CopyBufferSize = defaultCopyBuffer
	}

	if err := os.MkdirAll(cfg.DownloadDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create downloads directory: %w", err)
	}

	redirects := limitRedirects(cfg.MaxRedirects)

	// The streaming client must not carry an overall timeout: large files
	// take arbitrarily long. Connect and first-header are still bounded.
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = cfg.ProbeTimeout

	return &Engine{
		downloadDir:  cfg.DownloadDir,
		bufSize:      cfg.CopyBufferSize,
		registry:     registry,
		local:        local,
		remote:       remote,
		telemetry:    tel,
		slots:        semaphore.NewWeighted(int64(cfg.MaxParallel)),
		probeClient:  &http.Client{Timeout: cfg.ProbeTimeout, CheckRedirect: redirects},
		streamClient: &http.Client{Transport: streamTransport, CheckRedirect: redirects},

		OnTransferCompleted: make(chan transfer.Transfer, eventBuffer),
		OnTransferFailed:    make(chan transfer.Transfer, eventBuffer),
	}, nil
}

// Start begins mirroring rawURL and returns the transfer id immediately.
// Lifecycle events are delivered to the sink; cancelling ctx aborts the
// transfer.
func (e *Engine) Start(ctx context.Context, rawURL string, sink EventSink) string {
	id := uuid.NewString()

	go func() {
		err := e.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) error {
			return e.run(ctx, id, rawURL, sink)
		})
		if err != nil {
			logctx.LoggerFromContext(ctx).Error("transfer failed", "download_id", id, "url", rawURL, "err", err)
		}
	}()

	return id
}

func (e *Engine) run(ctx context.Context, id, rawURL string, sink EventSink) error {
	logger := logctx.LoggerFromContext(ctx).With("download_id", id)

	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.fail(sink, id, "download cancelled before it started")

		return fmt.Errorf("failed to acquire transfer slot: %w", err)
	}
	defer e.slots.Release(1)

	name, size := e.probeSource(ctx, rawURL)

	resp, err := e.openStream(ctx, rawURL)
	if err != nil {
		e.fail(sink, id, errorMessage(err))

		return err
	}
	defer resp.Body.Close()

	// A synthesized probe name is provisional: real headers on the full
	// response still win.
	if name == "" || resolve.Synthesized(name) {
		name = resolve.Filename(resp.Header.Get("Content-Disposition"), rawURL)
	}

	if size <= 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}

	if size <= 0 {
		size = transfer.UnknownSize
	}

	stored := resolve.Uniquify(name)
	targetPath := filepath.Join(e.downloadDir, stored)

	out, err := os.Create(targetPath)
	if err != nil {
		e.fail(sink, id, "failed to write file to disk")

		return &transfer.WriteError{Path: targetPath, Err: err}
	}

	t := &transfer.Transfer{
		ID:        id,
		SourceURL: rawURL,
		Filename:  stored,
		Path:      targetPath,
		Size:      size,
	}
	e.registry.Add(t)

	sink.Send(transfer.NewStartedEvent(*t))
	logger.Info("transfer started", "filename", stored, "file_size", humanSize(size))

	tracker := progress.NewTracker(size)

	if err := e.copyBody(out, resp.Body, rawURL, tracker, id, sink); err != nil {
		e.discardPartial(ctx, targetPath)

		msg := errorMessage(err)

		var werr *transfer.WriteError
		if errors.As(err, &werr) {
			msg = "failed to write file to disk"
		}

		e.fail(sink, id, msg)

		return err
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		e.discardPartial(ctx, targetPath)
		e.fail(sink, id, "failed to write file to disk")

		return &transfer.WriteError{Path: targetPath, Err: err}
	}

	// The written file is authoritative; remotes lie about sizes.
	finalSize := info.Size()
	final := tracker.Final(finalSize)

	e.registry.SetProgress(id, final.Downloaded, final.Percent, final.Speed)
	sink.Send(progressEvent(id, final, ""))

	res, warning, err := e.publishFile(ctx, id, targetPath, stored, finalSize, final.Speed, sink)
	if err != nil {
		e.discardPartial(ctx, targetPath)
		e.fail(sink, id, errorMessage(err))

		return err
	}

	tc, err := e.registry.Complete(id, transfer.Completion{
		Size:       finalSize,
		PublishURL: res.URL,
		BrowseURL:  res.BrowseURL,
		Source:     res.Source,
		Warning:    warning,
	})
	if err != nil {
		return fmt.Errorf("failed to finalize transfer: %w", err)
	}

	sink.Send(transfer.NewCompleteEvent(tc))
	e.notifyCompleted(tc)
	e.telemetry.AddTransferBytes(finalSize)

	logger.Info("transfer completed",
		"filename", stored,
		"file_size", humanize.Bytes(uint64(finalSize)),
		"source", res.Source,
		"download_url", res.URL)

	if res.CleanupLocal {
		if err := os.Remove(targetPath); err != nil {
			logger.Warn("failed to remove local copy after remote publish", "path", targetPath, "err", err)
		}
	}

	return nil
}

// probeSource issues the lightweight metadata probe. Probe failures are
// never fatal; they only degrade the early filename and size hints.
func (e *Engine) probeSource(ctx context.Context, rawURL string) (string, int64) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", transfer.UnknownSize
	}

	resp, err := e.probeClient.Do(req)
	if err != nil {
		logger.Debug("metadata probe failed", "url", rawURL, "err", err)

		return "", transfer.UnknownSize
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Debug("metadata probe rejected", "url", rawURL, "status", resp.StatusCode)

		return "", transfer.UnknownSize
	}

	name := resolve.Filename(resp.Header.Get("Content-Disposition"), rawURL)

	size := transfer.UnknownSize
	if resp.ContentLength > 0 {
		size = resp.ContentLength
	}

	return name, size
}

// openStream issues the full fetch and verifies the response is servable.
func (e *Engine) openStream(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Operation: "request", Err: err}
	}

	resp, err := e.streamClient.Do(req)
	if err != nil {
		return nil, &transfer.FetchError{URL: rawURL, Operation: "request", Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()

		return nil, &transfer.FetchError{URL: rawURL, Operation: "request", StatusCode: resp.StatusCode}
	}

	return resp, nil
}

// copyBody streams the response body into out, reporting progress through
// the tracker. It owns closing out on every path.
func (e *Engine) copyBody(out *os.File, body io.Reader, rawURL string, tracker *progress.Tracker, id string, sink EventSink) error {
	defer out.Close()

	pr := progress.NewReader(body, tracker, func(s progress.Sample) {
		e.registry.SetProgress(id, s.Downloaded, s.Percent, s.Speed)
		sink.Send(progressEvent(id, s, ""))
	})

	buf := make([]byte, e.bufSize)

	for {
		n, rerr := pr.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return &transfer.WriteError{Path: out.Name(), Err: werr}
			}
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			return &transfer.FetchError{URL: rawURL, Operation: "stream", Err: rerr}
		}
	}

	if err := out.Close(); err != nil {
		return &transfer.WriteError{Path: out.Name(), Err: err}
	}

	return nil
}

// publishFile hands the finished file to the active backend. A remote
// failure downgrades to local serving with a warning instead of failing
// the transfer.
func (e *Engine) publishFile(ctx context.Context, id, path, stored string, size int64, speed string, sink EventSink) (*publish.Result, string, error) {
	if e.remote == nil {
		res, err := e.local.Publish(ctx, path, stored)

		return res, "", err
	}

	// Announce the publishing stage before the slow remote upload so the
	// client does not read the quiet period as a stall.
	sink.Send(transfer.ProgressEvent{
		Type:            transfer.TypeProgress,
		DownloadID:      id,
		DownloadedBytes: size,
		FileSize:        size,
		Progress:        100,
		Speed:           speed,
		Stage:           transfer.StagePublishing,
	})

	res, err := e.remote.Publish(ctx, path, stored)
	if err == nil {
		return res, "", nil
	}

	logctx.LoggerFromContext(ctx).Warn("remote publish failed, falling back to local serving",
		"backend", e.remote.Name(), "filename", stored, "err", err)
	e.telemetry.RecordSystemError("engine", "publish_fallback")

	res, lerr := e.local.Publish(ctx, path, stored)
	if lerr != nil {
		return nil, "", lerr
	}

	return res, fmt.Sprintf("%s upload failed, serving from local storage", e.remote.Name()), nil
}

// fail emits the single failure event for a transfer and drops it from
// the registry if it was ever registered.
func (e *Engine) fail(sink EventSink, id, msg string) {
	if tc, err := e.registry.Fail(id, msg); err == nil {
		e.notifyFailed(tc)
	}

	sink.Send(transfer.NewErrorEvent(id, msg))
}

// discardPartial best-effort deletes a partially written file. A file
// that is already gone is not an error.
func (e *Engine) discardPartial(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logctx.LoggerFromContext(ctx).Warn("failed to remove partial file", "path", path, "err", err)
		e.telemetry.RecordSystemError("engine", "partial_cleanup")
	}
}

func (e *Engine) notifyCompleted(t transfer.Transfer) {
	select {
	case e.OnTransferCompleted <- t:
	default:
	}
}

func (e *Engine) notifyFailed(t transfer.Transfer) {
	select {
	case e.OnTransferFailed <- t:
	default:
	}
}

func progressEvent(id string, s progress.Sample, stage string) transfer.ProgressEvent {
	return transfer.ProgressEvent{
		Type:            transfer.TypeProgress,
		DownloadID:      id,
		DownloadedBytes: s.Downloaded,
		FileSize:        s.Total,
		Progress:        s.Percent,
		Speed:           s.Speed,
		Stage:           stage,
	}
}

func limitRedirects(max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}

		return nil
	}
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "download failed"
	}

	return err.Error()
}

func humanSize(n int64) string {
	if n <= 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}
