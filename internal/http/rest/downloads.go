package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/transfer"
)

const defaultServeBuffer = 4 << 20

// DownloadsHandler serves stored mirror files with byte-range support and
// exposes the transfer registry snapshot.
type DownloadsHandler struct {
	downloadDir string
	registry    *transfer.Registry
	bufSize     int
}

// NewDownloadsHandler creates a new downloads handler rooted at downloadDir.
func NewDownloadsHandler(downloadDir string, registry *transfer.Registry, bufSize int) *DownloadsHandler {
	if bufSize <= 0 {
		bufSize = defaultServeBuffer
	}

	return &DownloadsHandler{
		downloadDir: downloadDir,
		registry:    registry,
		bufSize:     bufSize,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/downloads/{filename}", h.ServeFile)
	r.Get("/api/downloads", h.ListDownloads)

	return r
}

// ServeFile streams a stored file, honoring a single byte-range request.
func (h *DownloadsHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	name := chi.URLParam(r, "filename")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	// Stored names are flat; anything that walks out of the downloads
	// directory is treated as absent.
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		http.NotFound(w, r)

		return
	}

	path := filepath.Join(h.downloadDir, name)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)

		return
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open stored file", "filename", name, "err", err)
		http.Error(w, "failed to open file", http.StatusInternalServerError)

		return
	}
	defer f.Close()

	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	rng, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		// Unsatisfiable range: the requested start lies beyond the file.
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)

		return
	}

	length := size

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
	} else {
		if _, err := f.Seek(rng.start, io.SeekStart); err != nil {
			logger.Error("failed to seek stored file", "filename", name, "err", err)
			http.Error(w, "failed to read file", http.StatusInternalServerError)

			return
		}

		length = rng.end - rng.start + 1

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	if err := h.copyChunk(w, f, length); err != nil {
		// The client went away mid-stream; nothing left to report to it.
		logger.Debug("file stream aborted", "filename", name, "err", err)
	}
}

// ListDownloads returns the current snapshot of all known transfers.
func (h *DownloadsHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	snapshot := h.registry.Snapshot()

	records := make([]downloadRecord, 0, len(snapshot))
	for _, t := range snapshot {
		records = append(records, newDownloadRecord(t))
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(records); err != nil {
		logger.Error("failed to encode downloads snapshot", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// downloadRecord is the wire shape of one registry entry.
type downloadRecord struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Filename    string     `json:"filename"`
	Size        int64      `json:"size"`
	Downloaded  int64      `json:"downloaded"`
	Progress    int        `json:"progress"`
	Speed       string     `json:"speed,omitempty"`
	Status      string     `json:"status"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	BrowseURL   string     `json:"browseUrl,omitempty"`
	Source      string     `json:"source,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func newDownloadRecord(t transfer.Transfer) downloadRecord {
	rec := downloadRecord{
		ID:          t.ID,
		URL:         t.SourceURL,
		Filename:    t.Filename,
		Size:        t.Size,
		Downloaded:  t.Downloaded,
		Progress:    t.Progress,
		Speed:       t.Speed,
		Status:      string(t.Status),
		DownloadURL: t.PublishURL,
		BrowseURL:   t.BrowseURL,
		Source:      t.Source,
		Warning:     t.Warning,
		Error:       t.Error,
		StartedAt:   t.StartedAt,
	}

	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		rec.CompletedAt = &completed
	}

	return rec
}

// byteRange is one inclusive byte window of a stored file.
type byteRange struct {
	start, end int64
}

// parseRange interprets a single-range header value against the file size.
// A nil range with ok=true means "serve the whole file": either no range
// was requested or the header was malformed. ok=false means the requested
// start lies beyond the file.
func parseRange(header string, size int64) (*byteRange, bool) {
	const prefix = "bytes="

	if header == "" || !strings.HasPrefix(header, prefix) {
		return nil, true
	}

	first, rest, found := strings.Cut(strings.TrimPrefix(header, prefix), "-")
	if !found {
		return nil, true
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return nil, true
	}

	if start >= size {
		return nil, false
	}

	end := size - 1

	if rest = strings.TrimSpace(rest); rest != "" {
		parsedEnd, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || parsedEnd < start {
			return nil, true
		}

		if parsedEnd < end {
			end = parsedEnd
		}
	}

	return &byteRange{start: start, end: end}, true
}

// copyChunk streams n bytes with a large buffer to sustain throughput on
// big files.
func (h *DownloadsHandler) copyChunk(dst io.Writer, src io.Reader, n int64) error {
	buf := make([]byte, h.bufSize)
	limited := io.LimitReader(src, n)

	for {
		rn, rerr := limited.Read(buf)
		if rn > 0 {
			if _, werr := dst.Write(buf[:rn]); werr != nil {
				return werr
			}
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			return rerr
		}
	}
}
