// Package transfer holds the mirror-transfer model, the in-process registry
// of known transfers, and the event payloads exchanged with clients.
package transfer

import "time"

// UnknownSize marks a transfer whose total byte count the remote never
// disclosed. Percent math treats it as "emit the unknown sentinel", never as
// a divisor.
const UnknownSize int64 = -1

// UnknownPercent is the progress value reported while the total size is
// unknown.
const UnknownPercent = -1

type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsActive reports whether the transfer still moves bytes.
func (s Status) IsActive() bool { return s == StatusDownloading }

// IsTerminal reports whether the transfer reached a final state.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// Transfer is one end-to-end fetch-and-publish operation. The id never
// changes after creation; Downloaded only grows while the status is
// downloading; the status moves downloading→completed or
// downloading→failed exactly once.
type Transfer struct {
	ID        string
	SourceURL string

	// Filename is the uniquified stored name, e.g. "a1b2c3d4_report.pdf".
	// It doubles as the path element of the local download URL.
	Filename string
	// Path is the absolute location of the file inside the downloads dir.
	Path string

	Size       int64 // UnknownSize until the remote discloses it
	Downloaded int64
	Progress   int // 0..100, or UnknownPercent
	Speed      string

	Status Status

	// Publish outcome, set only on completion.
	PublishURL string
	BrowseURL  string
	Source     string
	Warning    string

	// Error is set only on failure, for the terminal event and notifier.
	Error string

	StartedAt   time.Time
	CompletedAt time.Time
}
