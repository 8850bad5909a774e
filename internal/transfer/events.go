package transfer

// Message type tags on the session channel.
const (
	TypeStartDownload = "start-download"
	TypeStarted       = "download-started"
	TypeProgress      = "download-progress"
	TypeComplete      = "download-complete"
	TypeError         = "download-error"
)

// StagePublishing marks the single progress event emitted before a remote
// publish. Ordinary streaming progress carries no stage.
const StagePublishing = "publishing"

// StartRequest is the single client→server message: mirror this URL.
type StartRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// StartedEvent announces an accepted transfer, before its first byte.
type StartedEvent struct {
	Type       string `json:"type"`
	DownloadID string `json:"downloadId"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"fileSize"`
}

func NewStartedEvent(t Transfer) StartedEvent {
	return StartedEvent{
		Type:       TypeStarted,
		DownloadID: t.ID,
		Filename:   t.Filename,
		FileSize:   t.Size,
	}
}

// ProgressEvent reports bytes moved so far. Progress is 0..100, or
// UnknownPercent while the total size is unknown.
type ProgressEvent struct {
	Type            string `json:"type"`
	DownloadID      string `json:"downloadId"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	FileSize        int64  `json:"fileSize"`
	Progress        int    `json:"progress"`
	Speed           string `json:"speed"`
	Stage           string `json:"stage,omitempty"`
}

// CompleteEvent is the single success-terminal message, carrying the
// publish outcome.
type CompleteEvent struct {
	Type        string `json:"type"`
	DownloadID  string `json:"downloadId"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"fileSize"`
	DownloadURL string `json:"downloadUrl"`
	BrowseURL   string `json:"browseUrl,omitempty"`
	Source      string `json:"source"`
	Warning     string `json:"warning,omitempty"`
}

func NewCompleteEvent(t Transfer) CompleteEvent {
	return CompleteEvent{
		Type:        TypeComplete,
		DownloadID:  t.ID,
		Filename:    t.Filename,
		FileSize:    t.Size,
		DownloadURL: t.PublishURL,
		BrowseURL:   t.BrowseURL,
		Source:      t.Source,
		Warning:     t.Warning,
	}
}

// ErrorEvent is the single failure-terminal message.
type ErrorEvent struct {
	Type       string `json:"type"`
	DownloadID string `json:"downloadId"`
	Error      string `json:"error"`
}

func NewErrorEvent(id, msg string) ErrorEvent {
	return ErrorEvent{Type: TypeError, DownloadID: id, Error: msg}
}
