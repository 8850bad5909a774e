package ws

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/italolelis/mirrord/internal/engine"
	"github.com/italolelis/mirrord/internal/http/rest"
	"github.com/italolelis/mirrord/internal/publish/local"
	"github.com/italolelis/mirrord/internal/transfer"
	"github.com/stretchr/testify/require"
)

// wireEvent is the union of every server→client message shape.
type wireEvent struct {
	Type            string `json:"type"`
	DownloadID      string `json:"downloadId"`
	Filename        string `json:"filename"`
	FileSize        int64  `json:"fileSize"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	Progress        int    `json:"progress"`
	Speed           string `json:"speed"`
	Stage           string `json:"stage"`
	DownloadURL     string `json:"downloadUrl"`
	BrowseURL       string `json:"browseUrl"`
	Source          string `json:"source"`
	Warning         string `json:"warning"`
	Error           string `json:"error"`
}

func sourcePayload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// newSourceServer serves a fixed payload under any path, announcing the
// given filename through a disposition header.
func newSourceServer(t *testing.T, payload []byte, filename string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filename != "" {
			w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))

		if r.Method == http.MethodHead {
			return
		}

		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	return srv
}

// newMirrorServer wires the full serving stack the way main does: the ws
// session channel, the range-serving endpoint and the snapshot API on one
// router, with the local publish backend pointing back at the server.
func newMirrorServer(t *testing.T) (*httptest.Server, *transfer.Registry) {
	t.Helper()

	dir := t.TempDir()
	reg := transfer.NewRegistry()

	r := chi.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	localBackend := local.NewBackend(srv.URL)

	eng, err := engine.New(engine.Config{
		DownloadDir:    dir,
		ProbeTimeout:   2 * time.Second,
		CopyBufferSize: 64 << 10,
	}, reg, localBackend, nil, nil)
	require.NoError(t, err)

	r.Mount("/ws", NewHandler(eng, nil).Routes())
	r.Mount("/", rest.NewDownloadsHandler(dir, reg, 0).Routes())

	return srv, reg
}

func dialSession(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return conn
}

// collectUntilTerminal reads events until want terminal events arrived.
func collectUntilTerminal(t *testing.T, conn *websocket.Conn, want int) []wireEvent {
	t.Helper()

	var events []wireEvent
	terminals := 0

	for terminals < want {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev), "session closed before a terminal event")

		events = append(events, ev)

		if ev.Type == transfer.TypeComplete || ev.Type == transfer.TypeError {
			terminals++
		}
	}

	return events
}

func eventsByType(events []wireEvent, typ string) []wireEvent {
	var out []wireEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestSession_EndToEndMirror(t *testing.T) {
	payload := sourcePayload(10000)
	source := newSourceServer(t, payload, "report.pdf")
	mirror, _ := newMirrorServer(t)

	conn := dialSession(t, mirror)

	require.NoError(t, conn.WriteJSON(transfer.StartRequest{
		Type: transfer.TypeStartDownload,
		URL:  source.URL + "/files/report",
	}))

	events := collectUntilTerminal(t, conn, 1)

	started := eventsByType(events, transfer.TypeStarted)
	require.Len(t, started, 1, "expected exactly one started event")
	require.Contains(t, started[0].Filename, "report.pdf")
	require.Equal(t, int64(len(payload)), started[0].FileSize)

	progress := eventsByType(events, transfer.TypeProgress)
	require.NotEmpty(t, progress)

	var lastBytes int64 = -1
	for _, p := range progress {
		require.GreaterOrEqual(t, p.DownloadedBytes, lastBytes, "progress went backwards")
		lastBytes = p.DownloadedBytes
	}
	require.Equal(t, 100, progress[len(progress)-1].Progress)

	completes := eventsByType(events, transfer.TypeComplete)
	require.Len(t, completes, 1, "expected exactly one complete event")
	require.Empty(t, eventsByType(events, transfer.TypeError))

	done := completes[0]
	require.Equal(t, started[0].DownloadID, done.DownloadID)
	require.Equal(t, "local", done.Source)
	require.Empty(t, done.Warning)

	// The published URL serves the mirrored bytes back out.
	resp, err := http.Get(done.DownloadURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	mirrored, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, mirrored)
}

func TestSession_TwoTransfersDemultiplex(t *testing.T) {
	payload := sourcePayload(3000)
	source := newSourceServer(t, payload, "")
	mirror, reg := newMirrorServer(t)

	conn := dialSession(t, mirror)

	require.NoError(t, conn.WriteJSON(transfer.StartRequest{
		Type: transfer.TypeStartDownload,
		URL:  source.URL + "/first.bin",
	}))
	require.NoError(t, conn.WriteJSON(transfer.StartRequest{
		Type: transfer.TypeStartDownload,
		URL:  source.URL + "/second.bin",
	}))

	events := collectUntilTerminal(t, conn, 2)

	completes := eventsByType(events, transfer.TypeComplete)
	require.Len(t, completes, 2)
	require.NotEqual(t, completes[0].DownloadID, completes[1].DownloadID)

	started := eventsByType(events, transfer.TypeStarted)
	require.Len(t, started, 2)

	startedIDs := map[string]bool{started[0].DownloadID: true, started[1].DownloadID: true}
	for _, c := range completes {
		require.True(t, startedIDs[c.DownloadID], "complete event for unknown transfer %s", c.DownloadID)
	}

	require.Equal(t, 2, reg.Len())
}

func TestSession_DownloadErrorEvent(t *testing.T) {
	mirror, reg := newMirrorServer(t)

	conn := dialSession(t, mirror)

	// Point the download at the mirror's own 404 space.
	require.NoError(t, conn.WriteJSON(transfer.StartRequest{
		Type: transfer.TypeStartDownload,
		URL:  mirror.URL + "/downloads/definitely-not-there.bin",
	}))

	events := collectUntilTerminal(t, conn, 1)

	failures := eventsByType(events, transfer.TypeError)
	require.Len(t, failures, 1)
	require.NotEmpty(t, failures[0].Error)
	require.Empty(t, eventsByType(events, transfer.TypeComplete))
	require.Equal(t, 0, reg.Len())
}

func TestSession_MalformedMessageClosesSession(t *testing.T) {
	mirror, _ := newMirrorServer(t)

	conn := dialSession(t, mirror)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server should close the session on malformed input")
}

func TestSession_UnknownTypeIgnored(t *testing.T) {
	payload := sourcePayload(500)
	source := newSourceServer(t, payload, "small.bin")
	mirror, _ := newMirrorServer(t)

	conn := dialSession(t, mirror)

	// An unknown message type must not kill the session.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.WriteJSON(transfer.StartRequest{
		Type: transfer.TypeStartDownload,
		URL:  source.URL + "/small.bin",
	}))

	events := collectUntilTerminal(t, conn, 1)
	require.Len(t, eventsByType(events, transfer.TypeComplete), 1)
}
