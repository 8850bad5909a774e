package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/mirrord/internal/transfer"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotPayload     map[string]string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notif := &DiscordNotifier{WebhookURL: srv.URL}
	require.NoError(t, notif.Notify("hello from mirrord"))

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "hello from mirrord", gotPayload["content"])
}

func TestDiscordNotifier_NotifyFailures(t *testing.T) {
	t.Run("missing webhook url", func(t *testing.T) {
		notif := &DiscordNotifier{}
		require.Error(t, notif.Notify("anything"))
	})

	t.Run("non 2xx response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		notif := &DiscordNotifier{WebhookURL: srv.URL}

		err := notif.Notify("anything")
		require.Error(t, err)
		require.Contains(t, err.Error(), "429")
	})
}

func TestCompletedContent(t *testing.T) {
	msg := CompletedContent(transfer.Transfer{
		Filename:   "ab12cd34_report.pdf",
		Size:       2048,
		PublishURL: "http://localhost:3000/downloads/ab12cd34_report.pdf",
	})

	require.Contains(t, msg, "ab12cd34_report.pdf")
	require.Contains(t, msg, "2.0 kB")
	require.Contains(t, msg, "http://localhost:3000/downloads/ab12cd34_report.pdf")
	require.NotContains(t, msg, "⚠️")
}

func TestCompletedContent_Warning(t *testing.T) {
	msg := CompletedContent(transfer.Transfer{
		Filename:   "ab12cd34_report.pdf",
		Size:       2048,
		PublishURL: "http://localhost:3000/downloads/ab12cd34_report.pdf",
		Warning:    "putio upload failed, serving from local storage",
	})

	require.Contains(t, msg, "⚠️ putio upload failed, serving from local storage")
}

func TestFailedContent(t *testing.T) {
	msg := FailedContent(transfer.Transfer{
		SourceURL: "https://example.com/file.bin",
		Error:     "fetch failed during request for https://example.com/file.bin",
	})

	require.Contains(t, msg, "https://example.com/file.bin")
	require.Contains(t, msg, "fetch failed")
}
