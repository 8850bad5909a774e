package resolve

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHeader(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
		ok          bool
	}{
		{
			name:        "quoted filename",
			disposition: `attachment; filename="report.pdf"`,
			want:        "report.pdf",
			ok:          true,
		},
		{
			name:        "unquoted filename",
			disposition: `attachment; filename=data.bin`,
			want:        "data.bin",
			ok:          true,
		},
		{
			name:        "rfc 5987 encoded filename",
			disposition: `attachment; filename*=UTF-8''na%C3%AFve%20file.txt`,
			want:        "naïve file.txt",
			ok:          true,
		},
		{
			name:        "uppercase parameter",
			disposition: `Attachment; FILENAME="Quarterly Report.xlsx"`,
			want:        "Quarterly Report.xlsx",
			ok:          true,
		},
		{
			name:        "unquoted value with spaces is rescued",
			disposition: `attachment; filename=my file.txt`,
			want:        "my file.txt",
			ok:          true,
		},
		{
			name:        "path traversal is cut to the base name",
			disposition: `attachment; filename="../../../etc/passwd"`,
			want:        "passwd",
			ok:          true,
		},
		{
			name:        "windows path is cut to the base name",
			disposition: `attachment; filename=C:\Users\alice\report.xlsx`,
			want:        "report.xlsx",
			ok:          true,
		},
		{
			name:        "empty header",
			disposition: "",
			ok:          false,
		},
		{
			name:        "no filename parameter",
			disposition: "inline",
			ok:          false,
		},
		{
			name:        "empty filename parameter",
			disposition: `attachment; filename=""`,
			ok:          false,
		},
		{
			name:        "garbage never panics",
			disposition: `;;;===""\\`,
			ok:          false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromHeader(tt.disposition)

			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFromURL(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
		ok     bool
	}{
		{
			name:   "last path segment",
			rawURL: "https://example.com/files/data.bin",
			want:   "data.bin",
			ok:     true,
		},
		{
			name:   "percent decoded segment",
			rawURL: "https://example.com/files/my%20report.pdf",
			want:   "my report.pdf",
			ok:     true,
		},
		{
			name:   "query string excluded",
			rawURL: "https://example.com/fetch/archive.tar.gz?token=abc123",
			want:   "archive.tar.gz",
			ok:     true,
		},
		{
			name:   "root path",
			rawURL: "https://example.com/",
			ok:     false,
		},
		{
			name:   "no path",
			rawURL: "https://example.com",
			ok:     false,
		},
		{
			name:   "trailing slash",
			rawURL: "https://example.com/files/",
			ok:     false,
		},
		{
			name:   "dot segment",
			rawURL: "https://example.com/.",
			ok:     false,
		},
		{
			name:   "unparseable url",
			rawURL: "://missing-scheme",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromURL(tt.rawURL)

			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFilename_ChainPriority(t *testing.T) {
	got := Filename(`attachment; filename="report.pdf"`, "https://example.com/files/data.bin")
	assert.Equal(t, "report.pdf", got, "header wins over the URL segment")

	got = Filename("", "https://example.com/files/data.bin")
	assert.Equal(t, "data.bin", got, "URL segment wins when no header")

	got = Filename("", "https://example.com/")
	assert.Regexp(t, regexp.MustCompile(`^download_[0-9a-f]{8}$`), got, "synthesis when nothing resolves")
}

func TestSynthesize(t *testing.T) {
	first := Synthesize()
	second := Synthesize()

	assert.Regexp(t, `^download_[0-9a-f]{8}$`, first)
	assert.NotEqual(t, first, second)
	assert.True(t, Synthesized(first))
}

func TestSynthesized(t *testing.T) {
	assert.True(t, Synthesized("download_0badc0de"))
	assert.False(t, Synthesized("report.pdf"))
	assert.False(t, Synthesized("download_xyz"))
	assert.False(t, Synthesized("download_0badc0ded"), "token longer than 8 chars")
	assert.False(t, Synthesized("download_"))
}

func TestUniquify(t *testing.T) {
	first := Uniquify("data.bin")
	second := Uniquify("data.bin")

	assert.Regexp(t, `^[0-9a-f]{8}_data\.bin$`, first)
	assert.Regexp(t, `^[0-9a-f]{8}_data\.bin$`, second)
	assert.NotEqual(t, first, second, "repeated names must stay distinct on disk")
}
