// Package resolve derives the on-disk name for a mirrored file.
//
// Resolution runs in priority order: the filename parameter of a
// Content-Disposition header, then the last path segment of the source URL,
// then a synthesized placeholder. Stored names get a random hex prefix so
// repeated mirrors of the same resource never collide on disk.
package resolve

import (
	"crypto/rand"
	"encoding/hex"
	"mime"
	"net/url"
	"regexp"
	"strings"
)

const synthesizedPrefix = "download_"

var synthesizedPattern = regexp.MustCompile(`^download_[0-9a-f]{8}$`)

// FromHeader extracts the filename parameter from a Content-Disposition
// value. Parsing is tolerant: a value mime.ParseMediaType rejects is
// rescanned for a bare filename= token before giving up.
func FromHeader(disposition string) (string, bool) {
	if disposition == "" {
		return "", false
	}

	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := clean(params["filename"]); name != "" {
			return name, true
		}
	}

	for _, part := range strings.Split(disposition, ";") {
		part = strings.TrimSpace(part)
		if len(part) < len("filename=") || !strings.EqualFold(part[:len("filename=")], "filename=") {
			continue
		}
		value := strings.Trim(part[len("filename="):], `"' `)
		if name := clean(value); name != "" {
			return name, true
		}
	}

	return "", false
}

// FromURL derives a filename from the last path segment of rawURL.
// A trailing slash means the last segment is empty and resolution falls
// through to synthesis.
func FromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	segment := u.Path
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}

	if name := clean(segment); name != "" {
		return name, true
	}

	return "", false
}

// Filename runs the full resolution chain for a response header set and
// source URL.
func Filename(disposition, rawURL string) string {
	if name, ok := FromHeader(disposition); ok {
		return name
	}
	if name, ok := FromURL(rawURL); ok {
		return name
	}
	return Synthesize()
}

// Synthesize returns a placeholder of the form download_<8 hex chars>.
func Synthesize() string {
	return synthesizedPrefix + token()
}

// Synthesized reports whether name came from Synthesize. Placeholder names
// stay eligible for replacement once real response headers arrive.
func Synthesized(name string) bool {
	return synthesizedPattern.MatchString(name)
}

// Uniquify prefixes name with a fresh hex token. Two calls with the same
// name yield distinct stored names.
func Uniquify(name string) string {
	return token() + "_" + name
}

func token() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// clean reduces a candidate to a bare base name. Header values are remote
// input, so anything that could escape the downloads directory is cut down
// to its final path element.
func clean(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case 0x00, '\r', '\n':
			return -1
		}
		return r
	}, name)

	switch name {
	case "", ".", "..":
		return ""
	}
	return name
}
