package progress

import "io"

// Reader wraps an io.Reader and feeds every read through a Tracker,
// invoking the callback for samples the tracker decides to emit.
type Reader struct {
	reader   io.Reader
	tracker  *Tracker
	onSample func(Sample)
}

func NewReader(r io.Reader, t *Tracker, onSample func(Sample)) *Reader {
	return &Reader{reader: r, tracker: t, onSample: onSample}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		if s, emit := pr.tracker.Update(int64(n)); emit && pr.onSample != nil {
			pr.onSample(s)
		}
	}
	return n, err
}
