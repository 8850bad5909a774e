// Package progress converts raw byte counts into throttled, human-readable
// progress samples for a single transfer.
package progress

import (
	"time"

	"github.com/dustin/go-humanize"
)

// UnknownPercent is reported while the total size is unknown. Consumers
// must treat it as "indeterminate", never as a real percentage.
const UnknownPercent = -1

// Sample is one emitted progress measurement.
type Sample struct {
	Downloaded int64
	Total      int64
	Percent    int
	Speed      string
}

// Tracker accumulates bytes for one transfer and decides when a sample is
// worth emitting: whenever the integer percent changes, or on every update
// while the total is unknown. Throughput is bytes so far over wall time
// since the tracker was created.
type Tracker struct {
	total      int64
	downloaded int64
	lastPct    int
	started    time.Time
}

// NewTracker starts tracking against the expected total, which may be
// negative or zero when the remote did not disclose a size.
func NewTracker(total int64) *Tracker {
	return &Tracker{total: total, lastPct: -1, started: time.Now()}
}

// Update adds n freshly moved bytes and reports whether the resulting
// sample should be emitted.
func (t *Tracker) Update(n int64) (Sample, bool) {
	t.downloaded += n
	pct := Percent(t.downloaded, t.total)

	emit := pct == UnknownPercent || pct != t.lastPct
	if pct != UnknownPercent {
		t.lastPct = pct
	}

	return Sample{
		Downloaded: t.downloaded,
		Total:      t.total,
		Percent:    pct,
		Speed:      t.speed(),
	}, emit
}

// Final returns the closing 100% sample against the authoritative size
// determined after the stream ended. It is never throttled.
func (t *Tracker) Final(finalSize int64) Sample {
	t.downloaded = finalSize
	t.lastPct = 100

	return Sample{
		Downloaded: finalSize,
		Total:      finalSize,
		Percent:    100,
		Speed:      t.speed(),
	}
}

// Downloaded reports the bytes accumulated so far.
func (t *Tracker) Downloaded() int64 { return t.downloaded }

func (t *Tracker) speed() string {
	elapsed := time.Since(t.started).Seconds()
	if elapsed <= 0 {
		elapsed = time.Millisecond.Seconds()
	}
	rate := float64(t.downloaded) / elapsed

	return humanize.Bytes(uint64(rate)) + "/s"
}

// Percent computes the integer percentage, clamped to 100, or
// UnknownPercent when the total is not known to be positive.
func Percent(downloaded, total int64) int {
	if total <= 0 {
		return UnknownPercent
	}
	pct := int(downloaded * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
