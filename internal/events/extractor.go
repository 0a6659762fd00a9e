// Package events turns lines of a live-appended log into file-closure events.
package events

import (
	"regexp"
	"strconv"
)

var (
	closingPattern = regexp.MustCompile(`closing file="([^"]+)"`)
	writtenPattern = regexp.MustCompile(`written=(\d+)`)
)

// SizeUnknown marks an event whose line carried no written= field.
const SizeUnknown int64 = -1

// Event is a finished-writing notification for one file.
type Event struct {
	Path string
	Size int64
}

// SizeKnown reports whether the closure line carried a written= field.
func (e Event) SizeKnown() bool { return e.Size != SizeUnknown }

// Parse extracts a closure event from a single line. A line without the
// closing pattern, or one cut off before the closing quote, yields nothing.
func Parse(line string) (Event, bool) {
	m := closingPattern.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	ev := Event{Path: m[1], Size: SizeUnknown}
	if w := writtenPattern.FindStringSubmatch(line); w != nil {
		if n, err := strconv.ParseInt(w[1], 10, 64); err == nil {
			ev.Size = n
		}
	}
	return ev, true
}

// Filter drops events below a minimum size. MinSize <= 0 disables the check.
type Filter struct {
	MinSize int64
}

// Allow reports whether the event qualifies. Events with unknown size always qualify.
func (f Filter) Allow(ev Event) bool {
	if f.MinSize <= 0 || !ev.SizeKnown() {
		return true
	}
	return ev.Size >= f.MinSize
}
