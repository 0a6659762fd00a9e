package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"distributed-compressor/internal/logger"
)

// Tailer follows an append-only file from its current end, handing complete
// lines to a callback. It never returns on end of file; only context
// cancellation, a callback error or an I/O error stop it.
type Tailer struct {
	Path      string
	FromStart bool
	PollMin   time.Duration
	PollMax   time.Duration
	Log       *logger.Logger
}

// NewTailer builds a tailer with default poll bounds.
func NewTailer(path string, log *logger.Logger) *Tailer {
	return &Tailer{
		Path:    path,
		PollMin: 100 * time.Millisecond,
		PollMax: time.Second,
		Log:     log,
	}
}

// Lines invokes fn for every complete line appended to the file. A trailing
// fragment without a newline is held back until the writer finishes it.
func (t *Tailer) Lines(ctx context.Context, fn func(line string) error) error {
	f, err := os.Open(t.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.Path, err)
	}
	defer func() { _ = f.Close() }()

	var offset int64
	if !t.FromStart {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %s: %w", t.Path, err)
		}
	}

	reader := bufio.NewReader(f)
	var pending strings.Builder
	wait := t.pollMin()

	for {
		chunk, err := reader.ReadString('\n')
		offset += int64(len(chunk))
		if err == nil {
			pending.WriteString(chunk)
			line := strings.TrimRight(pending.String(), "\r\n")
			pending.Reset()
			wait = t.pollMin()
			if err := fn(line); err != nil {
				return err
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", t.Path, err)
		}
		pending.WriteString(chunk)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait *= 2; wait > t.pollMax() {
			wait = t.pollMax()
		}

		reopened, err := t.checkReplaced(f, offset)
		if err != nil {
			return err
		}
		if reopened != nil {
			_ = f.Close()
			f = reopened
			offset = 0
			reader.Reset(f)
			pending.Reset()
		}
	}
}

// Follow parses every line and invokes fn for the events that pass filter.
func (t *Tailer) Follow(ctx context.Context, filter Filter, fn func(Event) error) error {
	return t.Lines(ctx, func(line string) error {
		ev, ok := Parse(line)
		if !ok {
			return nil
		}
		if !filter.Allow(ev) {
			if t.Log != nil {
				t.Log.WithFields(logger.Fields{"path": ev.Path, "size": ev.Size}).Debug("below minimum size, ignoring")
			}
			return nil
		}
		return fn(ev)
	})
}

// checkReplaced returns a fresh handle positioned at the start when the file
// was truncated below the read offset or replaced by a different file.
func (t *Tailer) checkReplaced(current *os.File, offset int64) (*os.File, error) {
	cur, err := current.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", t.Path, err)
	}
	onDisk, err := os.Stat(t.Path)
	if err != nil {
		// Rotation in progress; keep reading the old handle.
		return nil, nil
	}
	if os.SameFile(cur, onDisk) && cur.Size() >= offset {
		return nil, nil
	}
	if t.Log != nil {
		t.Log.WithField("path", t.Path).Info("event source truncated or replaced, reading from start")
	}
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, fmt.Errorf("reopen %s: %w", t.Path, err)
	}
	return f, nil
}

func (t *Tailer) pollMin() time.Duration {
	if t.PollMin <= 0 {
		return 100 * time.Millisecond
	}
	return t.PollMin
}

func (t *Tailer) pollMax() time.Duration {
	if t.PollMax < t.pollMin() {
		return t.pollMin()
	}
	return t.PollMax
}
