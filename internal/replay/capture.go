// Package replay records the raw traffic feed to disk and plays it back with
// the original timing.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Capture format: line-oriented text.
//
//   - Blank lines and lines starting with '#' are ignored.
//   - "START" resets the origin; later offsets are relative to it.
//   - Data lines are <t_ns>,<report> where t_ns is nanoseconds since START and
//     report is one feed line verbatim.

type Record struct {
	At time.Duration
	// Line is nil for START markers.
	Line []byte
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	n := 0
	for s.Scan() {
		n++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		tsStr, report, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("capture line %d: missing comma", n)
		}
		tsStr, report = strings.TrimSpace(tsStr), strings.TrimSpace(report)
		if tsStr == "" || report == "" {
			return nil, fmt.Errorf("capture line %d: empty field", n)
		}
		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("capture line %d: timestamp: %w", n, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("capture line %d: negative timestamp", n)
		}
		recs = append(recs, Record{At: time.Duration(tsNs), Line: []byte(report)})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends feed lines to a capture file. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteLine(now time.Time, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if bytes.ContainsAny(line, "\r\n") {
		return errors.New("capture line contains a newline")
	}

	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	d := max(now.Sub(ww.start), 0)
	_, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), line)
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Sleeper waits for d or until ctx is done; it reports whether the full wait
// elapsed.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) bool
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// loopGap separates passes of a looping replay.
const loopGap = time.Second

type PlayOptions struct {
	// Speed 1.0 is real time, 2.0 halves every wait.
	Speed   float64
	Loop    bool
	Sleeper Sleeper
}

// Play hands each recorded line to cb, waiting between lines as recorded.
// It returns nil when the capture ends (without Loop) or ctx is done.
func Play(ctx context.Context, records []Record, opts PlayOptions, cb func(line []byte) error) error {
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Speed < 0 {
		return fmt.Errorf("replay speed must be > 0")
	}
	if opts.Sleeper == nil {
		opts.Sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if ctx.Err() != nil {
				return nil
			}
			if r.Line == nil {
				haveLast = false
				continue
			}
			if haveLast {
				wait := time.Duration(float64(max(r.At-lastAt, 0)) / opts.Speed)
				if wait > 0 && !opts.Sleeper.Sleep(ctx, wait) {
					return nil
				}
			}
			if err := cb(r.Line); err != nil {
				return err
			}
			lastAt = r.At
			haveLast = true
		}

		if !opts.Loop {
			return nil
		}
		if !opts.Sleeper.Sleep(ctx, loopGap) {
			return nil
		}
	}
}
