package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// pollInterval is how often Follow checks the file for new lines.
const pollInterval = 250 * time.Millisecond

// Options selects which lines are returned.
type Options struct {
	// Limit caps the number of trailing lines; zero returns none and only
	// reports the end offset.
	Limit int
	// Match keeps lines containing the substring, such as a run id.
	Match string
}

// Result holds matching lines and the offset just past the last byte read.
type Result struct {
	Lines  []string
	Offset int64
}

// Tail returns the last matching lines of the file. A missing file yields an
// empty result.
func Tail(path string, opts Options) (Result, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return Result{}, err
	}
	defer file.Close()

	limit := max(opts.Limit, 0)
	ring := make([]string, limit)
	count, idx := 0, 0
	offset, err := scanLines(file, func(line string) {
		if limit == 0 || !matches(line, opts.Match) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		count = min(count+1, limit)
	})
	if err != nil {
		return Result{}, err
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = idx
	}
	for i := range count {
		lines[i] = ring[(start+i)%max(limit, 1)]
	}
	return Result{Lines: lines, Offset: offset}, nil
}

// Follow calls fn for every matching line appended after offset until ctx is
// done. A truncated file is read again from the start.
func Follow(ctx context.Context, path string, offset int64, match string, fn func(string)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		next, err := readFrom(path, offset, func(line string) {
			if matches(line, match) {
				fn(line)
			}
		})
		if err != nil {
			return err
		}
		offset = next
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, fn func(string)) (int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	read, err := scanLines(file, fn)
	return offset + read, err
}

func openLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

// scanLines reads complete lines and returns the bytes consumed. A trailing
// partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		fn(strings.TrimRight(line, "\r\n"))
	}
}

func matches(line, match string) bool {
	return match == "" || strings.Contains(line, match)
}
