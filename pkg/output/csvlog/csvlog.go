// Package csvlog is the durable row log: one CSV header, one row per cycle,
// each row synced to disk before Append returns.
package csvlog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ericogr/labtelemetry/pkg/sensor"
)

var ErrHeaderMismatch = errors.New("csvlog: existing header does not match channels")

const timeLayout = "15:04:05"

type Options struct {
	// Append keeps an existing file whose header matches instead of truncating it.
	Append bool
}

type Log struct {
	f        *os.File
	path     string
	channels []sensor.Channel
	header   []string
	rows     int
}

// Header derives the column names from the channel list.
func Header(channels []sensor.Channel) []string {
	h := []string{"Timestamp", "CJ Temp (°C)"}
	for _, ch := range channels {
		q, u := sensor.RawQuantity(ch.Sensor)
		h = append(h, fmt.Sprintf("%s %s (%s)", ch.Name(), q, u))
		h = append(h, fmt.Sprintf("%s %s (%s)", ch.Name(), ch.Quantity, ch.Unit))
	}
	return h
}

// Row formats one record. Invalid values are written as NaN.
func Row(rec sensor.CycleRecord) []string {
	row := []string{rec.Timestamp.Format(timeLayout), formatFloat(rec.Reference, 2)}
	for _, s := range rec.Samples {
		row = append(row, formatFloat(s.Raw, 3), formatFloat(s.Value, 2))
	}
	return row
}

func formatFloat(v float64, prec int) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func Open(path string, channels []sensor.Channel, opts Options) (*Log, error) {
	l := &Log{path: path, channels: channels, header: Header(channels)}
	if opts.Append {
		ok, err := l.openExisting()
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	l.f = f
	if err := l.writeRecord(l.header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return l, nil
}

// openExisting reopens a non-empty log for appending after checking its
// header. A trailing partial row is cut off.
func (l *Log) openExisting() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open log %s: %w", l.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return false, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() == 0 {
		_ = f.Close()
		return false, nil
	}

	existing, err := csv.NewReader(bufio.NewReader(f)).Read()
	if err != nil {
		_ = f.Close()
		return false, fmt.Errorf("read header of %s: %w", l.path, err)
	}
	if !equal(existing, l.header) {
		_ = f.Close()
		return false, fmt.Errorf("%w: %s has %q", ErrHeaderMismatch, l.path, strings.Join(existing, ","))
	}

	end, err := completeLength(f, info.Size())
	if err != nil {
		_ = f.Close()
		return false, err
	}
	if end != info.Size() {
		if err := f.Truncate(end); err != nil {
			_ = f.Close()
			return false, fmt.Errorf("truncate partial row: %w", err)
		}
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("seek log end: %w", err)
	}
	l.f = f
	return true, nil
}

// completeLength returns the offset just past the last newline.
func completeLength(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("scan log tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Append writes one row with a single write and syncs it to disk.
func (l *Log) Append(rec sensor.CycleRecord) error {
	if l.f == nil {
		return os.ErrClosed
	}
	if len(rec.Samples) != len(l.channels) {
		return fmt.Errorf("record %d has %d samples for %d channels", rec.Seq, len(rec.Samples), len(l.channels))
	}
	if err := l.writeRecord(Row(rec)); err != nil {
		return fmt.Errorf("append row %d: %w", rec.Seq, err)
	}
	l.rows++
	return nil
}

func (l *Log) writeRecord(fields []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if _, err := l.f.Write(buf.Bytes()); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *Log) Path() string { return l.path }

// Rows is the number of rows appended by this process.
func (l *Log) Rows() int { return l.rows }

func (l *Log) Close() error {
	if l.f == nil {
		return os.ErrClosed
	}
	f := l.f
	l.f = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return f.Close()
}
