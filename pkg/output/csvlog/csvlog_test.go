package csvlog

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/labtelemetry/pkg/sensor"
)

func testChannels() []sensor.Channel {
	return []sensor.Channel{
		{ID: "tc0", Label: "AIN0-AIN1", Sensor: sensor.ThermocoupleDifferential{Type: "T"}, Quantity: "Temp", Unit: "°C"},
		{ID: "p", Label: "Pressure", Sensor: sensor.LinearVoltage{Scale: 7.5, Offset: 0.5}, Quantity: "Pressure", Unit: "PSI"},
	}
}

func testRecord(seq uint64, ts time.Time) sensor.CycleRecord {
	return sensor.CycleRecord{
		Seq:       seq,
		Timestamp: ts,
		Reference: 24.987,
		Samples: []sensor.Sample{
			{ChannelID: "tc0", Raw: 0.5123, Value: 37.456, Valid: true},
			sensor.InvalidSample("p"),
		},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestHeader(t *testing.T) {
	want := []string{
		"Timestamp", "CJ Temp (°C)",
		"AIN0-AIN1 Voltage (mV)", "AIN0-AIN1 Temp (°C)",
		"Pressure Voltage (V)", "Pressure Pressure (PSI)",
	}
	assert.Equal(t, want, Header(testChannels()))
}

func TestRowFormatting(t *testing.T) {
	ts := time.Date(2025, 3, 4, 9, 5, 7, 0, time.Local)
	row := Row(testRecord(1, ts))
	assert.Equal(t, []string{"09:05:07", "24.99", "0.512", "37.46", "NaN", "NaN"}, row)
}

func TestAppendWritesSyncedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	l, err := Open(path, testChannels(), Options{})
	require.NoError(t, err)

	ts := time.Date(2025, 3, 4, 9, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(testRecord(uint64(i+1), ts.Add(time.Duration(i)*time.Second))))
		// every row is on disk before the next tick
		assert.Len(t, readLines(t, path), i+2)
	}
	assert.Equal(t, 3, l.Rows())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Close(), os.ErrClosed)
	assert.ErrorIs(t, l.Append(testRecord(4, ts)), os.ErrClosed)

	lines := readLines(t, path)
	assert.Equal(t, strings.Join(Header(testChannels()), ","), lines[0])
	assert.Equal(t, "09:00:02,24.99,0.512,37.46,NaN,NaN", lines[3])
}

func TestAppendRejectsWrongSampleCount(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "run.csv"), testChannels(), Options{})
	require.NoError(t, err)
	defer l.Close()
	rec := testRecord(1, time.Now())
	rec.Samples = rec.Samples[:1]
	assert.Error(t, l.Append(rec))
}

func TestOpenTruncatesWithoutAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, os.WriteFile(path, []byte("old,content\n1,2\n"), 0o644))
	l, err := Open(path, testChannels(), Options{})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Len(t, readLines(t, path), 1)
}

func TestAppendModeKeepsMatchingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	ts := time.Date(2025, 3, 4, 9, 0, 0, 0, time.Local)

	l, err := Open(path, testChannels(), Options{Append: true})
	require.NoError(t, err)
	require.NoError(t, l.Append(testRecord(1, ts)))
	require.NoError(t, l.Close())

	// simulate a crash part way through a row
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("09:00:01,24.")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err = Open(path, testChannels(), Options{Append: true})
	require.NoError(t, err)
	require.NoError(t, l.Append(testRecord(2, ts.Add(time.Second))))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "09:00:00,"))
	assert.True(t, strings.HasPrefix(lines[2], "09:00:01,24.99,"))
}

func TestAppendModeHeaderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	l, err := Open(path, testChannels(), Options{})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = Open(path, testChannels()[:1], Options{Append: true})
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("got %v, want ErrHeaderMismatch", err)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		v    float64
		prec int
		want string
	}{
		{1.23456, 3, "1.235"},
		{-0.004, 2, "-0.00"},
		{math.NaN(), 2, "NaN"},
		{30, 2, "30.00"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.v, tt.prec); got != tt.want {
			t.Fatalf("formatFloat(%v, %d) = %q; want %q", tt.v, tt.prec, got, tt.want)
		}
	}
}
