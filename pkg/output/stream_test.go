package output

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/labtelemetry/pkg/sensor"
)

type recordingSink struct {
	mu       sync.Mutex
	batches  [][]Point
	gate     chan struct{}
	closed   int
	closeErr error
}

func (r *recordingSink) Publish(pts []Point) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, pts)
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return r.closeErr
}

func (r *recordingSink) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint64
	for _, b := range r.batches {
		out = append(out, b[0].Seq)
	}
	return out
}

func record(seq uint64) sensor.CycleRecord {
	return sensor.CycleRecord{
		Seq:     seq,
		Elapsed: time.Duration(seq) * time.Second,
		Samples: []sensor.Sample{
			{ChannelID: "p", Raw: 1, Value: 2, Valid: true},
			sensor.InvalidSample("tc"),
		},
	}
}

func TestPointsKeepsChannelOrder(t *testing.T) {
	pts := Points(record(3))
	require.Len(t, pts, 2)
	assert.Equal(t, "p", pts[0].ChannelID)
	assert.Equal(t, 2.0, pts[0].Value)
	assert.Equal(t, 3*time.Second, pts[1].Elapsed)
	assert.True(t, math.IsNaN(pts[1].Value))
	assert.False(t, pts[1].Valid)
}

func TestStreamDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	s := NewStream([]ChartSink{sink}, 8, time.Second, nil)
	for i := uint64(1); i <= 5; i++ {
		require.True(t, s.Push(record(i)))
	}
	require.NoError(t, s.Close())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, sink.seqs())
	assert.Equal(t, 1, sink.closed)

	// closing twice does not close sinks again
	require.NoError(t, s.Close())
	assert.Equal(t, 1, sink.closed)
	assert.False(t, s.Push(record(6)))
}

func TestStreamDropsWhenRendererIsSlow(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	var hooked int
	s := NewStream([]ChartSink{sink}, 1, 10*time.Millisecond, nil, WithDropHook(func(n int) { hooked += n }))

	// the renderer holds the first batch, the second fills the queue
	require.True(t, s.Push(record(1)))
	require.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, s.Push(record(2)))

	start := time.Now()
	assert.False(t, s.Push(record(3)))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(2), s.Dropped())
	assert.Equal(t, 2, hooked)

	close(sink.gate)
	require.NoError(t, s.Close())
	assert.Equal(t, []uint64{1, 2}, sink.seqs())
}

func TestStreamCloseAggregatesSinkErrors(t *testing.T) {
	a := &recordingSink{closeErr: errors.New("a")}
	b := &recordingSink{closeErr: errors.New("b")}
	s := NewStream([]ChartSink{a, b}, 0, 0, nil)
	err := s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
	assert.Equal(t, 1, b.closed)
}

// slowSink blocks every Publish until release is closed and remembers any
// overlap between Publish and Close.
type slowSink struct {
	mu                sync.Mutex
	release           chan struct{}
	inFlight          bool
	closed            bool
	published         []uint64
	closedInFlight    bool
	publishAfterClose bool
}

func (s *slowSink) Publish(pts []Point) error {
	s.mu.Lock()
	if s.closed {
		s.publishAfterClose = true
	}
	s.inFlight = true
	s.mu.Unlock()

	<-s.release

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.published = append(s.published, pts[0].Seq)
	return nil
}

func (s *slowSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		s.closedInFlight = true
	}
	s.closed = true
	return nil
}

func (s *slowSink) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *slowSink) state() (closed, closedInFlight, publishAfterClose bool, published []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closedInFlight, s.publishAfterClose, append([]uint64(nil), s.published...)
}

func TestStreamCloseWaitsForInFlightPublish(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	s := NewStream([]ChartSink{sink}, 8, time.Second, nil)
	s.drain = 200 * time.Millisecond

	require.True(t, s.Push(record(1)))
	require.True(t, s.Push(record(2)))
	require.Eventually(t, sink.busy, time.Second, time.Millisecond)
	// the first publish finishes after the drain window but before the grace window
	time.AfterFunc(300*time.Millisecond, func() { close(sink.release) })

	require.NoError(t, s.Close())
	closed, closedInFlight, publishAfterClose, published := sink.state()
	assert.True(t, closed)
	assert.False(t, closedInFlight)
	assert.False(t, publishAfterClose)
	assert.Equal(t, []uint64{1}, published, "queued points are discarded once the drain times out")
}

func TestStreamCloseLeavesHungSinkToRenderer(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	s := NewStream([]ChartSink{sink}, 8, time.Second, nil)
	s.drain = 20 * time.Millisecond

	require.True(t, s.Push(record(1)))
	require.True(t, s.Push(record(2)))
	require.Eventually(t, sink.busy, time.Second, time.Millisecond)
	require.ErrorIs(t, s.Close(), ErrSinkBusy)
	closed, _, _, _ := sink.state()
	assert.False(t, closed, "a sink inside Publish must not be closed")

	close(sink.release)
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("render goroutine did not exit")
	}
	require.Eventually(t, func() bool {
		closed, _, _, _ := sink.state()
		return closed
	}, time.Second, time.Millisecond)
	_, closedInFlight, publishAfterClose, published := sink.state()
	assert.False(t, closedInFlight)
	assert.False(t, publishAfterClose)
	assert.Equal(t, []uint64{1}, published)
}
