package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/norasector/usdr/pkg/usdr"
	"github.com/norasector/usdr/pkg/usdr/driver/mock"
	"github.com/norasector/usdr/pkg/util"
)

type countingSink struct {
	mu      sync.Mutex
	blocks  int
	samples int
}

func (c *countingSink) Receive(samples []complex64) {
	c.mu.Lock()
	c.blocks++
	c.samples += len(samples)
	c.mu.Unlock()
}

type failingSource struct {
	after int
	calls int
	err   error
}

func (f *failingSource) ReceiveIQ(samples []usdr.IQ) (int, error) {
	f.calls++
	if f.calls > f.after {
		return 0, f.err
	}
	for i := range samples {
		samples[i] = usdr.IQ{I: int16(i), Q: -int16(i)}
	}
	return len(samples), nil
}

func TestCaptureFromSession(t *testing.T) {
	m := mock.New(mock.Options{})
	s, err := usdr.Open(m, "driver=mock", 3, 2000000, 1024, usdr.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	sink := &countingSink{}
	metrics := &util.RecordingWriteAPI{}

	c, err := NewCapturer(s, Options{BlockSamples: 1024, MaxSamples: 4096, CenterFreq: 104100000},
		WithOutput(&out), WithSink(sink), WithInfluxDB(metrics), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Samples != 4096 || stats.Blocks != 4 || stats.Bytes != 4096*usdr.IQSize {
		t.Errorf("Run() stats = %+v", stats)
	}
	if out.Len() != 4096*usdr.IQSize {
		t.Errorf("recorded %d bytes, want %d", out.Len(), 4096*usdr.IQSize)
	}
	if sink.blocks != 4 || sink.samples != 4096 {
		t.Errorf("sink got %d blocks / %d samples", sink.blocks, sink.samples)
	}

	points := metrics.Points()
	if len(points) != 4 {
		t.Fatalf("wrote %d points, want 4", len(points))
	}
	if points[0].Name() != "usdr.capture" {
		t.Errorf("point name = %q", points[0].Name())
	}
	if c.Stats() != stats {
		t.Errorf("Stats() = %+v, want %+v", c.Stats(), stats)
	}
}

func TestCapturePartialLastBlock(t *testing.T) {
	src := &failingSource{after: 100}
	var out bytes.Buffer
	c, err := NewCapturer(src, Options{BlockSamples: 300, MaxSamples: 1000}, WithOutput(&out), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Samples != 1000 || stats.Blocks != 4 {
		t.Errorf("stats = %+v, want 1000 samples in 4 blocks", stats)
	}

	got := usdr.BytesToSamples(out.Bytes())
	if got[1] != (usdr.IQ{I: 1, Q: -1}) {
		t.Errorf("recorded sample = %+v", got[1])
	}
}

func TestCaptureSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := &failingSource{after: 2, err: boom}
	c, err := NewCapturer(src, Options{BlockSamples: 16}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := c.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if stats.Blocks != 2 {
		t.Errorf("stats.Blocks = %d, want 2", stats.Blocks)
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCaptureWriteError(t *testing.T) {
	c, err := NewCapturer(&failingSource{after: 1000}, Options{BlockSamples: 16},
		WithOutput(errWriter{}), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want write error")
	}
}

func TestCaptureStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &countingSink{}
	c, err := NewCapturer(&failingSource{after: 1 << 30}, Options{BlockSamples: 8},
		WithSink(sink), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}

	time.AfterFunc(20*time.Millisecond, cancel)
	if _, err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancel", err)
	}
}

func TestCaptureDuration(t *testing.T) {
	c, err := NewCapturer(&failingSource{after: 1 << 30}, Options{BlockSamples: 8, Duration: 20 * time.Millisecond},
		WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Elapsed < 20*time.Millisecond {
		t.Errorf("Elapsed = %v, want at least 20ms", stats.Elapsed)
	}
	if stats.Rate() <= 0 {
		t.Errorf("Rate() = %f", stats.Rate())
	}
}

func TestNewCapturerRejectsNegativeBlock(t *testing.T) {
	if _, err := NewCapturer(&failingSource{}, Options{BlockSamples: -1}); err == nil {
		t.Fatal("NewCapturer() error = nil")
	}
}
