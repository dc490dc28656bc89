// Package capture pulls fixed-size sample blocks from a receive session and
// fans them out to a recording, spectrum sinks and metrics.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/usdr/pkg/usdr"
	"github.com/norasector/usdr/pkg/util"
)

const (
	DefaultBlockSamples = 4096
	blockQueueLength    = 4
)

// Source is the receive side of a session.
type Source interface {
	ReceiveIQ(samples []usdr.IQ) (int, error)
}

// SampleSink consumes every captured block as normalized complex samples.
type SampleSink interface {
	Receive(samples []complex64)
}

type Options struct {
	BlockSamples int
	// Duration and MaxSamples bound the run; zero means unbounded.
	Duration   time.Duration
	MaxSamples uint64
	CenterFreq uint32
}

type Stats struct {
	Samples uint64        `json:"samples"`
	Bytes   uint64        `json:"bytes"`
	Blocks  uint64        `json:"blocks"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Rate is the effective sample rate over the run.
func (s Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Samples) / s.Elapsed.Seconds()
}

type Capturer struct {
	source   Source
	opts     Options
	output   io.Writer
	sinks    []SampleSink
	writeAPI api.WriteAPI
	logger   zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

type CapturerOption func(c *Capturer) error

// WithOutput records raw little endian ci16 samples to w.
func WithOutput(w io.Writer) CapturerOption {
	return func(c *Capturer) error {
		c.output = w
		return nil
	}
}

func WithSink(sink SampleSink) CapturerOption {
	return func(c *Capturer) error {
		c.sinks = append(c.sinks, sink)
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) CapturerOption {
	return func(c *Capturer) error {
		c.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) CapturerOption {
	return func(c *Capturer) error {
		c.logger = logger
		return nil
	}
}

func NewCapturer(source Source, options Options, opts ...CapturerOption) (*Capturer, error) {
	c := &Capturer{
		source:   source,
		opts:     options,
		writeAPI: util.NopWriteAPI{},
		logger:   log.Logger,
	}
	if c.opts.BlockSamples == 0 {
		c.opts.BlockSamples = DefaultBlockSamples
	}
	if c.opts.BlockSamples < 0 {
		return nil, fmt.Errorf("block samples must be positive, got %d", c.opts.BlockSamples)
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Stats returns a snapshot of the running totals.
func (c *Capturer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type block struct {
	samples []usdr.IQ
	latency time.Duration
}

// Run captures until ctx is done or a configured bound is reached. A receive
// in flight is not interrupted, so cancellation takes effect after the
// current block. Cancellation of ctx is not an error.
func (c *Capturer) Run(ctx context.Context) (Stats, error) {
	eg, gctx := errgroup.WithContext(ctx)
	blocks := make(chan block, blockQueueLength)
	start := time.Now()

	eg.Go(func() error {
		defer close(blocks)
		var received uint64
		for {
			if gctx.Err() != nil {
				return nil
			}
			if c.opts.Duration > 0 && time.Since(start) >= c.opts.Duration {
				return nil
			}

			n := uint64(c.opts.BlockSamples)
			if c.opts.MaxSamples > 0 {
				if received >= c.opts.MaxSamples {
					return nil
				}
				if remaining := c.opts.MaxSamples - received; remaining < n {
					n = remaining
				}
			}

			buf := make([]usdr.IQ, n)
			latency, err := util.TimeOperation(func() error {
				_, err := c.source.ReceiveIQ(buf)
				return err
			})
			if err != nil {
				return fmt.Errorf("receiving after %d samples: %w", received, err)
			}
			received += n

			select {
			case <-gctx.Done():
				return nil
			case blocks <- block{samples: buf, latency: latency}:
			}
		}
	})

	eg.Go(func() error {
		for blk := range blocks {
			if err := c.handle(blk, start); err != nil {
				return err
			}
		}
		return nil
	})

	err := eg.Wait()

	c.mu.Lock()
	c.stats.Elapsed = time.Since(start)
	stats := c.stats
	c.mu.Unlock()

	c.writeAPI.Flush()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return stats, err
}

func (c *Capturer) handle(blk block, start time.Time) error {
	raw := usdr.SamplesToBytes(blk.samples)
	if c.output != nil {
		if _, err := c.output.Write(raw); err != nil {
			return fmt.Errorf("writing recording: %w", err)
		}
	}

	if len(c.sinks) > 0 {
		cplx := usdr.ToComplex64(blk.samples)
		for _, sink := range c.sinks {
			sink.Receive(cplx)
		}
	}

	c.mu.Lock()
	c.stats.Samples += uint64(len(blk.samples))
	c.stats.Bytes += uint64(len(raw))
	c.stats.Blocks++
	c.stats.Elapsed = time.Since(start)
	blockNum := c.stats.Blocks
	c.mu.Unlock()

	c.writeAPI.WritePoint(influxdb2.NewPoint("usdr.capture",
		map[string]string{
			"center_freq": util.HzToString(c.opts.CenterFreq),
		},
		map[string]interface{}{
			"samples":       len(blk.samples),
			"bytes_written": len(raw),
			"recv_us":       blk.latency.Microseconds(),
		}, time.Now()))

	c.logger.Trace().Uint64("block", blockNum).Int("samples", len(blk.samples)).Dur("recv", blk.latency).Msg("captured block")
	return nil
}
