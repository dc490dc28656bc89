// Package channelizer shifts a channel of interest to baseband and decimates
// it before handing it to downstream sinks.
package channelizer

import (
	"fmt"
	"math"
	"sync"

	"github.com/racerxdl/segdsp/dsp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/usdr/pkg/dsp/fir"
)

const tau = math.Pi * 2

type Sink interface {
	Receive(samples []complex64)
}

type Options struct {
	SampleRate uint32
	// Offset of the channel from the tuned center, in Hz.
	Offset     int
	Bandwidth  uint32
	Decimation int
	Window     fir.WindowType
}

type Option func(c *Channelizer)

func WithSink(sink Sink) Option {
	return func(c *Channelizer) {
		c.sinks = append(c.sinks, sink)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channelizer) {
		c.logger = logger
	}
}

// Channelizer mixes by -Offset, low pass filters to Bandwidth/2 and keeps
// every Decimation-th sample. It is safe for concurrent use.
type Channelizer struct {
	mu             sync.Mutex
	opts           Options
	phase          float64
	phaseIncrement float64
	filter         *dsp.FirFilter
	sinks          []Sink
	logger         zerolog.Logger
}

func New(opts Options, options ...Option) (*Channelizer, error) {
	if opts.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate must be set")
	}
	if opts.Decimation < 1 {
		opts.Decimation = 1
	}
	outRate := float64(opts.SampleRate) / float64(opts.Decimation)
	if opts.Bandwidth == 0 || float64(opts.Bandwidth) > outRate {
		return nil, fmt.Errorf("bandwidth %d Hz does not fit output rate %.0f Hz", opts.Bandwidth, outRate)
	}
	if math.Abs(float64(opts.Offset)) >= float64(opts.SampleRate)/2 {
		return nil, fmt.Errorf("offset %d Hz outside the captured band", opts.Offset)
	}

	cutoff := float64(opts.Bandwidth) / 2
	// transition ends at the output nyquist
	transition := math.Max(outRate/2-cutoff, cutoff/4)
	taps, err := fir.LowPass(1.0, float64(opts.SampleRate), cutoff, transition, opts.Window)
	if err != nil {
		return nil, err
	}

	c := &Channelizer{
		opts:           opts,
		phaseIncrement: -float64(opts.Offset) * tau / float64(opts.SampleRate),
		filter:         dsp.MakeDecimationFirFilter(opts.Decimation, taps),
		logger:         log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}

	c.logger.Debug().
		Int("offset", opts.Offset).
		Uint32("bandwidth", opts.Bandwidth).
		Int("decimation", opts.Decimation).
		Int("taps", len(taps)).
		Str("window", opts.Window.String()).
		Msg("initializing channelizer")

	return c, nil
}

func (c *Channelizer) OutputRate() uint32 {
	return c.opts.SampleRate / uint32(c.opts.Decimation)
}

func (c *Channelizer) incrementPhase() {
	c.phase += c.phaseIncrement
	if c.phase > tau {
		c.phase -= tau
	} else if c.phase < -tau {
		c.phase += tau
	}
}

// Work returns the channelized samples for one input block. Filter state
// carries over between calls.
func (c *Channelizer) Work(input []complex64) []complex64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	mixed := make([]complex64, len(input))
	for i, v := range input {
		sin, cos := math.Sincos(c.phase)
		mixed[i] = complex(float32(cos), float32(sin)) * v
		c.incrementPhase()
	}

	return c.filter.Work(mixed)
}

// Receive channelizes a block and passes the result to every sink.
func (c *Channelizer) Receive(samples []complex64) {
	out := c.Work(samples)
	if len(out) == 0 {
		return
	}
	for _, sink := range c.sinks {
		sink.Receive(out)
	}
}
