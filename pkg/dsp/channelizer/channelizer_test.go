package channelizer

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/rs/zerolog"
)

type collector struct {
	samples []complex64
}

func (c *collector) Receive(samples []complex64) {
	c.samples = append(c.samples, samples...)
}

func tone(freq, sampleRate float64, n int, amplitude float64) []complex64 {
	ret := make([]complex64, n)
	for i := range ret {
		ret[i] = complex64(cmplx.Rect(amplitude, 2*math.Pi*freq/sampleRate*float64(i)))
	}
	return ret
}

// meanMagnitude skips the filter's startup transient.
func meanMagnitude(samples []complex64) float64 {
	samples = samples[len(samples)/2:]
	var sum float64
	for _, s := range samples {
		sum += cmplx.Abs(complex128(s))
	}
	return sum / float64(len(samples))
}

func TestChannelizer(t *testing.T) {
	opts := Options{SampleRate: 1000000, Offset: 100000, Bandwidth: 50000, Decimation: 10}

	tests := []struct {
		name string
		freq float64
		min  float64
		max  float64
	}{
		{"in channel", 100e3, 0.45, 0.55},
		{"near channel", 110e3, 0.4, 0.55},
		{"out of channel", 300e3, 0, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &collector{}
			c, err := New(opts, WithSink(out), WithLogger(zerolog.Nop()))
			if err != nil {
				t.Fatal(err)
			}
			in := tone(tt.freq, 1e6, 20000, 0.5)
			// feed in blocks to exercise carried state
			for i := 0; i < len(in); i += 4096 {
				end := i + 4096
				if end > len(in) {
					end = len(in)
				}
				c.Receive(in[i:end])
			}

			if len(out.samples) < 1000 || len(out.samples) > 2100 {
				t.Fatalf("got %d output samples, want about 2000", len(out.samples))
			}
			if m := meanMagnitude(out.samples); m < tt.min || m > tt.max {
				t.Errorf("mean magnitude = %f, want [%f, %f]", m, tt.min, tt.max)
			}
		})
	}
}

func TestOutputRate(t *testing.T) {
	c, err := New(Options{SampleRate: 2000000, Bandwidth: 200000, Decimation: 8}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if c.OutputRate() != 250000 {
		t.Errorf("OutputRate() = %d, want 250000", c.OutputRate())
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no rate", Options{Bandwidth: 1000}},
		{"no bandwidth", Options{SampleRate: 1000000}},
		{"bandwidth too wide", Options{SampleRate: 1000000, Bandwidth: 200000, Decimation: 10}},
		{"offset outside band", Options{SampleRate: 1000000, Bandwidth: 10000, Offset: 600000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts, WithLogger(zerolog.Nop())); err == nil {
				t.Errorf("New(%+v) error = nil", tt.opts)
			}
		})
	}
}
