// Package spectrum turns blocks of complex baseband samples into averaged
// power spectra.
package spectrum

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultAverage = 0.10
	floorDB        = -200.0
)

type Bin struct {
	Freq    float64 // absolute frequency in Hz
	PowerDB float64 // dB relative to full scale
}

type Spectrum struct {
	CenterFreq uint32
	SampleRate uint32
	Bins       []Bin
	Timestamp  time.Time
}

// Peak returns the strongest bin. It returns the zero Bin for an empty spectrum.
func (s Spectrum) Peak() Bin {
	var peak Bin
	for i, b := range s.Bins {
		if i == 0 || b.PowerDB > peak.PowerDB {
			peak = b
		}
	}
	return peak
}

type Option func(a *Analyzer)

// WithAverage sets the weight of each new frame in the running power average.
// 1 disables averaging.
func WithAverage(alpha float64) Option {
	return func(a *Analyzer) {
		if alpha > 0 && alpha <= 1 {
			a.alpha = alpha
		}
	}
}

func WithCenterFreq(hz uint32) Option {
	return func(a *Analyzer) {
		a.centerFreq = hz
	}
}

// Analyzer removes DC, applies a Hann window and keeps an exponential average
// of bin magnitudes across calls. It is safe for concurrent use.
type Analyzer struct {
	mu         sync.Mutex
	size       int
	fft        *fourier.CmplxFFT
	window     []float64
	gain       float64
	avg        []float64
	primed     bool
	alpha      float64
	centerFreq uint32
	sampleRate uint32
	latest     *Spectrum
}

func NewAnalyzer(size int, sampleRate uint32, opts ...Option) *Analyzer {
	a := &Analyzer{
		size:       size,
		fft:        fourier.NewCmplxFFT(size),
		window:     window.Hann(size),
		avg:        make([]float64, size),
		alpha:      DefaultAverage,
		sampleRate: sampleRate,
	}
	for _, w := range a.window {
		a.gain += w
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) Size() int {
	return a.size
}

// SetCenterFreq retunes the analyzer and restarts averaging.
func (a *Analyzer) SetCenterFreq(hz uint32) {
	a.mu.Lock()
	a.centerFreq = hz
	a.primed = false
	a.mu.Unlock()
}

// Compute uses the last Size samples of the block, zero padding shorter ones.
func (a *Analyzer) Compute(samples []complex64) Spectrum {
	if len(samples) > a.size {
		samples = samples[len(samples)-a.size:]
	}

	data := make([]complex128, a.size)
	var mean complex128
	for _, s := range samples {
		mean += complex128(s)
	}
	if len(samples) > 0 {
		mean /= complex(float64(len(samples)), 0)
	}
	for i, s := range samples {
		v := complex128(s) - mean
		data[i] = complex(real(v)*a.window[i], imag(v)*a.window[i])
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	coeffs := a.fft.Coefficients(nil, data)

	ret := Spectrum{
		CenterFreq: a.centerFreq,
		SampleRate: a.sampleRate,
		Bins:       make([]Bin, a.size),
		Timestamp:  time.Now(),
	}

	for i := 0; i < a.size; i++ {
		idx := a.fft.ShiftIdx(i)
		mag := cmplx.Abs(coeffs[idx]) / a.gain
		if a.primed {
			a.avg[i] = (1-a.alpha)*a.avg[i] + a.alpha*mag
		} else {
			a.avg[i] = mag
		}

		power := floorDB
		if a.avg[i] > 0 {
			power = math.Max(20*math.Log10(a.avg[i]), floorDB)
		}
		ret.Bins[i] = Bin{
			Freq:    float64(a.centerFreq) + a.fft.Freq(idx)*float64(a.sampleRate),
			PowerDB: power,
		}
	}
	a.primed = true
	a.latest = &ret

	return ret
}

// Receive computes a spectrum from a captured block; it lets the analyzer sit
// behind a capture.
func (a *Analyzer) Receive(samples []complex64) {
	a.Compute(samples)
}

// Latest returns the most recent spectrum, if any was computed.
func (a *Analyzer) Latest() (Spectrum, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return Spectrum{}, false
	}
	return *a.latest, true
}
