// Package fir designs windowed-sinc filter taps.
package fir

import (
	"fmt"
	"math"
)

func computeNTaps(sampleRate, transitionWidth float64, winType WindowType) int {
	ntaps := int(windowMaxAttenuation[winType] * sampleRate / (22.0 * transitionWidth))
	ntaps |= 1 // make odd

	return ntaps
}

// LowPass returns taps with the given passband gain at DC.
func LowPass(gain, sampleRate, cutFrequency, transitionWidth float64, winType WindowType) ([]float32, error) {
	if sampleRate <= 0 || transitionWidth <= 0 {
		return nil, fmt.Errorf("sample rate and transition width must be positive")
	}
	if cutFrequency <= 0 || cutFrequency >= sampleRate/2 {
		return nil, fmt.Errorf("cutoff %.0f Hz outside (0, %.0f)", cutFrequency, sampleRate/2)
	}

	nTaps := computeNTaps(sampleRate, transitionWidth, winType)
	w, err := winType.taps(nTaps)
	if err != nil {
		return nil, err
	}

	taps := make([]float64, nTaps)
	M := (nTaps - 1) / 2
	fwT0 := 2 * math.Pi * cutFrequency / sampleRate

	for i := -M; i <= M; i++ {
		if i == 0 {
			taps[i+M] = fwT0 / math.Pi * w[i+M]
		} else {
			fi := float64(i)
			taps[i+M] = math.Sin(fi*fwT0) / (fi * math.Pi) * w[i+M]
		}
	}

	var sum float64
	for _, t := range taps {
		sum += t
	}

	ret := make([]float32, nTaps)
	for i, t := range taps {
		ret[i] = float32(t * gain / sum)
	}
	return ret, nil
}
