package fir

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
)

type WindowType int

const (
	Hamming WindowType = iota
	Hann
	Blackman
)

// stopband attenuation in dB each window reaches; it sets the tap count.
var windowMaxAttenuation = map[WindowType]float64{
	Hamming:  53,
	Hann:     44,
	Blackman: 74,
}

func (w WindowType) String() string {
	switch w {
	case Hamming:
		return "hamming"
	case Hann:
		return "hann"
	case Blackman:
		return "blackman"
	}
	return fmt.Sprintf("window(%d)", int(w))
}

func ParseWindowType(name string) (WindowType, error) {
	switch name {
	case "", "hamming":
		return Hamming, nil
	case "hann":
		return Hann, nil
	case "blackman":
		return Blackman, nil
	}
	return 0, fmt.Errorf("unknown window type %q", name)
}

func (w WindowType) taps(n int) ([]float64, error) {
	switch w {
	case Hamming:
		return window.Hamming(n), nil
	case Hann:
		return window.Hann(n), nil
	case Blackman:
		return window.Blackman(n), nil
	}
	return nil, fmt.Errorf("unknown window type %d", int(w))
}
