package viz

import (
	"bytes"
	"fmt"

	"github.com/norasector/usdr/pkg/dsp/spectrum"
	"github.com/norasector/usdr/pkg/util"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// SpectrumSource is anything that can hand out its latest spectrum.
type SpectrumSource interface {
	Latest() (spectrum.Spectrum, bool)
}

type SpectrumPlotter struct {
	name        string
	source      SpectrumSource
	plotOptions []PlotOptions
}

func NewSpectrumPlotter(name string, source SpectrumSource) *SpectrumPlotter {
	return &SpectrumPlotter{name: name, source: source}
}

func (p *SpectrumPlotter) Name() string {
	return p.name
}

func (p *SpectrumPlotter) AddPlotOption(opt PlotOptions) {
	p.plotOptions = append(p.plotOptions, opt)
}

// GetImage renders the source's latest spectrum, or nil if there is none yet.
func (p *SpectrumPlotter) GetImage() (*ImageContainer, error) {
	spec, ok := p.source.Latest()
	if !ok {
		return nil, nil
	}

	pl := plotWithDefaults()
	pl.Title.Text = fmt.Sprintf("%s @ %s", p.name, util.HzToString(spec.CenterFreq))
	pl.Y.Label.Text = "Power (dBFS)"
	pl.X.Label.Text = "Frequency (MHz)"
	pl.Y.Max = 0
	pl.Y.Min = -120

	for _, opt := range p.plotOptions {
		opt(pl)
	}

	pl.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(spec.Bins))
	for i, b := range spec.Bins {
		xys[i] = plotter.XY{X: b.Freq / 1e6, Y: b.PowerDB}
	}
	if err := plotutil.AddLines(pl, "power", xys); err != nil {
		return nil, err
	}

	w, err := pl.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &ImageContainer{name: p.name, data: buf.Bytes()}, nil
}
